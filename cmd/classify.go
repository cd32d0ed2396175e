package cmd

import (
	"context"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/facematch/internal/config"
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify unassigned observations",
	Long: `Run a classification sweep over unassigned face observations.
Confident matches are assigned automatically, uncertain matches become
review suggestions and the rest stay untouched.`,
	RunE: runClassify,
}

func init() {
	rootCmd.AddCommand(classifyCmd)

	classifyCmd.Flags().Int("max", 0, "Maximum observations per run (0 = everything)")
	classifyCmd.Flags().String("cursor", "", "Resume after this observation id")
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	maxObservations := mustGetInt(cmd, "max")
	cursor := mustGetString(cmd, "cursor")

	ctx := context.Background()
	eng, closeStore, err := setupEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("Classifying"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("faces"),
		progressbar.OptionShowElapsedTimeOnFinish(),
	)

	var processed, autoAssigned, suggested, unmatched, failed int
	for {
		result, err := eng.ClassifySweep(ctx, cursor, cfg.Matching.BatchSize)
		if err != nil {
			return fmt.Errorf("classification sweep: %w", err)
		}
		_ = bar.Add(result.Processed)

		processed += result.Processed
		autoAssigned += result.AutoAssigned
		suggested += result.Suggested
		unmatched += result.Unmatched
		failed += len(result.Errors)
		for _, itemErr := range result.Errors {
			fmt.Printf("\nobservation %s: %v\n", itemErr.ID, itemErr.Err)
		}

		cursor = result.NextCursor
		if cursor == "" || (maxObservations > 0 && processed >= maxObservations) {
			break
		}
	}
	_ = bar.Finish()

	fmt.Printf("\nProcessed %d observations: %d auto-assigned, %d suggested, %d unmatched, %d failed\n",
		processed, autoAssigned, suggested, unmatched, failed)
	if cursor != "" {
		fmt.Printf("Resume with --cursor %s\n", cursor)
	}
	return nil
}

package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/facematch/internal/config"
	"github.com/kozaktomas/facematch/internal/engine"
	"github.com/kozaktomas/facematch/internal/store"
)

var centroidCmd = &cobra.Command{
	Use:   "centroid [identity-id]",
	Short: "Recompute identity centroids",
	Long: `Recompute the centroid prototype of an identity from its labeled
faces, trimming outliers. With --all, recompute every active identity;
identities with too few faces are skipped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCentroid,
}

func init() {
	rootCmd.AddCommand(centroidCmd)

	centroidCmd.Flags().Bool("all", false, "Recompute every active identity")
}

func runCentroid(cmd *cobra.Command, args []string) error {
	all := mustGetBool(cmd, "all")
	if all == (len(args) == 1) {
		return errors.New("pass exactly one of an identity id or --all")
	}

	ctx := context.Background()
	eng, closeStore, err := setupEngine(ctx, config.Load())
	if err != nil {
		return err
	}
	defer closeStore()

	if !all {
		result, err := eng.ComputeCentroid(ctx, args[0])
		if err != nil {
			return fmt.Errorf("computing centroid: %w", err)
		}
		printCentroidResult(args[0], result)
		return nil
	}

	identities, err := eng.Identities(ctx, store.IdentityActive)
	if err != nil {
		return fmt.Errorf("listing identities: %w", err)
	}

	bar := progressbar.NewOptions(len(identities),
		progressbar.OptionSetDescription("Recomputing centroids"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
	)

	var updated, unchanged, skipped int
	for _, identity := range identities {
		result, err := eng.ComputeCentroid(ctx, identity.ID)
		switch {
		case errors.Is(err, engine.ErrInsufficientEvidence):
			skipped++
		case err != nil:
			return fmt.Errorf("computing centroid for %s: %w", identity.ID, err)
		case result.Unchanged:
			unchanged++
		default:
			updated++
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	fmt.Printf("\n%d centroids updated, %d unchanged, %d identities skipped\n",
		updated, unchanged, skipped)
	return nil
}

func printCentroidResult(identityID string, result *engine.CentroidResult) {
	if result.Unchanged {
		fmt.Printf("Centroid for %s is up to date (%d faces)\n", identityID, result.FaceCount)
		return
	}
	fmt.Printf("Centroid for %s recomputed from %d faces (%d outliers trimmed)\n",
		identityID, result.FaceCount, result.Trimmed)
}

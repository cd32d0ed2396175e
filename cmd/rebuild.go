package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facematch/internal/config"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild-index",
	Short: "Rebuild the vector index from the archive",
	Long: `Rebuild the in-memory vector index from the durable vector archive,
reconstructing every point's payload from the relational store. Reports
orphaned vectors that no longer have a relational record.`,
	RunE: runRebuild,
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
}

func runRebuild(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	// setupEngine already rebuilds; this command exists to do it explicitly
	// and report the orphan count.
	eng, closeStore, err := setupEngine(ctx, config.Load())
	if err != nil {
		return err
	}
	defer closeStore()

	result, err := eng.RebuildIndex(ctx)
	if err != nil {
		return fmt.Errorf("rebuilding index: %w", err)
	}
	fmt.Printf("Rebuilt index: %d observations, %d prototypes, %d orphaned vectors\n",
		result.Observations, result.Prototypes, result.Orphans)
	return nil
}

package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facematch/internal/config"
	"github.com/kozaktomas/facematch/internal/engine"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Group unassigned observations into clusters",
	Long: `Group the unassigned face observations into clusters by embedding
similarity. Clusters are labeling hints for reviewers; no identities are
assigned.`,
	RunE: runCluster,
}

var clusterSplitCmd = &cobra.Command{
	Use:   "split [label]",
	Short: "Re-cluster the members of one cluster with stricter parameters",
	Args:  cobra.ExactArgs(1),
	RunE:  runClusterSplit,
}

func init() {
	rootCmd.AddCommand(clusterCmd)
	clusterCmd.AddCommand(clusterSplitCmd)

	clusterCmd.PersistentFlags().Int("min-size", 0, "Minimum cluster size (0 = configured default)")
}

func runCluster(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	minSize := mustGetInt(cmd, "min-size")

	ctx := context.Background()
	eng, closeStore, err := setupEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	result, err := eng.ClusterSweep(ctx, minSize)
	if err != nil {
		return fmt.Errorf("clustering sweep: %w", err)
	}
	printClusterResult(result)
	return nil
}

func runClusterSplit(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	minSize := mustGetInt(cmd, "min-size")

	ctx := context.Background()
	eng, closeStore, err := setupEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	result, err := eng.SplitCluster(ctx, args[0], minSize)
	if err != nil {
		return fmt.Errorf("splitting cluster %s: %w", args[0], err)
	}
	printClusterResult(result)
	return nil
}

func printClusterResult(result *engine.ClusterResult) {
	fmt.Printf("Clustered %d observations into %d clusters, %d noise\n",
		result.Clustered, len(result.ClusterSizes), result.NoiseCount)

	labels := make([]string, 0, len(result.ClusterSizes))
	for label := range result.ClusterSizes {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		fmt.Printf("  %s: %d faces\n", label, result.ClusterSizes[label])
	}
}

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facematch/internal/config"
)

var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Manage review suggestions",
}

var suggestGenerateCmd = &cobra.Command{
	Use:   "generate [identity-id]",
	Short: "Generate suggestions for one identity",
	Long: `Search the unassigned observations for likely matches of an identity
and raise a pending suggestion for each. Bulk generation never assigns;
every match waits for review.`,
	Args: cobra.ExactArgs(1),
	RunE: runSuggestGenerate,
}

var suggestListCmd = &cobra.Command{
	Use:   "list [identity-id]",
	Short: "List pending suggestions for one identity",
	Args:  cobra.ExactArgs(1),
	RunE:  runSuggestList,
}

var suggestAcceptCmd = &cobra.Command{
	Use:   "accept [suggestion-id]",
	Short: "Accept a pending suggestion",
	Args:  cobra.ExactArgs(1),
	RunE:  runSuggestAccept,
}

var suggestRejectCmd = &cobra.Command{
	Use:   "reject [suggestion-id]",
	Short: "Reject a pending suggestion",
	Args:  cobra.ExactArgs(1),
	RunE:  runSuggestReject,
}

func init() {
	rootCmd.AddCommand(suggestCmd)
	suggestCmd.AddCommand(suggestGenerateCmd)
	suggestCmd.AddCommand(suggestListCmd)
	suggestCmd.AddCommand(suggestAcceptCmd)
	suggestCmd.AddCommand(suggestRejectCmd)

	suggestAcceptCmd.Flags().String("actor", "cli", "Reviewer recorded in the audit trail")
}

func runSuggestGenerate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	eng, closeStore, err := setupEngine(ctx, config.Load())
	if err != nil {
		return err
	}
	defer closeStore()

	created, err := eng.GenerateForIdentity(ctx, args[0])
	if err != nil {
		return fmt.Errorf("generating suggestions: %w", err)
	}
	fmt.Printf("Created %d suggestions\n", created)
	return nil
}

func runSuggestList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	eng, closeStore, err := setupEngine(ctx, config.Load())
	if err != nil {
		return err
	}
	defer closeStore()

	suggestions, err := eng.PendingSuggestions(ctx, args[0])
	if err != nil {
		return fmt.Errorf("listing suggestions: %w", err)
	}
	if len(suggestions) == 0 {
		fmt.Println("No pending suggestions")
		return nil
	}
	for _, s := range suggestions {
		fmt.Printf("%s  observation %s  confidence %.3f (%d prototypes)\n",
			s.ID, s.ObservationID, s.Confidence, s.PrototypeCount)
	}
	return nil
}

func runSuggestAccept(cmd *cobra.Command, args []string) error {
	actor := mustGetString(cmd, "actor")

	ctx := context.Background()
	eng, closeStore, err := setupEngine(ctx, config.Load())
	if err != nil {
		return err
	}
	defer closeStore()

	if err := eng.AcceptSuggestion(ctx, args[0], actor); err != nil {
		return fmt.Errorf("accepting suggestion: %w", err)
	}
	fmt.Println("Suggestion accepted")
	return nil
}

func runSuggestReject(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	eng, closeStore, err := setupEngine(ctx, config.Load())
	if err != nil {
		return err
	}
	defer closeStore()

	if err := eng.RejectSuggestion(ctx, args[0]); err != nil {
		return fmt.Errorf("rejecting suggestion: %w", err)
	}
	fmt.Println("Suggestion rejected")
	return nil
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/weftlabs/weft/internal/store"
)

var suggestionsStatus string

var suggestionsCmd = &cobra.Command{
	Use:   "suggestions",
	Short: "Review queued link suggestions",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		suggestions, err := a.db.ListSuggestions(suggestionsStatus, 100)
		if err != nil {
			return err
		}
		if len(suggestions) == 0 {
			fmt.Println("no suggestions")
			return nil
		}
		for _, s := range suggestions {
			fmt.Printf("%s  [%s, %.2f]  %s -> %s\n    %s\n",
				s.ID, s.Status, s.Confidence, s.SourceID, s.TargetID, s.Justification)
		}
		return nil
	},
}

var suggestionsApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a suggestion and apply the link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.orch.ApproveSuggestion(args[0]); err != nil {
			return err
		}
		fmt.Printf("suggestion %s applied\n", args[0])
		return nil
	},
}

var suggestionsRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject a suggestion (it will not be suggested again)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.orch.RejectSuggestion(args[0]); err != nil {
			return err
		}
		fmt.Printf("suggestion %s rejected\n", args[0])
		return nil
	},
}

func init() {
	suggestionsCmd.Flags().StringVar(&suggestionsStatus, "status", store.SuggestionPending, "filter by status (pending, approved, rejected, applied, or empty for all)")
	suggestionsCmd.AddCommand(suggestionsApproveCmd)
	suggestionsCmd.AddCommand(suggestionsRejectCmd)
}

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vizier-run/vizier/internal/appwiring"
	"github.com/vizier-run/vizier/internal/model"
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Compare workflows on the current branch (--branch)",
}

// workflowDiffCmd diffs two workflow ids module-by-module. Purely a read
// over GetWorkflow; no engine semantics involved.
var workflowDiffCmd = &cobra.Command{
	Use:   "diff <workflow-id-a> <workflow-id-b>",
	Short: "Show which modules differ between two workflows",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *appwiring.App) error {
			branchID, err := requireFlag(cmd, "branch")
			if err != nil {
				return err
			}
			_, a, err := app.Store.GetWorkflow(ctx, branchID, args[0])
			if err != nil {
				return fmt.Errorf("workflow %s: %w", args[0], err)
			}
			_, b, err := app.Store.GetWorkflow(ctx, branchID, args[1])
			if err != nil {
				return fmt.Errorf("workflow %s: %w", args[1], err)
			}
			printWorkflowDiff(a, b)
			return nil
		})
	},
}

func printWorkflowDiff(a, b []model.Module) {
	byID := make(map[string]model.Module, len(a))
	for _, m := range a {
		byID[m.ID] = m
	}
	seen := make(map[string]bool, len(b))
	for i, m := range b {
		seen[m.ID] = true
		if old, ok := byID[m.ID]; !ok {
			fmt.Printf("+ [%d] %s\t%s\n", i, m.ID, m.ExternalForm)
		} else if old.ExternalForm != m.ExternalForm || old.State != m.State {
			fmt.Printf("~ [%d] %s\t%s (%s) -> %s (%s)\n", i, m.ID, old.ExternalForm, old.State, m.ExternalForm, m.State)
		}
	}
	for i, m := range a {
		if !seen[m.ID] {
			fmt.Printf("- [%d] %s\t%s\n", i, m.ID, m.ExternalForm)
		}
	}
}

func init() {
	rootCmd.AddCommand(workflowCmd)
	workflowCmd.AddCommand(workflowDiffCmd)
}

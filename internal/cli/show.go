package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vizier-run/vizier/internal/appwiring"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Inspect a branch's history or notebooks (--project, --branch)",
}

var showHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List the workflow ids committed on the current branch, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *appwiring.App) error {
			project, err := requireFlag(cmd, "project")
			if err != nil {
				return err
			}
			branchID, err := requireFlag(cmd, "branch")
			if err != nil {
				return err
			}
			b, err := app.Store.GetBranch(ctx, project, branchID)
			if err != nil {
				return err
			}
			for i, wfID := range b.WorkflowHistory {
				marker := ""
				if wfID == b.HeadWorkflowID {
					marker = " (head)"
				}
				fmt.Printf("%d\t%s%s\n", i, wfID, marker)
			}
			return nil
		})
	},
}

var showNotebooksCmd = &cobra.Command{
	Use:   "notebooks",
	Short: "List every workflow on the current branch with its action and module count",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *appwiring.App) error {
			project, err := requireFlag(cmd, "project")
			if err != nil {
				return err
			}
			branchID, err := requireFlag(cmd, "branch")
			if err != nil {
				return err
			}
			b, err := app.Store.GetBranch(ctx, project, branchID)
			if err != nil {
				return err
			}
			for _, wfID := range b.WorkflowHistory {
				wf, modules, err := app.Store.GetWorkflow(ctx, branchID, wfID)
				if err != nil {
					return err
				}
				fmt.Printf("%s\t%s\t%d modules\n", wf.ID, wf.Action, len(modules))
			}
			return nil
		})
	},
}

var showNotebookCmd = &cobra.Command{
	Use:   "notebook [<workflow-id>]",
	Short: "Show the modules of a workflow (defaults to the branch head)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *appwiring.App) error {
			branchID, err := requireFlag(cmd, "branch")
			if err != nil {
				return err
			}
			var wfID string
			if len(args) > 0 {
				wfID = args[0]
			}
			wf, modules, err := app.Store.GetWorkflow(ctx, branchID, wfID)
			if err != nil {
				return err
			}
			fmt.Printf("workflow %s (%s)\n", wf.ID, wf.Action)
			for i, m := range modules {
				fmt.Printf("%d\t%s\t%s\t%s\n", i, m.ID, m.State, m.ExternalForm)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.AddCommand(showHistoryCmd, showNotebooksCmd, showNotebookCmd)
}

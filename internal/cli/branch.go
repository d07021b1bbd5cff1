package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vizier-run/vizier/internal/appwiring"
	"github.com/vizier-run/vizier/internal/model"
	"github.com/vizier-run/vizier/internal/viztrail"
)

var branchCmd = &cobra.Command{
	Use:   "branch",
	Short: "Create, delete, list, or rename branches of the current project (--project)",
}

var branchCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new branch, optionally seeded from the current branch (--branch)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *appwiring.App) error {
			project, err := requireFlag(cmd, "project")
			if err != nil {
				return err
			}
			var source *viztrail.BranchSource
			if from, _ := cmd.Root().PersistentFlags().GetString("branch"); from != "" {
				source = &viztrail.BranchSource{BranchID: from}
			}
			props := model.Properties{}.Set(model.PropertyName, args[0])
			b, err := app.Store.CreateBranch(ctx, project, props, source)
			if err != nil {
				return err
			}
			app.Cache.Invalidate(project)
			fmt.Printf("created branch %s (%q)\n", b.ID, args[0])
			return nil
		})
	},
}

var branchDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a branch (forbidden if it is the only branch)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *appwiring.App) error {
			project, err := requireFlag(cmd, "project")
			if err != nil {
				return err
			}
			ok, err := app.Store.DeleteBranch(ctx, project, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("branch %s not found", args[0])
			}
			app.Cache.Invalidate(project)
			fmt.Printf("deleted branch %s\n", args[0])
			return nil
		})
	},
}

var branchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the branches of the current project (--project)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *appwiring.App) error {
			project, err := requireFlag(cmd, "project")
			if err != nil {
				return err
			}
			p, err := app.Cache.GetProject(ctx, project)
			if err != nil {
				return err
			}
			for _, id := range p.Viztrail.Branches {
				marker := ""
				if id == p.Viztrail.DefaultBranch {
					marker = " (default)"
				}
				fmt.Printf("%s%s\n", id, marker)
			}
			return nil
		})
	},
}

var branchRenameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Rename a branch",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *appwiring.App) error {
			project, err := requireFlag(cmd, "project")
			if err != nil {
				return err
			}
			b, err := app.Store.GetBranch(ctx, project, args[0])
			if err != nil {
				return err
			}
			props := b.Properties.Clone().Set(model.PropertyName, args[1])
			if _, err := app.Store.UpdateBranchProperties(ctx, project, args[0], props); err != nil {
				return err
			}
			app.Cache.Invalidate(project)
			fmt.Printf("renamed branch %s to %q\n", args[0], args[1])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(branchCmd)
	branchCmd.AddCommand(branchCreateCmd, branchDeleteCmd, branchListCmd, branchRenameCmd)
}

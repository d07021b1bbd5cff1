package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vizier-run/vizier/internal/appwiring"
	"github.com/vizier-run/vizier/internal/model"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Create, delete, list, or rename projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *appwiring.App) error {
			props := model.Properties{}.Set(model.PropertyName, args[0])
			p, err := app.Cache.CreateProject(ctx, props)
			if err != nil {
				return err
			}
			fmt.Printf("created project %s (%q)\n", p.Viztrail.ID, args[0])
			return nil
		})
	},
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a project and its entire history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *appwiring.App) error {
			ok, err := app.Cache.DeleteProject(ctx, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("project %s not found", args[0])
			}
			fmt.Printf("deleted project %s\n", args[0])
			return nil
		})
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *appwiring.App) error {
			projects, err := app.Cache.ListProjects(ctx)
			if err != nil {
				return err
			}
			for _, p := range projects {
				fmt.Printf("%s\t%s\n", p.Viztrail.ID, p.Viztrail.Properties.Name())
			}
			return nil
		})
	},
}

var projectRenameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Rename a project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *appwiring.App) error {
			vt, err := app.Store.GetViztrail(ctx, args[0])
			if err != nil {
				return err
			}
			props := vt.Properties.Clone().Set(model.PropertyName, args[1])
			if _, err := app.Store.UpdateViztrailProperties(ctx, args[0], props); err != nil {
				return err
			}
			app.Cache.Invalidate(args[0])
			fmt.Printf("renamed project %s to %q\n", args[0], args[1])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(projectCmd)
	projectCmd.AddCommand(projectCreateCmd, projectDeleteCmd, projectListCmd, projectRenameCmd)
}

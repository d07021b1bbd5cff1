package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vizier-run/vizier/internal/appwiring"
	"github.com/vizier-run/vizier/internal/command"
	"github.com/vizier-run/vizier/internal/command/packages/vizual"
)

var updateCmd = &cobra.Command{
	Use:   "update <dataset> <column> <row> <value>",
	Short: "Append an update_cell module setting one cell of a visible dataset",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		dataset, column, row, value := args[0], args[1], args[2], args[3]
		return withApp(cmd, func(ctx context.Context, app *appwiring.App) error {
			branchID, err := requireFlag(cmd, "branch")
			if err != nil {
				return err
			}
			cell := command.RowRef{Dataset: dataset, Row: row, Column: column}
			cmdSpec := command.Command{
				PackageID: vizual.PackageID,
				CommandID: vizual.UpdateCell,
				Arguments: []command.Argument{
					{Name: "dataset", Kind: command.KindScalar, Scalar: dataset},
					{Name: "cell", Kind: command.KindRowRef, RowRef: &cell},
					{Name: "value", Kind: command.KindScalar, Scalar: value},
				},
			}
			_, modules, err := app.Controller.AppendWorkflowModule(ctx, branchID, cmdSpec)
			if err != nil {
				return err
			}
			if len(modules) == 0 {
				return fmt.Errorf("cli: append produced no modules")
			}
			m := modules[len(modules)-1]
			final, err := waitForTerminal(ctx, app, m.ID, 30*time.Second)
			if err != nil {
				return err
			}
			fmt.Printf("module %s finished %s\n", final.ID, final.State)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(updateCmd)
}

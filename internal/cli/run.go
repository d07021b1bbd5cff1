package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vizier-run/vizier/internal/appwiring"
	"github.com/vizier-run/vizier/internal/command"
	"github.com/vizier-run/vizier/internal/command/packages/pycell"
	"github.com/vizier-run/vizier/internal/model"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Append and execute a cell on the current branch (--project, --branch)",
}

var runPythonCmd = &cobra.Command{
	Use:   "python <file-or-code>",
	Short: "Append a python_cell module, reading source from a file if the argument names one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *appwiring.App) error {
			branchID, err := requireFlag(cmd, "branch")
			if err != nil {
				return err
			}
			source := args[0]
			if data, err := os.ReadFile(args[0]); err == nil {
				source = string(data)
			}
			cmdSpec := command.Command{
				PackageID: pycell.PackageID,
				CommandID: pycell.PythonCell,
				Arguments: []command.Argument{
					{Name: "source", Kind: command.KindScalar, Scalar: source},
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
			fmt.Println(strings.Join(final.Outputs.Stdout, "\n"))
			if final.State != model.ModuleSuccess {
				return fmt.Errorf("module %s finished with state %s", final.ID, final.State)
			}
			return nil
		})
	},
}

// waitForTerminal polls the store until moduleID reaches a terminal
// state, since the controller's edit operations return as soon as the
// module is scheduled, not when it finishes.
func waitForTerminal(ctx context.Context, app *appwiring.App, moduleID string, timeout time.Duration) (*model.Module, error) {
	deadline := time.Now().Add(timeout)
	for {
		m, err := app.Store.GetModule(ctx, moduleID)
		if err != nil {
			return nil, err
		}
		if m.State.Terminal() {
			return m, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("cli: module %s did not finish within %s", moduleID, timeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.AddCommand(runPythonCmd)
}

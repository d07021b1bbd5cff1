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

// loadCmd takes all four words of "load <name> from file|url <ref>"
// positionally rather than as a load/file and load/url subcommand pair;
// "from" and the source kind are part of the grammar, not flags.
var loadCmd = &cobra.Command{
	Use:   "load <name> from file|url <ref>",
	Short: "Append a load_dataset module sourcing <ref> from a local file or a URL",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, from, kind, ref := args[0], args[1], args[2], args[3]
		if from != "from" {
			return fmt.Errorf("usage: load <name> from file|url <ref>")
		}
		fileRef := command.FileRef{}
		switch kind {
		case "file":
			fileRef.Path = ref
		case "url":
			fileRef.URL = ref
		default:
			return fmt.Errorf("usage: load <name> from file|url <ref>")
		}

		return withApp(cmd, func(ctx context.Context, app *appwiring.App) error {
			branchID, err := requireFlag(cmd, "branch")
			if err != nil {
				return err
			}
			cmdSpec := command.Command{
				PackageID: vizual.PackageID,
				CommandID: vizual.LoadDataset,
				Arguments: []command.Argument{
					{Name: "name", Kind: command.KindScalar, Scalar: name},
					{Name: "file", Kind: command.KindFileRef, FileRef: &fileRef},
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
	rootCmd.AddCommand(loadCmd)
}

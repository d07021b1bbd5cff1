package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vizier-run/vizier/internal/appwiring"
	"github.com/vizier-run/vizier/internal/config"
)

// withApp loads configuration, builds the supervisor, runs fn against it,
// and tears it down: the CLI's one-shot equivalent of vizierd's long-lived
// main. Each command's RunE builds the stack fresh rather than keeping
// process-lifetime state.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *appwiring.App) error) error {
	if path, _ := cmd.Root().PersistentFlags().GetString("config"); path != "" {
		if err := os.Setenv("VIZIER_CONFIG", path); err != nil {
			return fmt.Errorf("cli: set VIZIER_CONFIG: %w", err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("cli: load config: %w", err)
	}

	ctx := context.Background()
	app, err := appwiring.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("cli: build supervisor: %w", err)
	}
	defer app.Close()

	return fn(ctx, app)
}

// requireFlag returns the value of a persistent string flag or an error if
// it was left unset, for commands that need --project/--branch.
func requireFlag(cmd *cobra.Command, name string) (string, error) {
	v, _ := cmd.Root().PersistentFlags().GetString(name)
	if v == "" {
		return "", fmt.Errorf("--%s is required", name)
	}
	return v, nil
}

// Package cli implements the vizier command-line client:
// create|delete|list|rename project|branch, show history|notebooks|notebook,
// run python, load, update, and workflow diff. It talks to the in-process
// supervisor directly (internal/appwiring) rather than over HTTP.
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "vizier",
	Short: "Curate and run multi-project data-curation notebooks",
	Long: `vizier is the command-line client for a Vizier server: it creates and
inspects projects and branches, runs notebook cells, and loads datasets,
talking to the same Viztrail Store, Project Cache, and Execution Controller
the server process (vizierd) serves over HTTP.`,
}

// Execute runs the root command; cmd/vizier's main is just this call.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (overrides $VIZIER_CONFIG)")
	rootCmd.PersistentFlags().StringP("project", "p", "", "project (viztrail) id")
	rootCmd.PersistentFlags().StringP("branch", "b", "", "branch id")
}

// Command vizier is the CLI client: it creates and inspects projects and
// branches, runs notebook cells, and loads datasets by talking to the
// supervisor in-process (internal/cli, internal/appwiring) rather than
// over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/vizier-run/vizier/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "vizier:", err)
		os.Exit(1)
	}
}

// Package pycell implements the pycell.python_cell command. The Python
// runtime itself lives in a worker container; this package only wires the
// command-level contract: a Runner interface the engine calls through,
// with a stub implementation for development and tests.
package pycell

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vizier-run/vizier/internal/command"
)

const PackageID = "pycell"
const PythonCell = "python_cell"

// Runner executes a Python source string against the variables visible to
// the cell and returns whatever it printed to stdout/stderr. A real
// implementation talks to the sandboxed Python runtime; StubRunner below
// logs instead.
type Runner interface {
	Run(ctx context.Context, source string, variables map[string]string) (stdout []string, stderr []string, err error)
}

// StubRunner simulates python execution by echoing the source back as
// stdout. Used for development and wherever a real runtime isn't wired.
type StubRunner struct{}

func (StubRunner) Run(_ context.Context, source string, _ map[string]string) ([]string, []string, error) {
	slog.Info("executing python cell (stub)", "bytes", len(source))
	return []string{source}, nil, nil
}

// Register installs the python_cell command, backed by runner.
func Register(reg *command.Registry, runner Runner) {
	reg.Register(command.Spec{
		PackageID: PackageID, CommandID: PythonCell,
		// Arbitrary user code cannot be assumed deterministic (wall clock,
		// randomness, external I/O), so it is declared non-deterministic.
		Deterministic: false,
		Parameters: []command.Parameter{
			{Name: "source", Kind: command.KindScalar, Required: true},
		},
	}, pythonCellHandler(runner))
}

func pythonCellHandler(runner Runner) command.Handler {
	return func(ctx context.Context, view command.DatasetView, args []command.Argument) (command.Output, error) {
		var source string
		for _, a := range args {
			if a.Name == "source" {
				if s, ok := a.Scalar.(string); ok {
					source = s
				}
			}
		}
		if source == "" {
			return command.Output{}, fmt.Errorf("pycell.python_cell: missing source")
		}
		vars := make(map[string]string, len(view))
		for name, id := range view {
			vars[name] = id
		}
		stdout, stderr, err := runner.Run(ctx, source, vars)
		if err != nil {
			return command.Output{Stdout: stdout, Stderr: stderr}, err
		}
		return command.Output{Stdout: stdout, Stderr: stderr}, nil
	}
}

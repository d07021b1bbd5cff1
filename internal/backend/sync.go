package backend

import (
	"context"
	"time"

	"github.com/vizier-run/vizier/internal/command"
)

const defaultCommandTimeout = 5 * time.Minute

// Sync runs every command in-process against a command Registry, each
// bounded by a per-command timeout. It is the reference backend: it accepts
// every command the registry has a handler for, never queues, and is useful
// for tests and single-process deployments where a Remote worker would be
// overkill.
type Sync struct {
	Registry *command.Registry
	// Timeout bounds a single command's execution; zero uses
	// defaultCommandTimeout.
	Timeout time.Duration
}

// NewSync returns a Sync backend bound to reg.
func NewSync(reg *command.Registry) *Sync {
	return &Sync{Registry: reg}
}

func (s *Sync) CanExecute(cmd command.Command) bool {
	return s.Registry.CanExecute(cmd)
}

func (s *Sync) Submit(ctx context.Context, taskID string, cmd command.Command, view command.DatasetView, notify func(TaskUpdate)) error {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)

	go func() {
		defer cancel()
		out, err := s.Registry.Execute(runCtx, cmd, view)
		if err != nil {
			notify(TaskUpdate{
				TaskID:      taskID,
				Done:        true,
				Success:     false,
				Stderr:      out.Stderr,
				ErrorDetail: err.Error(),
			})
			return
		}
		notify(TaskUpdate{
			TaskID:  taskID,
			Done:    true,
			Success: true,
			Stdout:  out.Stdout,
			Stderr:  out.Stderr,
			Output:  out,
		})
	}()
	return nil
}

// Cancel is a no-op for Sync: a command already running in a goroutine
// cannot be stopped short of its own context, which Submit's internal
// timeout already bounds. The controller still flips the module to
// CANCELED locally and discards whatever Submit's goroutine reports later.
func (s *Sync) Cancel(ctx context.Context, taskID string) error {
	return nil
}

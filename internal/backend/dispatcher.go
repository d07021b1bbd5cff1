package backend

import (
	"context"
	"fmt"

	"github.com/vizier-run/vizier/internal/command"
	"github.com/vizier-run/vizier/internal/vzerr"
)

// Dispatcher tries a list of backends in preference order and submits to
// the first one that accepts the command, letting a deployment mix a Sync
// backend for built-in vizual commands with Remote backends routed to
// per-queue worker containers.
type Dispatcher struct {
	Backends []Backend
}

// NewDispatcher returns a Dispatcher trying backends in the given order.
func NewDispatcher(backends ...Backend) *Dispatcher {
	return &Dispatcher{Backends: backends}
}

func (d *Dispatcher) CanExecute(cmd command.Command) bool {
	for _, b := range d.Backends {
		if b.CanExecute(cmd) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) Submit(ctx context.Context, taskID string, cmd command.Command, view command.DatasetView, notify func(TaskUpdate)) error {
	for _, b := range d.Backends {
		if b.CanExecute(cmd) {
			return b.Submit(ctx, taskID, cmd, view, notify)
		}
	}
	return fmt.Errorf("%w: no backend can execute %s.%s", vzerr.ErrBackendUnavailable, cmd.PackageID, cmd.CommandID)
}

// Cancel is best-effort and fans out to every backend, since the
// dispatcher itself doesn't track which backend owns which task id;
// individual backends ignore cancel requests for task ids they don't
// recognize.
func (d *Dispatcher) Cancel(ctx context.Context, taskID string) error {
	var firstErr error
	for _, b := range d.Backends {
		if err := b.Cancel(ctx, taskID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

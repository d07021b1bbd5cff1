package backend

import (
	"context"
	"fmt"

	"github.com/vizier-run/vizier/internal/command"
	"github.com/vizier-run/vizier/internal/vzerr"
)

// Router is the multi-queue dispatcher: a command is routed to a named
// queue by its package/command id, and commands absent from the routing
// table go to the default queue. Each queue is an independent Backend, so
// ordering guarantees are per-queue (and per-branch, which the controller
// enforces above this layer).
type Router struct {
	Routes       map[string]string // "packageId.commandId" -> queue name
	DefaultQueue string
	Queues       map[string]Backend
}

// NewRouter returns a Router sending routed commands to their named queue
// and everything else to defaultQueue.
func NewRouter(routes map[string]string, defaultQueue string, queues map[string]Backend) *Router {
	return &Router{Routes: routes, DefaultQueue: defaultQueue, Queues: queues}
}

func (r *Router) queueFor(cmd command.Command) (string, Backend, bool) {
	name, ok := r.Routes[cmd.PackageID+"."+cmd.CommandID]
	if !ok {
		name = r.DefaultQueue
	}
	b, ok := r.Queues[name]
	return name, b, ok
}

func (r *Router) CanExecute(cmd command.Command) bool {
	_, b, ok := r.queueFor(cmd)
	return ok && b.CanExecute(cmd)
}

func (r *Router) Submit(ctx context.Context, taskID string, cmd command.Command, view command.DatasetView, notify func(TaskUpdate)) error {
	name, b, ok := r.queueFor(cmd)
	if !ok {
		return fmt.Errorf("%w: no backend serves queue %q for %s.%s", vzerr.ErrBackendUnavailable, name, cmd.PackageID, cmd.CommandID)
	}
	return b.Submit(ctx, taskID, cmd, view, notify)
}

// Cancel fans out to every queue; the router doesn't track which queue owns
// which task id, and queues ignore cancels for tasks they don't recognize.
func (r *Router) Cancel(ctx context.Context, taskID string) error {
	var firstErr error
	for _, b := range r.Queues {
		if err := b.Cancel(ctx, taskID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ Backend = (*Router)(nil)

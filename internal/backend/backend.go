// Package backend implements the pluggable execution transport: the thing
// that actually runs a module's command. CanExecute/Submit/Cancel form a
// small interface any worker implementation can satisfy; the controller
// never knows which one it's talking to.
package backend

import (
	"context"

	"github.com/vizier-run/vizier/internal/command"
)

// TaskUpdate is what a backend reports back as a module's command runs or
// finishes: stdout/stderr lines plus, on completion, the final state and
// provenance. The controller folds these into the module record via
// viztrail.ModuleUpdate.
type TaskUpdate struct {
	TaskID      string
	Done        bool
	Success     bool
	Stdout      []string
	Stderr      []string
	Output      command.Output
	ErrorDetail string
}

// Backend executes commands on behalf of the controller. Submission is
// asynchronous: Submit returns once the task is accepted, and progress and
// completion arrive through the notify callback.
type Backend interface {
	// CanExecute reports whether this backend is able to run cmd at all
	// (e.g. a remote backend only handles commands its container declares
	// task_routes for). A Dispatcher tries its backends in preference order
	// until one accepts; the controller leaves a module PENDING when its
	// single backend rejects the command.
	CanExecute(cmd command.Command) bool

	// Submit starts executing cmd against view asynchronously under the
	// task id the controller issued. In-process backends call notify at
	// least once, with the final TaskUpdate having Done == true; they may
	// call it zero or more times before that with partial output. Remote
	// does not call notify: its worker reports through the controller's
	// UpdateTaskState via the HTTP task-state callback.
	Submit(ctx context.Context, taskID string, cmd command.Command, view command.DatasetView, notify func(TaskUpdate)) error

	// Cancel requests best-effort cancellation of a running task. It must
	// return promptly regardless of whether the backend acknowledges in
	// time; the controller has already flipped the module locally and
	// discards any late completion report.
	Cancel(ctx context.Context, taskID string) error
}

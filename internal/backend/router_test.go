package backend

import (
	"context"
	"testing"

	"github.com/vizier-run/vizier/internal/command"
	"github.com/vizier-run/vizier/internal/vzerr"
)

// recordingBackend accepts everything and remembers what it was asked to run.
type recordingBackend struct {
	submitted []string
	canceled  []string
}

func (b *recordingBackend) CanExecute(cmd command.Command) bool { return true }

func (b *recordingBackend) Submit(ctx context.Context, taskID string, cmd command.Command, view command.DatasetView, notify func(TaskUpdate)) error {
	b.submitted = append(b.submitted, cmd.PackageID+"."+cmd.CommandID)
	notify(TaskUpdate{TaskID: taskID, Done: true, Success: true})
	return nil
}

func (b *recordingBackend) Cancel(ctx context.Context, taskID string) error {
	b.canceled = append(b.canceled, taskID)
	return nil
}

func TestRouterRoutesByCommandID(t *testing.T) {
	def := &recordingBackend{}
	py := &recordingBackend{}
	r := NewRouter(
		map[string]string{"pycell.python_cell": "python"},
		"default",
		map[string]Backend{"default": def, "python": py},
	)

	notify := func(TaskUpdate) {}
	if err := r.Submit(context.Background(), "t1", command.Command{PackageID: "pycell", CommandID: "python_cell"}, nil, notify); err != nil {
		t.Fatalf("submit routed command: %v", err)
	}
	if err := r.Submit(context.Background(), "t2", command.Command{PackageID: "vizual", CommandID: "load_dataset"}, nil, notify); err != nil {
		t.Fatalf("submit unrouted command: %v", err)
	}

	if len(py.submitted) != 1 || py.submitted[0] != "pycell.python_cell" {
		t.Errorf("expected python queue to receive the routed command, got %v", py.submitted)
	}
	if len(def.submitted) != 1 || def.submitted[0] != "vizual.load_dataset" {
		t.Errorf("expected default queue to receive the unrouted command, got %v", def.submitted)
	}
}

func TestRouterMissingQueueIsBackendUnavailable(t *testing.T) {
	r := NewRouter(
		map[string]string{"pycell.python_cell": "python"},
		"default",
		map[string]Backend{"default": &recordingBackend{}},
	)
	err := r.Submit(context.Background(), "t1", command.Command{PackageID: "pycell", CommandID: "python_cell"}, nil, func(TaskUpdate) {})
	if !vzerr.IsBackendUnavailable(err) {
		t.Fatalf("expected BackendUnavailable for a route to a missing queue, got %v", err)
	}
}

func TestRouterCancelFansOut(t *testing.T) {
	def := &recordingBackend{}
	py := &recordingBackend{}
	r := NewRouter(nil, "default", map[string]Backend{"default": def, "python": py})

	if err := r.Cancel(context.Background(), "t1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(def.canceled) != 1 || len(py.canceled) != 1 {
		t.Errorf("expected cancel to reach every queue, got default=%v python=%v", def.canceled, py.canceled)
	}
}

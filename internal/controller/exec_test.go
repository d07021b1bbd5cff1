package controller

import (
	"context"
	"testing"
	"time"

	"github.com/vizier-run/vizier/internal/backend"
	"github.com/vizier-run/vizier/internal/command"
	"github.com/vizier-run/vizier/internal/command/packages/vizual"
	"github.com/vizier-run/vizier/internal/datastore"
	"github.com/vizier-run/vizier/internal/model"
)

// newVizualController wires a controller against the real vizual command
// handlers and an in-memory datastore, so edits can be checked all the way
// down to dataset contents.
func newVizualController(t *testing.T) (*Controller, *fakeStore, *datastore.Memory) {
	t.Helper()
	reg := command.NewRegistry()
	ds := datastore.NewMemory()
	vizual.Register(reg, ds)
	reg.Register(command.Spec{
		PackageID: "pycell", CommandID: "python_cell",
		Parameters: []command.Parameter{{Name: "source", Kind: command.KindScalar, Required: true}},
	}, func(ctx context.Context, view command.DatasetView, args []command.Argument) (command.Output, error) {
		return command.Output{Stdout: []string{"noop"}}, nil
	})

	store := newFakeStore()
	c := New(context.Background(), store, backend.NewSync(reg), reg)
	return c, store, ds
}

func loadCommand(name, path string) command.Command {
	return command.Command{
		PackageID: vizual.PackageID,
		CommandID: vizual.LoadDataset,
		Arguments: []command.Argument{
			{Name: "name", Kind: command.KindScalar, Scalar: name},
			{Name: "file", Kind: command.KindFileRef, FileRef: &command.FileRef{Path: path}},
		},
	}
}

func updateCellCommand(name, column, row, value string) command.Command {
	return command.Command{
		PackageID: vizual.PackageID,
		CommandID: vizual.UpdateCell,
		Arguments: []command.Argument{
			{Name: "dataset", Kind: command.KindScalar, Scalar: name},
			{Name: "cell", Kind: command.KindRowRef, RowRef: &command.RowRef{Dataset: name, Row: row, Column: column}},
			{Name: "value", Kind: command.KindScalar, Scalar: value},
		},
	}
}

func noopCommand() command.Command {
	return command.Command{
		PackageID: "pycell", CommandID: "python_cell",
		Arguments: []command.Argument{{Name: "source", Kind: command.KindScalar, Scalar: "pass"}},
	}
}

// datasetCell reads one cell of the dataset a module left visible under name.
func datasetCell(t *testing.T, store *fakeStore, ds *datastore.Memory, moduleID, name string, row, col int) string {
	t.Helper()
	m, err := store.GetModule(context.Background(), moduleID)
	if err != nil {
		t.Fatalf("get module: %v", err)
	}
	id, ok := m.Datasets[name]
	if !ok {
		t.Fatalf("dataset %q not visible after module %s: %v", name, moduleID, m.Datasets)
	}
	data, err := ds.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get dataset %s: %v", id, err)
	}
	return data.Rows[row][col]
}

func TestInsertReexecutesDownstreamAgainstFreshDatasets(t *testing.T) {
	c, store, ds := newVizualController(t)
	vt := newProject(t, store)
	branch := vt.DefaultBranch

	_, m1s, err := c.AppendWorkflowModule(context.Background(), branch, loadCommand("ds", "A"))
	if err != nil {
		t.Fatalf("append load: %v", err)
	}
	waitForState(t, store, m1s[0].ID, model.ModuleSuccess, 2*time.Second)

	_, m2s, err := c.AppendWorkflowModule(context.Background(), branch, updateCellCommand("ds", "value", "0", "x"))
	if err != nil {
		t.Fatalf("append update: %v", err)
	}
	waitForState(t, store, m2s[1].ID, model.ModuleSuccess, 2*time.Second)
	loadID := m2s[0].ID

	wf, inserted, err := c.InsertWorkflowModule(context.Background(), branch, loadID, noopCommand())
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if wf.Action != model.ActionInsert {
		t.Errorf("expected INSERT action, got %s", wf.Action)
	}
	if len(inserted) != 3 {
		t.Fatalf("expected 3 modules after insert, got %d", len(inserted))
	}
	for _, m := range inserted {
		if m.ID == m2s[0].ID || m.ID == m2s[1].ID {
			t.Errorf("module %s should have been invalidated with a fresh id", m.ID)
		}
		waitForState(t, store, m.ID, model.ModuleSuccess, 2*time.Second)
	}

	if got := datasetCell(t, store, ds, inserted[2].ID, "ds", 0, 0); got != "x" {
		t.Errorf("expected re-executed update to set cell (0,0) to x, got %q", got)
	}
}

func TestDeleteModuleRemovesItsDatasetEffect(t *testing.T) {
	c, store, ds := newVizualController(t)
	vt := newProject(t, store)
	branch := vt.DefaultBranch

	_, _, err := c.AppendWorkflowModule(context.Background(), branch, loadCommand("ds", "A"))
	if err != nil {
		t.Fatalf("append load: %v", err)
	}
	_, m2s, err := c.AppendWorkflowModule(context.Background(), branch, updateCellCommand("ds", "value", "0", "x"))
	if err != nil {
		t.Fatalf("append update: %v", err)
	}
	updateID := m2s[1].ID
	waitForState(t, store, updateID, model.ModuleSuccess, 2*time.Second)
	if got := datasetCell(t, store, ds, updateID, "ds", 0, 0); got != "x" {
		t.Fatalf("precondition: expected updated cell x, got %q", got)
	}

	_, remaining, err := c.DeleteWorkflowModule(context.Background(), branch, updateID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("expected 1 module after delete, got %d", len(remaining))
	}
	// The load module sits above the edit point: reused verbatim, not re-run.
	if remaining[0].State != model.ModuleSuccess {
		t.Errorf("expected reused prefix module to keep SUCCESS, got %s", remaining[0].State)
	}
	if got := datasetCell(t, store, ds, remaining[0].ID, "ds", 0, 0); got != "A" {
		t.Errorf("expected original cell value A after deleting the update, got %q", got)
	}
}

func TestAppendDuringRunResumesInterruptedModule(t *testing.T) {
	reg := command.NewRegistry()
	h := &blockingHandler{release: make(chan struct{})}
	reg.Register(command.Spec{PackageID: "vizual", CommandID: "block"}, h.handle)
	reg.Register(command.Spec{PackageID: "vizual", CommandID: "noop"},
		func(ctx context.Context, view command.DatasetView, args []command.Argument) (command.Output, error) {
			return command.Output{Stdout: []string{"1"}}, nil
		})

	store := newFakeStore()
	c := New(context.Background(), store, backend.NewSync(reg), reg)
	vt := newProject(t, store)
	branch := vt.DefaultBranch

	_, m1s, err := c.AppendWorkflowModule(context.Background(), branch, command.Command{PackageID: "vizual", CommandID: "block"})
	if err != nil {
		t.Fatalf("append block: %v", err)
	}
	blockID := m1s[0].ID
	waitForState(t, store, blockID, model.ModuleRunning, 2*time.Second)

	// The append is above no edit point; the in-flight module must survive
	// the edit and be picked up again by the new run.
	_, m2s, err := c.AppendWorkflowModule(context.Background(), branch, command.Command{PackageID: "vizual", CommandID: "noop"})
	if err != nil {
		t.Fatalf("append noop: %v", err)
	}
	if m2s[0].ID != blockID {
		t.Fatalf("expected append to reuse the in-flight module record, got %s", m2s[0].ID)
	}
	m, err := store.GetModule(context.Background(), blockID)
	if err != nil {
		t.Fatalf("get module: %v", err)
	}
	if m.State.Terminal() {
		t.Fatalf("append must not terminate the in-flight module, got %s", m.State)
	}

	close(h.release)
	waitForState(t, store, blockID, model.ModuleSuccess, 2*time.Second)
	waitForState(t, store, m2s[1].ID, model.ModuleSuccess, 2*time.Second)
}

// Package controller implements the execution controller: the scheduler
// that turns a branch edit into a new workflow snapshot, decides which of
// its modules can be reused from the previous head and which must (re)run,
// and drives the remaining ones through a Backend one at a time, in order.
//
// Each branch owns a single actor goroutine that serializes edits and
// cancellations; external callers enqueue events, never touch execution
// state directly. An errgroup supervises every actor and run goroutine so
// Close can wait for all of them to quiesce.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vizier-run/vizier/internal/backend"
	"github.com/vizier-run/vizier/internal/command"
	"github.com/vizier-run/vizier/internal/ids"
	"github.com/vizier-run/vizier/internal/model"
	"github.com/vizier-run/vizier/internal/viztrail"
	"github.com/vizier-run/vizier/internal/vzerr"
)

// Backend is the subset of backend.Backend the controller depends on, kept
// narrow so tests can supply a fake without importing the package's
// reference implementations.
type Backend interface {
	CanExecute(cmd command.Command) bool
	Submit(ctx context.Context, taskID string, cmd command.Command, view command.DatasetView, notify func(backend.TaskUpdate)) error
	Cancel(ctx context.Context, taskID string) error
}

// Controller schedules branch edits and drives module execution.
type Controller struct {
	store    viztrail.Store
	backend  Backend
	registry *command.Registry

	group *errgroup.Group
	gctx  context.Context

	mu     sync.Mutex
	actors map[string]*branchActor
	tasks  map[string]chan backend.TaskUpdate
}

// New returns a Controller that schedules commands validated by registry
// onto be, persisting every transition through store.
func New(ctx context.Context, store viztrail.Store, be Backend, registry *command.Registry) *Controller {
	g, gctx := errgroup.WithContext(ctx)
	return &Controller{
		store:    store,
		backend:  be,
		registry: registry,
		group:    g,
		gctx:     gctx,
		actors:   make(map[string]*branchActor),
		tasks:    make(map[string]chan backend.TaskUpdate),
	}
}

// Close cancels every in-flight task and waits for actors to quiesce.
func (c *Controller) Close() error {
	c.mu.Lock()
	actors := make([]*branchActor, 0, len(c.actors))
	for _, a := range c.actors {
		actors = append(actors, a)
	}
	c.mu.Unlock()
	for _, a := range actors {
		a.stopActiveRun()
		close(a.events)
	}
	return c.group.Wait()
}

func (c *Controller) actorFor(branchID string) *branchActor {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.actors[branchID]
	if !ok {
		a = &branchActor{branchID: branchID, c: c, events: make(chan any, 8)}
		c.actors[branchID] = a
		c.group.Go(func() error {
			a.loop()
			return nil
		})
	}
	return a
}

func (c *Controller) registerTask(taskID string, ch chan backend.TaskUpdate) {
	c.mu.Lock()
	c.tasks[taskID] = ch
	c.mu.Unlock()
}

func (c *Controller) unregisterTask(taskID string) {
	c.mu.Lock()
	delete(c.tasks, taskID)
	c.mu.Unlock()
}

// UpdateTaskState is the controller's half of the backend contract:
// backends report progress by calling this with a task id the controller
// itself issued. Reports for a task id the controller no longer tracks
// (superseded workflow, already-delivered completion) are logged and
// dropped, which is what makes repeated delivery idempotent.
func (c *Controller) UpdateTaskState(ctx context.Context, update backend.TaskUpdate) error {
	c.mu.Lock()
	ch, ok := c.tasks[update.TaskID]
	c.mu.Unlock()
	if !ok {
		slog.Info("dropping task state update for unknown or superseded task", "taskId", update.TaskID)
		return nil
	}
	select {
	case ch <- update:
	default:
		slog.Warn("task update channel full, dropping update", "taskId", update.TaskID)
	}
	return nil
}

func (c *Controller) deliverTaskUpdate(taskID string, u backend.TaskUpdate) {
	u.TaskID = taskID
	_ = c.UpdateTaskState(context.Background(), u)
}

// edit describes one of append/insert/delete/replace_workflow_module,
// normalized to a single shape the branch actor applies uniformly.
type edit struct {
	action   model.WorkflowAction
	moduleID string // before_module_id (insert) or target module id (delete/replace); "" for append
	cmd      command.Command
}

type editRequest struct {
	ctx   context.Context
	edit  edit
	reply chan editResult
}

type editResult struct {
	workflow *model.Workflow
	modules  []model.Module
	err      error
}

type cancelRequest struct {
	ctx   context.Context
	reply chan error
}

// AppendWorkflowModule publishes a new head workflow of prev + [new
// PENDING module] and schedules it.
func (c *Controller) AppendWorkflowModule(ctx context.Context, branchID string, cmd command.Command) (*model.Workflow, []model.Module, error) {
	if err := c.registry.Validate(cmd); err != nil {
		return nil, nil, err
	}
	return c.submitEdit(ctx, branchID, edit{action: model.ActionAppend, cmd: cmd})
}

// InsertWorkflowModule inserts a PENDING module before beforeModuleID and
// invalidates every module at or after the insertion point.
func (c *Controller) InsertWorkflowModule(ctx context.Context, branchID, beforeModuleID string, cmd command.Command) (*model.Workflow, []model.Module, error) {
	if err := c.registry.Validate(cmd); err != nil {
		return nil, nil, err
	}
	return c.submitEdit(ctx, branchID, edit{action: model.ActionInsert, moduleID: beforeModuleID, cmd: cmd})
}

// DeleteWorkflowModule removes moduleID and invalidates every module after it.
func (c *Controller) DeleteWorkflowModule(ctx context.Context, branchID, moduleID string) (*model.Workflow, []model.Module, error) {
	return c.submitEdit(ctx, branchID, edit{action: model.ActionDelete, moduleID: moduleID})
}

// ReplaceWorkflowModule substitutes moduleID's command and invalidates it
// and every module after it.
func (c *Controller) ReplaceWorkflowModule(ctx context.Context, branchID, moduleID string, cmd command.Command) (*model.Workflow, []model.Module, error) {
	if err := c.registry.Validate(cmd); err != nil {
		return nil, nil, err
	}
	return c.submitEdit(ctx, branchID, edit{action: model.ActionReplace, moduleID: moduleID, cmd: cmd})
}

func (c *Controller) submitEdit(ctx context.Context, branchID string, e edit) (*model.Workflow, []model.Module, error) {
	a := c.actorFor(branchID)
	reply := make(chan editResult, 1)
	select {
	case a.events <- &editRequest{ctx: ctx, edit: e, reply: reply}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.workflow, res.modules, res.err
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// CancelExec transitions every non-terminal module of the branch's head
// workflow to CANCELED immediately, then forwards cancellation to the
// backend.
func (c *Controller) CancelExec(ctx context.Context, branchID string) error {
	a := c.actorFor(branchID)
	reply := make(chan error, 1)
	select {
	case a.events <- &cancelRequest{ctx: ctx, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// branchActor owns all mutation of one branch's head: edits and explicit
// cancellations are serialized through events; the sequential execution of
// a committed workflow's PENDING modules runs in its own goroutine so a
// new edit or cancel can interrupt it without blocking the actor loop.
type branchActor struct {
	branchID string
	c        *Controller
	events   chan any

	mu         sync.Mutex
	runCancel  context.CancelFunc
	runDone    chan struct{}
	runModules []model.Module
}

func (a *branchActor) loop() {
	for ev := range a.events {
		switch e := ev.(type) {
		case *editRequest:
			a.handleEdit(e)
		case *cancelRequest:
			a.handleCancel(e)
		}
	}
}

// stopActiveRun halts the branch's in-flight execution, if any, flipping
// every non-terminal module of the run to CANCELED. The flip is applied
// immediately and synchronously, before the context is even canceled, so
// observers see the branch halted without waiting on the backend.
func (a *branchActor) stopActiveRun() {
	a.mu.Lock()
	modules := a.runModules
	a.mu.Unlock()
	a.c.cancelRemaining(modules)
	a.interruptRun()
}

// interruptRun cancels the run goroutine's context and waits for it to
// quiesce, without touching module states. Used by edits, which decide
// per-module what is superseded; a module the edit keeps stays PENDING or
// RUNNING and the next run picks it up again.
func (a *branchActor) interruptRun() {
	a.mu.Lock()
	cancel := a.runCancel
	done := a.runDone
	a.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (a *branchActor) startRun(modules []model.Module) {
	ctx, cancel := context.WithCancel(a.c.gctx)
	done := make(chan struct{})
	a.mu.Lock()
	a.runCancel = cancel
	a.runDone = done
	a.runModules = modules
	a.mu.Unlock()

	a.c.group.Go(func() error {
		defer close(done)
		a.c.runWorkflow(ctx, a.branchID, modules)
		a.mu.Lock()
		a.runCancel = nil
		a.runDone = nil
		a.runModules = nil
		a.mu.Unlock()
		return nil
	})
}

// handleCancel flips the in-flight run's modules first (the immediate
// local flip), then sweeps the head workflow for any other non-terminal
// modules, e.g. ones left PENDING behind an earlier failure.
func (a *branchActor) handleCancel(e *cancelRequest) {
	a.stopActiveRun()
	_, head, err := a.c.store.GetWorkflow(e.ctx, a.branchID, "")
	if err != nil {
		if vzerr.IsNotFound(err) {
			e.reply <- nil
		} else {
			e.reply <- err
		}
		return
	}
	a.c.cancelRemaining(head)
	e.reply <- nil
}

func (a *branchActor) handleEdit(e *editRequest) {
	a.interruptRun()

	wf, oldModules, err := a.c.store.GetWorkflow(e.ctx, a.branchID, "")
	if err != nil && !vzerr.IsNotFound(err) {
		e.reply <- editResult{err: err}
		return
	}
	if vzerr.IsNotFound(err) {
		wf = nil
		oldModules = nil
	}

	newModules, actionModuleID, superseded, err := buildEditedModules(oldModules, e.edit)
	if err != nil {
		e.reply <- editResult{err: err}
		return
	}
	if wf == nil && e.edit.action != model.ActionAppend {
		e.reply <- editResult{err: fmt.Errorf("%w: branch %s has no head workflow to edit", vzerr.ErrConflict, a.branchID)}
		return
	}

	// Superseded modules (at or after the edit point) get their old records
	// flipped to CANCELED so the prior workflow's history shows them halted;
	// their replacements in the new workflow are fresh PENDING records. An
	// append supersedes nothing: an interrupted prefix module keeps its state
	// and the new run resumes it.
	a.c.cancelRemaining(superseded)

	newWf, err := a.c.store.AppendWorkflow(e.ctx, a.branchID, e.edit.action, actionModuleID, newModules)
	if err != nil {
		e.reply <- editResult{err: err}
		return
	}
	_, hydrated, err := a.c.store.GetWorkflow(e.ctx, a.branchID, newWf.ID)
	if err != nil {
		e.reply <- editResult{err: err}
		return
	}

	e.reply <- editResult{workflow: newWf, modules: hydrated}
	a.startRun(hydrated)
}

// buildEditedModules computes the new workflow's module list, the
// action_module_id recorded on it, and which of the old modules the edit
// supersedes, applying the conservative reuse policy: modules strictly
// above the edit point are reused verbatim (same id, same state); the
// edited/inserted module and everything from it onward are fresh PENDING
// records, even when their command is unchanged, because their visible
// dataset map may differ and their old terminal state (if any) is
// immutable history that must not be touched in place.
func buildEditedModules(old []model.Module, e edit) ([]model.Module, string, []model.Module, error) {
	now := time.Now()
	switch e.action {
	case model.ActionAppend:
		m := model.NewPendingModule(ids.New(), e.cmd, now)
		return append(cloneModules(old), m), m.ID, nil, nil

	case model.ActionInsert:
		idx := indexOf(old, e.moduleID)
		if idx < 0 {
			return nil, "", nil, fmt.Errorf("%w: module %s not found", vzerr.ErrNotFound, e.moduleID)
		}
		newModule := model.NewPendingModule(ids.New(), e.cmd, now)
		out := make([]model.Module, 0, len(old)+1)
		out = append(out, cloneModules(old[:idx])...)
		out = append(out, newModule)
		out = append(out, invalidateFrom(old[idx:], now)...)
		return out, newModule.ID, old[idx:], nil

	case model.ActionDelete:
		idx := indexOf(old, e.moduleID)
		if idx < 0 {
			return nil, "", nil, fmt.Errorf("%w: module %s not found", vzerr.ErrNotFound, e.moduleID)
		}
		out := make([]model.Module, 0, len(old))
		out = append(out, cloneModules(old[:idx])...)
		out = append(out, invalidateFrom(old[idx+1:], now)...)
		return out, e.moduleID, old[idx:], nil

	case model.ActionReplace:
		idx := indexOf(old, e.moduleID)
		if idx < 0 {
			return nil, "", nil, fmt.Errorf("%w: module %s not found", vzerr.ErrNotFound, e.moduleID)
		}
		newModule := model.NewPendingModule(ids.New(), e.cmd, now)
		out := make([]model.Module, 0, len(old))
		out = append(out, cloneModules(old[:idx])...)
		out = append(out, newModule)
		out = append(out, invalidateFrom(old[idx+1:], now)...)
		return out, newModule.ID, old[idx:], nil

	default:
		return nil, "", nil, fmt.Errorf("%w: unknown edit action %q", vzerr.ErrValidation, e.action)
	}
}

func indexOf(modules []model.Module, id string) int {
	for i, m := range modules {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func cloneModules(modules []model.Module) []model.Module {
	out := make([]model.Module, len(modules))
	copy(out, modules)
	return out
}

// invalidateFrom produces fresh PENDING records carrying the same command
// as each of modules, resetting state, outputs, provenance, and datasets.
func invalidateFrom(modules []model.Module, now time.Time) []model.Module {
	out := make([]model.Module, len(modules))
	for i, m := range modules {
		out[i] = model.NewPendingModule(ids.New(), m.Command, now)
	}
	return out
}

// runWorkflow executes modules in order, strictly sequentially: a module
// does not start until the previous one reached a terminal state, because
// its visible dataset map is folded from every module above it.
func (c *Controller) runWorkflow(ctx context.Context, branchID string, modules []model.Module) {
	view := command.DatasetView{}
	for _, m := range modules {
		if m.State.Terminal() {
			view = model.ApplyProvenance(view, m.Provenance)
			continue
		}
		if ctx.Err() != nil {
			// Whoever canceled ctx owns the module-state decision: cancel_exec
			// flips everything before canceling, an edit keeps its prefix.
			return
		}
		if !c.backend.CanExecute(m.Command) {
			slog.Error("no backend can execute command; module stays pending", "branchId", branchID, "moduleId", m.ID, "command", m.Command.PackageID+"."+m.Command.CommandID)
			return
		}
		if !c.runModule(ctx, branchID, &m, &view) {
			return
		}
	}
}

// runModule submits one module and blocks until it reaches a terminal
// state or ctx is canceled. It returns false when the run must stop
// (failure, cancellation, or backend unavailability), true to continue to
// the next module with view updated to reflect m's writes.
func (c *Controller) runModule(ctx context.Context, branchID string, m *model.Module, view *command.DatasetView) bool {
	taskID := ids.New()
	ch := make(chan backend.TaskUpdate, 4)
	c.registerTask(taskID, ch)
	defer c.unregisterTask(taskID)

	readView := view.Clone()
	startedAt := time.Now()
	running := model.ModuleRunning
	if _, err := c.store.UpdateModule(ctx, m.ID, viztrail.ModuleUpdate{State: &running, StartedAt: &startedAt}); err != nil {
		slog.Error("failed to mark module running", "moduleId", m.ID, "error", err)
		return false
	}

	if err := c.backend.Submit(ctx, taskID, m.Command, readView, func(u backend.TaskUpdate) { c.deliverTaskUpdate(taskID, u) }); err != nil {
		slog.Warn("backend unavailable, leaving module pending for a future edit to resubmit", "moduleId", m.ID, "error", err)
		pending := model.ModulePending
		if _, uerr := c.store.UpdateModule(context.Background(), m.ID, viztrail.ModuleUpdate{State: &pending}); uerr != nil {
			slog.Error("failed to revert module to pending", "moduleId", m.ID, "error", uerr)
		}
		return false
	}

	select {
	case <-ctx.Done():
		// Whoever interrupted the run (cancel_exec, a superseding edit,
		// shutdown) decides this module's state; here we only forward
		// best-effort cancellation to the backend and stop the run.
		c.backend.Cancel(context.Background(), taskID)
		return false
	case u := <-ch:
		if ctx.Err() != nil && !u.Success {
			// The failure is our own interrupt surfacing through the backend;
			// recording it as ERROR would turn a cancellation into a module
			// failure. Leave the module's state to whoever interrupted us.
			c.backend.Cancel(context.Background(), taskID)
			return false
		}
		return c.applyTaskCompletion(branchID, m, view, readView, u)
	}
}

func (c *Controller) applyTaskCompletion(branchID string, m *model.Module, view *command.DatasetView, readView command.DatasetView, u backend.TaskUpdate) bool {
	finishedAt := time.Now()
	if !u.Success {
		errState := model.ModuleError
		stderr := append(append([]string{}, u.Stderr...), u.ErrorDetail)
		if _, err := c.store.UpdateModule(context.Background(), m.ID, viztrail.ModuleUpdate{
			State: &errState, FinishedAt: &finishedAt,
			AppendStdout: u.Stdout, AppendStderr: stderr,
		}); err != nil {
			slog.Error("failed to record module error", "moduleId", m.ID, "error", err)
		}
		return false
	}

	prov := model.Provenance{
		Read:      readView,
		Write:     u.Output.Write,
		Delete:    u.Output.Delete,
		Resources: u.Output.Resources,
	}
	nextView := model.ApplyProvenance(*view, prov)
	successState := model.ModuleSuccess
	if _, err := c.store.UpdateModule(context.Background(), m.ID, viztrail.ModuleUpdate{
		State: &successState, FinishedAt: &finishedAt,
		AppendStdout: u.Stdout, AppendStderr: u.Stderr,
		Provenance: &prov, Datasets: nextView,
	}); err != nil {
		slog.Error("failed to record module success", "moduleId", m.ID, "error", err)
		return false
	}
	*view = nextView
	return true
}

// cancelRemaining flips every non-terminal module in modules to CANCELED,
// using a background context so the flip completes even if the caller's
// ctx was what triggered the cancellation.
func (c *Controller) cancelRemaining(modules []model.Module) {
	canceled := model.ModuleCanceled
	now := time.Now()
	for _, m := range modules {
		if m.State.Terminal() {
			continue
		}
		if _, err := c.store.UpdateModule(context.Background(), m.ID, viztrail.ModuleUpdate{State: &canceled, FinishedAt: &now}); err != nil {
			slog.Error("failed to mark module canceled", "moduleId", m.ID, "error", err)
		}
	}
}

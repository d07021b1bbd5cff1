package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vizier-run/vizier/internal/ids"
	"github.com/vizier-run/vizier/internal/model"
	"github.com/vizier-run/vizier/internal/viztrail"
	"github.com/vizier-run/vizier/internal/vzerr"
)

// fakeStore is a minimal in-memory viztrail.Store used only by this
// package's tests, mirroring internal/viztrail/pg.go's semantics (atomic
// head swap, terminal-state monotonicity) without a database.
type fakeStore struct {
	mu        sync.Mutex
	viztrails map[string]*model.Viztrail
	branches  map[string]*model.Branch
	workflows map[string]*model.Workflow
	modules   map[string]*model.Module
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		viztrails: make(map[string]*model.Viztrail),
		branches:  make(map[string]*model.Branch),
		workflows: make(map[string]*model.Workflow),
		modules:   make(map[string]*model.Module),
	}
}

func (f *fakeStore) CreateViztrail(ctx context.Context, properties model.Properties) (*model.Viztrail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vt := &model.Viztrail{ID: ids.New(), Properties: properties.Clone(), CreatedAt: time.Now()}
	f.viztrails[vt.ID] = vt

	branch := &model.Branch{ID: ids.New(), ViztrailID: vt.ID}
	wf := &model.Workflow{ID: ids.New(), BranchID: branch.ID, Action: model.ActionCreate, CreatedAt: time.Now()}
	branch.HeadWorkflowID = wf.ID
	branch.WorkflowHistory = []string{wf.ID}
	f.branches[branch.ID] = branch
	f.workflows[wf.ID] = wf

	vt.DefaultBranch = branch.ID
	vt.Branches = []string{branch.ID}
	return vt, nil
}

func (f *fakeStore) DeleteViztrail(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.viztrails[id]
	delete(f.viztrails, id)
	return ok, nil
}

func (f *fakeStore) ListViztrails(ctx context.Context) ([]*model.Viztrail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.Viztrail, 0, len(f.viztrails))
	for _, vt := range f.viztrails {
		out = append(out, vt)
	}
	return out, nil
}

func (f *fakeStore) GetViztrail(ctx context.Context, id string) (*model.Viztrail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vt, ok := f.viztrails[id]
	if !ok {
		return nil, fmt.Errorf("%w: viztrail %s", vzerr.ErrNotFound, id)
	}
	return vt, nil
}

func (f *fakeStore) UpdateViztrailProperties(ctx context.Context, id string, properties model.Properties) (*model.Viztrail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vt, ok := f.viztrails[id]
	if !ok {
		return nil, fmt.Errorf("%w: viztrail %s", vzerr.ErrNotFound, id)
	}
	vt.Properties = properties.Clone()
	return vt, nil
}

func (f *fakeStore) CreateBranch(ctx context.Context, viztrailID string, properties model.Properties, source *viztrail.BranchSource) (*model.Branch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	branch := &model.Branch{ID: ids.New(), ViztrailID: viztrailID, Properties: properties.Clone()}

	var seed []string
	if source != nil {
		srcBranch, ok := f.branches[source.BranchID]
		if !ok {
			return nil, fmt.Errorf("%w: source branch %s", vzerr.ErrNotFound, source.BranchID)
		}
		wfID := source.WorkflowID
		if wfID == "" {
			wfID = srcBranch.HeadWorkflowID
		}
		if wfID != "" {
			srcWf := f.workflows[wfID]
			prefix := source.ModulePrefix
			if prefix <= 0 || prefix > len(srcWf.Modules) {
				prefix = len(srcWf.Modules)
			}
			seed = append(seed, srcWf.Modules[:prefix]...)
		}
	}

	wf := &model.Workflow{ID: ids.New(), BranchID: branch.ID, Action: model.ActionCreate, CreatedAt: time.Now(), Modules: seed}
	branch.HeadWorkflowID = wf.ID
	branch.WorkflowHistory = []string{wf.ID}
	f.branches[branch.ID] = branch
	f.workflows[wf.ID] = wf

	if vt, ok := f.viztrails[viztrailID]; ok {
		vt.Branches = append(vt.Branches, branch.ID)
	}
	return branch, nil
}

func (f *fakeStore) DeleteBranch(ctx context.Context, viztrailID, branchID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.branches[branchID]
	delete(f.branches, branchID)
	return ok, nil
}

func (f *fakeStore) GetBranch(ctx context.Context, viztrailID, branchID string) (*model.Branch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.branches[branchID]
	if !ok {
		return nil, fmt.Errorf("%w: branch %s", vzerr.ErrNotFound, branchID)
	}
	cp := *b
	cp.WorkflowHistory = append([]string{}, b.WorkflowHistory...)
	return &cp, nil
}

func (f *fakeStore) UpdateBranchProperties(ctx context.Context, viztrailID, branchID string, properties model.Properties) (*model.Branch, error) {
	f.mu.Lock()
	b, ok := f.branches[branchID]
	if !ok {
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: branch %s", vzerr.ErrNotFound, branchID)
	}
	b.Properties = properties.Clone()
	f.mu.Unlock()
	return f.GetBranch(ctx, viztrailID, branchID)
}

func (f *fakeStore) AppendWorkflow(ctx context.Context, branchID string, action model.WorkflowAction, actionModuleID string, modules []model.Module) (*model.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	branch, ok := f.branches[branchID]
	if !ok {
		return nil, fmt.Errorf("%w: branch %s", vzerr.ErrNotFound, branchID)
	}

	for _, m := range modules {
		if _, exists := f.modules[m.ID]; !exists {
			cp := m
			f.modules[m.ID] = &cp
		}
	}

	wf := &model.Workflow{
		ID:             ids.New(),
		BranchID:       branchID,
		Action:         action,
		ActionModuleID: actionModuleID,
		CreatedAt:      time.Now(),
		Modules:        make([]string, len(modules)),
	}
	for i, m := range modules {
		wf.Modules[i] = m.ID
	}
	f.workflows[wf.ID] = wf
	branch.HeadWorkflowID = wf.ID
	branch.WorkflowHistory = append(branch.WorkflowHistory, wf.ID)
	return wf, nil
}

func (f *fakeStore) GetWorkflow(ctx context.Context, branchID, workflowID string) (*model.Workflow, []model.Module, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if workflowID == "" {
		branch, ok := f.branches[branchID]
		if !ok {
			return nil, nil, fmt.Errorf("%w: branch %s", vzerr.ErrNotFound, branchID)
		}
		if branch.HeadWorkflowID == "" {
			return nil, nil, fmt.Errorf("%w: branch %s has no workflows yet", vzerr.ErrNotFound, branchID)
		}
		workflowID = branch.HeadWorkflowID
	}
	wf, ok := f.workflows[workflowID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: workflow %s", vzerr.ErrNotFound, workflowID)
	}
	modules := make([]model.Module, 0, len(wf.Modules))
	for _, id := range wf.Modules {
		m, ok := f.modules[id]
		if !ok {
			return nil, nil, fmt.Errorf("%w: module %s", vzerr.ErrNotFound, id)
		}
		modules = append(modules, *m)
	}
	cp := *wf
	cp.Modules = append([]string{}, wf.Modules...)
	return &cp, modules, nil
}

func (f *fakeStore) GetModule(ctx context.Context, moduleID string) (*model.Module, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.modules[moduleID]
	if !ok {
		return nil, fmt.Errorf("%w: module %s", vzerr.ErrNotFound, moduleID)
	}
	cp := *m
	return &cp, nil
}

func (f *fakeStore) UpdateModule(ctx context.Context, moduleID string, upd viztrail.ModuleUpdate) (*model.Module, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.modules[moduleID]
	if !ok {
		return nil, fmt.Errorf("%w: module %s", vzerr.ErrNotFound, moduleID)
	}
	terminal := m.State.Terminal()
	if upd.State != nil && !terminal {
		m.State = *upd.State
	}
	if upd.StartedAt != nil && m.Timestamps.StartedAt == nil {
		m.Timestamps.StartedAt = upd.StartedAt
	}
	if upd.FinishedAt != nil && !terminal {
		m.Timestamps.FinishedAt = upd.FinishedAt
	}
	if !terminal {
		m.Outputs.Stdout = append(m.Outputs.Stdout, upd.AppendStdout...)
		m.Outputs.Stderr = append(m.Outputs.Stderr, upd.AppendStderr...)
		if upd.Provenance != nil {
			m.Provenance = *upd.Provenance
		}
		if upd.Datasets != nil {
			m.Datasets = upd.Datasets
		}
	}
	cp := *m
	return &cp, nil
}

var _ viztrail.Store = (*fakeStore)(nil)

// Package viztrail implements the viztrail store: persistent, append-only
// history of viztrails, branches, workflows, and modules. It owns these
// entities exclusively; callers hold only identifiers.
//
// The Postgres implementation keeps a DB abstraction satisfied by both
// *pgxpool.Pool and pgxmock in tests, with queries wrapped in explicit
// BeginTx/Commit/Rollback blocks. Publishing a new head (write modules,
// then the workflow record, then swap the head pointer) happens inside a
// single transaction.
package viztrail

import (
	"context"
	"time"

	"github.com/vizier-run/vizier/internal/model"
)

// BranchSource optionally seeds a new branch's initial workflow from a
// prefix of an existing workflow's modules.
type BranchSource struct {
	BranchID   string
	WorkflowID string // "" means the source branch's head
	// ModulePrefix limits how many of the source workflow's modules are
	// copied; 0 (or >= len(source.Modules)) copies all of them.
	ModulePrefix int
}

// ModuleUpdate describes a partial update to a module record, applied by
// the execution controller as a command executes. Only non-nil fields are
// changed.
type ModuleUpdate struct {
	State        *model.ModuleState
	StartedAt    *time.Time
	FinishedAt   *time.Time
	AppendStdout []string
	AppendStderr []string
	Provenance   *model.Provenance
	Datasets     map[string]string
}

// Store is the viztrail store's capability interface.
type Store interface {
	CreateViztrail(ctx context.Context, properties model.Properties) (*model.Viztrail, error)
	DeleteViztrail(ctx context.Context, id string) (bool, error)
	ListViztrails(ctx context.Context) ([]*model.Viztrail, error)
	GetViztrail(ctx context.Context, id string) (*model.Viztrail, error)
	// UpdateViztrailProperties overwrites a viztrail's properties wholesale;
	// `vizier project rename` calls this with PropertyName set to the new
	// display name.
	UpdateViztrailProperties(ctx context.Context, id string, properties model.Properties) (*model.Viztrail, error)

	CreateBranch(ctx context.Context, viztrailID string, properties model.Properties, source *BranchSource) (*model.Branch, error)
	DeleteBranch(ctx context.Context, viztrailID, branchID string) (bool, error)
	GetBranch(ctx context.Context, viztrailID, branchID string) (*model.Branch, error)
	// UpdateBranchProperties overwrites a branch's properties wholesale;
	// `vizier branch rename` calls this with PropertyName set to the new
	// display name.
	UpdateBranchProperties(ctx context.Context, viztrailID, branchID string, properties model.Properties) (*model.Branch, error)

	// AppendWorkflow publishes a new workflow as the branch's head. modules
	// are the full ordered module list of the new workflow (including
	// reused modules carried over verbatim from the previous head); the
	// store persists any module whose ID it hasn't seen before, then the
	// workflow record, then atomically swaps the head pointer.
	AppendWorkflow(ctx context.Context, branchID string, action model.WorkflowAction, actionModuleID string, modules []model.Module) (*model.Workflow, error)

	// GetWorkflow returns a workflow and its hydrated modules in order.
	// workflowID == "" returns the branch's head workflow.
	GetWorkflow(ctx context.Context, branchID, workflowID string) (*model.Workflow, []model.Module, error)

	GetModule(ctx context.Context, moduleID string) (*model.Module, error)
	UpdateModule(ctx context.Context, moduleID string, upd ModuleUpdate) (*model.Module, error)
}

package viztrail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vizier-run/vizier/internal/command"
	"github.com/vizier-run/vizier/internal/ids"
	"github.com/vizier-run/vizier/internal/model"
	"github.com/vizier-run/vizier/internal/vzerr"
)

// DB abstracts the database operations the store needs, satisfied by
// *pgxpool.Pool in production and pgxmock in tests.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// querier is satisfied by both pgx.Tx and DB, letting hydrate helpers run
// inside or outside a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgStore struct {
	db DB
}

// NewPostgres returns a Postgres-backed Store.
func NewPostgres(pool *pgxpool.Pool) (Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("viztrail: pool cannot be nil")
	}
	return &pgStore{db: pool}, nil
}

// row-encoded module, persisted as JSONB columns.
type moduleRow struct {
	Command      command.Command   `json:"command"`
	ExternalForm string            `json:"externalForm"`
	State        model.ModuleState `json:"state"`
	CreatedAt    time.Time         `json:"createdAt"`
	StartedAt    *time.Time        `json:"startedAt,omitempty"`
	FinishedAt   *time.Time        `json:"finishedAt,omitempty"`
	Stdout       []string          `json:"stdout"`
	Stderr       []string          `json:"stderr"`
	Provenance   model.Provenance  `json:"provenance"`
	Datasets     map[string]string `json:"datasets"`
}

func (r *pgStore) CreateViztrail(ctx context.Context, properties model.Properties) (*model.Viztrail, error) {
	vt := &model.Viztrail{
		ID:         ids.New(),
		Properties: properties.Clone(),
		CreatedAt:  time.Now(),
	}
	propsJSON, err := json.Marshal(vt.Properties)
	if err != nil {
		return nil, fmt.Errorf("viztrail: marshal properties: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO viztrails (id, properties, default_branch, created_at)
		VALUES ($1, $2, '', $3)`,
		vt.ID, propsJSON, vt.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("viztrail: insert viztrail: %w", err)
	}

	branch, err := r.CreateBranch(ctx, vt.ID, model.Properties{}.Set(model.PropertyName, "Default"), nil)
	if err != nil {
		return nil, fmt.Errorf("viztrail: create default branch: %w", err)
	}
	vt.DefaultBranch = branch.ID
	vt.Branches = []string{branch.ID}

	_, err = r.db.Exec(ctx, `UPDATE viztrails SET default_branch = $1 WHERE id = $2`, branch.ID, vt.ID)
	if err != nil {
		return nil, fmt.Errorf("viztrail: set default branch: %w", err)
	}
	return vt, nil
}

// UpdateViztrailProperties overwrites a viztrail's stored properties,
// leaving its branches and default branch untouched.
func (r *pgStore) UpdateViztrailProperties(ctx context.Context, id string, properties model.Properties) (*model.Viztrail, error) {
	propsJSON, err := json.Marshal(properties)
	if err != nil {
		return nil, fmt.Errorf("viztrail: marshal properties: %w", err)
	}
	tag, err := r.db.Exec(ctx, `UPDATE viztrails SET properties = $1 WHERE id = $2`, propsJSON, id)
	if err != nil {
		return nil, fmt.Errorf("viztrail: update viztrail properties: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: viztrail %s", vzerr.ErrNotFound, id)
	}
	return r.GetViztrail(ctx, id)
}

func (r *pgStore) DeleteViztrail(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM viztrails WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("viztrail: delete viztrail: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *pgStore) ListViztrails(ctx context.Context) ([]*model.Viztrail, error) {
	rows, err := r.db.Query(ctx, `SELECT id, properties, default_branch, created_at FROM viztrails ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("viztrail: list viztrails: %w", err)
	}
	defer rows.Close()

	var out []*model.Viztrail
	for rows.Next() {
		vt := &model.Viztrail{}
		var propsJSON []byte
		if err := rows.Scan(&vt.ID, &propsJSON, &vt.DefaultBranch, &vt.CreatedAt); err != nil {
			return nil, fmt.Errorf("viztrail: scan viztrail: %w", err)
		}
		if err := json.Unmarshal(propsJSON, &vt.Properties); err != nil {
			return nil, fmt.Errorf("%w: viztrail %s properties: %v", vzerr.ErrCorrupt, vt.ID, err)
		}
		branches, err := r.listBranchIDs(ctx, r.db, vt.ID)
		if err != nil {
			return nil, err
		}
		vt.Branches = branches
		out = append(out, vt)
	}
	return out, rows.Err()
}

func (r *pgStore) GetViztrail(ctx context.Context, id string) (*model.Viztrail, error) {
	vt := &model.Viztrail{ID: id}
	var propsJSON []byte
	err := r.db.QueryRow(ctx, `SELECT properties, default_branch, created_at FROM viztrails WHERE id = $1`, id).
		Scan(&propsJSON, &vt.DefaultBranch, &vt.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: viztrail %s", vzerr.ErrNotFound, id)
		}
		return nil, fmt.Errorf("viztrail: get viztrail: %w", err)
	}
	if err := json.Unmarshal(propsJSON, &vt.Properties); err != nil {
		return nil, fmt.Errorf("%w: viztrail %s properties: %v", vzerr.ErrCorrupt, id, err)
	}
	branches, err := r.listBranchIDs(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	vt.Branches = branches
	return vt, nil
}

func (r *pgStore) listBranchIDs(ctx context.Context, q querier, viztrailID string) ([]string, error) {
	rows, err := q.Query(ctx, `SELECT id FROM branches WHERE viztrail_id = $1 ORDER BY id`, viztrailID)
	if err != nil {
		return nil, fmt.Errorf("viztrail: list branches: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("viztrail: scan branch id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *pgStore) CreateBranch(ctx context.Context, viztrailID string, properties model.Properties, source *BranchSource) (*model.Branch, error) {
	branch := &model.Branch{
		ID:         ids.New(),
		ViztrailID: viztrailID,
		Properties: properties.Clone(),
	}
	propsJSON, err := json.Marshal(branch.Properties)
	if err != nil {
		return nil, fmt.Errorf("viztrail: marshal branch properties: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("viztrail: begin create branch: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO branches (id, viztrail_id, properties, head_workflow_id, workflow_history)
		VALUES ($1, $2, $3, '', '[]')`,
		branch.ID, viztrailID, propsJSON)
	if err != nil {
		return nil, fmt.Errorf("viztrail: insert branch: %w", err)
	}

	var seedModules []string
	if source != nil {
		srcWorkflowID := source.WorkflowID
		if srcWorkflowID == "" {
			if err := tx.QueryRow(ctx, `SELECT head_workflow_id FROM branches WHERE id = $1`, source.BranchID).Scan(&srcWorkflowID); err != nil {
				return nil, fmt.Errorf("viztrail: resolve source branch head: %w", err)
			}
		}
		if srcWorkflowID != "" {
			var moduleIDsJSON []byte
			if err := tx.QueryRow(ctx, `SELECT module_ids FROM workflows WHERE id = $1`, srcWorkflowID).Scan(&moduleIDsJSON); err != nil {
				return nil, fmt.Errorf("viztrail: load source workflow: %w", err)
			}
			var all []string
			if err := json.Unmarshal(moduleIDsJSON, &all); err != nil {
				return nil, fmt.Errorf("%w: source workflow %s module_ids: %v", vzerr.ErrCorrupt, srcWorkflowID, err)
			}
			prefix := source.ModulePrefix
			if prefix <= 0 || prefix > len(all) {
				prefix = len(all)
			}
			seedModules = all[:prefix]
		}
	}

	workflowID := ids.New()
	moduleIDsJSON, err := json.Marshal(seedModules)
	if err != nil {
		return nil, fmt.Errorf("viztrail: marshal seed module ids: %w", err)
	}
	createdAt := time.Now()
	_, err = tx.Exec(ctx, `
		INSERT INTO workflows (id, branch_id, action, action_module_id, created_at, module_ids)
		VALUES ($1, $2, $3, '', $4, $5)`,
		workflowID, branch.ID, model.ActionCreate, createdAt, moduleIDsJSON)
	if err != nil {
		return nil, fmt.Errorf("viztrail: insert initial workflow: %w", err)
	}

	history, err := json.Marshal([]string{workflowID})
	if err != nil {
		return nil, fmt.Errorf("viztrail: marshal workflow history: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE branches SET head_workflow_id = $1, workflow_history = $2 WHERE id = $3`,
		workflowID, history, branch.ID)
	if err != nil {
		return nil, fmt.Errorf("viztrail: set initial branch head: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("viztrail: commit create branch: %w", err)
	}

	branch.HeadWorkflowID = workflowID
	branch.WorkflowHistory = []string{workflowID}
	return branch, nil
}

func (r *pgStore) DeleteBranch(ctx context.Context, viztrailID, branchID string) (bool, error) {
	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM branches WHERE viztrail_id = $1`, viztrailID).Scan(&count); err != nil {
		return false, fmt.Errorf("viztrail: count branches: %w", err)
	}
	if count <= 1 {
		return false, fmt.Errorf("%w: cannot delete the only branch of a viztrail", vzerr.ErrConflict)
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM branches WHERE id = $1 AND viztrail_id = $2`, branchID, viztrailID)
	if err != nil {
		return false, fmt.Errorf("viztrail: delete branch: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *pgStore) GetBranch(ctx context.Context, viztrailID, branchID string) (*model.Branch, error) {
	branch := &model.Branch{ID: branchID, ViztrailID: viztrailID}
	var propsJSON, historyJSON []byte
	err := r.db.QueryRow(ctx, `
		SELECT properties, head_workflow_id, workflow_history
		FROM branches WHERE id = $1 AND viztrail_id = $2`,
		branchID, viztrailID).Scan(&propsJSON, &branch.HeadWorkflowID, &historyJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: branch %s", vzerr.ErrNotFound, branchID)
		}
		return nil, fmt.Errorf("viztrail: get branch: %w", err)
	}
	if err := json.Unmarshal(propsJSON, &branch.Properties); err != nil {
		return nil, fmt.Errorf("%w: branch %s properties: %v", vzerr.ErrCorrupt, branchID, err)
	}
	if err := json.Unmarshal(historyJSON, &branch.WorkflowHistory); err != nil {
		return nil, fmt.Errorf("%w: branch %s history: %v", vzerr.ErrCorrupt, branchID, err)
	}
	return branch, nil
}

// UpdateBranchProperties overwrites a branch's stored properties, used by
// `vizier branch rename` to set PropertyName without touching the branch's
// workflow history or head.
func (r *pgStore) UpdateBranchProperties(ctx context.Context, viztrailID, branchID string, properties model.Properties) (*model.Branch, error) {
	propsJSON, err := json.Marshal(properties)
	if err != nil {
		return nil, fmt.Errorf("viztrail: marshal branch properties: %w", err)
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE branches SET properties = $1 WHERE id = $2 AND viztrail_id = $3`,
		propsJSON, branchID, viztrailID)
	if err != nil {
		return nil, fmt.Errorf("viztrail: update branch properties: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: branch %s", vzerr.ErrNotFound, branchID)
	}
	return r.GetBranch(ctx, viztrailID, branchID)
}

// AppendWorkflow writes every new module record first (existing module ids
// are left untouched so reused modules are never rewritten), then the
// workflow record, then swaps the branch head, all in one transaction so
// the new head is published atomically.
func (r *pgStore) AppendWorkflow(ctx context.Context, branchID string, action model.WorkflowAction, actionModuleID string, modules []model.Module) (*model.Workflow, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("viztrail: begin append workflow: %w", err)
	}
	defer tx.Rollback(ctx)

	var historyJSON []byte
	var currentHead string
	err = tx.QueryRow(ctx, `SELECT head_workflow_id, workflow_history FROM branches WHERE id = $1 FOR UPDATE`, branchID).
		Scan(&currentHead, &historyJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: branch %s", vzerr.ErrNotFound, branchID)
		}
		return nil, fmt.Errorf("viztrail: lock branch: %w", err)
	}
	var history []string
	if err := json.Unmarshal(historyJSON, &history); err != nil {
		return nil, fmt.Errorf("%w: branch %s history: %v", vzerr.ErrCorrupt, branchID, err)
	}

	for _, m := range modules {
		if err := r.upsertModuleIfNew(ctx, tx, m); err != nil {
			return nil, err
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
	moduleIDsJSON, err := json.Marshal(wf.Modules)
	if err != nil {
		return nil, fmt.Errorf("viztrail: marshal module ids: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO workflows (id, branch_id, action, action_module_id, created_at, module_ids)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		wf.ID, branchID, action, actionModuleID, wf.CreatedAt, moduleIDsJSON)
	if err != nil {
		return nil, fmt.Errorf("viztrail: insert workflow: %w", err)
	}

	newHistory, err := json.Marshal(append(history, wf.ID))
	if err != nil {
		return nil, fmt.Errorf("viztrail: marshal new history: %w", err)
	}
	_, err = tx.Exec(ctx, `UPDATE branches SET head_workflow_id = $1, workflow_history = $2 WHERE id = $3`,
		wf.ID, newHistory, branchID)
	if err != nil {
		return nil, fmt.Errorf("viztrail: swap branch head: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("viztrail: commit append workflow: %w", err)
	}
	return wf, nil
}

func (r *pgStore) upsertModuleIfNew(ctx context.Context, tx pgx.Tx, m model.Module) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM modules WHERE id = $1)`, m.ID).Scan(&exists); err != nil {
		return fmt.Errorf("viztrail: check module existence: %w", err)
	}
	if exists {
		return nil
	}
	row := moduleRowFromModel(m)
	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("viztrail: marshal module %s: %w", m.ID, err)
	}
	_, err = tx.Exec(ctx, `INSERT INTO modules (id, payload) VALUES ($1, $2)`, m.ID, payload)
	if err != nil {
		return fmt.Errorf("viztrail: insert module %s: %w", m.ID, err)
	}
	return nil
}

func moduleRowFromModel(m model.Module) moduleRow {
	return moduleRow{
		Command:      m.Command,
		ExternalForm: m.ExternalForm,
		State:        m.State,
		CreatedAt:    m.Timestamps.CreatedAt,
		StartedAt:    m.Timestamps.StartedAt,
		FinishedAt:   m.Timestamps.FinishedAt,
		Stdout:       m.Outputs.Stdout,
		Stderr:       m.Outputs.Stderr,
		Provenance:   m.Provenance,
		Datasets:     m.Datasets,
	}
}

func moduleFromRow(id string, row moduleRow) model.Module {
	return model.Module{
		ID:           id,
		Command:      row.Command,
		ExternalForm: row.ExternalForm,
		State:        row.State,
		Timestamps: model.Timestamps{
			CreatedAt:  row.CreatedAt,
			StartedAt:  row.StartedAt,
			FinishedAt: row.FinishedAt,
		},
		Outputs:    model.Outputs{Stdout: row.Stdout, Stderr: row.Stderr},
		Provenance: row.Provenance,
		Datasets:   row.Datasets,
	}
}

func (r *pgStore) GetWorkflow(ctx context.Context, branchID, workflowID string) (*model.Workflow, []model.Module, error) {
	if workflowID == "" {
		var headID string
		err := r.db.QueryRow(ctx, `SELECT head_workflow_id FROM branches WHERE id = $1`, branchID).Scan(&headID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, nil, fmt.Errorf("%w: branch %s", vzerr.ErrNotFound, branchID)
			}
			return nil, nil, fmt.Errorf("viztrail: resolve head workflow: %w", err)
		}
		if headID == "" {
			return nil, nil, fmt.Errorf("%w: branch %s has no workflows yet", vzerr.ErrNotFound, branchID)
		}
		workflowID = headID
	}

	wf := &model.Workflow{ID: workflowID, BranchID: branchID}
	var moduleIDsJSON []byte
	err := r.db.QueryRow(ctx, `
		SELECT action, action_module_id, created_at, module_ids
		FROM workflows WHERE id = $1`, workflowID).
		Scan(&wf.Action, &wf.ActionModuleID, &wf.CreatedAt, &moduleIDsJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, fmt.Errorf("%w: workflow %s", vzerr.ErrNotFound, workflowID)
		}
		return nil, nil, fmt.Errorf("viztrail: get workflow: %w", err)
	}
	if err := json.Unmarshal(moduleIDsJSON, &wf.Modules); err != nil {
		return nil, nil, fmt.Errorf("%w: workflow %s module_ids: %v", vzerr.ErrCorrupt, workflowID, err)
	}

	modules := make([]model.Module, 0, len(wf.Modules))
	for _, id := range wf.Modules {
		m, err := r.GetModule(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		modules = append(modules, *m)
	}
	return wf, modules, nil
}

func (r *pgStore) GetModule(ctx context.Context, moduleID string) (*model.Module, error) {
	var payload []byte
	err := r.db.QueryRow(ctx, `SELECT payload FROM modules WHERE id = $1`, moduleID).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: module %s", vzerr.ErrNotFound, moduleID)
		}
		return nil, fmt.Errorf("viztrail: get module: %w", err)
	}
	var row moduleRow
	if err := json.Unmarshal(payload, &row); err != nil {
		return nil, fmt.Errorf("%w: module %s: %v", vzerr.ErrCorrupt, moduleID, err)
	}
	m := moduleFromRow(moduleID, row)
	return &m, nil
}

// UpdateModule applies a partial update to a module record inside a
// transaction that locks the row first. Once a module reaches
// CANCELED/ERROR/SUCCESS, further state changes are silently ignored
// rather than erroring, which keeps task-state reporting idempotent
// against late, duplicate, or superseded reports.
func (r *pgStore) UpdateModule(ctx context.Context, moduleID string, upd ModuleUpdate) (*model.Module, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("viztrail: begin update module: %w", err)
	}
	defer tx.Rollback(ctx)

	var payload []byte
	if err := tx.QueryRow(ctx, `SELECT payload FROM modules WHERE id = $1 FOR UPDATE`, moduleID).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: module %s", vzerr.ErrNotFound, moduleID)
		}
		return nil, fmt.Errorf("viztrail: lock module: %w", err)
	}
	var row moduleRow
	if err := json.Unmarshal(payload, &row); err != nil {
		return nil, fmt.Errorf("%w: module %s: %v", vzerr.ErrCorrupt, moduleID, err)
	}

	alreadyTerminal := row.State.Terminal()
	if upd.State != nil && !alreadyTerminal {
		row.State = *upd.State
	}
	if upd.StartedAt != nil && row.StartedAt == nil {
		row.StartedAt = upd.StartedAt
	}
	if upd.FinishedAt != nil && !alreadyTerminal {
		row.FinishedAt = upd.FinishedAt
	}
	if !alreadyTerminal {
		row.Stdout = append(row.Stdout, upd.AppendStdout...)
		row.Stderr = append(row.Stderr, upd.AppendStderr...)
		if upd.Provenance != nil {
			row.Provenance = *upd.Provenance
		}
		if upd.Datasets != nil {
			row.Datasets = upd.Datasets
		}
	}

	newPayload, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("viztrail: marshal updated module %s: %w", moduleID, err)
	}
	if _, err := tx.Exec(ctx, `UPDATE modules SET payload = $1 WHERE id = $2`, newPayload, moduleID); err != nil {
		return nil, fmt.Errorf("viztrail: write updated module %s: %w", moduleID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("viztrail: commit update module: %w", err)
	}

	m := moduleFromRow(moduleID, row)
	return &m, nil
}

package model

import (
	"time"

	"github.com/vizier-run/vizier/internal/command"
)

// Viztrail is the complete edit history of a project, organized into
// branches.
type Viztrail struct {
	ID            string
	Properties    Properties
	CreatedAt     time.Time
	Branches      []string
	DefaultBranch string
}

// Branch is a named linear history of workflows sharing a common ancestry.
// Invariant: HeadWorkflowID is always the last entry of WorkflowHistory, or
// both are empty.
type Branch struct {
	ID              string
	ViztrailID      string
	Properties      Properties
	HeadWorkflowID  string
	WorkflowHistory []string
}

// HeadConsistent reports whether the head pointer matches the last entry
// of the history (or both are empty).
func (b Branch) HeadConsistent() bool {
	if len(b.WorkflowHistory) == 0 {
		return b.HeadWorkflowID == ""
	}
	return b.HeadWorkflowID == b.WorkflowHistory[len(b.WorkflowHistory)-1]
}

// WorkflowAction identifies which branch edit produced a workflow.
type WorkflowAction string

const (
	ActionCreate  WorkflowAction = "CREATE"
	ActionAppend  WorkflowAction = "APPEND"
	ActionInsert  WorkflowAction = "INSERT"
	ActionDelete  WorkflowAction = "DELETE"
	ActionReplace WorkflowAction = "REPLACE"
)

// Workflow is an immutable snapshot of a notebook at commit time: an
// ordered sequence of module ids. Once committed, a workflow's module
// sequence never changes.
type Workflow struct {
	ID             string
	BranchID       string
	Action         WorkflowAction
	ActionModuleID string
	CreatedAt      time.Time
	Modules        []string
}

// ModuleState is the module lifecycle state.
type ModuleState string

const (
	ModulePending  ModuleState = "PENDING"
	ModuleRunning  ModuleState = "RUNNING"
	ModuleCanceled ModuleState = "CANCELED"
	ModuleError    ModuleState = "ERROR"
	ModuleSuccess  ModuleState = "SUCCESS"
)

// Terminal reports whether s is a terminal state. Terminal states are
// monotonic: once set, a module's state never changes again.
func (s ModuleState) Terminal() bool {
	switch s {
	case ModuleCanceled, ModuleError, ModuleSuccess:
		return true
	default:
		return false
	}
}

// Timestamps records the module's lifecycle transitions.
type Timestamps struct {
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Outputs holds a module's captured console output.
type Outputs struct {
	Stdout []string
	Stderr []string
}

// Provenance is the (read, write, delete) triple of dataset names a module
// touched, used to compute the visible dataset map and drive reuse.
type Provenance struct {
	Read      map[string]string
	Write     map[string]command.DatasetDescriptor
	Delete    []string
	Resources map[string]any
}

// Module is a single notebook cell: command, state, outputs and provenance.
type Module struct {
	ID           string
	Command      command.Command
	ExternalForm string
	State        ModuleState
	Timestamps   Timestamps
	Outputs      Outputs
	Provenance   Provenance
	// Datasets is the dataset map visible after this module ran: the
	// previous module's Datasets with this module's provenance folded in
	// (writes applied, deletes removed). It is what the next module sees.
	Datasets map[string]string
}

// NewPendingModule constructs a fresh PENDING module for cmd, with its
// external form rendered once at creation time.
func NewPendingModule(id string, cmd command.Command, createdAt time.Time) Module {
	return Module{
		ID:           id,
		Command:      cmd,
		ExternalForm: command.ExternalForm(cmd),
		State:        ModulePending,
		Timestamps:   Timestamps{CreatedAt: createdAt},
		Datasets:     map[string]string{},
	}
}

// ApplyProvenance folds a module's provenance into the dataset map visible
// to modules above it, producing the map visible to modules below it:
// prev plus writes minus deletes.
func ApplyProvenance(prev map[string]string, prov Provenance) map[string]string {
	next := make(map[string]string, len(prev)+len(prov.Write))
	for k, v := range prev {
		next[k] = v
	}
	for name, desc := range prov.Write {
		next[name] = desc.ID
	}
	for _, name := range prov.Delete {
		delete(next, name)
	}
	return next
}

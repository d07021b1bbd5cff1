// Package vzerr defines the sentinel error kinds shared across Vizier's
// components. Callers compare with errors.Is rather than type assertions,
// the same way pgx.ErrNoRows is handled at the storage layer.
package vzerr

import "errors"

// Wrap these with fmt.Errorf("...: %w", Err...) to attach context; callers
// use errors.Is.
var (
	// ErrValidation marks a malformed command or argument, rejected before
	// any record is persisted.
	ErrValidation = errors.New("vizier: validation error")
	// ErrNotFound marks an unknown project/branch/workflow/module/dataset id.
	ErrNotFound = errors.New("vizier: not found")
	// ErrConflict marks a duplicate name, an attempt to mutate a committed
	// workflow, or an edit against a nonexistent head.
	ErrConflict = errors.New("vizier: conflict")
	// ErrBackendUnavailable marks a worker that is unreachable or a missing
	// container; the caller, not the controller, is responsible for retry.
	ErrBackendUnavailable = errors.New("vizier: backend unavailable")
	// ErrExecution marks a command that ran and failed on its own terms
	// (handler returned an error, non-zero exit, raised exception) as
	// opposed to infrastructure failing around it.
	ErrExecution = errors.New("vizier: execution error")
	// ErrCorrupt marks an on-disk/row record that failed its schema check on
	// load; the affected entity is surfaced as unavailable, not omitted.
	ErrCorrupt = errors.New("vizier: corrupt record")
)

// IsNotFound, IsConflict, IsValidation, IsBackendUnavailable, IsExecution,
// and IsCorrupt are thin errors.Is wrappers so callers in other packages
// don't need to import errors just to classify a vizier error.
func IsNotFound(err error) bool           { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool           { return errors.Is(err, ErrConflict) }
func IsValidation(err error) bool         { return errors.Is(err, ErrValidation) }
func IsBackendUnavailable(err error) bool { return errors.Is(err, ErrBackendUnavailable) }
func IsExecution(err error) bool          { return errors.Is(err, ErrExecution) }
func IsCorrupt(err error) bool            { return errors.Is(err, ErrCorrupt) }

package command

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vizier-run/vizier/internal/vzerr"
)

// Parameter declares one argument a command accepts.
type Parameter struct {
	Name     string
	Kind     ArgKind
	Required bool
}

// Spec is a package-declared command schema: which parameters it accepts
// and whether re-running it with the same arguments and visible dataset
// map is guaranteed to reproduce the same outputs (a cell that reads
// wall-clock time is not). Registry.Deterministic reports the flag; the
// controller does not consult it: it keeps every module above an edit
// point and re-runs every module from the edit point onward, whatever
// their Deterministic value.
type Spec struct {
	PackageID     string
	CommandID     string
	Parameters    []Parameter
	Deterministic bool
}

func (s Spec) key() string { return s.PackageID + "." + s.CommandID }

// Registry is the package/command schema + handler table. Packages
// register themselves with one Register call per command.
type Registry struct {
	mu       sync.RWMutex
	specs    map[string]Spec
	handlers map[string]Handler
}

// NewRegistry returns an empty command registry.
func NewRegistry() *Registry {
	return &Registry{
		specs:    make(map[string]Spec),
		handlers: make(map[string]Handler),
	}
}

// Register installs a command's schema and handler. Registering the same
// (packageId, commandId) twice is a programming error and panics; command
// registration is a startup concern, not a runtime one.
func (r *Registry) Register(spec Spec, h Handler) {
	if h == nil {
		panic(fmt.Sprintf("command: nil handler for %s.%s", spec.PackageID, spec.CommandID))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := spec.key()
	if _, exists := r.specs[key]; exists {
		panic(fmt.Sprintf("command: %s already registered", key))
	}
	r.specs[key] = spec
	r.handlers[key] = h
}

// CanExecute reports whether the registry has a handler for the command's
// package/command id. It does not validate arguments.
func (r *Registry) CanExecute(c Command) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[c.PackageID+"."+c.CommandID]
	return ok
}

// Deterministic reports whether the command was declared cacheable; unknown
// commands are conservatively non-deterministic.
func (r *Registry) Deterministic(c Command) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[c.PackageID+"."+c.CommandID]
	return ok && spec.Deterministic
}

// Validate rejects unknown package/command ids, unknown argument kinds,
// and missing required parameters before a module is ever created.
func (r *Registry) Validate(c Command) error {
	r.mu.RLock()
	spec, ok := r.specs[c.PackageID+"."+c.CommandID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: unknown command %s.%s", vzerr.ErrValidation, c.PackageID, c.CommandID)
	}

	seen := make(map[string]bool, len(c.Arguments))
	params := make(map[string]Parameter, len(spec.Parameters))
	for _, p := range spec.Parameters {
		params[p.Name] = p
	}
	for _, a := range c.Arguments {
		p, known := params[a.Name]
		if !known {
			return fmt.Errorf("%w: %s.%s: unknown argument %q", vzerr.ErrValidation, c.PackageID, c.CommandID, a.Name)
		}
		if !validKind(a.Kind) {
			return fmt.Errorf("%w: %s.%s: argument %q has unknown kind %q", vzerr.ErrValidation, c.PackageID, c.CommandID, a.Name, a.Kind)
		}
		if a.Kind != p.Kind {
			return fmt.Errorf("%w: %s.%s: argument %q expected kind %q, got %q", vzerr.ErrValidation, c.PackageID, c.CommandID, a.Name, p.Kind, a.Kind)
		}
		seen[a.Name] = true
	}
	var missing []string
	for _, p := range spec.Parameters {
		if p.Required && !seen[p.Name] {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %s.%s: missing required arguments %v", vzerr.ErrValidation, c.PackageID, c.CommandID, missing)
	}
	return nil
}

func validKind(k ArgKind) bool {
	switch k {
	case KindScalar, KindColumnRef, KindRowRef, KindFileRef, KindList, KindRecord:
		return true
	default:
		return false
	}
}

// Execute runs the command's handler against the given visible dataset map.
// Callers must call Validate first; Execute does not re-validate arguments.
func (r *Registry) Execute(ctx context.Context, c Command, view DatasetView) (Output, error) {
	r.mu.RLock()
	h, ok := r.handlers[c.PackageID+"."+c.CommandID]
	r.mu.RUnlock()
	if !ok {
		return Output{}, fmt.Errorf("%w: unknown command %s.%s", vzerr.ErrValidation, c.PackageID, c.CommandID)
	}
	return h(ctx, view, c.Arguments)
}

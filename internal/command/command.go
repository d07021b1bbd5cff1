// Package command implements the typed command/argument model: a closed
// sum type (Argument) plus an explicit registry of per-command schemas and
// handlers. Each command's arguments are validated against its declared
// schema before any module record is created.
package command

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// ArgKind enumerates the argument variants a command parameter may
// declare. The validator rejects any kind not in this set up front.
type ArgKind string

const (
	KindScalar    ArgKind = "scalar"
	KindColumnRef ArgKind = "column_ref"
	KindRowRef    ArgKind = "row_ref"
	KindFileRef   ArgKind = "file_ref"
	KindList      ArgKind = "list"
	KindRecord    ArgKind = "record"
)

// ColumnRef names a column within a dataset visible to the module.
type ColumnRef struct {
	Dataset string `json:"dataset"`
	Column  string `json:"column"`
}

// RowRef names a single cell within a dataset visible to the module: a
// row, optionally narrowed to one column.
type RowRef struct {
	Dataset string `json:"dataset"`
	Row     string `json:"row"`
	Column  string `json:"column,omitempty"`
}

// FileRef names a file reference, either a local path or a remote URL.
type FileRef struct {
	Path string `json:"path,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Argument is a single named command argument. Exactly one of the
// kind-specific fields is populated, selected by Kind.
type Argument struct {
	Name string  `json:"name"`
	Kind ArgKind `json:"kind"`

	Scalar    any        `json:"scalar,omitempty"`
	ColumnRef *ColumnRef `json:"columnRef,omitempty"`
	RowRef    *RowRef    `json:"rowRef,omitempty"`
	FileRef   *FileRef   `json:"fileRef,omitempty"`
	List      []Argument `json:"list,omitempty"`
	Record    []Argument `json:"record,omitempty"`
}

// Command is a typed invocation of a package-defined operation, e.g.
// vizual.load_dataset or pycell.python_cell.
type Command struct {
	PackageID string     `json:"packageId"`
	CommandID string     `json:"commandId"`
	Arguments []Argument `json:"arguments"`
}

// Equal reports whether two commands are identical: same package,
// command, and arguments (order-sensitive, matching how the arguments
// were submitted). The controller does not call it: its reuse policy keeps
// the modules above an edit point by id, without comparing commands.
func (c Command) Equal(other Command) bool {
	if c.PackageID != other.PackageID || c.CommandID != other.CommandID {
		return false
	}
	if len(c.Arguments) != len(other.Arguments) {
		return false
	}
	for i := range c.Arguments {
		if !c.Arguments[i].equal(other.Arguments[i]) {
			return false
		}
	}
	return true
}

func (a Argument) equal(other Argument) bool {
	if a.Name != other.Name || a.Kind != other.Kind {
		return false
	}
	switch a.Kind {
	case KindScalar:
		return fmt.Sprint(a.Scalar) == fmt.Sprint(other.Scalar)
	case KindColumnRef:
		return refEqual(a.ColumnRef, other.ColumnRef)
	case KindRowRef:
		return refEqual(a.RowRef, other.RowRef)
	case KindFileRef:
		return refEqual(a.FileRef, other.FileRef)
	case KindList:
		if len(a.List) != len(other.List) {
			return false
		}
		for i := range a.List {
			if !a.List[i].equal(other.List[i]) {
				return false
			}
		}
		return true
	case KindRecord:
		if len(a.Record) != len(other.Record) {
			return false
		}
		for i := range a.Record {
			if !a.Record[i].equal(other.Record[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func refEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ExternalForm renders a human-readable, stable string representation of
// the command, stored on the module record so history display never needs
// to re-resolve package metadata.
func ExternalForm(c Command) string {
	var sb strings.Builder
	sb.WriteString(c.PackageID)
	sb.WriteByte('.')
	sb.WriteString(c.CommandID)
	sb.WriteByte('(')
	args := make([]Argument, len(c.Arguments))
	copy(args, c.Arguments)
	sort.SliceStable(args, func(i, j int) bool { return args[i].Name < args[j].Name })
	for i, a := range args {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(a.Name)
		sb.WriteByte('=')
		sb.WriteString(renderArgValue(a))
	}
	sb.WriteByte(')')
	return sb.String()
}

func renderArgValue(a Argument) string {
	switch a.Kind {
	case KindScalar:
		return fmt.Sprint(a.Scalar)
	case KindColumnRef:
		if a.ColumnRef == nil {
			return "<nil column ref>"
		}
		return fmt.Sprintf("%s.%s", a.ColumnRef.Dataset, a.ColumnRef.Column)
	case KindRowRef:
		if a.RowRef == nil {
			return "<nil row ref>"
		}
		return fmt.Sprintf("%s[%s]", a.RowRef.Dataset, a.RowRef.Row)
	case KindFileRef:
		if a.FileRef == nil {
			return "<nil file ref>"
		}
		if a.FileRef.URL != "" {
			return a.FileRef.URL
		}
		return a.FileRef.Path
	case KindList:
		parts := make([]string, len(a.List))
		for i, el := range a.List {
			parts[i] = renderArgValue(el)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case KindRecord:
		parts := make([]string, len(a.Record))
		for i, f := range a.Record {
			parts[i] = f.Name + ":" + renderArgValue(f)
		}
		return "{" + strings.Join(parts, ",") + "}"
	default:
		return ""
	}
}

// DatasetView is the visible dataset map a module sees just before it
// executes: name -> dataset id, folded from the provenance of every module
// above it.
type DatasetView map[string]string

// Clone returns an independent copy, so handlers can't mutate the caller's map.
func (v DatasetView) Clone() DatasetView {
	out := make(DatasetView, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// DatasetDescriptor is the content-addressed handle a command hands back
// when it writes a dataset. Annotations carries free-form (column, row)
// metadata alongside the rows/columns; the engine passes it through
// without interpreting it.
type DatasetDescriptor struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Annotations map[string]any `json:"annotations,omitempty"`
}

// Output is what a command handler returns after executing against a
// DatasetView: the stdout/stderr lines, the provenance of datasets it wrote
// or deleted, and any resource usage it wants recorded.
type Output struct {
	Stdout    []string
	Stderr    []string
	Write     map[string]DatasetDescriptor
	Delete    []string
	Resources map[string]any
}

// Handler executes one command against the visible dataset map. ctx
// carries cancellation and deadlines.
type Handler func(ctx context.Context, view DatasetView, args []Argument) (Output, error)

package model

import (
	"testing"
	"time"

	"github.com/vizier-run/vizier/internal/command"
)

func TestBranchHeadConsistent(t *testing.T) {
	cases := []struct {
		name string
		b    Branch
		want bool
	}{
		{"empty both", Branch{}, true},
		{"head matches last", Branch{HeadWorkflowID: "w2", WorkflowHistory: []string{"w1", "w2"}}, true},
		{"head stale", Branch{HeadWorkflowID: "w1", WorkflowHistory: []string{"w1", "w2"}}, false},
		{"head set but history empty", Branch{HeadWorkflowID: "w1"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.b.HeadConsistent(); got != tc.want {
				t.Errorf("HeadConsistent() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestModuleStateTerminal(t *testing.T) {
	terminal := []ModuleState{ModuleCanceled, ModuleError, ModuleSuccess}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	nonTerminal := []ModuleState{ModulePending, ModuleRunning}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestApplyProvenanceFoldsWriteAndDelete(t *testing.T) {
	prev := map[string]string{"a": "id-a", "b": "id-b"}
	prov := Provenance{
		Write: map[string]command.DatasetDescriptor{
			"a": {ID: "id-a2"},
			"c": {ID: "id-c"},
		},
		Delete: []string{"b"},
	}
	next := ApplyProvenance(prev, prov)

	if next["a"] != "id-a2" {
		t.Errorf("expected a to be overwritten, got %q", next["a"])
	}
	if next["c"] != "id-c" {
		t.Errorf("expected c to be added, got %q", next["c"])
	}
	if _, ok := next["b"]; ok {
		t.Error("expected b to be deleted")
	}
	// prev must not be mutated.
	if prev["a"] != "id-a" {
		t.Error("ApplyProvenance mutated its input map")
	}
}

func TestNewPendingModuleRendersExternalForm(t *testing.T) {
	cmd := command.Command{
		PackageID: "vizual", CommandID: "load_dataset",
		Arguments: []command.Argument{{Name: "name", Kind: command.KindScalar, Scalar: "ds"}},
	}
	m := NewPendingModule("m1", cmd, time.Now())
	if m.State != ModulePending {
		t.Errorf("expected PENDING, got %s", m.State)
	}
	if m.ExternalForm == "" {
		t.Error("expected external form to be rendered")
	}
}

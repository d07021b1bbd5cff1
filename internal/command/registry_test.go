package command

import (
	"context"
	"errors"
	"testing"

	"github.com/vizier-run/vizier/internal/vzerr"
)

func newTestRegistry() *Registry {
	reg := NewRegistry()
	reg.Register(Spec{
		PackageID: "vizual", CommandID: "noop", Deterministic: true,
		Parameters: []Parameter{
			{Name: "name", Kind: KindScalar, Required: true},
			{Name: "tag", Kind: KindScalar, Required: false},
		},
	}, func(_ context.Context, _ DatasetView, args []Argument) (Output, error) {
		return Output{Stdout: []string{"ok"}}, nil
	})
	return reg
}

func TestValidateUnknownCommand(t *testing.T) {
	reg := newTestRegistry()
	err := reg.Validate(Command{PackageID: "vizual", CommandID: "missing"})
	if !errors.Is(err, vzerr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidateUnknownArgument(t *testing.T) {
	reg := newTestRegistry()
	err := reg.Validate(Command{
		PackageID: "vizual", CommandID: "noop",
		Arguments: []Argument{
			{Name: "name", Kind: KindScalar, Scalar: "x"},
			{Name: "bogus", Kind: KindScalar, Scalar: "y"},
		},
	})
	if !errors.Is(err, vzerr.ErrValidation) {
		t.Fatalf("expected validation error for unknown argument, got %v", err)
	}
}

func TestValidateMissingRequired(t *testing.T) {
	reg := newTestRegistry()
	err := reg.Validate(Command{PackageID: "vizual", CommandID: "noop"})
	if !errors.Is(err, vzerr.ErrValidation) {
		t.Fatalf("expected validation error for missing required argument, got %v", err)
	}
}

func TestValidateWrongKind(t *testing.T) {
	reg := newTestRegistry()
	err := reg.Validate(Command{
		PackageID: "vizual", CommandID: "noop",
		Arguments: []Argument{
			{Name: "name", Kind: KindColumnRef, ColumnRef: &ColumnRef{Dataset: "d", Column: "c"}},
		},
	})
	if !errors.Is(err, vzerr.ErrValidation) {
		t.Fatalf("expected validation error for wrong kind, got %v", err)
	}
}

func TestValidateOK(t *testing.T) {
	reg := newTestRegistry()
	err := reg.Validate(Command{
		PackageID: "vizual", CommandID: "noop",
		Arguments: []Argument{{Name: "name", Kind: KindScalar, Scalar: "x"}},
	})
	if err != nil {
		t.Fatalf("expected valid command to pass, got %v", err)
	}
}

func TestExecuteRunsRegisteredHandler(t *testing.T) {
	reg := newTestRegistry()
	out, err := reg.Execute(context.Background(), Command{PackageID: "vizual", CommandID: "noop"}, DatasetView{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Stdout) != 1 || out.Stdout[0] != "ok" {
		t.Fatalf("unexpected output: %+v", out)
	}
}

func TestCanExecuteAndDeterministic(t *testing.T) {
	reg := newTestRegistry()
	cmd := Command{PackageID: "vizual", CommandID: "noop"}
	if !reg.CanExecute(cmd) {
		t.Fatal("expected registered command to be executable")
	}
	if !reg.Deterministic(cmd) {
		t.Fatal("expected registered command to be deterministic")
	}
	unknown := Command{PackageID: "vizual", CommandID: "missing"}
	if reg.CanExecute(unknown) {
		t.Fatal("expected unknown command to not be executable")
	}
	if reg.Deterministic(unknown) {
		t.Fatal("expected unknown command to be conservatively non-deterministic")
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	reg := newTestRegistry()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	reg.Register(Spec{PackageID: "vizual", CommandID: "noop"}, func(context.Context, DatasetView, []Argument) (Output, error) {
		return Output{}, nil
	})
}

package backend

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vizier-run/vizier/internal/command"
)

func newTestRegistry() *command.Registry {
	reg := command.NewRegistry()
	reg.Register(command.Spec{
		PackageID:     "vizual",
		CommandID:     "noop",
		Deterministic: true,
	}, func(ctx context.Context, view command.DatasetView, args []command.Argument) (command.Output, error) {
		return command.Output{Stdout: []string{"ok"}}, nil
	})
	reg.Register(command.Spec{
		PackageID: "vizual",
		CommandID: "boom",
	}, func(ctx context.Context, view command.DatasetView, args []command.Argument) (command.Output, error) {
		return command.Output{}, fmt.Errorf("boom")
	})
	return reg
}

func TestSyncSubmitReportsSuccess(t *testing.T) {
	s := NewSync(newTestRegistry())
	cmd := command.Command{PackageID: "vizual", CommandID: "noop"}

	var mu sync.Mutex
	var got TaskUpdate
	done := make(chan struct{})
	err := s.Submit(context.Background(), "t1", cmd, command.DatasetView{}, func(u TaskUpdate) {
		mu.Lock()
		got = u
		mu.Unlock()
		close(done)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notify")
	}
	if !got.Success || !got.Done {
		t.Errorf("expected success+done, got %+v", got)
	}
}

func TestSyncSubmitReportsFailure(t *testing.T) {
	s := NewSync(newTestRegistry())
	cmd := command.Command{PackageID: "vizual", CommandID: "boom"}

	done := make(chan TaskUpdate, 1)
	err := s.Submit(context.Background(), "t1", cmd, command.DatasetView{}, func(u TaskUpdate) {
		done <- u
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case u := <-done:
		if u.Success || !u.Done {
			t.Errorf("expected failure+done, got %+v", u)
		}
		if u.ErrorDetail == "" {
			t.Error("expected error detail to be set")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notify")
	}
}

func TestSyncCanExecuteDelegatesToRegistry(t *testing.T) {
	s := NewSync(newTestRegistry())
	if !s.CanExecute(command.Command{PackageID: "vizual", CommandID: "noop"}) {
		t.Error("expected registered command to be executable")
	}
	if s.CanExecute(command.Command{PackageID: "vizual", CommandID: "unknown"}) {
		t.Error("expected unregistered command to not be executable")
	}
}

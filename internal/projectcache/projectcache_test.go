package projectcache

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/vizier-run/vizier/internal/model"
	"github.com/vizier-run/vizier/internal/vzerr"
)

type fakeStore struct {
	mu        sync.Mutex
	viztrails map[string]*model.Viztrail
	getCalls  int
	getErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{viztrails: make(map[string]*model.Viztrail)}
}

func (f *fakeStore) CreateViztrail(ctx context.Context, properties model.Properties) (*model.Viztrail, error) {
	vt := &model.Viztrail{ID: fmt.Sprintf("vt%d", len(f.viztrails)+1), Properties: properties}
	f.mu.Lock()
	f.viztrails[vt.ID] = vt
	f.mu.Unlock()
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
	f.getCalls++
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	vt, ok := f.viztrails[id]
	if !ok {
		return nil, fmt.Errorf("%w: viztrail %s", vzerr.ErrNotFound, id)
	}
	return vt, nil
}

func TestGetProjectCachesAfterFirstLoad(t *testing.T) {
	store := newFakeStore()
	store.viztrails["vt1"] = &model.Viztrail{ID: "vt1"}
	cache := NewCommon(store)

	for i := 0; i < 3; i++ {
		if _, err := cache.GetProject(context.Background(), "vt1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if store.getCalls != 1 {
		t.Errorf("expected exactly 1 store read, got %d", store.getCalls)
	}
}

func TestGetProjectConcurrentMissDeduplicated(t *testing.T) {
	store := newFakeStore()
	store.viztrails["vt1"] = &model.Viztrail{ID: "vt1"}
	cache := NewCommon(store)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cache.GetProject(context.Background(), "vt1")
		}()
	}
	wg.Wait()
	if store.getCalls != 1 {
		t.Errorf("expected singleflight to collapse concurrent misses to 1 read, got %d", store.getCalls)
	}
}

func TestGetProjectNotFound(t *testing.T) {
	store := newFakeStore()
	cache := NewCommon(store)
	_, err := cache.GetProject(context.Background(), "missing")
	if !vzerr.IsNotFound(err) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestInvalidateForcesReread(t *testing.T) {
	store := newFakeStore()
	store.viztrails["vt1"] = &model.Viztrail{ID: "vt1"}
	cache := NewCommon(store)

	if _, err := cache.GetProject(context.Background(), "vt1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cache.Invalidate("vt1")
	if _, err := cache.GetProject(context.Background(), "vt1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.getCalls != 2 {
		t.Errorf("expected 2 store reads after invalidate, got %d", store.getCalls)
	}
}

func TestDeleteProjectInvalidatesCache(t *testing.T) {
	store := newFakeStore()
	store.viztrails["vt1"] = &model.Viztrail{ID: "vt1"}
	cache := NewCommon(store)
	if _, err := cache.GetProject(context.Background(), "vt1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ok, err := cache.DeleteProject(context.Background(), "vt1")
	if err != nil || !ok {
		t.Fatalf("expected successful delete, got ok=%v err=%v", ok, err)
	}
	if _, err := cache.GetProject(context.Background(), "vt1"); !vzerr.IsNotFound(err) {
		t.Errorf("expected not-found after delete, got %v", err)
	}
}

// Package projectcache implements the project cache: the in-memory handle
// layer sitting between the API surface and the viztrail store. It lazily
// materializes a project's runtime state from the durable store on first
// access and shares that state across concurrent callers; singleflight
// collapses concurrent loads of the same uncached project into one store
// read.
package projectcache

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/vizier-run/vizier/internal/model"
	"github.com/vizier-run/vizier/internal/viztrail"
	"github.com/vizier-run/vizier/internal/vzerr"
)

// Project is the cached runtime handle for one viztrail: its durable record
// plus the set of branch ids known at last refresh.
type Project struct {
	Viztrail *model.Viztrail
	// Container is non-nil when this project is backed by a remote worker;
	// the Common cache never sets it.
	Container *ContainerEndpoint
}

// ContainerEndpoint is the (url, port, container_id) triple the Container
// cache reads from its manifest file for a project backed by a remote
// worker.
type ContainerEndpoint struct {
	URL         string
	Port        int
	ContainerID string
}

// Cache is the project cache's capability interface.
type Cache interface {
	GetProject(ctx context.Context, id string) (*Project, error)
	ListProjects(ctx context.Context) ([]*Project, error)
	CreateProject(ctx context.Context, properties model.Properties) (*Project, error)
	DeleteProject(ctx context.Context, id string) (bool, error)
	// Invalidate drops a cached entry, forcing the next GetProject to
	// re-read the store. Callers invoke it after mutating a project's
	// branches outside the cache so readers never see stale branch state.
	Invalidate(id string)
}

// Common is the default, in-process Cache implementation: a single
// process, one cache, backed by one store.
type Common struct {
	store Store

	mu      sync.RWMutex
	entries map[string]*Project

	group singleflight.Group
}

// Store is the subset of viztrail.Store the cache needs, kept narrow so
// Common can be tested without a full Postgres double.
type Store interface {
	CreateViztrail(ctx context.Context, properties model.Properties) (*model.Viztrail, error)
	DeleteViztrail(ctx context.Context, id string) (bool, error)
	ListViztrails(ctx context.Context) ([]*model.Viztrail, error)
	GetViztrail(ctx context.Context, id string) (*model.Viztrail, error)
}

var _ Store = (viztrail.Store)(nil)

// NewCommon returns a Cache backed by store.
func NewCommon(store Store) *Common {
	return &Common{
		store:   store,
		entries: make(map[string]*Project),
	}
}

func (c *Common) GetProject(ctx context.Context, id string) (*Project, error) {
	c.mu.RLock()
	if p, ok := c.entries[id]; ok {
		c.mu.RUnlock()
		return p, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do(id, func() (any, error) {
		// A flight that finished between the miss above and this call has
		// already cached the project; don't read the store again.
		c.mu.RLock()
		if p, ok := c.entries[id]; ok {
			c.mu.RUnlock()
			return p, nil
		}
		c.mu.RUnlock()
		vt, err := c.store.GetViztrail(ctx, id)
		if err != nil {
			return nil, err
		}
		p := &Project{Viztrail: vt}
		c.mu.Lock()
		c.entries[id] = p
		c.mu.Unlock()
		return p, nil
	})
	if err != nil {
		if vzerr.IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: loading project %s: %v", vzerr.ErrBackendUnavailable, id, err)
	}
	return v.(*Project), nil
}

func (c *Common) ListProjects(ctx context.Context) ([]*Project, error) {
	vts, err := c.store.ListViztrails(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: listing projects: %v", vzerr.ErrBackendUnavailable, err)
	}
	out := make([]*Project, len(vts))
	c.mu.Lock()
	for i, vt := range vts {
		p, ok := c.entries[vt.ID]
		if !ok || p.Viztrail.DefaultBranch != vt.DefaultBranch {
			p = &Project{Viztrail: vt}
			c.entries[vt.ID] = p
		}
		out[i] = p
	}
	c.mu.Unlock()
	return out, nil
}

func (c *Common) CreateProject(ctx context.Context, properties model.Properties) (*Project, error) {
	vt, err := c.store.CreateViztrail(ctx, properties)
	if err != nil {
		return nil, fmt.Errorf("viztrail: create project: %w", err)
	}
	p := &Project{Viztrail: vt}
	c.mu.Lock()
	c.entries[vt.ID] = p
	c.mu.Unlock()
	return p, nil
}

func (c *Common) DeleteProject(ctx context.Context, id string) (bool, error) {
	ok, err := c.store.DeleteViztrail(ctx, id)
	if err != nil {
		return false, fmt.Errorf("viztrail: delete project: %w", err)
	}
	c.Invalidate(id)
	return ok, nil
}

func (c *Common) Invalidate(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

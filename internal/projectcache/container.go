package projectcache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/vizier-run/vizier/internal/model"
	"github.com/vizier-run/vizier/internal/vzerr"
)

// ManifestEntry is one row of the container-backend manifest file, a JSON
// array of {projectId, url, port, containerId} objects.
type ManifestEntry struct {
	ProjectID   string `json:"projectId"`
	URL         string `json:"url"`
	Port        int    `json:"port"`
	ContainerID string `json:"containerId"`
}

// Container is the manifest-backed Cache implementation: each project is
// served by a remote worker whose (url, port, container_id) comes from a
// persisted index file, not from anything the cache starts itself. It
// wraps a Common cache for the underlying viztrail record and layers the
// manifest's container endpoint on top, re-reading the manifest whenever
// its mtime changes.
type Container struct {
	inner *Common
	path  string

	mu       sync.Mutex
	lastStat time.Time
	manifest map[string]ManifestEntry // projectId -> entry
}

// NewContainer returns a Cache backed by store for viztrail records and by
// the JSON manifest at manifestPath for container endpoints.
func NewContainer(store Store, manifestPath string) *Container {
	return &Container{
		inner: NewCommon(store),
		path:  manifestPath,
	}
}

// reconcile re-reads the manifest file if its modification time has moved
// since the last read, and invalidates any cached project whose endpoint
// changed so the next GetProject picks up the new (url, port, containerId).
func (c *Container) reconcile() error {
	info, err := os.Stat(c.path)
	if err != nil {
		return fmt.Errorf("%w: reading container manifest %s: %v", vzerr.ErrCorrupt, c.path, err)
	}

	c.mu.Lock()
	unchanged := c.manifest != nil && !info.ModTime().After(c.lastStat)
	c.mu.Unlock()
	if unchanged {
		return nil
	}

	raw, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("%w: reading container manifest %s: %v", vzerr.ErrCorrupt, c.path, err)
	}
	var entries []ManifestEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("%w: parsing container manifest %s: %v", vzerr.ErrCorrupt, c.path, err)
	}

	next := make(map[string]ManifestEntry, len(entries))
	for _, e := range entries {
		next[e.ProjectID] = e
	}

	c.mu.Lock()
	changed := make([]string, 0)
	for id, e := range next {
		if old, ok := c.manifest[id]; !ok || old != e {
			changed = append(changed, id)
		}
	}
	for id := range c.manifest {
		if _, ok := next[id]; !ok {
			changed = append(changed, id)
		}
	}
	c.manifest = next
	c.lastStat = info.ModTime()
	c.mu.Unlock()

	for _, id := range changed {
		c.inner.Invalidate(id)
	}
	return nil
}

func (c *Container) endpointFor(id string) (*ContainerEndpoint, error) {
	c.mu.Lock()
	e, ok := c.manifest[id]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: project %s has no container manifest entry", vzerr.ErrBackendUnavailable, id)
	}
	return &ContainerEndpoint{URL: e.URL, Port: e.Port, ContainerID: e.ContainerID}, nil
}

func (c *Container) GetProject(ctx context.Context, id string) (*Project, error) {
	if err := c.reconcile(); err != nil {
		return nil, err
	}
	p, err := c.inner.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	endpoint, err := c.endpointFor(id)
	if err != nil {
		return nil, err
	}
	out := &Project{Viztrail: p.Viztrail, Container: endpoint}
	return out, nil
}

func (c *Container) ListProjects(ctx context.Context) ([]*Project, error) {
	if err := c.reconcile(); err != nil {
		return nil, err
	}
	projects, err := c.inner.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Project, len(projects))
	for i, p := range projects {
		endpoint, err := c.endpointFor(p.Viztrail.ID)
		if err != nil {
			// A project with no manifest entry is surfaced in place rather
			// than silently dropped from the list; the container endpoint
			// stays nil and callers see the error only when they use it.
			out[i] = &Project{Viztrail: p.Viztrail}
			continue
		}
		out[i] = &Project{Viztrail: p.Viztrail, Container: endpoint}
	}
	return out, nil
}

func (c *Container) CreateProject(ctx context.Context, properties model.Properties) (*Project, error) {
	// Creating a project record is a store concern; provisioning the
	// backing container and appending it to the manifest is an operator
	// action outside this cache's contract.
	return c.inner.CreateProject(ctx, properties)
}

func (c *Container) DeleteProject(ctx context.Context, id string) (bool, error) {
	return c.inner.DeleteProject(ctx, id)
}

func (c *Container) Invalidate(id string) {
	c.inner.Invalidate(id)
}

var _ Cache = (*Container)(nil)

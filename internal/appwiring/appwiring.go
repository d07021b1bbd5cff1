// Package appwiring builds the Vizier supervisor (viztrail store, project
// cache, command registry, backend, and execution controller) from
// configuration, so cmd/vizierd and cmd/vizier construct an identical
// stack instead of duplicating the wiring.
package appwiring

import (
	"context"
	"fmt"
	"time"

	"github.com/vizier-run/vizier/internal/backend"
	"github.com/vizier-run/vizier/internal/command"
	"github.com/vizier-run/vizier/internal/command/packages/pycell"
	"github.com/vizier-run/vizier/internal/command/packages/vizual"
	"github.com/vizier-run/vizier/internal/config"
	"github.com/vizier-run/vizier/internal/controller"
	"github.com/vizier-run/vizier/internal/datastore"
	"github.com/vizier-run/vizier/internal/projectcache"
	"github.com/vizier-run/vizier/internal/viztrail"
	"github.com/vizier-run/vizier/pkg/db"

	"github.com/jackc/pgx/v5/pgxpool"
)

// App is the fully wired supervisor: everything a request handler or CLI
// command needs, owned by one value created at startup and closed at
// shutdown.
type App struct {
	Store      viztrail.Store
	Cache      projectcache.Cache
	Registry   *command.Registry
	Backend    controller.Backend
	Controller *controller.Controller

	pool *pgxpool.Pool
}

// Build connects to the database and constructs the supervisor described by
// cfg. Callers must call Close when done.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("appwiring: DATABASE_URL is not set")
	}
	pool, err := db.Connect(ctx, db.DefaultConfig(cfg.DatabaseURL))
	if err != nil {
		return nil, fmt.Errorf("appwiring: connect to database: %w", err)
	}

	store, err := viztrail.NewPostgres(pool)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("appwiring: create viztrail store: %w", err)
	}

	reg := command.NewRegistry()
	vizual.Register(reg, datastore.NewMemory())
	pycell.Register(reg, pycell.StubRunner{})

	be := newBackend(cfg, reg)
	ctrl := controller.New(ctx, store, be, reg)

	return &App{
		Store:      store,
		Cache:      newProjectCache(store, cfg),
		Registry:   reg,
		Backend:    be,
		Controller: ctrl,
		pool:       pool,
	}, nil
}

// Close cancels every in-flight task, waits for the controller's actors
// to quiesce, and releases the database pool.
func (a *App) Close() error {
	err := a.Controller.Close()
	a.pool.Close()
	return err
}

func newProjectCache(store viztrail.Store, cfg *config.Config) projectcache.Cache {
	if cfg.Backend.ManifestPath != "" {
		return projectcache.NewContainer(store, cfg.Backend.ManifestPath)
	}
	return projectcache.NewCommon(store)
}

// newBackend builds the controller's backend from configuration: "sync"
// runs every command in-process, "remote" sends the commands named in the
// routing table to one container (other commands are not accepted),
// "dispatcher" routes commands to named queues with in-process execution
// on the default queue and a remote worker per routed queue.
func newBackend(cfg *config.Config, reg *command.Registry) controller.Backend {
	syncBackend := backend.NewSync(reg)
	syncBackend.Timeout = time.Duration(cfg.Backend.TimeoutSeconds) * time.Second
	switch cfg.Backend.Mode {
	case "remote":
		return backend.NewRemote(cfg.Backend.BaseURL, routeNames(cfg), nil)
	case "dispatcher":
		queues := map[string]backend.Backend{
			cfg.Backend.DefaultQueue: syncBackend,
		}
		for queue, commands := range commandsByQueue(cfg) {
			if queue == cfg.Backend.DefaultQueue {
				continue
			}
			queues[queue] = backend.NewRemote(cfg.Backend.BaseURL+"/queues/"+queue, commands, nil)
		}
		return backend.NewRouter(cfg.Backend.Routes, cfg.Backend.DefaultQueue, queues)
	default:
		return syncBackend
	}
}

func routeNames(cfg *config.Config) []string {
	routes := make([]string, 0, len(cfg.Backend.Routes))
	for k := range cfg.Backend.Routes {
		routes = append(routes, k)
	}
	return routes
}

// commandsByQueue inverts the routing table: queue name -> the commands
// routed to it, which is what each queue's Remote declares it accepts.
func commandsByQueue(cfg *config.Config) map[string][]string {
	out := make(map[string][]string)
	for cmd, queue := range cfg.Backend.Routes {
		out[queue] = append(out[queue], cmd)
	}
	return out
}

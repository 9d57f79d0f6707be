package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"civicflow/internal/broadcast"
	"civicflow/internal/config"
	"civicflow/internal/db"
	"civicflow/internal/migrate"
	"civicflow/internal/repo"
)

// Workspace is an opened workspace directory: config, database and a loaded
// core.
type Workspace struct {
	Dir    string
	Config *config.Config
	DB     *sql.DB
	Repo   repo.Repo
	Core   *Core
}

// OpenWorkspace loads civicflow.yml (defaults when absent), opens and migrates
// the database and restores the persisted state into a new core.
func OpenWorkspace(ctx context.Context, dir string, logger *log.Logger) (*Workspace, error) {
	cfg, err := config.LoadOptional(dir)
	if err != nil {
		return nil, err
	}
	return OpenWorkspaceWithConfig(ctx, dir, cfg, logger)
}

func OpenWorkspaceWithConfig(ctx context.Context, dir string, cfg *config.Config, logger *log.Logger) (*Workspace, error) {
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	r := repo.Repo{DB: conn}
	core := New(Options{Config: cfg, State: r, Logger: logger})
	if err := core.Load(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return &Workspace{Dir: dir, Config: cfg, DB: conn, Repo: r, Core: core}, nil
}

func (w *Workspace) Close() error {
	return w.DB.Close()
}

// StartSync attaches the core to the configured transport. It returns a nil
// stop func when sync is off or the transport only reaches this process.
func (w *Workspace) StartSync(ctx context.Context, hub *broadcast.Hub) (func(), error) {
	var t broadcast.Transport
	switch w.Config.Sync.Transport {
	case config.TransportRedis:
		r, err := broadcast.DialRedis(ctx, broadcast.RedisOptions{
			Addr:     w.Config.Sync.Redis.Addr,
			Password: w.Config.Sync.Redis.Password,
			DB:       w.Config.Sync.Redis.DB,
			Channel:  w.Config.Sync.Channel,
		})
		if err != nil {
			return nil, err
		}
		t = r
	case config.TransportMemory:
		if hub == nil {
			return nil, nil
		}
		t = hub.Channel()
	default:
		return nil, nil
	}
	stop, err := w.Core.AttachSync(ctx, broadcast.New(t))
	if err != nil {
		t.Close()
		return nil, err
	}
	return func() {
		stop()
		t.Close()
	}, nil
}

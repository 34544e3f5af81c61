// Package app wires the stores, services and background jobs of a wellpass
// process from its configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/DukeRupert/wellpass/internal"
	"github.com/DukeRupert/wellpass/internal/cache"
	"github.com/DukeRupert/wellpass/internal/connectivity"
	"github.com/DukeRupert/wellpass/internal/docstore"
	"github.com/DukeRupert/wellpass/internal/history"
	"github.com/DukeRupert/wellpass/internal/metrics"
	"github.com/DukeRupert/wellpass/internal/outbox"
	"github.com/DukeRupert/wellpass/internal/service"
	"github.com/DukeRupert/wellpass/internal/storage"
)

// App holds the long-lived components of a process.
type App struct {
	Config *internal.Config
	Logger *slog.Logger

	DB      *sql.DB // nil for the memory store
	Store   docstore.Store
	Cache   cache.Cache
	Queue   *outbox.Queue
	History *history.Store
	Roster  *service.Roster
	Monitor *connectivity.Monitor
	Archive *storage.Archive

	Forms     service.FormService
	Clients   service.ClientService
	Retention service.RetentionService

	schemaReady atomic.Bool
}

// New builds every component. Nothing here requires the persistent store
// to be reachable; the monitor starts offline and the first successful
// probe brings the process online.
func New(ctx context.Context, cfg *internal.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	if err := a.openStore(); err != nil {
		return nil, err
	}

	c, err := cache.New(ctx, cache.Config{
		Provider: cfg.CacheProvider,
		Path:     cfg.CachePath,
		RedisURL: cfg.RedisURL,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("cache initialization failed: %w", err)
	}
	a.Cache = c

	archive, err := newArchive(cfg, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("storage initialization failed: %w", err)
	}
	a.Archive = archive

	a.Queue = outbox.New(c, logger)
	a.History = history.Load(ctx, c, logger, history.WithObserver(func(t history.Transition) {
		metrics.HistoryTransitions.WithLabelValues(string(t)).Inc()
	}))
	a.Roster = service.NewRoster()
	a.Monitor = connectivity.NewMonitor(a.Store, logger, connectivity.WithForceOffline(cfg.ForceOffline))

	a.Forms = service.NewFormService(a.History, logger)
	a.Clients = service.NewClientService(service.ClientServiceDeps{
		Store:          a.Store,
		Queue:          a.Queue,
		History:        a.History,
		Roster:         a.Roster,
		Signal:         a.Monitor,
		Archive:        a.Archive,
		DefaultCoachID: cfg.DefaultCoachID,
	}, logger)
	a.Retention = service.NewRetentionService(a.Store, a.Archive, a.Roster, cfg.RetentionDays, logger)

	return a, nil
}

func (a *App) openStore() error {
	switch a.Config.StoreProvider {
	case internal.StoreProviderMemory:
		a.Logger.Warn("Using the in-memory document store, nothing survives a restart")
		a.Store = docstore.NewMemory()
		a.schemaReady.Store(true)
		return nil
	default:
		// sql.Open does not connect, so an unreachable database is not an
		// error here.
		db, err := sql.Open("pgx", a.Config.DatabaseUrl)
		if err != nil {
			return fmt.Errorf("database initialization failed: %w", err)
		}
		a.DB = db
		a.Store = docstore.NewPostgres(db)
		return nil
	}
}

func newArchive(cfg *internal.Config, logger *slog.Logger) (*storage.Archive, error) {
	var (
		s   storage.Storage
		err error
	)
	switch cfg.StorageProvider {
	case storage.ProviderR2:
		s, err = storage.NewR2Storage(storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			Endpoint:        cfg.R2Endpoint,
		}, logger)
	default:
		s, err = storage.NewLocalStorage(storage.LocalConfig{BasePath: cfg.LocalStoragePath}, logger)
	}
	if err != nil {
		return nil, err
	}
	return storage.NewArchive(s), nil
}

// EnsureSchema applies pending migrations once per process. It is a no-op
// for the memory store and after the first success.
func (a *App) EnsureSchema(ctx context.Context) error {
	if a.DB == nil || a.schemaReady.Load() {
		return nil
	}
	if err := internal.RunMigrations(ctx, a.DB); err != nil {
		return err
	}
	a.schemaReady.Store(true)
	a.Logger.Info("Database ready")
	return nil
}

// Close releases the cache and the database handle.
func (a *App) Close() error {
	var errs []error
	if a.Cache != nil {
		errs = append(errs, a.Cache.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}

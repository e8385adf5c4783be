package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"yieldsplit/internal/config"
	"yieldsplit/internal/engine"
	"yieldsplit/internal/storage"
	"yieldsplit/internal/storage/postgres"
	"yieldsplit/internal/storage/redis"
)

// openStateStore returns the snapshot store chosen by cfg. The returned close function is
// never nil. A "none" backend yields a nil store.
func openStateStore(ctx context.Context, cfg config.StateConfig, pg *postgres.Store) (storage.StateStore, func(), error) {
	noop := func() {}
	switch cfg.Backend {
	case "", "file":
		if cfg.File == "" {
			return nil, noop, fmt.Errorf("state file is required")
		}
		return &storage.FileStateStore{Path: cfg.File}, noop, nil
	case "postgres", "pg":
		if pg == nil {
			return nil, noop, fmt.Errorf("pg dsn is required for the postgres state backend")
		}
		return &storage.DBStateStore{Store: pg, Name: cfg.Name}, noop, nil
	case "redis":
		store, err := redis.New(ctx, redis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Key:      cfg.RedisKey,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("connect redis: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	case "none":
		return nil, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown state backend: %s", cfg.Backend)
	}
}

// loadEngine builds an engine and restores the stored snapshot when there is one.
func loadEngine(ctx context.Context, params engine.Params, store storage.StateStore, logger *zap.Logger) (*engine.Engine, bool, error) {
	e := engine.New(params, logger)
	if store == nil {
		return e, false, nil
	}
	data, ok, err := store.Load(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("load snapshot: %w", err)
	}
	if !ok {
		return e, false, nil
	}
	if err := e.Restore(data); err != nil {
		return nil, false, fmt.Errorf("restore snapshot: %w", err)
	}
	logger.Info("snapshot restored",
		zap.Uint64("applied", e.Applied()),
		zap.Uint64("last_time", e.LastTime()),
	)
	return e, true, nil
}

func saveEngine(ctx context.Context, e *engine.Engine, store storage.StateStore) error {
	if store == nil {
		return nil
	}
	data, err := e.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if err := store.Save(ctx, data); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func openPostgres(ctx context.Context, dsn string) (*postgres.Store, error) {
	if dsn == "" {
		return nil, nil
	}
	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

package storage

import (
	"context"

	"yieldsplit/internal/storage/postgres"
)

// DBStateStore stores the snapshot in the engine_snapshots table.
type DBStateStore struct {
	Store *postgres.Store
	Name  string
}

func (s *DBStateStore) Load(ctx context.Context) ([]byte, bool, error) {
	if s == nil || s.Store == nil {
		return nil, false, nil
	}
	return s.Store.LoadSnapshot(ctx, s.Name)
}

func (s *DBStateStore) Save(ctx context.Context, snapshot []byte) error {
	if s == nil || s.Store == nil {
		return nil
	}
	return s.Store.SaveSnapshot(ctx, s.Name, snapshot)
}

package storage

import (
	"context"

	"yieldsplit/internal/model"
)

// ResultSink receives the results of applied operations.
type ResultSink interface {
	PutResults(ctx context.Context, results []model.Result) error
}

// StateStore persists engine snapshots.
type StateStore interface {
	Load(ctx context.Context) ([]byte, bool, error)
	Save(ctx context.Context, snapshot []byte) error
}

// OperationSink receives operations produced outside the engine, such as sampled rates.
type OperationSink interface {
	PutOperations(ctx context.Context, ops []model.Operation) error
}

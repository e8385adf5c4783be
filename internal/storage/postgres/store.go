package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"yieldsplit/internal/model"
)

// Store provides Postgres persistence for snapshots, the operation journal and reports.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS engine_snapshots (
	name        TEXT PRIMARY KEY,
	snapshot    JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS operation_results (
	id          TEXT PRIMARY KEY,
	op          TEXT NOT NULL,
	op_time     BIGINT NOT NULL,
	ok          BOOLEAN NOT NULL,
	error_kind  TEXT,
	error       TEXT,
	outputs     JSONB,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS series_metrics (
	series       TEXT PRIMARY KEY,
	asset        TEXT NOT NULL,
	expiry       TIMESTAMPTZ NOT NULL,
	status       TEXT NOT NULL,
	guard        TEXT,
	base_rate    NUMERIC NOT NULL,
	last_rate    NUMERIC NOT NULL,
	index_value  NUMERIC NOT NULL,
	yield_supply NUMERIC NOT NULL,
	units        NUMERIC NOT NULL,
	fee_units    NUMERIC NOT NULL,
	implied_apr  NUMERIC,
	as_of        TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS pool_metrics (
	pool          TEXT PRIMARY KEY,
	series        TEXT NOT NULL,
	base          TEXT NOT NULL,
	address       TEXT NOT NULL,
	guard         TEXT,
	reserve_yield NUMERIC NOT NULL,
	reserve_base  NUMERIC NOT NULL,
	share_supply  NUMERIC NOT NULL,
	weight_yield  NUMERIC NOT NULL,
	weight_base   NUMERIC NOT NULL,
	spot_price    NUMERIC,
	implied_apr   NUMERIC,
	as_of         TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS sync_state (
	name                 TEXT PRIMARY KEY,
	last_processed_block BIGINT NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL
);
`

// EnsureSchema creates the tables used by the store when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// PutResults journals operation results. Results already stored are left as they are.
func (s *Store) PutResults(ctx context.Context, results []model.Result) error {
	if len(results) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range results {
		var outputs *string
		if len(r.Outputs) > 0 {
			data, err := json.Marshal(r.Outputs)
			if err != nil {
				return fmt.Errorf("marshal outputs %s: %w", r.ID, err)
			}
			v := string(data)
			outputs = &v
		}
		batch.Queue(`
			INSERT INTO operation_results (
				id, op, op_time, ok, error_kind, error, outputs, created_at
			) VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7::jsonb, now())
			ON CONFLICT (id) DO NOTHING
		`,
			r.ID,
			r.Op,
			int64(r.Time),
			r.OK,
			r.ErrorKind,
			r.Error,
			outputs,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range results {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// UpsertSeries inserts or updates series report rows.
func (s *Store) UpsertSeries(ctx context.Context, rows []model.SeriesMetrics) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range rows {
		batch.Queue(`
			INSERT INTO series_metrics (
				series, asset, expiry, status, guard, base_rate, last_rate, index_value,
				yield_supply, units, fee_units, implied_apr, as_of, updated_at
			) VALUES ($1,$2,$3,$4,NULLIF($5, ''),$6,$7,$8,$9,$10,$11,$12,$13,now())
			ON CONFLICT (series)
			DO UPDATE SET
				status = EXCLUDED.status,
				guard = EXCLUDED.guard,
				last_rate = EXCLUDED.last_rate,
				index_value = EXCLUDED.index_value,
				yield_supply = EXCLUDED.yield_supply,
				units = EXCLUDED.units,
				fee_units = EXCLUDED.fee_units,
				implied_apr = EXCLUDED.implied_apr,
				as_of = EXCLUDED.as_of,
				updated_at = now()
		`,
			m.Series,
			m.Asset,
			m.Expiry,
			m.Status,
			m.Guard,
			m.BaseRate,
			m.LastRate,
			m.Index,
			m.YieldSupply,
			m.Units,
			m.FeeUnits,
			m.ImpliedAPR,
			m.AsOf,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range rows {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// UpsertPools inserts or updates pool report rows.
func (s *Store) UpsertPools(ctx context.Context, rows []model.PoolMetrics) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range rows {
		batch.Queue(`
			INSERT INTO pool_metrics (
				pool, series, base, address, guard, reserve_yield, reserve_base, share_supply,
				weight_yield, weight_base, spot_price, implied_apr, as_of, updated_at
			) VALUES ($1,$2,$3,$4,NULLIF($5, ''),$6,$7,$8,$9,$10,$11,$12,$13,now())
			ON CONFLICT (pool)
			DO UPDATE SET
				guard = EXCLUDED.guard,
				reserve_yield = EXCLUDED.reserve_yield,
				reserve_base = EXCLUDED.reserve_base,
				share_supply = EXCLUDED.share_supply,
				weight_yield = EXCLUDED.weight_yield,
				weight_base = EXCLUDED.weight_base,
				spot_price = EXCLUDED.spot_price,
				implied_apr = EXCLUDED.implied_apr,
				as_of = EXCLUDED.as_of,
				updated_at = now()
		`,
			m.Pool,
			m.Series,
			m.Base,
			m.Address,
			m.Guard,
			m.ReserveYield,
			m.ReserveBase,
			m.ShareSupply,
			m.WeightYield,
			m.WeightBase,
			m.SpotPrice,
			m.ImpliedAPR,
			m.AsOf,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range rows {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadSnapshot returns the engine snapshot stored under name.
func (s *Store) LoadSnapshot(ctx context.Context, name string) ([]byte, bool, error) {
	if name == "" {
		return nil, false, fmt.Errorf("snapshot name required")
	}
	var data []byte
	row := s.pool.QueryRow(ctx, `SELECT snapshot::text FROM engine_snapshots WHERE name=$1`, name)
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// SaveSnapshot upserts the engine snapshot stored under name.
func (s *Store) SaveSnapshot(ctx context.Context, name string, snapshot []byte) error {
	if name == "" {
		return fmt.Errorf("snapshot name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO engine_snapshots (name, snapshot, updated_at)
		VALUES ($1, $2::jsonb, now())
		ON CONFLICT (name) DO UPDATE
		SET snapshot = EXCLUDED.snapshot, updated_at = now()
	`, name, string(snapshot))
	return err
}

// LoadCheckpoint returns last_processed_block for a rate sync name.
func (s *Store) LoadCheckpoint(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("checkpoint name required")
	}
	var block int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_block FROM sync_state WHERE name=$1`, name)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(block), true, nil
}

// SaveCheckpoint upserts last_processed_block for a rate sync name.
func (s *Store) SaveCheckpoint(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("checkpoint name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_state (name, last_processed_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_block = EXCLUDED.last_processed_block, updated_at = now()
	`, name, int64(block))
	return err
}

// Package redis keeps engine snapshots in Redis using go-redis/v9.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds connection parameters for the snapshot store.
type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
	TTL      time.Duration
}

// StateStore stores the engine snapshot under one key.
//
// Key schema:
//
//	{key}          - JSON snapshot
//	{key}:updated  - RFC3339 time of the last save
type StateStore struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

// New connects to Redis and pings it before returning the store.
func New(ctx context.Context, cfg Config) (*StateStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if cfg.Key == "" {
		cfg.Key = "yieldsplit:snapshot"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &StateStore{rdb: rdb, key: cfg.Key, ttl: cfg.TTL}, nil
}

func (s *StateStore) Close() error {
	return s.rdb.Close()
}

func (s *StateStore) Load(ctx context.Context) ([]byte, bool, error) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis: load snapshot: %w", err)
	}
	return data, true, nil
}

func (s *StateStore) Save(ctx context.Context, snapshot []byte) error {
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.key, snapshot, s.ttl)
	pipe.Set(ctx, s.key+":updated", time.Now().UTC().Format(time.RFC3339Nano), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: save snapshot: %w", err)
	}
	return nil
}

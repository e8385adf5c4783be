package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"yieldsplit/internal/config"
	"yieldsplit/internal/model"
	"yieldsplit/internal/storage"
)

func runOperations(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Input == "" {
		return fmt.Errorf("input path is required")
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := openPostgres(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	if pg != nil {
		defer pg.Close()
	}

	stateStore, closeState, err := openStateStore(ctx, cfg.State, pg)
	if err != nil {
		return err
	}
	defer closeState()

	e, _, err := loadEngine(ctx, cfg.Protocol.Params(), stateStore, logger)
	if err != nil {
		return err
	}

	var sinks []storage.ResultSink
	if cfg.Out != "" {
		sinks = append(sinks, storage.NewJsonlStorage(cfg.Out))
	}
	if pg != nil {
		sinks = append(sinks, pg)
	}

	in, err := os.Open(cfg.Input)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer in.Close()

	logger.Info("run start",
		zap.String("input", cfg.Input),
		zap.String("out", cfg.Out),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.String("state_backend", cfg.State.Backend),
		zap.Int("batch_size", cfg.BatchSize),
	)

	var (
		pending  []model.Result
		applied  int
		rejected int
	)
	flush := func(ctx context.Context) error {
		if len(pending) == 0 {
			return nil
		}
		for _, sink := range sinks {
			if err := sink.PutResults(ctx, pending); err != nil {
				return fmt.Errorf("store results: %w", err)
			}
		}
		pending = pending[:0]
		return nil
	}

	readErr := storage.ReadOperations(in, func(line int, op model.Operation) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := e.Apply(op)
		if res.OK {
			applied++
		} else {
			rejected++
		}
		pending = append(pending, res)
		if len(pending) >= cfg.BatchSize {
			return flush(ctx)
		}
		return nil
	})

	// Persist what was applied even when the journal stops early.
	persistCtx := context.Background()
	if err := flush(persistCtx); err != nil {
		return errors.Join(readErr, err)
	}
	if err := saveEngine(persistCtx, e, stateStore); err != nil {
		return errors.Join(readErr, err)
	}

	logger.Info("run complete",
		zap.Int("applied", applied),
		zap.Int("rejected", rejected),
		zap.Uint64("total_applied", e.Applied()),
		zap.Uint64("last_time", e.LastTime()),
	)
	if readErr != nil {
		return fmt.Errorf("read operations: %w", readErr)
	}
	return nil
}

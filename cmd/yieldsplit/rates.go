package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"yieldsplit/internal/chain"
	"yieldsplit/internal/config"
	"yieldsplit/internal/ratesync"
	"yieldsplit/internal/storage"
)

func runRates(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadRates(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if len(cfg.Sources) == 0 {
		return fmt.Errorf("at least one rate source is required")
	}
	if cfg.Out == "" {
		return fmt.Errorf("output path is required")
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

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	var checkpoint ratesync.Checkpointer
	if pg != nil {
		checkpoint = &ratesync.DBCheckpoint{Store: pg, Name: "rates"}
	} else if cfg.CheckpointEnabled {
		checkpoint = ratesync.NewFileCheckpoint(cfg.Checkpoint, "rates")
	}

	runner := ratesync.NewRunner(ratesync.RunConfig{
		FromBlock:     cfg.FromBlock,
		ToBlock:       cfg.ToBlock,
		Confirmations: cfg.Confirmations,
		Step:          cfg.Step,
		Sources:       cfg.Sources,
		Caller:        cfg.Caller,
		MaxRetries:    cfg.MaxRetries,
		RetryBackoff:  cfg.RetryBackoff,
		Seed:          e.Vault().Rates,
	}, chainClient, storage.NewJsonlStorage(cfg.Out), checkpoint, logger)

	logger.Info("rates start",
		zap.String("rpc", cfg.RPCURL),
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("to", cfg.ToBlock),
		zap.Uint64("step", cfg.Step),
		zap.Int("sources", len(cfg.Sources)),
		zap.String("out", cfg.Out),
		zap.String("caller", cfg.Caller.Hex()),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
	)

	_, err = runner.Run(ctx)
	return err
}

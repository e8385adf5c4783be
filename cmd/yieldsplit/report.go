package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"yieldsplit/internal/config"
	"yieldsplit/internal/report"
)

func runReport(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadReport(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	asOf, err := config.ParseTimestamp(cfg.AsOf)
	if err != nil {
		return fmt.Errorf("parse as-of: %w", err)
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

	e, found, err := loadEngine(ctx, cfg.Protocol.Params(), stateStore, logger)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no stored snapshot to report on")
	}
	if asOf == 0 {
		asOf = e.LastTime()
	}

	rep, err := report.Build(e, asOf)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	data = append(data, '\n')
	if cfg.Out == "" {
		if _, err := cmd.OutOrStdout().Write(data); err != nil {
			return err
		}
	} else if err := os.WriteFile(cfg.Out, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if pg != nil {
		if err := pg.UpsertSeries(ctx, rep.Series); err != nil {
			return fmt.Errorf("upsert series: %w", err)
		}
		if err := pg.UpsertPools(ctx, rep.Pools); err != nil {
			return fmt.Errorf("upsert pools: %w", err)
		}
	}

	logger.Info("report complete",
		zap.Uint64("as_of", asOf),
		zap.Int("series", len(rep.Series)),
		zap.Int("pools", len(rep.Pools)),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
	)
	return nil
}

package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "yieldsplit",
		Short:        "Yield tokenization and exchange engine",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Apply a JSONL operation journal to the engine",
		RunE:  runOperations,
	}

	runCmd.Flags().String("in", "", "input operations JSONL")
	runCmd.Flags().String("out", "./data/results.jsonl", "output results JSONL (empty disables)")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN for the result journal and snapshots")
	runCmd.Flags().Int("batch-size", 500, "results per write batch")
	addStateFlags(runCmd)
	addProtocolFlags(runCmd)
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize series and pools with implied yields",
		RunE:  runReport,
	}

	reportCmd.Flags().String("as-of", "", "report time (unix seconds or RFC3339), defaults to the last applied operation")
	reportCmd.Flags().String("out", "", "output JSON path (default stdout)")
	reportCmd.Flags().String("pg-dsn", "", "Postgres DSN, upserts report rows when set")
	addStateFlags(reportCmd)
	addProtocolFlags(reportCmd)
	reportCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(reportCmd)

	ratesCmd := &cobra.Command{
		Use:   "rates",
		Short: "Sample on-chain exchange rates into set_rate operations",
		RunE:  runRates,
	}

	ratesCmd.Flags().String("rpc", "", "RPC URL")
	ratesCmd.Flags().Uint64("from", 0, "start block (inclusive)")
	ratesCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	ratesCmd.Flags().Uint64("step", 7200, "blocks between samples")
	ratesCmd.Flags().Uint64("confirmations", 12, "blocks to stay behind the head when --to is 0")
	ratesCmd.Flags().StringSlice("source", nil, "rate sources asset=contract:kind:scale[:shareDecimals] (comma-separated)")
	ratesCmd.Flags().String("caller", "", "caller recorded on set_rate operations, defaults to governance")
	ratesCmd.Flags().String("out", "./data/rates.jsonl", "output operations JSONL")
	ratesCmd.Flags().String("checkpoint", "./data/rates_checkpoint.json", "checkpoint file path")
	ratesCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	ratesCmd.Flags().String("pg-dsn", "", "Postgres DSN, stores the checkpoint in sync_state when set")
	ratesCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	ratesCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	addStateFlags(ratesCmd)
	addProtocolFlags(ratesCmd)
	ratesCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(ratesCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addStateFlags(cmd *cobra.Command) {
	cmd.Flags().String("state-backend", "file", "snapshot backend (file, postgres, redis, none)")
	cmd.Flags().String("state-file", "./data/state.json", "snapshot file for the file backend")
	cmd.Flags().String("state-name", "default", "snapshot name for the postgres backend")
	cmd.Flags().String("redis-addr", "127.0.0.1:6379", "Redis address for the redis backend")
	cmd.Flags().String("redis-password", "", "Redis password")
	cmd.Flags().Int("redis-db", 0, "Redis database")
	cmd.Flags().String("redis-key", "yieldsplit:snapshot", "Redis key for the snapshot")
}

func addProtocolFlags(cmd *cobra.Command) {
	cmd.Flags().Uint32("forge-fee-bps", 300, "fee on settled interest in basis points")
	cmd.Flags().Uint32("renewal-fee-bps", 50, "fee on renewed principal in basis points")
	cmd.Flags().Uint64("expiry-grid", 86400, "expiries must be multiples of this many seconds")
	cmd.Flags().Uint32("swap-fee-bps", 30, "swap fee in basis points")
	cmd.Flags().Uint32("protocol-fee-share-bps", 1000, "share of the swap fee sent to the treasury in basis points")
	cmd.Flags().String("min-liquidity", "1000", "pool shares locked at bootstrap (raw units)")
	cmd.Flags().String("initial-weight", "0.5", "yield side weight at pool creation")
	cmd.Flags().String("weight-floor", "0.1", "lowest yield side weight near expiry")
	cmd.Flags().StringSlice("base-assets", nil, "accepted pool base assets (comma-separated)")
	cmd.Flags().Uint64("epoch-start", 0, "liquidity mining start time (unix seconds)")
	cmd.Flags().Uint64("epoch-duration", 7*24*3600, "liquidity mining epoch length in seconds")
	cmd.Flags().Uint64("vesting-epochs", 4, "epochs over which rewards vest")
	cmd.Flags().String("epoch-budget", "0", "reward tokens per epoch")
	cmd.Flags().Uint64("allocation-denominator", 1_000_000, "sum of the reward allocation numerators")
	cmd.Flags().String("reward-token", "", "reward token address")
	cmd.Flags().String("mining-base", "", "base asset of the pools whose shares are staked")
	cmd.Flags().String("governance", "", "governance address")
	cmd.Flags().String("emergency-handler", "", "emergency handler address")
	cmd.Flags().String("treasury", "", "treasury address")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}

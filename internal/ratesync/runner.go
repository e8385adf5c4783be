// Package ratesync samples on-chain exchange rates at a fixed block interval and turns every
// rate increase into a set_rate operation.
package ratesync

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"yieldsplit/internal/chain"
	"yieldsplit/internal/model"
	"yieldsplit/internal/storage"
)

// RunConfig holds runtime settings for the rate sync.
type RunConfig struct {
	FromBlock uint64
	ToBlock   uint64
	// Confirmations keeps the sync this many blocks behind the head when ToBlock is zero.
	Confirmations uint64
	Step          uint64
	Sources       []chain.RateSource
	Caller        common.Address
	MaxRetries    int
	RetryBackoff  time.Duration
	// Seed holds the latest rate already known per asset. Lower or equal samples are dropped.
	Seed map[common.Address]*big.Int
}

// Chain is the subset of chain.Client used by the runner.
type Chain interface {
	chain.Caller
	GetChainID(ctx context.Context) (*big.Int, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
}

// Summary reports what a run did.
type Summary struct {
	From    uint64
	To      uint64
	Samples int
	Emitted int
	Skipped int
}

// Runner samples rates from the chain and writes set_rate operations to a sink.
type Runner struct {
	cfg        RunConfig
	chain      Chain
	sink       storage.OperationSink
	checkpoint Checkpointer
	logger     *zap.Logger
	last       map[common.Address]*big.Int
}

// NewRunner builds a Runner with its dependencies. A nil checkpoint disables resuming.
func NewRunner(cfg RunConfig, chainClient Chain, sink storage.OperationSink, checkpoint Checkpointer, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	last := make(map[common.Address]*big.Int, len(cfg.Seed))
	for asset, rate := range cfg.Seed {
		last[asset] = new(big.Int).Set(rate)
	}
	return &Runner{
		cfg:        cfg,
		chain:      chainClient,
		sink:       sink,
		checkpoint: checkpoint,
		logger:     logger,
		last:       last,
	}
}

// Run executes the sampling loop.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	var summary Summary
	if r.chain == nil {
		return summary, fmt.Errorf("chain client is nil")
	}
	if r.sink == nil {
		return summary, fmt.Errorf("operation sink is nil")
	}
	if r.cfg.Step == 0 {
		return summary, fmt.Errorf("step must be greater than zero")
	}
	if len(r.cfg.Sources) == 0 {
		return summary, fmt.Errorf("at least one rate source is required")
	}

	chainID, err := r.chain.GetChainID(ctx)
	if err != nil {
		return summary, fmt.Errorf("get chain id: %w", err)
	}
	if !chainID.IsUint64() {
		return summary, fmt.Errorf("chain id does not fit in uint64: %s", chainID)
	}
	chainIDValue := chainID.Uint64()

	from := r.cfg.FromBlock
	to := r.cfg.ToBlock
	if to == 0 {
		latest, err := r.chain.LatestBlockNumber(ctx)
		if err != nil {
			return summary, fmt.Errorf("get latest block: %w", err)
		}
		if latest < r.cfg.Confirmations {
			r.logger.Info("chain shorter than confirmations", zap.Uint64("latest", latest))
			return summary, nil
		}
		to = latest - r.cfg.Confirmations
	}

	if r.checkpoint != nil {
		last, ok, err := r.checkpoint.Load(ctx)
		if err != nil {
			return summary, err
		}
		if ok && last >= from {
			from = last + 1
			r.logger.Info("resume from checkpoint", zap.Uint64("last_processed", last), zap.Uint64("from", from))
		}
	}
	summary.From, summary.To = from, to

	if from > to {
		r.logger.Info("nothing to sync", zap.Uint64("from", from), zap.Uint64("to", to))
		return summary, nil
	}

	blocks, err := SampleBlocks(from, to, r.cfg.Step)
	if err != nil {
		return summary, err
	}

	for _, block := range blocks {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		ts, err := r.blockTimestampWithRetry(ctx, block)
		if err != nil {
			return summary, fmt.Errorf("block timestamp %d: %w", block, err)
		}

		ops := make([]model.Operation, 0, len(r.cfg.Sources))
		for _, src := range r.cfg.Sources {
			rate, err := r.readRateWithRetry(ctx, src, block)
			if err != nil {
				return summary, fmt.Errorf("read rate %s at %d: %w", src.Asset.Hex(), block, err)
			}
			summary.Samples++

			prev, seen := r.last[src.Asset]
			if seen && rate.Cmp(prev) <= 0 {
				if rate.Cmp(prev) < 0 {
					r.logger.Warn("rate decreased, sample dropped",
						zap.String("asset", src.Asset.Hex()),
						zap.Uint64("block", block),
						zap.String("previous", prev.String()),
						zap.String("rate", rate.String()),
					)
				}
				summary.Skipped++
				continue
			}
			r.last[src.Asset] = rate

			sample := model.RateSample{
				ChainID:     chainIDValue,
				BlockNumber: block,
				Timestamp:   ts,
				Asset:       src.Asset.Hex(),
				Source:      src.Contract.Hex(),
				Rate:        rate.String(),
			}
			op := sample.Operation(r.cfg.Caller.Hex())
			op.ID = fmt.Sprintf("rate:%d:%d:%s", chainIDValue, block, src.Asset.Hex())
			ops = append(ops, op)
		}

		if err := r.sink.PutOperations(ctx, ops); err != nil {
			return summary, fmt.Errorf("store operations: %w", err)
		}
		summary.Emitted += len(ops)

		if r.checkpoint != nil {
			if err := r.checkpoint.Save(ctx, block); err != nil {
				return summary, err
			}
		}

		r.logger.Debug("sample complete", zap.Uint64("block", block), zap.Uint64("timestamp", ts), zap.Int("ops", len(ops)))
	}

	r.logger.Info("rate sync complete",
		zap.Uint64("from", summary.From),
		zap.Uint64("to", summary.To),
		zap.Int("samples", summary.Samples),
		zap.Int("emitted", summary.Emitted),
		zap.Int("skipped", summary.Skipped),
	)
	return summary, nil
}

func (r *Runner) readRateWithRetry(ctx context.Context, src chain.RateSource, block uint64) (*big.Int, error) {
	var rate *big.Int
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		rate, err = chain.ReadRate(ctx, r.chain, src, new(big.Int).SetUint64(block))
		if err != nil {
			r.logger.Warn("read rate failed", zap.Error(err), zap.String("asset", src.Asset.Hex()), zap.Uint64("block", block))
		}
		return err
	})
	return rate, err
}

func (r *Runner) blockTimestampWithRetry(ctx context.Context, blockNumber uint64) (uint64, error) {
	var ts uint64
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		ts, err = r.chain.BlockTimestamp(ctx, blockNumber)
		if err != nil {
			r.logger.Warn("block timestamp fetch failed", zap.Error(err), zap.Uint64("block_number", blockNumber))
		}
		return err
	})
	return ts, err
}

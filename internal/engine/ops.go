package engine

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"yieldsplit/internal/forge"
	"yieldsplit/internal/journal"
	"yieldsplit/internal/market"
	"yieldsplit/internal/mining"
	"yieldsplit/internal/model"
)

// SetRate publishes a new exchange rate for asset and moves every unexpired series of the asset
// to it. Governance only.
func (e *Engine) SetRate(caller, asset common.Address, rate *big.Int, now uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireGovernance(caller); err != nil {
		return err
	}
	return e.atomic(now, func() error {
		if err := e.vault.SetRate(asset, rate); err != nil {
			return err
		}
		return e.forge.SyncRate(asset, now)
	})
}

// Fund credits amount of asset to holder's wallet. Governance only.
func (e *Engine) Fund(caller, asset, holder common.Address, amount *big.Int, now uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireGovernance(caller); err != nil {
		return err
	}
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: fund", model.ErrZeroAmount)
	}
	return e.atomic(now, func() error {
		e.bank.Credit(asset, holder, amount)
		return nil
	})
}

func (e *Engine) NewSeries(key model.SeriesKey, now uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.atomic(now, func() error {
		_, err := e.forge.NewSeries(key, now)
		return err
	})
}

func (e *Engine) Tokenize(caller common.Address, key model.SeriesKey, amount *big.Int, recipient common.Address, now uint64) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guards.checkSeries(key); err != nil {
		return nil, err
	}
	var minted *big.Int
	err := e.atomic(now, func() (err error) {
		minted, err = e.forge.Tokenize(caller, key, amount, recipient, now)
		return err
	})
	return minted, err
}

func (e *Engine) RedeemUnderlying(caller common.Address, key model.SeriesKey, amount *big.Int, recipient common.Address, now uint64) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guards.checkSeries(key); err != nil {
		return nil, err
	}
	var out *big.Int
	err := e.atomic(now, func() (err error) {
		out, err = e.forge.RedeemUnderlying(caller, key, amount, recipient, now)
		return err
	})
	return out, err
}

func (e *Engine) RedeemDueInterests(caller common.Address, key model.SeriesKey, recipient common.Address, now uint64) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guards.checkSeries(key); err != nil {
		return nil, err
	}
	var out *big.Int
	err := e.atomic(now, func() (err error) {
		out, err = e.forge.RedeemDueInterests(caller, key, recipient, now)
		return err
	})
	return out, err
}

func (e *Engine) RedeemAfterExpiry(caller common.Address, key model.SeriesKey, recipient common.Address, now uint64) (forge.Redemption, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guards.checkSeries(key); err != nil {
		return forge.Redemption{}, err
	}
	var out forge.Redemption
	err := e.atomic(now, func() (err error) {
		out, err = e.forge.RedeemAfterExpiry(caller, key, recipient, now)
		return err
	})
	return out, err
}

func (e *Engine) RenewYield(caller common.Address, oldKey model.SeriesKey, newExpiry uint64, renewalRateBps uint32, now uint64) (forge.Renewal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guards.checkSeries(oldKey); err != nil {
		return forge.Renewal{}, err
	}
	if err := e.guards.checkSeries(model.SeriesKey{Asset: oldKey.Asset, Expiry: newExpiry}); err != nil {
		return forge.Renewal{}, err
	}
	var out forge.Renewal
	err := e.atomic(now, func() (err error) {
		out, err = e.forge.RenewYield(caller, oldKey, newExpiry, renewalRateBps, now)
		return err
	})
	return out, err
}

func (e *Engine) TransferYield(from, to common.Address, key model.SeriesKey, amount *big.Int, now uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guards.checkSeries(key); err != nil {
		return err
	}
	return e.atomic(now, func() error {
		return e.forge.TransferYield(from, to, key, amount, now)
	})
}

func (e *Engine) TransferPrincipal(from, to common.Address, key model.SeriesKey, amount *big.Int, now uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guards.checkSeries(key); err != nil {
		return err
	}
	return e.atomic(now, func() error {
		return e.forge.TransferPrincipal(from, to, key, amount)
	})
}

// WithdrawForgeFees pays the series' accumulated forge fee to recipient. Governance only.
func (e *Engine) WithdrawForgeFees(caller common.Address, key model.SeriesKey, recipient common.Address, now uint64) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireGovernance(caller); err != nil {
		return nil, err
	}
	var out *big.Int
	err := e.atomic(now, func() (err error) {
		out, err = e.forge.WithdrawFees(key, recipient)
		return err
	})
	return out, err
}

func (e *Engine) CreatePool(key model.PoolKey, now uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guards.checkPool(key); err != nil {
		return err
	}
	return e.atomic(now, func() error {
		_, err := e.market.CreatePool(key, now)
		return err
	})
}

// poolCall runs fn against a pool after the pause and lock checks.
func (e *Engine) poolCall(key model.PoolKey, now uint64, fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guards.checkPool(key); err != nil {
		return err
	}
	return e.atomic(now, fn)
}

func (e *Engine) Bootstrap(caller common.Address, key model.PoolKey, yieldAmount, baseAmount *big.Int, now uint64) (out market.Liquidity, err error) {
	err = e.poolCall(key, now, func() (err error) {
		out, err = e.market.Bootstrap(caller, key, yieldAmount, baseAmount, now)
		return err
	})
	return out, err
}

func (e *Engine) AddLiquidityDual(caller common.Address, key model.PoolKey, desiredYield, desiredBase, minShares *big.Int, now uint64) (out market.Liquidity, err error) {
	err = e.poolCall(key, now, func() (err error) {
		out, err = e.market.AddLiquidityDual(caller, key, desiredYield, desiredBase, minShares, now)
		return err
	})
	return out, err
}

func (e *Engine) RemoveLiquidityDual(caller common.Address, key model.PoolKey, shares *big.Int, now uint64) (out market.Liquidity, err error) {
	err = e.poolCall(key, now, func() (err error) {
		out, err = e.market.RemoveLiquidityDual(caller, key, shares, now)
		return err
	})
	return out, err
}

func (e *Engine) AddLiquiditySingle(caller common.Address, key model.PoolKey, side model.Side, amount, minShares *big.Int, now uint64) (out market.Liquidity, err error) {
	err = e.poolCall(key, now, func() (err error) {
		out, err = e.market.AddLiquiditySingle(caller, key, side, amount, minShares, now)
		return err
	})
	return out, err
}

func (e *Engine) RemoveLiquiditySingle(caller common.Address, key model.PoolKey, side model.Side, shares, minOut *big.Int, now uint64) (out market.Liquidity, err error) {
	err = e.poolCall(key, now, func() (err error) {
		out, err = e.market.RemoveLiquiditySingle(caller, key, side, shares, minOut, now)
		return err
	})
	return out, err
}

func (e *Engine) SwapExactIn(caller common.Address, key model.PoolKey, inSide model.Side, amountIn, minOut *big.Int, now uint64) (out market.Swap, err error) {
	err = e.poolCall(key, now, func() (err error) {
		out, err = e.market.SwapExactIn(caller, key, inSide, amountIn, minOut, now)
		return err
	})
	return out, err
}

func (e *Engine) SwapExactOut(caller common.Address, key model.PoolKey, inSide model.Side, amountOut, maxIn *big.Int, now uint64) (out market.Swap, err error) {
	err = e.poolCall(key, now, func() (err error) {
		out, err = e.market.SwapExactOut(caller, key, inSide, amountOut, maxIn, now)
		return err
	})
	return out, err
}

func (e *Engine) RedeemLPInterests(caller common.Address, key model.PoolKey, recipient common.Address, now uint64) (out *big.Int, err error) {
	err = e.poolCall(key, now, func() (err error) {
		out, err = e.market.RedeemLPInterests(caller, key, recipient, now)
		return err
	})
	return out, err
}

func (e *Engine) TransferShares(from, to common.Address, key model.PoolKey, amount *big.Int, now uint64) error {
	return e.poolCall(key, now, func() error {
		return e.market.TransferShares(from, to, key, amount, now)
	})
}

func (e *Engine) stakingPool(series model.SeriesKey) model.PoolKey {
	return model.PoolKey{Series: series, Base: e.params.Mining.Base}
}

func (e *Engine) Stake(caller common.Address, series model.SeriesKey, amount *big.Int, now uint64) error {
	return e.poolCall(e.stakingPool(series), now, func() error {
		return e.mining.Stake(caller, series, amount, now)
	})
}

func (e *Engine) Withdraw(caller common.Address, series model.SeriesKey, amount *big.Int, now uint64) error {
	return e.poolCall(e.stakingPool(series), now, func() error {
		return e.mining.Withdraw(caller, series, amount, now)
	})
}

func (e *Engine) ClaimRewards(caller common.Address, series model.SeriesKey, now uint64) (out *big.Int, err error) {
	err = e.poolCall(e.stakingPool(series), now, func() (err error) {
		out, err = e.mining.ClaimRewards(caller, series, now)
		return err
	})
	return out, err
}

func (e *Engine) RedeemStakedLPInterests(caller common.Address, series model.SeriesKey, recipient common.Address, now uint64) (out *big.Int, err error) {
	err = e.poolCall(e.stakingPool(series), now, func() (err error) {
		out, err = e.mining.RedeemLPInterests(caller, series, recipient, now)
		return err
	})
	return out, err
}

// PendingRewards reports staker's rewards at now without changing state.
func (e *Engine) PendingRewards(staker common.Address, series model.SeriesKey, now uint64) (mining.Rewards, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mining.PendingRewards(staker, series, now)
}

// SetAllocation replaces the reward allocation table from the next epoch. Governance only.
func (e *Engine) SetAllocation(caller common.Address, series []model.SeriesKey, numerators []uint64, now uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireGovernance(caller); err != nil {
		return err
	}
	return e.atomic(now, func() error {
		return e.mining.SetAllocation(series, numerators, now)
	})
}

// SetEpochBudget replaces the global epoch budget from the next epoch. Governance only.
func (e *Engine) SetEpochBudget(caller common.Address, budget *big.Int, now uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireGovernance(caller); err != nil {
		return err
	}
	return e.atomic(now, func() error {
		return e.mining.SetEpochBudget(budget, now)
	})
}

// guardTarget canonicalizes a series key ("asset:expiry") or pool key ("asset:expiry:base").
func guardTarget(target string) (string, error) {
	target = strings.TrimSpace(target)
	if strings.Count(target, ":") == 1 {
		key, err := model.ParseSeriesKey(target)
		if err != nil {
			return "", err
		}
		return key.String(), nil
	}
	key, err := model.ParsePoolKey(target)
	if err != nil {
		return "", err
	}
	return key.String(), nil
}

func (e *Engine) setGuard(caller common.Address, target, action string, now uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireGovernance(caller); err != nil {
		return err
	}
	key, err := guardTarget(target)
	if err != nil {
		return err
	}
	err = e.atomic(now, func() error {
		journal.Entry(e.journal, e.guards.Status, key, nil)
		switch action {
		case model.OpPause:
			return e.guards.pause(key)
		case model.OpUnpause:
			return e.guards.unpause(key)
		default:
			e.guards.lock(key)
			return nil
		}
	})
	if err == nil {
		e.logger.Warn("guard changed", zap.String("target", key), zap.String("action", action))
	}
	return err
}

// Pause makes every state-changing call on target fail with ErrPaused. Governance only.
func (e *Engine) Pause(caller common.Address, target string, now uint64) error {
	return e.setGuard(caller, target, model.OpPause, now)
}

// Unpause clears a pause. Locks are permanent.
func (e *Engine) Unpause(caller common.Address, target string, now uint64) error {
	return e.setGuard(caller, target, model.OpUnpause, now)
}

// Lock makes every state-changing call on target fail with ErrLocked and opens the emergency
// sweep. Governance only.
func (e *Engine) Lock(caller common.Address, target string, now uint64) error {
	return e.setGuard(caller, target, model.OpLock, now)
}

// EmergencySweep moves a locked pool's reserves to recipient. Only the emergency handler may
// call it.
func (e *Engine) EmergencySweep(caller common.Address, key model.PoolKey, recipient common.Address, now uint64) (*big.Int, *big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.params.EmergencyHandler {
		return nil, nil, fmt.Errorf("%w: %s is not the emergency handler", model.ErrUnauthorized, caller.Hex())
	}
	if e.guards.poolStatus(key) != statusLocked {
		return nil, nil, fmt.Errorf("%w: %s is not locked", model.ErrUnauthorized, key)
	}
	var y, b *big.Int
	err := e.atomic(now, func() (err error) {
		y, b, err = e.market.Sweep(key, recipient, now)
		return err
	})
	return y, b, err
}

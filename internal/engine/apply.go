package engine

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"yieldsplit/internal/market"
	"yieldsplit/internal/model"
)

type outputs map[string]string

func (o outputs) amount(name string, v *big.Int) {
	if v != nil {
		o[name] = v.String()
	}
}

func (o outputs) liquidity(l market.Liquidity) {
	o.amount("shares", l.Shares)
	o.amount("yield", l.Yield)
	o.amount("base", l.Base)
}

func (o outputs) swap(s market.Swap) {
	o["in_side"] = string(s.InSide)
	o.amount("in", s.In)
	o.amount("out", s.Out)
	o.amount("fee", s.Fee)
	o.amount("protocol_fee", s.ProtocolFee)
}

// Apply decodes and executes one operation. Failures are reported in the result, never
// returned, so a journal keeps going after a rejected operation.
func (e *Engine) Apply(op model.Operation) model.Result {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	res := model.Result{ID: op.ID, Op: op.Op, Time: op.Time}

	out, err := e.dispatch(op)
	if err != nil {
		res.ErrorKind = model.ErrorKind(err)
		res.Error = err.Error()
		e.logger.Debug("operation rejected",
			zap.String("id", op.ID),
			zap.String("op", op.Op),
			zap.Uint64("time", op.Time),
			zap.String("kind", res.ErrorKind),
			zap.Error(err),
		)
		return res
	}

	res.OK = true
	if len(out) > 0 {
		res.Outputs = out
	}
	e.logger.Debug("operation applied",
		zap.String("id", op.ID),
		zap.String("op", op.Op),
		zap.Uint64("time", op.Time),
	)
	return res
}

func (e *Engine) dispatch(op model.Operation) (outputs, error) {
	if !knownOps[op.Op] {
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownOperation, op.Op)
	}
	out := outputs{}
	now := op.Time

	var caller common.Address
	if op.Caller != "" {
		addr, err := op.Address("caller", op.Caller)
		if err != nil {
			return nil, err
		}
		caller = addr
	}
	recipient, err := op.RecipientOr(caller)
	if err != nil {
		return nil, err
	}
	amount, err := model.ParseAmount("amount", op.Amount)
	if err != nil {
		return nil, err
	}
	limit, err := model.ParseAmount("limit", op.Limit)
	if err != nil {
		return nil, err
	}

	switch op.Op {
	case model.OpSetRate:
		asset, err := op.Address("asset", op.Asset)
		if err != nil {
			return nil, err
		}
		rate, err := model.ParseAmount("rate", op.Rate)
		if err != nil {
			return nil, err
		}
		return out, e.SetRate(caller, asset, rate, now)

	case model.OpFund:
		asset, err := op.Address("asset", op.Asset)
		if err != nil {
			return nil, err
		}
		return out, e.Fund(caller, asset, recipient, amount, now)

	case model.OpSetAllocation:
		keys := make([]model.SeriesKey, 0, len(op.Series))
		for _, raw := range op.Series {
			key, err := model.ParseSeriesKey(raw)
			if err != nil {
				return nil, err
			}
			keys = append(keys, key)
		}
		return out, e.SetAllocation(caller, keys, op.Numerators, now)

	case model.OpSetEpochBudget:
		return out, e.SetEpochBudget(caller, amount, now)

	case model.OpPause, model.OpUnpause, model.OpLock:
		target := op.Asset + ":" + strconv.FormatUint(op.Expiry, 10)
		if op.Base != "" {
			target += ":" + op.Base
		}
		return out, e.setGuard(caller, target, op.Op, now)
	}

	if isPoolOp(op.Op) {
		return e.dispatchPool(op, caller, recipient, amount, limit, out)
	}
	return e.dispatchSeries(op, caller, recipient, amount, out)
}

var knownOps = map[string]bool{
	model.OpSetRate: true, model.OpFund: true, model.OpNewSeries: true, model.OpTokenize: true,
	model.OpRedeemUnderlying: true, model.OpRedeemInterests: true, model.OpRedeemAfterExpiry: true,
	model.OpRenew: true, model.OpTransferYield: true, model.OpTransferPrincipal: true,
	model.OpTransferShares: true, model.OpCreatePool: true, model.OpBootstrap: true,
	model.OpAddDual: true, model.OpRemoveDual: true, model.OpAddSingle: true,
	model.OpRemoveSingle: true, model.OpSwapExactIn: true, model.OpSwapExactOut: true,
	model.OpRedeemLPInterests: true, model.OpStake: true, model.OpWithdraw: true,
	model.OpClaimRewards: true, model.OpRedeemStakeLP: true, model.OpSetAllocation: true,
	model.OpSetEpochBudget: true, model.OpWithdrawForgeFees: true, model.OpPause: true,
	model.OpUnpause: true, model.OpLock: true, model.OpEmergencySweep: true,
}

func isPoolOp(name string) bool {
	switch name {
	case model.OpCreatePool, model.OpBootstrap, model.OpAddDual, model.OpRemoveDual,
		model.OpAddSingle, model.OpRemoveSingle, model.OpSwapExactIn, model.OpSwapExactOut,
		model.OpRedeemLPInterests, model.OpTransferShares, model.OpEmergencySweep:
		return true
	}
	return false
}

func (e *Engine) dispatchSeries(op model.Operation, caller, recipient common.Address, amount *big.Int, out outputs) (outputs, error) {
	now := op.Time
	key, err := op.SeriesKey()
	if err != nil {
		return nil, err
	}

	switch op.Op {
	case model.OpNewSeries:
		return out, e.NewSeries(key, now)

	case model.OpTokenize:
		minted, err := e.Tokenize(caller, key, amount, recipient, now)
		out.amount("minted", minted)
		return out, err

	case model.OpRedeemUnderlying:
		paid, err := e.RedeemUnderlying(caller, key, amount, recipient, now)
		out.amount("paid", paid)
		return out, err

	case model.OpRedeemInterests:
		paid, err := e.RedeemDueInterests(caller, key, recipient, now)
		out.amount("paid", paid)
		return out, err

	case model.OpRedeemAfterExpiry:
		r, err := e.RedeemAfterExpiry(caller, key, recipient, now)
		if err == nil {
			out.amount("principal", r.Principal)
			out.amount("interest", r.Interest)
		}
		return out, err

	case model.OpRenew:
		r, err := e.RenewYield(caller, key, op.NewExpiry, op.RateBps, now)
		if err == nil {
			out.amount("redeemed", r.Redeemed)
			out.amount("renewed", r.Renewed)
			out.amount("fee", r.Fee)
			out["new_series"] = r.NewSeries.String()
		}
		return out, err

	case model.OpTransferYield:
		return out, e.TransferYield(caller, recipient, key, amount, now)

	case model.OpTransferPrincipal:
		return out, e.TransferPrincipal(caller, recipient, key, amount, now)

	case model.OpWithdrawForgeFees:
		paid, err := e.WithdrawForgeFees(caller, key, recipient, now)
		out.amount("paid", paid)
		return out, err

	case model.OpStake:
		return out, e.Stake(caller, key, amount, now)

	case model.OpWithdraw:
		return out, e.Withdraw(caller, key, amount, now)

	case model.OpClaimRewards:
		paid, err := e.ClaimRewards(caller, key, now)
		out.amount("paid", paid)
		return out, err

	case model.OpRedeemStakeLP:
		paid, err := e.RedeemStakedLPInterests(caller, key, recipient, now)
		out.amount("paid", paid)
		return out, err
	}
	return nil, fmt.Errorf("%w: %q", model.ErrUnknownOperation, op.Op)
}

func (e *Engine) dispatchPool(op model.Operation, caller, recipient common.Address, amount, limit *big.Int, out outputs) (outputs, error) {
	now := op.Time
	key, err := op.PoolKey()
	if err != nil {
		return nil, err
	}
	var side model.Side
	if op.Side != "" {
		if side, err = model.ParseSide(op.Side); err != nil {
			return nil, err
		}
	}
	baseAmount, err := model.ParseAmount("base_amount", op.BaseAmount)
	if err != nil {
		return nil, err
	}

	switch op.Op {
	case model.OpCreatePool:
		return out, e.CreatePool(key, now)

	case model.OpBootstrap:
		l, err := e.Bootstrap(caller, key, amount, baseAmount, now)
		out.liquidity(l)
		return out, err

	case model.OpAddDual:
		l, err := e.AddLiquidityDual(caller, key, amount, baseAmount, limit, now)
		out.liquidity(l)
		return out, err

	case model.OpRemoveDual:
		l, err := e.RemoveLiquidityDual(caller, key, amount, now)
		out.liquidity(l)
		return out, err

	case model.OpAddSingle:
		if side == "" {
			return nil, fmt.Errorf("side is required")
		}
		l, err := e.AddLiquiditySingle(caller, key, side, amount, limit, now)
		out.liquidity(l)
		return out, err

	case model.OpRemoveSingle:
		if side == "" {
			return nil, fmt.Errorf("side is required")
		}
		l, err := e.RemoveLiquiditySingle(caller, key, side, amount, limit, now)
		out.liquidity(l)
		return out, err

	case model.OpSwapExactIn:
		if side == "" {
			return nil, fmt.Errorf("side is required")
		}
		s, err := e.SwapExactIn(caller, key, side, amount, limit, now)
		if err == nil {
			out.swap(s)
		}
		return out, err

	case model.OpSwapExactOut:
		if side == "" {
			return nil, fmt.Errorf("side is required")
		}
		if op.Limit == "" {
			limit = nil
		}
		s, err := e.SwapExactOut(caller, key, side, amount, limit, now)
		if err == nil {
			out.swap(s)
		}
		return out, err

	case model.OpRedeemLPInterests:
		paid, err := e.RedeemLPInterests(caller, key, recipient, now)
		out.amount("paid", paid)
		return out, err

	case model.OpTransferShares:
		return out, e.TransferShares(caller, recipient, key, amount, now)

	case model.OpEmergencySweep:
		y, b, err := e.EmergencySweep(caller, key, recipient, now)
		out.amount("yield", y)
		out.amount("base", b)
		return out, err
	}
	return nil, fmt.Errorf("%w: %q", model.ErrUnknownOperation, op.Op)
}

package market

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"yieldsplit/internal/fixed"
	"yieldsplit/internal/model"
)

// Liquidity is the outcome of a liquidity add or remove.
type Liquidity struct {
	Shares *big.Int `json:"shares"`
	Yield  *big.Int `json:"yield"`
	Base   *big.Int `json:"base"`
}

// Bootstrap seeds an empty pool. The caller receives sqrt(yield*base) shares minus the
// minimum liquidity, which is locked to the dead address forever.
func (m *Market) Bootstrap(caller common.Address, key model.PoolKey, yieldAmount, baseAmount *big.Int, now uint64) (Liquidity, error) {
	p, err := m.Lookup(key)
	if err != nil {
		return Liquidity{}, err
	}
	if yieldAmount.Sign() <= 0 || baseAmount.Sign() <= 0 {
		return Liquidity{}, fmt.Errorf("%w: bootstrap needs both sides", model.ErrZeroAmount)
	}
	if err := m.live(p, now); err != nil {
		return Liquidity{}, err
	}
	if p.Shares.Supply.Sign() > 0 {
		return Liquidity{}, fmt.Errorf("%w: %s", model.ErrPoolBootstrapped, key)
	}
	shares := fixed.Sqrt(new(big.Int).Mul(yieldAmount, baseAmount))
	if shares.Cmp(m.cfg.MinLiquidity) <= 0 {
		return Liquidity{}, fmt.Errorf("%w: %s shares do not cover the locked minimum", model.ErrInsufficientLiquidity, shares)
	}
	if err := m.checkFunds(p, caller, yieldAmount, baseAmount); err != nil {
		return Liquidity{}, err
	}

	if err := m.settleInterest(p, now); err != nil {
		return Liquidity{}, err
	}
	if err := m.collect(p, model.SideYield, caller, yieldAmount, now); err != nil {
		return Liquidity{}, err
	}
	if err := m.collect(p, model.SideBase, caller, baseAmount, now); err != nil {
		return Liquidity{}, err
	}
	p.adjust(m.journal, model.SideYield, yieldAmount)
	p.adjust(m.journal, model.SideBase, baseAmount)

	minted := new(big.Int).Sub(shares, m.cfg.MinLiquidity)
	m.settleHolders(p, caller, model.DeadAddress)
	p.Shares.Mint(model.DeadAddress, m.cfg.MinLiquidity)
	p.Shares.Mint(caller, minted)

	m.logger.Debug("bootstrap",
		zap.String("pool", key.String()),
		zap.String("caller", caller.Hex()),
		zap.String("shares", minted.String()),
	)
	return Liquidity{Shares: minted, Yield: fixed.Clone(yieldAmount), Base: fixed.Clone(baseAmount)}, nil
}

// AddLiquidityDual deposits both sides in the pool's current ratio, using at most the desired
// amounts, and mints shares for the smaller of the two contributions.
func (m *Market) AddLiquidityDual(caller common.Address, key model.PoolKey, desiredYield, desiredBase, minShares *big.Int, now uint64) (Liquidity, error) {
	p, err := m.Lookup(key)
	if err != nil {
		return Liquidity{}, err
	}
	if desiredYield.Sign() <= 0 || desiredBase.Sign() <= 0 {
		return Liquidity{}, fmt.Errorf("%w: add liquidity", model.ErrZeroAmount)
	}
	if err := m.live(p, now); err != nil {
		return Liquidity{}, err
	}
	if err := m.tradable(p); err != nil {
		return Liquidity{}, err
	}

	supply := p.Shares.Supply
	shares := fixed.Min(
		fixed.MulDiv(desiredYield, supply, p.ReserveYield),
		fixed.MulDiv(desiredBase, supply, p.ReserveBase),
	)
	if shares.Sign() == 0 {
		return Liquidity{}, fmt.Errorf("%w: contribution too small for one share", model.ErrZeroAmount)
	}
	if minShares != nil && shares.Cmp(minShares) < 0 {
		return Liquidity{}, fmt.Errorf("%w: %s shares below %s", model.ErrSlippage, shares, minShares)
	}
	yieldIn := fixed.MulDivUp(shares, p.ReserveYield, supply)
	baseIn := fixed.MulDivUp(shares, p.ReserveBase, supply)
	if err := m.checkFunds(p, caller, yieldIn, baseIn); err != nil {
		return Liquidity{}, err
	}

	if err := m.settleInterest(p, now); err != nil {
		return Liquidity{}, err
	}
	if err := m.collect(p, model.SideYield, caller, yieldIn, now); err != nil {
		return Liquidity{}, err
	}
	if err := m.collect(p, model.SideBase, caller, baseIn, now); err != nil {
		return Liquidity{}, err
	}
	p.adjust(m.journal, model.SideYield, yieldIn)
	p.adjust(m.journal, model.SideBase, baseIn)
	m.settleHolders(p, caller)
	p.Shares.Mint(caller, shares)

	m.logger.Debug("add liquidity dual",
		zap.String("pool", key.String()),
		zap.String("caller", caller.Hex()),
		zap.String("shares", shares.String()),
		zap.String("yield", yieldIn.String()),
		zap.String("base", baseIn.String()),
	)
	return Liquidity{Shares: shares, Yield: yieldIn, Base: baseIn}, nil
}

// RemoveLiquidityDual burns shares for a proportional slice of both reserves, rounded down.
// Removals stay open after expiry.
func (m *Market) RemoveLiquidityDual(caller common.Address, key model.PoolKey, shares *big.Int, now uint64) (Liquidity, error) {
	p, err := m.Lookup(key)
	if err != nil {
		return Liquidity{}, err
	}
	if shares.Sign() <= 0 {
		return Liquidity{}, fmt.Errorf("%w: remove liquidity", model.ErrZeroAmount)
	}
	if !p.Shares.Has(caller, shares) {
		return Liquidity{}, fmt.Errorf("%w: %s shares of %s", model.ErrInsufficientBalance, shares, caller.Hex())
	}

	supply := p.Shares.Supply
	yieldOut := fixed.MulDiv(shares, p.ReserveYield, supply)
	baseOut := fixed.MulDiv(shares, p.ReserveBase, supply)

	if err := m.settleInterest(p, now); err != nil {
		return Liquidity{}, err
	}
	m.settleHolders(p, caller)
	if err := p.Shares.Burn(caller, shares); err != nil {
		return Liquidity{}, err
	}
	if err := m.pay(p, model.SideYield, caller, yieldOut, now); err != nil {
		return Liquidity{}, err
	}
	if err := m.pay(p, model.SideBase, caller, baseOut, now); err != nil {
		return Liquidity{}, err
	}
	p.adjust(m.journal, model.SideYield, new(big.Int).Neg(yieldOut))
	p.adjust(m.journal, model.SideBase, new(big.Int).Neg(baseOut))

	m.logger.Debug("remove liquidity dual",
		zap.String("pool", key.String()),
		zap.String("caller", caller.Hex()),
		zap.String("shares", shares.String()),
		zap.String("yield", yieldOut.String()),
		zap.String("base", baseOut.String()),
	)
	return Liquidity{Shares: fixed.Clone(shares), Yield: yieldOut, Base: baseOut}, nil
}

// AddLiquiditySingle deposits one side only. Shares are priced by the weighted join formula,
// which charges the swap fee on the part of the deposit implicitly swapped to the other side.
func (m *Market) AddLiquiditySingle(caller common.Address, key model.PoolKey, side model.Side, amount, minShares *big.Int, now uint64) (Liquidity, error) {
	p, err := m.Lookup(key)
	if err != nil {
		return Liquidity{}, err
	}
	if amount.Sign() <= 0 {
		return Liquidity{}, fmt.Errorf("%w: add liquidity", model.ErrZeroAmount)
	}
	if err := m.live(p, now); err != nil {
		return Liquidity{}, err
	}
	if err := m.tradable(p); err != nil {
		return Liquidity{}, err
	}
	wIn, _, err := m.sideWeights(p, side, now)
	if err != nil {
		return Liquidity{}, err
	}
	shares, fee, err := sharesForSingleIn(p.Reserve(side), p.Shares.Supply, wIn, amount, p.SwapFeeBps)
	if err != nil {
		return Liquidity{}, err
	}
	if shares.Sign() == 0 {
		return Liquidity{}, fmt.Errorf("%w: contribution too small for one share", model.ErrZeroAmount)
	}
	if minShares != nil && shares.Cmp(minShares) < 0 {
		return Liquidity{}, fmt.Errorf("%w: %s shares below %s", model.ErrSlippage, shares, minShares)
	}
	if m.balanceOf(p, side, caller).Cmp(amount) < 0 {
		return Liquidity{}, fmt.Errorf("%w: %s needs %s %s", model.ErrInsufficientBalance, caller.Hex(), amount, side)
	}
	protocolFee := fixed.Bps(fee, p.ProtocolFeeShareBps)
	kept := new(big.Int).Sub(amount, protocolFee)

	if err := m.settleInterest(p, now); err != nil {
		return Liquidity{}, err
	}
	if err := m.collect(p, side, caller, kept, now); err != nil {
		return Liquidity{}, err
	}
	if err := m.move(p, side, caller, m.cfg.Treasury, protocolFee, now); err != nil {
		return Liquidity{}, err
	}
	p.adjust(m.journal, side, kept)
	m.settleHolders(p, caller)
	p.Shares.Mint(caller, shares)

	m.logger.Debug("add liquidity single",
		zap.String("pool", key.String()),
		zap.String("caller", caller.Hex()),
		zap.String("side", string(side)),
		zap.String("amount", amount.String()),
		zap.String("shares", shares.String()),
	)
	out := Liquidity{Shares: shares, Yield: new(big.Int), Base: new(big.Int)}
	if side == model.SideYield {
		out.Yield.Set(amount)
	} else {
		out.Base.Set(amount)
	}
	return out, nil
}

// RemoveLiquiditySingle burns shares for one side only, priced by the weighted exit formula.
func (m *Market) RemoveLiquiditySingle(caller common.Address, key model.PoolKey, side model.Side, shares, minOut *big.Int, now uint64) (Liquidity, error) {
	p, err := m.Lookup(key)
	if err != nil {
		return Liquidity{}, err
	}
	if shares.Sign() <= 0 {
		return Liquidity{}, fmt.Errorf("%w: remove liquidity", model.ErrZeroAmount)
	}
	if !p.Shares.Has(caller, shares) {
		return Liquidity{}, fmt.Errorf("%w: %s shares of %s", model.ErrInsufficientBalance, shares, caller.Hex())
	}
	if err := m.tradable(p); err != nil {
		return Liquidity{}, err
	}
	_, wOut, err := m.sideWeights(p, side.Other(), now)
	if err != nil {
		return Liquidity{}, err
	}
	out, fee, err := outForSingleExit(p.Reserve(side), p.Shares.Supply, wOut, shares, p.SwapFeeBps)
	if err != nil {
		return Liquidity{}, err
	}
	protocolFee := fixed.Bps(fee, p.ProtocolFeeShareBps)
	if new(big.Int).Add(out, protocolFee).Cmp(p.Reserve(side)) >= 0 {
		return Liquidity{}, fmt.Errorf("%w: exit drains the %s reserve", model.ErrInsufficientLiquidity, side)
	}
	if minOut != nil && out.Cmp(minOut) < 0 {
		return Liquidity{}, fmt.Errorf("%w: out %s below %s", model.ErrSlippage, out, minOut)
	}

	if err := m.settleInterest(p, now); err != nil {
		return Liquidity{}, err
	}
	m.settleHolders(p, caller)
	if err := p.Shares.Burn(caller, shares); err != nil {
		return Liquidity{}, err
	}
	if err := m.pay(p, side, caller, out, now); err != nil {
		return Liquidity{}, err
	}
	if err := m.pay(p, side, m.cfg.Treasury, protocolFee, now); err != nil {
		return Liquidity{}, err
	}
	p.adjust(m.journal, side, new(big.Int).Neg(new(big.Int).Add(out, protocolFee)))

	m.logger.Debug("remove liquidity single",
		zap.String("pool", key.String()),
		zap.String("caller", caller.Hex()),
		zap.String("side", string(side)),
		zap.String("shares", shares.String()),
		zap.String("out", out.String()),
	)
	res := Liquidity{Shares: fixed.Clone(shares), Yield: new(big.Int), Base: new(big.Int)}
	if side == model.SideYield {
		res.Yield.Set(out)
	} else {
		res.Base.Set(out)
	}
	return res, nil
}

func (m *Market) checkFunds(p *Pool, caller common.Address, yieldAmount, baseAmount *big.Int) error {
	if m.balanceOf(p, model.SideYield, caller).Cmp(yieldAmount) < 0 {
		return fmt.Errorf("%w: %s needs %s yield claims", model.ErrInsufficientBalance, caller.Hex(), yieldAmount)
	}
	if m.balanceOf(p, model.SideBase, caller).Cmp(baseAmount) < 0 {
		return fmt.Errorf("%w: %s needs %s base", model.ErrInsufficientBalance, caller.Hex(), baseAmount)
	}
	return nil
}

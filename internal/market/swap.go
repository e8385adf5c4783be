package market

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"yieldsplit/internal/fixed"
	"yieldsplit/internal/model"
)

// Swap is a priced trade. In is the gross amount paid by the trader including Fee, of which
// ProtocolFee goes to the treasury and the rest stays with the liquidity providers.
type Swap struct {
	InSide      model.Side `json:"in_side"`
	In          *big.Int   `json:"in"`
	Out         *big.Int   `json:"out"`
	Fee         *big.Int   `json:"fee"`
	ProtocolFee *big.Int   `json:"protocol_fee"`
}

// QuoteExactIn prices selling amountIn of inSide.
func (m *Market) QuoteExactIn(key model.PoolKey, inSide model.Side, amountIn *big.Int, now uint64) (Swap, error) {
	p, err := m.Lookup(key)
	if err != nil {
		return Swap{}, err
	}
	return m.quoteExactIn(p, inSide, amountIn, now)
}

// QuoteExactOut prices buying amountOut of inSide's counter asset.
func (m *Market) QuoteExactOut(key model.PoolKey, inSide model.Side, amountOut *big.Int, now uint64) (Swap, error) {
	p, err := m.Lookup(key)
	if err != nil {
		return Swap{}, err
	}
	return m.quoteExactOut(p, inSide, amountOut, now)
}

func (m *Market) quoteExactIn(p *Pool, inSide model.Side, amountIn *big.Int, now uint64) (Swap, error) {
	if amountIn.Sign() <= 0 {
		return Swap{}, fmt.Errorf("%w: swap in", model.ErrZeroAmount)
	}
	if err := m.tradable(p); err != nil {
		return Swap{}, err
	}
	wIn, wOut, err := m.sideWeights(p, inSide, now)
	if err != nil {
		return Swap{}, err
	}
	fee := fixed.Bps(amountIn, p.SwapFeeBps)
	net := new(big.Int).Sub(amountIn, fee)
	out, err := outGivenIn(p.Reserve(inSide), p.Reserve(inSide.Other()), wIn, wOut, net)
	if err != nil {
		return Swap{}, err
	}
	if out.Sign() == 0 {
		return Swap{}, fmt.Errorf("%w: %s in yields nothing", model.ErrInsufficientLiquidity, amountIn)
	}
	return Swap{
		InSide:      inSide,
		In:          fixed.Clone(amountIn),
		Out:         out,
		Fee:         fee,
		ProtocolFee: fixed.Bps(fee, p.ProtocolFeeShareBps),
	}, nil
}

func (m *Market) quoteExactOut(p *Pool, inSide model.Side, amountOut *big.Int, now uint64) (Swap, error) {
	if amountOut.Sign() <= 0 {
		return Swap{}, fmt.Errorf("%w: swap out", model.ErrZeroAmount)
	}
	if err := m.tradable(p); err != nil {
		return Swap{}, err
	}
	wIn, wOut, err := m.sideWeights(p, inSide, now)
	if err != nil {
		return Swap{}, err
	}
	net, err := inGivenOut(p.Reserve(inSide), p.Reserve(inSide.Other()), wIn, wOut, amountOut)
	if err != nil {
		return Swap{}, err
	}
	gross := fixed.MulDivUp(net, fixed.One, feeFactor(p.SwapFeeBps))
	fee := new(big.Int).Sub(gross, net)
	return Swap{
		InSide:      inSide,
		In:          gross,
		Out:         fixed.Clone(amountOut),
		Fee:         fee,
		ProtocolFee: fixed.Bps(fee, p.ProtocolFeeShareBps),
	}, nil
}

func (m *Market) tradable(p *Pool) error {
	if p.ReserveYield.Sign() == 0 || p.ReserveBase.Sign() == 0 {
		return fmt.Errorf("%w: %s has no liquidity", model.ErrInsufficientLiquidity, p.Key)
	}
	return nil
}

// SwapExactIn sells amountIn of inSide for at least minOut of the other side.
func (m *Market) SwapExactIn(caller common.Address, key model.PoolKey, inSide model.Side, amountIn, minOut *big.Int, now uint64) (Swap, error) {
	p, err := m.Lookup(key)
	if err != nil {
		return Swap{}, err
	}
	if err := m.live(p, now); err != nil {
		return Swap{}, err
	}
	quote, err := m.quoteExactIn(p, inSide, amountIn, now)
	if err != nil {
		return Swap{}, err
	}
	if minOut != nil && quote.Out.Cmp(minOut) < 0 {
		return Swap{}, fmt.Errorf("%w: out %s below %s", model.ErrSlippage, quote.Out, minOut)
	}
	if err := m.execute(caller, p, quote, now); err != nil {
		return Swap{}, err
	}
	return quote, nil
}

// SwapExactOut buys amountOut of the side opposite inSide for at most maxIn.
func (m *Market) SwapExactOut(caller common.Address, key model.PoolKey, inSide model.Side, amountOut, maxIn *big.Int, now uint64) (Swap, error) {
	p, err := m.Lookup(key)
	if err != nil {
		return Swap{}, err
	}
	if err := m.live(p, now); err != nil {
		return Swap{}, err
	}
	quote, err := m.quoteExactOut(p, inSide, amountOut, now)
	if err != nil {
		return Swap{}, err
	}
	if maxIn != nil && maxIn.Sign() > 0 && quote.In.Cmp(maxIn) > 0 {
		return Swap{}, fmt.Errorf("%w: in %s above %s", model.ErrSlippage, quote.In, maxIn)
	}
	if err := m.execute(caller, p, quote, now); err != nil {
		return Swap{}, err
	}
	return quote, nil
}

func (m *Market) execute(caller common.Address, p *Pool, q Swap, now uint64) error {
	if m.balanceOf(p, q.InSide, caller).Cmp(q.In) < 0 {
		return fmt.Errorf("%w: %s needs %s %s", model.ErrInsufficientBalance, caller.Hex(), q.In, q.InSide)
	}
	if err := m.settleInterest(p, now); err != nil {
		return err
	}

	kept := new(big.Int).Sub(q.In, q.ProtocolFee)
	if err := m.collect(p, q.InSide, caller, kept, now); err != nil {
		return err
	}
	if err := m.move(p, q.InSide, caller, m.cfg.Treasury, q.ProtocolFee, now); err != nil {
		return err
	}
	if err := m.pay(p, q.InSide.Other(), caller, q.Out, now); err != nil {
		return err
	}
	p.adjust(m.journal, q.InSide, kept)
	p.adjust(m.journal, q.InSide.Other(), new(big.Int).Neg(q.Out))

	m.logger.Debug("swap",
		zap.String("pool", p.Key.String()),
		zap.String("caller", caller.Hex()),
		zap.String("in_side", string(q.InSide)),
		zap.String("in", q.In.String()),
		zap.String("out", q.Out.String()),
		zap.String("fee", q.Fee.String()),
	)
	return nil
}

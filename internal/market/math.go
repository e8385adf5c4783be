package market

import (
	"fmt"
	"math/big"

	"yieldsplit/internal/fixed"
	"yieldsplit/internal/model"
)

var (
	// pi at the fixed.One scale, the steepness of the yield-side weight decay.
	pi = fixed.MustParse("3141592653589793238")

	lnPiPlusOne = mustLn(new(big.Int).Add(pi, fixed.One))
)

func mustLn(x *big.Int) *big.Int {
	v, err := fixed.Ln(x)
	if err != nil {
		panic(err)
	}
	return v
}

// yieldWeight returns the yield-side weight at now:
// floor + (initial - floor) * ln(pi*tau + 1) / ln(pi + 1), tau = timeLeft / lifetime.
func yieldWeight(initial, floor *big.Int, createdAt, expiry, now uint64) (*big.Int, error) {
	if now >= expiry || expiry <= createdAt {
		return fixed.Clone(floor), nil
	}
	if now < createdAt {
		now = createdAt
	}
	tau := fixed.MulDiv(new(big.Int).SetUint64(expiry-now), fixed.One, new(big.Int).SetUint64(expiry-createdAt))
	arg := new(big.Int).Add(fixed.Mul(pi, tau), fixed.One)
	l, err := fixed.Ln(arg)
	if err != nil {
		return nil, err
	}
	span := new(big.Int).Sub(initial, floor)
	w := fixed.MulDiv(span, l, lnPiPlusOne)
	return w.Add(w, floor), nil
}

// feeFactor returns One - fee.
func feeFactor(feeBps uint32) *big.Int {
	return new(big.Int).Sub(fixed.One, fixed.BpsToWad(feeBps))
}

// outGivenIn prices a swap of netIn against the weighted constant-mean invariant:
// out = rOut * (1 - (rIn / (rIn + netIn))^(wIn/wOut)).
func outGivenIn(rIn, rOut, wIn, wOut, netIn *big.Int) (*big.Int, error) {
	if netIn.Sign() <= 0 {
		return new(big.Int), nil
	}
	ratio := fixed.MulDivUp(rIn, fixed.One, new(big.Int).Add(rIn, netIn))
	p, err := fixed.Pow(ratio, fixed.Div(wIn, wOut))
	if err != nil {
		return nil, fmt.Errorf("price swap: %w", err)
	}
	if p.Cmp(fixed.One) >= 0 {
		return new(big.Int), nil
	}
	out := fixed.Mul(rOut, new(big.Int).Sub(fixed.One, p))
	if out.Cmp(rOut) >= 0 {
		return nil, fmt.Errorf("%w: output drains the reserve", model.ErrInsufficientLiquidity)
	}
	return out, nil
}

// inGivenOut is the inverse of outGivenIn, rounded up:
// netIn = rIn * ((rOut / (rOut - out))^(wOut/wIn) - 1).
func inGivenOut(rIn, rOut, wIn, wOut, out *big.Int) (*big.Int, error) {
	if out.Cmp(rOut) >= 0 {
		return nil, fmt.Errorf("%w: requested %s of %s", model.ErrInsufficientLiquidity, out, rOut)
	}
	ratio := fixed.MulDivUp(rOut, fixed.One, new(big.Int).Sub(rOut, out))
	p, err := fixed.Pow(ratio, fixed.Div(wOut, wIn))
	if err != nil {
		return nil, fmt.Errorf("price swap: %w", err)
	}
	net := fixed.MulDivUp(rIn, new(big.Int).Sub(p, fixed.One), fixed.One)
	return net, nil
}

// sharesForSingleIn is the weighted join of one asset:
// shares = supply * ((1 + in*(1 - (1-wIn)*fee)/rIn)^wIn - 1).
// It also returns the implicit swap fee kept by the pool.
func sharesForSingleIn(rIn, supply, wIn, amountIn *big.Int, feeBps uint32) (*big.Int, *big.Int, error) {
	taxable := new(big.Int).Sub(fixed.One, wIn)
	fee := fixed.Mul(amountIn, fixed.Mul(taxable, fixed.BpsToWad(feeBps)))
	net := new(big.Int).Sub(amountIn, fee)

	ratio := new(big.Int).Add(fixed.One, fixed.Div(net, rIn))
	p, err := fixed.Pow(ratio, wIn)
	if err != nil {
		return nil, nil, fmt.Errorf("price join: %w", err)
	}
	if p.Cmp(fixed.One) <= 0 {
		return new(big.Int), fee, nil
	}
	return fixed.Mul(supply, new(big.Int).Sub(p, fixed.One)), fee, nil
}

// outForSingleExit is the weighted exit to one asset:
// out = rOut * (1 - (1 - shares/supply)^(1/wOut)) * (1 - (1-wOut)*fee).
// It also returns the implicit swap fee kept back from the payout.
func outForSingleExit(rOut, supply, wOut, shares *big.Int, feeBps uint32) (*big.Int, *big.Int, error) {
	ratio := new(big.Int).Sub(fixed.One, fixed.MulDivUp(shares, fixed.One, supply))
	if ratio.Sign() <= 0 {
		return nil, nil, fmt.Errorf("%w: exit of the whole supply", model.ErrInsufficientLiquidity)
	}
	p, err := fixed.Pow(ratio, fixed.Div(fixed.One, wOut))
	if err != nil {
		return nil, nil, fmt.Errorf("price exit: %w", err)
	}
	if p.Cmp(fixed.One) >= 0 {
		return new(big.Int), new(big.Int), nil
	}
	gross := fixed.Mul(rOut, new(big.Int).Sub(fixed.One, p))
	taxable := new(big.Int).Sub(fixed.One, wOut)
	fee := fixed.Mul(gross, fixed.Mul(taxable, fixed.BpsToWad(feeBps)))
	return new(big.Int).Sub(gross, fee), fee, nil
}

// Package report summarizes series and pools with implied yields formatted as decimals.
package report

import (
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"yieldsplit/internal/engine"
	"yieldsplit/internal/model"
)

const (
	secondsPerYear = 365 * 24 * 3600
	wadDecimals    = 18
	aprPlaces      = 6
)

// Report is the full set of rows for one point in time.
type Report struct {
	AsOf   time.Time             `json:"as_of"`
	Series []model.SeriesMetrics `json:"series"`
	Pools  []model.PoolMetrics   `json:"pools"`
}

// FormatWad renders a fixed-point value with 18 decimals.
func FormatWad(v *big.Int) string {
	return model.FormatUnits(v, wadDecimals)
}

// RealizedAPR annualizes the growth from baseRate to rate over elapsed seconds:
// (rate/baseRate - 1) * year / elapsed. It returns nil when nothing has elapsed.
func RealizedAPR(baseRate, rate *big.Int, elapsed uint64) *decimal.Decimal {
	if elapsed == 0 || baseRate == nil || baseRate.Sign() <= 0 || rate == nil {
		return nil
	}
	growth := new(big.Rat).SetFrac(new(big.Int).Sub(rate, baseRate), baseRate)
	growth.Mul(growth, new(big.Rat).SetFrac64(secondsPerYear, int64(elapsed)))
	return ratDecimal(growth)
}

// ImpliedAPR reads the price of one yield claim in base units as the interest the market
// expects until expiry, annualized: price * year / remaining. It returns nil at or after expiry.
func ImpliedAPR(price *big.Int, now, expiry uint64) *decimal.Decimal {
	if price == nil || now >= expiry {
		return nil
	}
	apr := new(big.Rat).SetFrac(price, new(big.Int).Exp(big.NewInt(10), big.NewInt(wadDecimals), nil))
	apr.Mul(apr, new(big.Rat).SetFrac64(secondsPerYear, int64(expiry-now)))
	return ratDecimal(apr)
}

func ratDecimal(r *big.Rat) *decimal.Decimal {
	d := decimal.NewFromBigInt(r.Num(), 0).DivRound(decimal.NewFromBigInt(r.Denom(), 0), aprPlaces)
	return &d
}

func fixedString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.StringFixed(aprPlaces)
	return &s
}

// Build collects the report rows of every series and pool at asOf.
func Build(e *engine.Engine, asOf uint64) (Report, error) {
	out := Report{AsOf: time.Unix(int64(asOf), 0).UTC()}

	for _, s := range e.ListSeries(asOf) {
		rate := s.LastRate
		end := asOf
		if asOf >= s.Key.Expiry {
			end = s.Key.Expiry
		} else if current, err := e.Vault().CurrentExchangeRate(s.Key.Asset); err == nil && current.Cmp(rate) > 0 {
			rate = current
		}
		var elapsed uint64
		if end > s.CreatedAt {
			elapsed = end - s.CreatedAt
		}

		out.Series = append(out.Series, model.SeriesMetrics{
			Series:      s.Key.String(),
			Asset:       s.Key.Asset.Hex(),
			Expiry:      time.Unix(int64(s.Key.Expiry), 0).UTC(),
			Status:      s.Status,
			Guard:       s.Guard,
			BaseRate:    FormatWad(s.BaseRate),
			LastRate:    FormatWad(rate),
			Index:       FormatWad(s.Index),
			YieldSupply: FormatWad(s.YieldSupply),
			Units:       FormatWad(s.Units),
			FeeUnits:    FormatWad(s.FeeUnits),
			ImpliedAPR:  fixedString(RealizedAPR(s.BaseRate, rate, elapsed)),
			AsOf:        out.AsOf,
		})
	}

	pools, err := e.ListPools(asOf)
	if err != nil {
		return Report{}, fmt.Errorf("list pools: %w", err)
	}
	for _, p := range pools {
		row := model.PoolMetrics{
			Pool:         p.Key.String(),
			Series:       p.Key.Series.String(),
			Base:         p.Key.Base.Hex(),
			Address:      p.Address.Hex(),
			Guard:        p.Guard,
			ReserveYield: FormatWad(p.Reserves.Yield),
			ReserveBase:  FormatWad(p.Reserves.Base),
			ShareSupply:  FormatWad(p.Reserves.ShareSupply),
			WeightYield:  FormatWad(p.Reserves.WeightYield),
			WeightBase:   FormatWad(p.Reserves.WeightBase),
			AsOf:         out.AsOf,
		}
		if p.SpotPrice != nil {
			price := FormatWad(p.SpotPrice)
			row.SpotPrice = &price
			row.ImpliedAPR = fixedString(ImpliedAPR(p.SpotPrice, asOf, p.Key.Series.Expiry))
		}
		out.Pools = append(out.Pools, row)
	}
	return out, nil
}

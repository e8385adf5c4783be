package report

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yieldsplit/internal/engine"
	"yieldsplit/internal/fixed"
	"yieldsplit/internal/market"
	"yieldsplit/internal/model"
)

var (
	dai   = common.HexToAddress("0xdddddddddddddddddddddddddddddddddddddddd")
	usdc  = common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")
	gov   = common.HexToAddress("0x9999999999999999999999999999999999999999")
	alice = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

const halfYear = secondsPerYear / 2

func TestRealizedAPR(t *testing.T) {
	apr := RealizedAPR(fixed.One, fixed.MustParse("1050000000000000000"), halfYear)
	require.NotNil(t, apr)
	assert.Equal(t, "0.100000", apr.StringFixed(aprPlaces))

	assert.Nil(t, RealizedAPR(fixed.One, fixed.One, 0))
	assert.Nil(t, RealizedAPR(new(big.Int), fixed.One, 10))
}

func TestImpliedAPR(t *testing.T) {
	apr := ImpliedAPR(fixed.MustParse("50000000000000000"), 0, halfYear)
	require.NotNil(t, apr)
	assert.Equal(t, "0.100000", apr.StringFixed(aprPlaces))

	assert.Nil(t, ImpliedAPR(fixed.One, halfYear, halfYear))
	assert.Nil(t, ImpliedAPR(nil, 0, halfYear))
}

func TestFormatWad(t *testing.T) {
	assert.Equal(t, "1.5", FormatWad(fixed.MustParse("1500000000000000000")))
	assert.Equal(t, "0", FormatWad(nil))
	assert.Equal(t, "0.000000000000000001", FormatWad(big.NewInt(1)))
}

func TestBuild(t *testing.T) {
	e := engine.New(engine.Params{
		Market:     market.Config{BaseAssets: []common.Address{usdc}},
		Governance: gov,
	}, nil)
	series := model.SeriesKey{Asset: dai, Expiry: 2 * secondsPerYear}
	pool := model.PoolKey{Series: series, Base: usdc}

	require.NoError(t, e.SetRate(gov, dai, fixed.One, 0))
	require.NoError(t, e.Fund(gov, dai, alice, fixed.Wad(100), 0))
	require.NoError(t, e.Fund(gov, usdc, alice, fixed.Wad(100), 0))
	require.NoError(t, e.NewSeries(series, 0))
	require.NoError(t, e.CreatePool(pool, 0))
	_, err := e.Tokenize(alice, series, fixed.Wad(100), alice, 0)
	require.NoError(t, err)
	_, err = e.Bootstrap(alice, pool, fixed.Wad(100), fixed.Wad(5), 0)
	require.NoError(t, err)
	require.NoError(t, e.SetRate(gov, dai, fixed.MustParse("1050000000000000000"), halfYear))

	rep, err := Build(e, halfYear)
	require.NoError(t, err)

	require.Len(t, rep.Series, 1)
	row := rep.Series[0]
	assert.Equal(t, series.String(), row.Series)
	assert.Equal(t, "active", row.Status)
	assert.Equal(t, "1.05", row.LastRate)
	assert.Equal(t, "100", row.YieldSupply)
	require.NotNil(t, row.ImpliedAPR)
	assert.Equal(t, "0.100000", *row.ImpliedAPR)

	require.Len(t, rep.Pools, 1)
	p := rep.Pools[0]
	assert.Equal(t, "100", p.ReserveYield)
	assert.Equal(t, "5", p.ReserveBase)
	require.NotNil(t, p.SpotPrice)
	require.NotNil(t, p.ImpliedAPR)
	assert.Equal(t, int64(halfYear), rep.AsOf.Unix())
}

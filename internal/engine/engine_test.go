package engine

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yieldsplit/internal/fixed"
	"yieldsplit/internal/forge"
	"yieldsplit/internal/market"
	"yieldsplit/internal/mining"
	"yieldsplit/internal/model"
)

const expiry = 1_000_000

var (
	dai      = common.HexToAddress("0xdddddddddddddddddddddddddddddddddddddddd")
	usdc     = common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")
	reward   = common.HexToAddress("0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee")
	gov      = common.HexToAddress("0x9999999999999999999999999999999999999999")
	handler  = common.HexToAddress("0x8888888888888888888888888888888888888888")
	treasury = common.HexToAddress("0x7777777777777777777777777777777777777777")
	alice    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob      = common.HexToAddress("0x2222222222222222222222222222222222222222")
	carol    = common.HexToAddress("0x3333333333333333333333333333333333333333")
	dave     = common.HexToAddress("0x4444444444444444444444444444444444444444")

	series = model.SeriesKey{Asset: dai, Expiry: expiry}
	pool   = model.PoolKey{Series: series, Base: usdc}
)

func testParams() Params {
	return Params{
		Forge:  forge.Config{Treasury: treasury},
		Market: market.Config{Treasury: treasury, BaseAssets: []common.Address{usdc}},
		Mining: mining.Config{
			StartTime:     0,
			EpochDuration: 100_000,
			VestingEpochs: 1,
			Denominator:   1,
			RewardToken:   reward,
			Base:          usdc,
		},
		Governance:       gov,
		EmergencyHandler: handler,
	}
}

// newEngine opens one series and its pool at t=0 and funds every actor with 1000 dai and
// 1000 usdc.
func newEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(testParams(), nil)
	require.NoError(t, e.SetRate(gov, dai, fixed.One, 0))
	for _, who := range []common.Address{alice, bob, carol, dave} {
		require.NoError(t, e.Fund(gov, dai, who, fixed.Wad(1000), 0))
		require.NoError(t, e.Fund(gov, usdc, who, fixed.Wad(1000), 0))
	}
	require.NoError(t, e.NewSeries(series, 0))
	require.NoError(t, e.CreatePool(pool, 0))
	return e
}

func within(t *testing.T, want, got *big.Int, tol int64) {
	t.Helper()
	diff := new(big.Int).Sub(want, got)
	assert.True(t, diff.Abs(diff).Cmp(big.NewInt(tol)) <= 0, "want %s got %s", want, got)
}

func TestInterestFairnessAcrossActors(t *testing.T) {
	e := newEngine(t)
	amount := fixed.Wad(100)

	// alice holds claims, bob holds pool shares, carol stakes pool shares, dave holds nothing.
	for _, who := range []common.Address{alice, bob, carol} {
		_, err := e.Tokenize(who, series, amount, who, 0)
		require.NoError(t, err)
	}
	_, err := e.Bootstrap(bob, pool, amount, amount, 0)
	require.NoError(t, err)
	added, err := e.AddLiquidityDual(carol, pool, amount, amount, nil, 0)
	require.NoError(t, err)
	require.NoError(t, e.Stake(carol, series, added.Shares, 0))

	require.NoError(t, e.SetRate(gov, dai, fixed.MustParse("1100000000000000000"), 1000))

	held, err := e.RedeemDueInterests(alice, series, alice, 2000)
	require.NoError(t, err)
	lp, err := e.RedeemLPInterests(bob, pool, bob, 2000)
	require.NoError(t, err)
	staked, err := e.RedeemStakedLPInterests(carol, series, carol, 2000)
	require.NoError(t, err)
	nothing, err := e.RedeemDueInterests(dave, series, dave, 2000)
	require.NoError(t, err)

	within(t, fixed.Wad(10), held, 1_000_000)
	within(t, held, lp, 1_000_000)
	within(t, held, staked, 1_000_000)
	assert.Zero(t, nothing.Sign())
}

func TestFailedOperationLeavesStateUntouched(t *testing.T) {
	e := newEngine(t)
	_, err := e.Tokenize(alice, series, fixed.Wad(100), alice, 0)
	require.NoError(t, err)
	_, err = e.Bootstrap(alice, pool, fixed.Wad(50), fixed.Wad(50), 0)
	require.NoError(t, err)
	require.NoError(t, e.SetRate(gov, dai, fixed.MustParse("1050000000000000000"), 100))

	before, err := e.Snapshot()
	require.NoError(t, err)

	_, err = e.SwapExactIn(bob, pool, model.SideBase, fixed.Wad(10), fixed.Wad(1000), 200)
	require.ErrorIs(t, err, model.ErrSlippage)
	_, err = e.RedeemUnderlying(bob, series, fixed.Wad(1), bob, 200)
	require.ErrorIs(t, err, model.ErrInsufficientBalance)

	after, err := e.Snapshot()
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestAtomicRevertsPartialChanges(t *testing.T) {
	e := newEngine(t)
	_, err := e.Tokenize(alice, series, fixed.Wad(100), alice, 0)
	require.NoError(t, err)
	_, err = e.Bootstrap(alice, pool, fixed.Wad(50), fixed.Wad(50), 0)
	require.NoError(t, err)

	before, err := e.Snapshot()
	require.NoError(t, err)
	applied := e.Applied()

	late := errors.New("late failure")
	err = e.atomic(500, func() error {
		require.NoError(t, e.vault.SetRate(dai, fixed.MustParse("1100000000000000000")))
		require.NoError(t, e.forge.SyncRate(dai, 500))
		_, err := e.forge.Tokenize(bob, series, fixed.Wad(10), carol, 500)
		require.NoError(t, err)
		_, err = e.market.SwapExactIn(bob, pool, model.SideBase, fixed.Wad(5), nil, 500)
		require.NoError(t, err)
		require.NoError(t, e.mining.Stake(alice, series, fixed.Wad(1), 500))
		_, err = e.forge.NewSeries(model.SeriesKey{Asset: dai, Expiry: 2 * expiry}, 500)
		require.NoError(t, err)
		e.bank.Credit(reward, dave, fixed.Wad(1))
		return late
	})
	require.ErrorIs(t, err, late)

	after, err := e.Snapshot()
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
	assert.Equal(t, applied, e.Applied())
}

func TestJournalGrowsWithTouchedEntriesOnly(t *testing.T) {
	entries := func(holders int) int {
		e := newEngine(t)
		for i := 0; i < holders; i++ {
			h := common.BigToAddress(big.NewInt(int64(10_000 + i)))
			require.NoError(t, e.Fund(gov, dai, h, fixed.Wad(1), 0))
			_, err := e.Tokenize(h, series, fixed.Wad(1), h, 0)
			require.NoError(t, err)
		}
		_, err := e.Tokenize(alice, series, fixed.Wad(10), alice, 0)
		require.NoError(t, err)
		require.NoError(t, e.SetRate(gov, dai, fixed.MustParse("1010000000000000000"), 10))

		e.journal.Begin()
		require.NoError(t, e.forge.TransferYield(alice, bob, series, fixed.Wad(1), 20))
		n := e.journal.Len()
		e.journal.Rollback()
		return n
	}

	few, many := entries(5), entries(300)
	assert.Positive(t, few)
	assert.Equal(t, few, many)
}

func TestRatePublishedBeforeExpiryNeedsNoTouch(t *testing.T) {
	e := newEngine(t)
	_, err := e.Tokenize(alice, series, fixed.Wad(100), alice, 0)
	require.NoError(t, err)
	require.NoError(t, e.SetRate(gov, dai, fixed.MustParse("1100000000000000000"), expiry/2))

	paid, err := e.RedeemDueInterests(alice, series, alice, expiry+10)
	require.NoError(t, err)
	within(t, fixed.Wad(10), paid, 1_000_000)

	r, err := e.RedeemAfterExpiry(alice, series, alice, expiry+20)
	require.NoError(t, err)
	within(t, fixed.Wad(100), r.Principal, 1_000)
	assert.Zero(t, r.Interest.Sign())

	summaries := e.ListSeries(expiry + 20)
	require.Len(t, summaries, 1)
	within(t, new(big.Int), summaries[0].Units, 1_000)
	assert.Zero(t, summaries[0].FeeUnits.Sign())
}

func TestGovernanceOnlyOperations(t *testing.T) {
	e := newEngine(t)

	require.ErrorIs(t, e.Fund(alice, dai, alice, fixed.Wad(1), 0), model.ErrUnauthorized)
	require.ErrorIs(t, e.SetRate(alice, dai, fixed.Wad(2), 0), model.ErrUnauthorized)
	require.ErrorIs(t, e.SetEpochBudget(alice, fixed.Wad(1), 0), model.ErrUnauthorized)
	require.ErrorIs(t, e.SetAllocation(alice, []model.SeriesKey{series}, []uint64{1}, 0), model.ErrUnauthorized)
	require.ErrorIs(t, e.Pause(alice, series.String(), 0), model.ErrUnauthorized)
	_, err := e.WithdrawForgeFees(alice, series, alice, 0)
	require.ErrorIs(t, err, model.ErrUnauthorized)
}

func TestPauseAndLock(t *testing.T) {
	e := newEngine(t)
	_, err := e.Tokenize(alice, series, fixed.Wad(100), alice, 0)
	require.NoError(t, err)
	_, err = e.Bootstrap(alice, pool, fixed.Wad(50), fixed.Wad(50), 0)
	require.NoError(t, err)

	require.NoError(t, e.Pause(gov, pool.String(), 10))
	_, err = e.SwapExactIn(bob, pool, model.SideBase, fixed.Wad(1), nil, 10)
	require.ErrorIs(t, err, model.ErrPaused)
	_, err = e.Tokenize(bob, series, fixed.Wad(1), bob, 10)
	require.NoError(t, err, "a paused pool leaves its series usable")

	// read-only queries stay available
	_, err = e.Market().GetReserves(pool, 10)
	require.NoError(t, err)

	require.NoError(t, e.Unpause(gov, pool.String(), 20))
	_, err = e.SwapExactIn(bob, pool, model.SideBase, fixed.Wad(1), nil, 20)
	require.NoError(t, err)

	require.NoError(t, e.Lock(gov, series.String(), 30))
	_, err = e.Tokenize(bob, series, fixed.Wad(1), bob, 30)
	require.ErrorIs(t, err, model.ErrLocked)
	_, err = e.SwapExactIn(bob, pool, model.SideBase, fixed.Wad(1), nil, 30)
	require.ErrorIs(t, err, model.ErrLocked)
	require.ErrorIs(t, e.Unpause(gov, series.String(), 30), model.ErrLocked)
}

func TestEmergencySweep(t *testing.T) {
	e := newEngine(t)
	_, err := e.Tokenize(alice, series, fixed.Wad(100), alice, 0)
	require.NoError(t, err)
	_, err = e.Bootstrap(alice, pool, fixed.Wad(50), fixed.Wad(40), 0)
	require.NoError(t, err)

	_, _, err = e.EmergencySweep(handler, pool, handler, 10)
	require.ErrorIs(t, err, model.ErrUnauthorized, "pool must be locked first")

	require.NoError(t, e.Lock(gov, pool.String(), 10))
	_, _, err = e.EmergencySweep(gov, pool, gov, 10)
	require.ErrorIs(t, err, model.ErrUnauthorized, "only the emergency handler may sweep")

	y, b, err := e.EmergencySweep(handler, pool, handler, 10)
	require.NoError(t, err)
	assert.Equal(t, fixed.Wad(50), y)
	assert.Equal(t, fixed.Wad(40), b)
	assert.Equal(t, fixed.Wad(50), e.Forge().YieldBalance(series, handler))
	assert.Equal(t, fixed.Wad(40), e.Bank().Balance(usdc, handler))
}

func TestSnapshotRestore(t *testing.T) {
	e := newEngine(t)
	_, err := e.Tokenize(alice, series, fixed.Wad(100), alice, 0)
	require.NoError(t, err)
	_, err = e.Bootstrap(alice, pool, fixed.Wad(60), fixed.Wad(60), 0)
	require.NoError(t, err)
	require.NoError(t, e.Pause(gov, series.String(), 5))
	require.NoError(t, e.Unpause(gov, series.String(), 6))
	require.NoError(t, e.SetRate(gov, dai, fixed.MustParse("1020000000000000000"), 100))

	data, err := e.Snapshot()
	require.NoError(t, err)

	restored := New(testParams(), nil)
	require.NoError(t, restored.Restore(data))
	again, err := restored.Snapshot()
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))
	assert.Equal(t, e.Applied(), restored.Applied())
	assert.Equal(t, uint64(100), restored.LastTime())

	// both copies evolve identically
	s1, err := e.SwapExactIn(bob, pool, model.SideBase, fixed.Wad(5), nil, 200)
	require.NoError(t, err)
	s2, err := restored.SwapExactIn(bob, pool, model.SideBase, fixed.Wad(5), nil, 200)
	require.NoError(t, err)
	assert.Equal(t, s1.Out, s2.Out)

	require.Error(t, restored.Restore([]byte(`{"version":99}`)))
}

func TestApplyOperations(t *testing.T) {
	e := New(testParams(), nil)
	lines := []string{
		`{"op":"set_rate","time":0,"caller":"0x9999999999999999999999999999999999999999","asset":"0xdddddddddddddddddddddddddddddddddddddddd","rate":"1000000000000000000"}`,
		`{"op":"fund","time":0,"caller":"0x9999999999999999999999999999999999999999","recipient":"0x1111111111111111111111111111111111111111","asset":"0xdddddddddddddddddddddddddddddddddddddddd","amount":"500000000000000000000"}`,
		`{"op":"new_series","time":0,"asset":"0xdddddddddddddddddddddddddddddddddddddddd","expiry":1000000}`,
		`{"op":"new_series","time":1,"asset":"0xdddddddddddddddddddddddddddddddddddddddd","expiry":1000000}`,
		`{"id":"tok-1","op":"tokenize","time":2,"caller":"0x1111111111111111111111111111111111111111","asset":"0xdddddddddddddddddddddddddddddddddddddddd","expiry":1000000,"amount":"100000000000000000000"}`,
		`{"op":"tokenize","time":3,"caller":"0x1111111111111111111111111111111111111111","asset":"0xdddddddddddddddddddddddddddddddddddddddd","expiry":1000000,"amount":"0"}`,
		`{"op":"swap_exact_in","time":4,"caller":"0x1111111111111111111111111111111111111111","asset":"0xdddddddddddddddddddddddddddddddddddddddd","expiry":1000000,"base":"0xcccccccccccccccccccccccccccccccccccccccc","side":"base","amount":"1"}`,
		`{"op":"mint_everything","time":5}`,
	}
	wantKinds := []string{"", "", "", "DuplicateSeries", "", "ZeroAmount", "PoolNotFound", "UnknownOperation"}

	for i, line := range lines {
		var op model.Operation
		require.NoError(t, json.Unmarshal([]byte(line), &op))
		res := e.Apply(op)
		assert.Equal(t, wantKinds[i], res.ErrorKind, "line %d: %s", i, res.Error)
		assert.Equal(t, wantKinds[i] == "", res.OK, "line %d", i)
		assert.NotEmpty(t, res.ID)
		if op.ID == "tok-1" {
			assert.Equal(t, "tok-1", res.ID)
			assert.Equal(t, "100000000000000000000", res.Outputs["minted"])
		}
	}
	assert.Equal(t, uint64(4), e.Applied())
	assert.Equal(t, fixed.Wad(100), e.Forge().YieldBalance(series, alice))
}

func TestApplyGuardTargets(t *testing.T) {
	e := newEngine(t)
	res := e.Apply(model.Operation{
		Op:     model.OpPause,
		Time:   1,
		Caller: gov.Hex(),
		Asset:  dai.Hex(),
		Expiry: expiry,
		Base:   usdc.Hex(),
	})
	require.True(t, res.OK, res.Error)

	res = e.Apply(model.Operation{
		Op:     model.OpBootstrap,
		Time:   2,
		Caller: alice.Hex(),
		Asset:  dai.Hex(),
		Expiry: expiry,
		Base:   usdc.Hex(),
		Amount: "1", BaseAmount: "1",
	})
	assert.Equal(t, "Paused", res.ErrorKind)

	pools, err := e.ListPools(2)
	require.NoError(t, err)
	require.Len(t, pools, 1)
	assert.Equal(t, "paused", pools[0].Guard)
	assert.Nil(t, pools[0].SpotPrice)

	summaries := e.ListSeries(2)
	require.Len(t, summaries, 1)
	assert.Equal(t, "active", summaries[0].Status)
	assert.Empty(t, summaries[0].Guard)
}

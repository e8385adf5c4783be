package forge

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yieldsplit/internal/fixed"
	"yieldsplit/internal/model"
	"yieldsplit/internal/token"
	"yieldsplit/internal/yieldsource"
)

var (
	dai      = common.HexToAddress("0xdddddddddddddddddddddddddddddddddddddddd")
	alice    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob      = common.HexToAddress("0x2222222222222222222222222222222222222222")
	treasury = common.HexToAddress("0x7777777777777777777777777777777777777777")
)

type fixture struct {
	forge *Forge
	bank  *token.Bank
	vault *yieldsource.Vault
	key   model.SeriesKey
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	bank := token.NewBank()
	vault := yieldsource.NewVault()
	require.NoError(t, vault.SetRate(dai, fixed.One))
	bank.Credit(dai, alice, fixed.Wad(1000))
	bank.Credit(dai, bob, fixed.Wad(1000))

	cfg.Treasury = treasury
	f := New(cfg, bank, vault, nil)
	key := model.SeriesKey{Asset: dai, Expiry: 1000}
	_, err := f.NewSeries(key, 0)
	require.NoError(t, err)
	return &fixture{forge: f, bank: bank, vault: vault, key: key}
}

func within(t *testing.T, want, got *big.Int, tol int64) {
	t.Helper()
	diff := new(big.Int).Sub(want, got)
	assert.True(t, diff.Abs(diff).Cmp(big.NewInt(tol)) <= 0, "want %s got %s", want, got)
}

func TestNewSeriesValidation(t *testing.T) {
	fx := newFixture(t, Config{ExpiryGrid: 100})

	_, err := fx.forge.NewSeries(fx.key, 0)
	assert.ErrorIs(t, err, model.ErrDuplicateSeries)

	_, err = fx.forge.NewSeries(model.SeriesKey{Asset: dai, Expiry: 50}, 60)
	assert.ErrorIs(t, err, model.ErrInvalidExpiry)

	_, err = fx.forge.NewSeries(model.SeriesKey{Asset: dai, Expiry: 1050}, 0)
	assert.ErrorIs(t, err, model.ErrInvalidExpiry)

	_, err = fx.forge.NewSeries(model.SeriesKey{Asset: bob, Expiry: 2000}, 0)
	assert.ErrorIs(t, err, model.ErrInvalidFactoryOrAssetPair)

	_, err = fx.forge.Tokenize(alice, model.SeriesKey{Asset: dai, Expiry: 3000}, fixed.Wad(1), alice, 0)
	assert.ErrorIs(t, err, model.ErrSeriesNotFound)
}

func TestTokenizeMintsBothClaims(t *testing.T) {
	fx := newFixture(t, Config{})

	out, err := fx.forge.Tokenize(alice, fx.key, fixed.Wad(100), bob, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Cmp(fixed.Wad(100)))
	assert.Equal(t, 0, fx.forge.PrincipalBalance(fx.key, bob).Cmp(fixed.Wad(100)))
	assert.Equal(t, 0, fx.forge.YieldBalance(fx.key, bob).Cmp(fixed.Wad(100)))
	assert.Equal(t, 0, fx.bank.Balance(dai, alice).Cmp(fixed.Wad(900)))

	_, err = fx.forge.Tokenize(alice, fx.key, fixed.Zero(), alice, 10)
	assert.ErrorIs(t, err, model.ErrZeroAmount)
	_, err = fx.forge.Tokenize(alice, fx.key, fixed.Wad(5000), alice, 10)
	assert.ErrorIs(t, err, model.ErrInsufficientBalance)
	_, err = fx.forge.Tokenize(alice, fx.key, fixed.Wad(1), alice, 1000)
	assert.ErrorIs(t, err, model.ErrYieldContractExpired)
}

func TestRedeemDueInterestsIsIdempotent(t *testing.T) {
	fx := newFixture(t, Config{})
	_, err := fx.forge.Tokenize(alice, fx.key, fixed.Wad(100), alice, 0)
	require.NoError(t, err)

	require.NoError(t, fx.vault.SetRate(dai, fixed.MustParse("1100000000000000000")))

	due, err := fx.forge.DueInterests(fx.key, alice, 10)
	require.NoError(t, err)

	first, err := fx.forge.RedeemDueInterests(alice, fx.key, alice, 10)
	require.NoError(t, err)
	within(t, fixed.Wad(10), first, 1_000)
	within(t, fixed.Mul(due, fixed.MustParse("1100000000000000000")), first, 1)

	second, err := fx.forge.RedeemDueInterests(alice, fx.key, alice, 20)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Sign())
}

func TestSettleOrderIndependent(t *testing.T) {
	run := func(order []common.Address) *fixture {
		fx := newFixture(t, Config{FeeBps: 300})
		_, err := fx.forge.Tokenize(alice, fx.key, fixed.Wad(30), alice, 0)
		require.NoError(t, err)
		_, err = fx.forge.Tokenize(bob, fx.key, fixed.Wad(70), bob, 0)
		require.NoError(t, err)
		require.NoError(t, fx.vault.SetRate(dai, fixed.MustParse("1234567890123456789")))
		for _, holder := range order {
			_, err := fx.forge.Settle(fx.key, holder, 50)
			require.NoError(t, err)
		}
		return fx
	}

	ab := run([]common.Address{alice, bob})
	ba := run([]common.Address{bob, alice})
	sAB, _ := ab.forge.Lookup(ab.key)
	sBA, _ := ba.forge.Lookup(ba.key)
	assert.Equal(t, 0, sAB.Interest.Pending(alice).Cmp(sBA.Interest.Pending(alice)))
	assert.Equal(t, 0, sAB.Interest.Pending(bob).Cmp(sBA.Interest.Pending(bob)))
	assert.Equal(t, 0, sAB.FeeUnits.Cmp(sBA.FeeUnits))
}

func TestTransferYieldSettlesBothSides(t *testing.T) {
	fx := newFixture(t, Config{})
	_, err := fx.forge.Tokenize(alice, fx.key, fixed.Wad(100), alice, 0)
	require.NoError(t, err)
	require.NoError(t, fx.vault.SetRate(dai, fixed.Wad(2)))

	require.NoError(t, fx.forge.TransferYield(alice, bob, fx.key, fixed.Wad(100), 10))

	// alice keeps the interest earned while she held the claims; bob starts from zero.
	aliceDue, err := fx.forge.DueInterests(fx.key, alice, 10)
	require.NoError(t, err)
	bobDue, err := fx.forge.DueInterests(fx.key, bob, 10)
	require.NoError(t, err)
	within(t, fixed.Wad(50), aliceDue, 100)
	assert.Equal(t, 0, bobDue.Sign())

	err = fx.forge.TransferYield(alice, bob, fx.key, fixed.Wad(1), 10)
	assert.ErrorIs(t, err, model.ErrInsufficientBalance)
}

func TestInterestStopsAtExpiry(t *testing.T) {
	fx := newFixture(t, Config{})
	_, err := fx.forge.Tokenize(alice, fx.key, fixed.Wad(100), alice, 0)
	require.NoError(t, err)

	require.NoError(t, fx.vault.SetRate(dai, fixed.MustParse("1100000000000000000")))
	_, err = fx.forge.Settle(fx.key, alice, 999)
	require.NoError(t, err)

	require.NoError(t, fx.vault.SetRate(dai, fixed.MustParse("1200000000000000000")))

	due, err := fx.forge.DueInterests(fx.key, alice, 1500)
	require.NoError(t, err)
	// units frozen at the 1.1 rate: 100 * (1 - 1/1.1)
	within(t, fixed.MustParse("9090909090909091000"), due, 1_000)

	paid, err := fx.forge.RedeemDueInterests(alice, fx.key, alice, 1500)
	require.NoError(t, err)
	assert.Positive(t, paid.Sign())

	again, err := fx.forge.RedeemDueInterests(alice, fx.key, alice, 1600)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Sign())
}

func TestRedeemUnderlyingBeforeExpiry(t *testing.T) {
	fx := newFixture(t, Config{})
	_, err := fx.forge.Tokenize(alice, fx.key, fixed.Wad(100), alice, 0)
	require.NoError(t, err)
	require.NoError(t, fx.vault.SetRate(dai, fixed.Wad(2)))

	out, err := fx.forge.RedeemUnderlying(alice, fx.key, fixed.Wad(40), alice, 10)
	require.NoError(t, err)
	within(t, fixed.Wad(40), out, 2)
	assert.Equal(t, 0, fx.forge.PrincipalBalance(fx.key, alice).Cmp(fixed.Wad(60)))
	assert.Equal(t, 0, fx.forge.YieldBalance(fx.key, alice).Cmp(fixed.Wad(60)))

	// interest on the redeemed claims was settled before burning
	interest, err := fx.forge.RedeemDueInterests(alice, fx.key, alice, 10)
	require.NoError(t, err)
	within(t, fixed.Wad(100), interest, 1_000)

	require.NoError(t, fx.forge.TransferPrincipal(alice, bob, fx.key, fixed.Wad(10)))
	_, err = fx.forge.RedeemUnderlying(alice, fx.key, fixed.Wad(60), alice, 10)
	assert.ErrorIs(t, err, model.ErrInsufficientBalance)
	_, err = fx.forge.RedeemUnderlying(alice, fx.key, fixed.Wad(1), alice, 1000)
	assert.ErrorIs(t, err, model.ErrYieldContractExpired)
}

func TestRedeemAfterExpiry(t *testing.T) {
	fx := newFixture(t, Config{})
	_, err := fx.forge.Tokenize(alice, fx.key, fixed.Wad(100), alice, 0)
	require.NoError(t, err)

	_, err = fx.forge.RedeemAfterExpiry(alice, fx.key, alice, 999)
	assert.ErrorIs(t, err, model.ErrMustBeAfterExpiry)

	require.NoError(t, fx.vault.SetRate(dai, fixed.MustParse("1100000000000000000")))
	_, err = fx.forge.Settle(fx.key, alice, 999)
	require.NoError(t, err)

	r, err := fx.forge.RedeemAfterExpiry(alice, fx.key, bob, 1000)
	require.NoError(t, err)
	within(t, fixed.Wad(100), r.Principal, 2)
	within(t, fixed.Wad(10), r.Interest, 1_000)
	assert.Equal(t, 0, fx.forge.PrincipalBalance(fx.key, alice).Sign())
	assert.Equal(t, 0, fx.forge.YieldBalance(fx.key, alice).Sign())
	within(t, fixed.Wad(1110), fx.bank.Balance(dai, bob), 1_000)

	again, err := fx.forge.RedeemAfterExpiry(alice, fx.key, bob, 1100)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Total().Sign())
}

func TestRenewYield(t *testing.T) {
	fx := newFixture(t, Config{RenewalFeeBps: 100})
	_, err := fx.forge.Tokenize(alice, fx.key, fixed.Wad(100), alice, 0)
	require.NoError(t, err)

	_, err = fx.forge.RenewYield(alice, fx.key, 5000, 10_000, 500)
	assert.ErrorIs(t, err, model.ErrMustBeAfterExpiry)
	_, err = fx.forge.RenewYield(alice, fx.key, 5000, 0, 1000)
	assert.ErrorIs(t, err, model.ErrInvalidRenewalRate)
	_, err = fx.forge.RenewYield(alice, fx.key, 5000, 10_001, 1000)
	assert.ErrorIs(t, err, model.ErrInvalidRenewalRate)
	_, err = fx.forge.RenewYield(alice, fx.key, 900, 10_000, 1000)
	assert.ErrorIs(t, err, model.ErrInvalidExpiry)

	before := fx.bank.Balance(dai, alice)
	r, err := fx.forge.RenewYield(alice, fx.key, 5000, 5_000, 1000)
	require.NoError(t, err)
	within(t, fixed.Wad(100), r.Redeemed, 2)
	within(t, fixed.MustParse("500000000000000000"), r.Fee, 2)
	within(t, fixed.MustParse("49500000000000000000"), r.Renewed, 2)

	newKey := model.SeriesKey{Asset: dai, Expiry: 5000}
	assert.Equal(t, newKey, r.NewSeries)
	assert.Equal(t, 0, fx.forge.PrincipalBalance(newKey, alice).Cmp(r.Renewed))
	assert.Equal(t, 0, fx.forge.YieldBalance(newKey, alice).Cmp(r.Renewed))
	assert.Equal(t, 0, fx.bank.Balance(dai, treasury).Cmp(r.Fee))

	// the half not renewed lands in alice's wallet
	kept := new(big.Int).Sub(r.Redeemed, new(big.Int).Add(r.Renewed, r.Fee))
	assert.Equal(t, 0, fx.bank.Balance(dai, alice).Cmp(new(big.Int).Add(before, kept)))

	_, err = fx.forge.RenewYield(alice, fx.key, 5000, 10_000, 1100)
	assert.ErrorIs(t, err, model.ErrZeroAmount)
}

func TestForgeFeesAccrueToTreasury(t *testing.T) {
	fx := newFixture(t, Config{FeeBps: 1_000})
	_, err := fx.forge.Tokenize(alice, fx.key, fixed.Wad(100), alice, 0)
	require.NoError(t, err)
	require.NoError(t, fx.vault.SetRate(dai, fixed.Wad(2)))

	paid, err := fx.forge.RedeemDueInterests(alice, fx.key, alice, 10)
	require.NoError(t, err)
	within(t, fixed.Wad(90), paid, 100)

	fees, err := fx.forge.WithdrawFees(fx.key, treasury)
	require.NoError(t, err)
	within(t, fixed.Wad(10), fees, 100)
	assert.Equal(t, 0, fx.bank.Balance(dai, treasury).Cmp(fees))

	again, err := fx.forge.WithdrawFees(fx.key, treasury)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Sign())
}

func TestSyncRateKeepsInterestPublishedBeforeExpiry(t *testing.T) {
	fx := newFixture(t, Config{})
	_, err := fx.forge.Tokenize(alice, fx.key, fixed.Wad(100), alice, 0)
	require.NoError(t, err)

	// nobody touches the series between the rate change and expiry
	require.NoError(t, fx.vault.SetRate(dai, fixed.MustParse("1100000000000000000")))
	require.NoError(t, fx.forge.SyncRate(dai, 500))
	require.NoError(t, fx.vault.SetRate(dai, fixed.MustParse("1200000000000000000")))
	require.NoError(t, fx.forge.SyncRate(dai, 1000))

	s, err := fx.forge.Lookup(fx.key)
	require.NoError(t, err)
	assert.Equal(t, 0, s.LastRate.Cmp(fixed.MustParse("1100000000000000000")))

	paid, err := fx.forge.RedeemDueInterests(alice, fx.key, alice, 1010)
	require.NoError(t, err)
	// 100 * (1 - 1/1.1) units, valued at 1.2
	within(t, fixed.MustParse("10909090909090909200"), paid, 1_000)

	r, err := fx.forge.RedeemAfterExpiry(alice, fx.key, alice, 1020)
	require.NoError(t, err)
	within(t, fixed.Wad(100), r.Principal, 2)
	assert.Zero(t, r.Interest.Sign())
}

func TestRedeemAfterExpiryMovesPostExpiryYieldToFees(t *testing.T) {
	fx := newFixture(t, Config{})
	_, err := fx.forge.Tokenize(alice, fx.key, fixed.Wad(100), alice, 0)
	require.NoError(t, err)
	require.NoError(t, fx.vault.SetRate(dai, fixed.MustParse("1100000000000000000")))
	require.NoError(t, fx.forge.SyncRate(dai, 500))
	require.NoError(t, fx.vault.SetRate(dai, fixed.MustParse("1210000000000000000")))

	r, err := fx.forge.RedeemAfterExpiry(alice, fx.key, bob, 1100)
	require.NoError(t, err)
	within(t, fixed.Wad(100), r.Principal, 2)
	within(t, fixed.Wad(11), r.Interest, 1_000)

	// 100/1.1 - 100/1.21 units were earned by the principal reserve after expiry
	s, err := fx.forge.Lookup(fx.key)
	require.NoError(t, err)
	within(t, fixed.MustParse("8264462809917355372"), s.FeeUnits, 1_000)

	fees, err := fx.forge.WithdrawFees(fx.key, treasury)
	require.NoError(t, err)
	within(t, fixed.Wad(10), fees, 1_000)
	within(t, new(big.Int), s.Units, 10)
}

func TestRedeemAfterExpiryFailureChangesNothing(t *testing.T) {
	fx := newFixture(t, Config{})
	_, err := fx.forge.Tokenize(alice, fx.key, fixed.Wad(100), alice, 0)
	require.NoError(t, err)
	require.NoError(t, fx.vault.SetRate(dai, fixed.MustParse("1100000000000000000")))
	require.NoError(t, fx.forge.SyncRate(dai, 500))

	due, err := fx.forge.DueInterests(fx.key, alice, 1000)
	require.NoError(t, err)
	bobBefore := fx.bank.Balance(dai, bob)

	// the vault no longer holds enough units to pay out
	fx.vault.Units[dai].SetInt64(1)
	_, err = fx.forge.RedeemAfterExpiry(alice, fx.key, bob, 1000)
	require.ErrorIs(t, err, model.ErrInsufficientBalance)

	assert.Equal(t, 0, fx.forge.PrincipalBalance(fx.key, alice).Cmp(fixed.Wad(100)))
	assert.Equal(t, 0, fx.forge.YieldBalance(fx.key, alice).Cmp(fixed.Wad(100)))
	assert.Equal(t, 0, fx.bank.Balance(dai, bob).Cmp(bobBefore))
	still, err := fx.forge.DueInterests(fx.key, alice, 1000)
	require.NoError(t, err)
	assert.Equal(t, 0, due.Cmp(still))
	s, err := fx.forge.Lookup(fx.key)
	require.NoError(t, err)
	assert.Zero(t, s.FeeUnits.Sign())
}

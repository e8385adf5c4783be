// Package forge splits deposits of a yield-bearing asset into principal and yield claims and
// settles the yield claims' interest lazily through a per-series accrual index.
package forge

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"yieldsplit/internal/accrual"
	"yieldsplit/internal/fixed"
	"yieldsplit/internal/journal"
	"yieldsplit/internal/model"
	"yieldsplit/internal/token"
	"yieldsplit/internal/yieldsource"
)

// Config holds forge parameters.
type Config struct {
	FeeBps        uint32
	RenewalFeeBps uint32
	ExpiryGrid    uint64
	Treasury      common.Address
}

// Series is one (asset, expiry) pair. Interest is measured in yield-bearing units per
// principal unit: index(r) = One²/BaseRate − One²/r.
type Series struct {
	Key         model.SeriesKey `json:"key"`
	CreatedAt   uint64          `json:"created_at"`
	BaseRate    *big.Int        `json:"base_rate"`
	LastRate    *big.Int        `json:"last_rate"`
	Units       *big.Int        `json:"units"`
	FeeUnits    *big.Int        `json:"fee_units"`
	LastSettled uint64          `json:"last_settled"`
	Principal   *token.Book     `json:"principal"`
	Yield       *token.Book     `json:"yield"`
	Interest    *accrual.Ledger `json:"interest"`
}

// Expired reports whether the series has matured at now.
func (s *Series) Expired(now uint64) bool {
	return now >= s.Key.Expiry
}

// Status is "active" before expiry and "expired" from expiry on.
func (s *Series) Status(now uint64) string {
	if s.Expired(now) {
		return "expired"
	}
	return "active"
}

func (s *Series) attach(j *journal.Journal) {
	s.Principal.Attach(j)
	s.Yield.Attach(j)
	s.Interest.Attach(j)
}

// State is the persisted forge state.
type State struct {
	Series map[model.SeriesKey]*Series `json:"series"`
}

// Forge issues and redeems claims for every series of the adapter's assets.
type Forge struct {
	cfg     Config
	bank    *token.Bank
	source  yieldsource.Adapter
	logger  *zap.Logger
	state   *State
	journal *journal.Journal
}

func New(cfg Config, bank *token.Bank, source yieldsource.Adapter, logger *zap.Logger) *Forge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forge{
		cfg:    cfg,
		bank:   bank,
		source: source,
		logger: logger,
		state:  &State{Series: make(map[model.SeriesKey]*Series)},
	}
}

// State exposes the forge state for snapshots.
func (f *Forge) State() *State {
	return f.state
}

// Restore replaces the forge state with a previously saved one.
func (f *Forge) Restore(st *State) {
	if st == nil || st.Series == nil {
		st = &State{Series: make(map[model.SeriesKey]*Series)}
	}
	f.state = st
	f.Attach(f.journal)
}

// Attach makes every series record its changes in j.
func (f *Forge) Attach(j *journal.Journal) {
	f.journal = j
	for _, s := range f.state.Series {
		s.attach(j)
	}
}

// Lookup returns the series for key.
func (f *Forge) Lookup(key model.SeriesKey) (*Series, error) {
	s, ok := f.state.Series[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrSeriesNotFound, key)
	}
	return s, nil
}

// Keys lists every known series.
func (f *Forge) Keys() []model.SeriesKey {
	keys := make([]model.SeriesKey, 0, len(f.state.Series))
	for key := range f.state.Series {
		keys = append(keys, key)
	}
	return keys
}

// NewSeries opens a series for (asset, expiry).
func (f *Forge) NewSeries(key model.SeriesKey, now uint64) (*Series, error) {
	if err := f.validateExpiry(key.Expiry, now); err != nil {
		return nil, err
	}
	if _, ok := f.state.Series[key]; ok {
		return nil, fmt.Errorf("%w: %s", model.ErrDuplicateSeries, key)
	}
	if !f.source.Supports(key.Asset) {
		return nil, fmt.Errorf("%w: no yield source for %s", model.ErrInvalidFactoryOrAssetPair, key.Asset.Hex())
	}
	rate, err := f.source.CurrentExchangeRate(key.Asset)
	if err != nil {
		return nil, err
	}

	s := &Series{
		Key:         key,
		CreatedAt:   now,
		BaseRate:    rate,
		LastRate:    new(big.Int).Set(rate),
		Units:       new(big.Int),
		FeeUnits:    new(big.Int),
		LastSettled: now,
		Principal:   token.NewBook(),
		Yield:       token.NewBook(),
		Interest:    accrual.NewLedger(),
	}
	s.attach(f.journal)
	journal.Entry(f.journal, f.state.Series, key, nil)
	f.state.Series[key] = s

	f.logger.Info("series created",
		zap.String("series", key.String()),
		zap.String("base_rate", rate.String()),
	)
	return s, nil
}

// Settle brings holder's yield-claim interest up to date and returns the net amount credited.
func (f *Forge) Settle(key model.SeriesKey, holder common.Address, now uint64) (*big.Int, error) {
	s, err := f.Lookup(key)
	if err != nil {
		return nil, err
	}
	if err := f.refresh(s, now); err != nil {
		return nil, err
	}
	return f.settle(s, holder), nil
}

// SyncRate moves every series of asset that has not matured at now to the adapter's current
// rate, so that a rate published before expiry counts even if no holder touches the series
// until after it.
func (f *Forge) SyncRate(asset common.Address, now uint64) error {
	for key, s := range f.state.Series {
		if key.Asset != asset || s.Expired(now) {
			continue
		}
		if err := f.refresh(s, now); err != nil {
			return err
		}
	}
	return nil
}

// Indexed exposes the series' yield-claim book as an accrual.Indexed.
func (f *Forge) Indexed(key model.SeriesKey) accrual.Indexed {
	return yieldAccounts{forge: f, key: key}
}

type yieldAccounts struct {
	forge *Forge
	key   model.SeriesKey
}

func (a yieldAccounts) Settle(holder common.Address, now uint64) (*big.Int, error) {
	return a.forge.Settle(a.key, holder, now)
}

// DueInterests returns holder's claimable interest in yield-bearing units as of now.
func (f *Forge) DueInterests(key model.SeriesKey, holder common.Address, now uint64) (*big.Int, error) {
	s, err := f.Lookup(key)
	if err != nil {
		return nil, err
	}
	rate := s.LastRate
	if !s.Expired(now) {
		current, err := f.source.CurrentExchangeRate(key.Asset)
		if err != nil {
			return nil, err
		}
		rate = fixed.Max(rate, current)
	}
	index := fixed.Max(indexAt(s.BaseRate, rate), s.Interest.Index)
	gross := s.Interest.Unsettled(holder, s.Yield.BalanceOf(holder), index)
	net := new(big.Int).Sub(gross, fixed.Bps(gross, f.cfg.FeeBps))
	return net.Add(net, s.Interest.Pending(holder)), nil
}

// DueUnderlying is DueInterests valued in underlying at the adapter's current rate.
func (f *Forge) DueUnderlying(key model.SeriesKey, holder common.Address, now uint64) (*big.Int, error) {
	units, err := f.DueInterests(key, holder, now)
	if err != nil {
		return nil, err
	}
	rate, err := f.source.CurrentExchangeRate(key.Asset)
	if err != nil {
		return nil, err
	}
	return fixed.Mul(units, rate), nil
}

// YieldBalance returns holder's yield-claim balance.
func (f *Forge) YieldBalance(key model.SeriesKey, holder common.Address) *big.Int {
	s, ok := f.state.Series[key]
	if !ok {
		return new(big.Int)
	}
	return s.Yield.BalanceOf(holder)
}

// PrincipalBalance returns holder's principal-claim balance.
func (f *Forge) PrincipalBalance(key model.SeriesKey, holder common.Address) *big.Int {
	s, ok := f.state.Series[key]
	if !ok {
		return new(big.Int)
	}
	return s.Principal.BalanceOf(holder)
}

func (f *Forge) validateExpiry(expiry, now uint64) error {
	if expiry <= now {
		return fmt.Errorf("%w: expiry %d is not after %d", model.ErrInvalidExpiry, expiry, now)
	}
	if f.cfg.ExpiryGrid > 0 && expiry%f.cfg.ExpiryGrid != 0 {
		return fmt.Errorf("%w: expiry %d is not aligned to %d", model.ErrInvalidExpiry, expiry, f.cfg.ExpiryGrid)
	}
	return nil
}

// refresh moves the series index to the adapter's current rate. After expiry the last
// pre-expiry rate is kept, which freezes yield-claim interest.
func (f *Forge) refresh(s *Series, now uint64) error {
	if !s.Expired(now) {
		rate, err := f.source.CurrentExchangeRate(s.Key.Asset)
		if err != nil {
			return err
		}
		if rate.Cmp(s.LastRate) > 0 {
			f.journal.Int(s.LastRate)
			s.LastRate.Set(rate)
		}
	}
	s.Interest.Raise(indexAt(s.BaseRate, s.LastRate))
	if now > s.LastSettled {
		f.journal.Uint64(&s.LastSettled)
		s.LastSettled = now
	}
	return nil
}

func (f *Forge) settle(s *Series, holder common.Address) *big.Int {
	gross := s.Interest.Accrue(holder, s.Yield.BalanceOf(holder))
	if gross.Sign() == 0 {
		return gross
	}
	fee := fixed.Bps(gross, f.cfg.FeeBps)
	net := new(big.Int).Sub(gross, fee)
	s.Interest.Credit(holder, net)
	f.addFeeUnits(s, fee)
	return net
}

// withdrawUnits redeems units from the adapter. Rounding dust can leave the series a few
// units short at the very end, so the request is capped at what the series holds.
func (f *Forge) withdrawUnits(s *Series, units *big.Int) (*big.Int, error) {
	units = fixed.Clone(fixed.Min(units, s.Units))
	if units.Sign() <= 0 {
		return new(big.Int), nil
	}
	amount, err := f.source.Withdraw(s.Key.Asset, units)
	if err != nil {
		return nil, err
	}
	f.journal.Int(s.Units)
	s.Units.Sub(s.Units, units)
	return amount, nil
}

func (f *Forge) addFeeUnits(s *Series, units *big.Int) {
	if units.Sign() <= 0 {
		return
	}
	f.journal.Int(s.FeeUnits)
	s.FeeUnits.Add(s.FeeUnits, units)
}

func indexAt(baseRate, rate *big.Int) *big.Int {
	oneSq := new(big.Int).Mul(fixed.One, fixed.One)
	start := new(big.Int).Quo(oneSq, baseRate)
	now := new(big.Int).Quo(oneSq, rate)
	return start.Sub(start, now)
}

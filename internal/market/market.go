// Package market runs the time-weighted exchange pools that trade a series' yield claims
// against a base asset.
package market

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"yieldsplit/internal/accrual"
	"yieldsplit/internal/fixed"
	"yieldsplit/internal/forge"
	"yieldsplit/internal/journal"
	"yieldsplit/internal/model"
	"yieldsplit/internal/token"
)

// Config holds market parameters. Weights are at the fixed.One scale.
type Config struct {
	SwapFeeBps          uint32
	ProtocolFeeShareBps uint32
	MinLiquidity        *big.Int
	InitialWeight       *big.Int
	WeightFloor         *big.Int
	Treasury            common.Address
	BaseAssets          []common.Address
}

// Pool is one (series, base asset) exchange pool. Its yield claims live in the forge under
// Address and its base asset in the bank under Address; the reserves mirror those balances.
type Pool struct {
	Key                 model.PoolKey   `json:"key"`
	Address             common.Address  `json:"address"`
	CreatedAt           uint64          `json:"created_at"`
	SwapFeeBps          uint32          `json:"swap_fee_bps"`
	ProtocolFeeShareBps uint32          `json:"protocol_fee_share_bps"`
	InitialWeight       *big.Int        `json:"initial_weight"`
	WeightFloor         *big.Int        `json:"weight_floor"`
	ReserveYield        *big.Int        `json:"reserve_yield"`
	ReserveBase         *big.Int        `json:"reserve_base"`
	Shares              *token.Book     `json:"shares"`
	Interest            *accrual.Ledger `json:"interest"`
}

// Reserve returns the reserve of side.
func (p *Pool) Reserve(side model.Side) *big.Int {
	if side == model.SideYield {
		return p.ReserveYield
	}
	return p.ReserveBase
}

// adjust adds delta to the reserve of side.
func (p *Pool) adjust(j *journal.Journal, side model.Side, delta *big.Int) {
	reserve := p.Reserve(side)
	j.Int(reserve)
	reserve.Add(reserve, delta)
}

func (p *Pool) attach(j *journal.Journal) {
	p.Shares.Attach(j)
	p.Interest.Attach(j)
}

// Reserves is the read-only view returned by GetReserves.
type Reserves struct {
	Yield       *big.Int `json:"yield"`
	Base        *big.Int `json:"base"`
	ShareSupply *big.Int `json:"share_supply"`
	WeightYield *big.Int `json:"weight_yield"`
	WeightBase  *big.Int `json:"weight_base"`
}

// State is the persisted market state.
type State struct {
	Pools map[model.PoolKey]*Pool `json:"pools"`
}

type Market struct {
	cfg     Config
	bank    *token.Bank
	forge   *forge.Forge
	logger  *zap.Logger
	state   *State
	journal *journal.Journal
}

func New(cfg Config, bank *token.Bank, f *forge.Forge, logger *zap.Logger) *Market {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinLiquidity == nil {
		cfg.MinLiquidity = big.NewInt(1000)
	}
	if cfg.InitialWeight == nil {
		cfg.InitialWeight = new(big.Int).Quo(fixed.One, big.NewInt(2))
	}
	if cfg.WeightFloor == nil {
		cfg.WeightFloor = new(big.Int).Quo(fixed.One, big.NewInt(10))
	}
	return &Market{
		cfg:    cfg,
		bank:   bank,
		forge:  f,
		logger: logger,
		state:  &State{Pools: make(map[model.PoolKey]*Pool)},
	}
}

// State exposes the market state for snapshots.
func (m *Market) State() *State {
	return m.state
}

// Restore replaces the market state with a previously saved one.
func (m *Market) Restore(st *State) {
	if st == nil || st.Pools == nil {
		st = &State{Pools: make(map[model.PoolKey]*Pool)}
	}
	m.state = st
	m.Attach(m.journal)
}

// Attach makes every pool record its changes in j.
func (m *Market) Attach(j *journal.Journal) {
	m.journal = j
	for _, p := range m.state.Pools {
		p.attach(j)
	}
}

// Lookup returns the pool for key.
func (m *Market) Lookup(key model.PoolKey) (*Pool, error) {
	p, ok := m.state.Pools[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrPoolNotFound, key)
	}
	return p, nil
}

// Keys lists every pool.
func (m *Market) Keys() []model.PoolKey {
	keys := make([]model.PoolKey, 0, len(m.state.Pools))
	for key := range m.state.Pools {
		keys = append(keys, key)
	}
	return keys
}

// CreatePool opens the exchange pool of series against base.
func (m *Market) CreatePool(key model.PoolKey, now uint64) (*Pool, error) {
	s, err := m.forge.Lookup(key.Series)
	if err != nil {
		return nil, err
	}
	if _, ok := m.state.Pools[key]; ok {
		return nil, fmt.Errorf("%w: %s", model.ErrDuplicatePool, key)
	}
	if s.Expired(now) {
		return nil, fmt.Errorf("%w: %s matured at %d", model.ErrYieldContractExpired, key.Series, key.Series.Expiry)
	}
	if !m.baseAllowed(key) {
		return nil, fmt.Errorf("%w: base %s for %s", model.ErrInvalidFactoryOrAssetPair, key.Base.Hex(), key.Series)
	}

	p := &Pool{
		Key:                 key,
		Address:             model.DeriveAddress("market", key.String()),
		CreatedAt:           now,
		SwapFeeBps:          m.cfg.SwapFeeBps,
		ProtocolFeeShareBps: m.cfg.ProtocolFeeShareBps,
		InitialWeight:       fixed.Clone(m.cfg.InitialWeight),
		WeightFloor:         fixed.Clone(m.cfg.WeightFloor),
		ReserveYield:        new(big.Int),
		ReserveBase:         new(big.Int),
		Shares:              token.NewBook(),
		Interest:            accrual.NewLedger(),
	}
	p.attach(m.journal)
	journal.Entry(m.journal, m.state.Pools, key, nil)
	m.state.Pools[key] = p

	m.logger.Info("pool created",
		zap.String("pool", key.String()),
		zap.String("address", p.Address.Hex()),
	)
	return p, nil
}

func (m *Market) baseAllowed(key model.PoolKey) bool {
	if key.Base == key.Series.Asset {
		return false
	}
	if len(m.cfg.BaseAssets) == 0 {
		return true
	}
	for _, base := range m.cfg.BaseAssets {
		if base == key.Base {
			return true
		}
	}
	return false
}

// Weights returns the (yield, base) weights of p at now.
func (m *Market) Weights(p *Pool, now uint64) (*big.Int, *big.Int, error) {
	wY, err := yieldWeight(p.InitialWeight, p.WeightFloor, p.CreatedAt, p.Key.Series.Expiry, now)
	if err != nil {
		return nil, nil, err
	}
	return wY, new(big.Int).Sub(fixed.One, wY), nil
}

func (m *Market) sideWeights(p *Pool, in model.Side, now uint64) (*big.Int, *big.Int, error) {
	wY, wB, err := m.Weights(p, now)
	if err != nil {
		return nil, nil, err
	}
	if in == model.SideYield {
		return wY, wB, nil
	}
	return wB, wY, nil
}

// GetReserves returns the pool's reserves, share supply and current weights.
func (m *Market) GetReserves(key model.PoolKey, now uint64) (Reserves, error) {
	p, err := m.Lookup(key)
	if err != nil {
		return Reserves{}, err
	}
	wY, wB, err := m.Weights(p, now)
	if err != nil {
		return Reserves{}, err
	}
	return Reserves{
		Yield:       fixed.Clone(p.ReserveYield),
		Base:        fixed.Clone(p.ReserveBase),
		ShareSupply: fixed.Clone(p.Shares.Supply),
		WeightYield: wY,
		WeightBase:  wB,
	}, nil
}

// SpotPrice returns the marginal price of one yield claim in base asset, before fees.
func (m *Market) SpotPrice(key model.PoolKey, now uint64) (*big.Int, error) {
	p, err := m.Lookup(key)
	if err != nil {
		return nil, err
	}
	if p.ReserveYield.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s has no liquidity", model.ErrInsufficientLiquidity, key)
	}
	wY, wB, err := m.Weights(p, now)
	if err != nil {
		return nil, err
	}
	num := new(big.Int).Mul(p.ReserveBase, wY)
	den := new(big.Int).Mul(p.ReserveYield, wB)
	return fixed.MulDiv(num, fixed.One, den), nil
}

// ShareBalance returns holder's pool-share balance.
func (m *Market) ShareBalance(key model.PoolKey, holder common.Address) *big.Int {
	p, ok := m.state.Pools[key]
	if !ok {
		return new(big.Int)
	}
	return p.Shares.BalanceOf(holder)
}

// PendingInterest returns the underlying holder could claim with RedeemLPInterests at now.
func (m *Market) PendingInterest(key model.PoolKey, holder common.Address, now uint64) (*big.Int, error) {
	p, err := m.Lookup(key)
	if err != nil {
		return nil, err
	}
	due, err := m.forge.DueUnderlying(key.Series, p.Address, now)
	if err != nil {
		return nil, err
	}
	ledger := p.Interest.Clone()
	ledger.Distribute(due, p.Shares.Supply)
	ledger.Settle(holder, p.Shares.BalanceOf(holder))
	return ledger.Pending(holder), nil
}

// Indexed exposes the pool-share book as an accrual.Indexed.
func (m *Market) Indexed(key model.PoolKey) accrual.Indexed {
	return shareAccounts{market: m, key: key}
}

type shareAccounts struct {
	market *Market
	key    model.PoolKey
}

func (a shareAccounts) Settle(holder common.Address, now uint64) (*big.Int, error) {
	p, err := a.market.Lookup(a.key)
	if err != nil {
		return nil, err
	}
	if err := a.market.settleInterest(p, now); err != nil {
		return nil, err
	}
	return p.Interest.Settle(holder, p.Shares.BalanceOf(holder)), nil
}

// settleInterest redeems the interest earned by the pool's yield-claim reserve and spreads it
// over the current share supply.
func (m *Market) settleInterest(p *Pool, now uint64) error {
	due, err := m.forge.RedeemDueInterests(p.Address, p.Key.Series, p.Address, now)
	if err != nil {
		return fmt.Errorf("settle pool interest %s: %w", p.Key, err)
	}
	p.Interest.Distribute(due, p.Shares.Supply)
	return nil
}

func (m *Market) settleHolders(p *Pool, holders ...common.Address) {
	for _, holder := range holders {
		p.Interest.Settle(holder, p.Shares.BalanceOf(holder))
	}
}

// RedeemLPInterests pays caller's share of the pool's interest to recipient in underlying.
func (m *Market) RedeemLPInterests(caller common.Address, key model.PoolKey, recipient common.Address, now uint64) (*big.Int, error) {
	p, err := m.Lookup(key)
	if err != nil {
		return nil, err
	}
	if err := m.settleInterest(p, now); err != nil {
		return nil, err
	}
	m.settleHolders(p, caller)

	amount := p.Interest.Take(caller)
	if amount.Sign() == 0 {
		return amount, nil
	}
	if err := m.bank.Transfer(key.Series.Asset, p.Address, recipient, amount); err != nil {
		p.Interest.Credit(caller, amount)
		return nil, err
	}

	m.logger.Debug("redeem lp interests",
		zap.String("pool", key.String()),
		zap.String("caller", caller.Hex()),
		zap.String("amount", amount.String()),
	)
	return amount, nil
}

// TransferShares moves pool shares after settling both holders' interest.
func (m *Market) TransferShares(from, to common.Address, key model.PoolKey, amount *big.Int, now uint64) error {
	p, err := m.Lookup(key)
	if err != nil {
		return err
	}
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: transfer shares", model.ErrZeroAmount)
	}
	if !p.Shares.Has(from, amount) {
		return fmt.Errorf("%w: %s shares of %s", model.ErrInsufficientBalance, amount, from.Hex())
	}
	if err := m.settleInterest(p, now); err != nil {
		return err
	}
	m.settleHolders(p, from, to)
	return p.Shares.Transfer(from, to, amount)
}

// Sweep moves both reserves to recipient. Only the engine's emergency path calls it.
func (m *Market) Sweep(key model.PoolKey, recipient common.Address, now uint64) (*big.Int, *big.Int, error) {
	p, err := m.Lookup(key)
	if err != nil {
		return nil, nil, err
	}
	if err := m.settleInterest(p, now); err != nil {
		return nil, nil, err
	}
	y, b := fixed.Clone(p.ReserveYield), fixed.Clone(p.ReserveBase)
	if err := m.pay(p, model.SideYield, recipient, y, now); err != nil {
		return nil, nil, err
	}
	if err := m.pay(p, model.SideBase, recipient, b, now); err != nil {
		return nil, nil, err
	}
	p.adjust(m.journal, model.SideYield, new(big.Int).Neg(y))
	p.adjust(m.journal, model.SideBase, new(big.Int).Neg(b))

	m.logger.Warn("pool swept",
		zap.String("pool", key.String()),
		zap.String("recipient", recipient.Hex()),
		zap.String("yield", y.String()),
		zap.String("base", b.String()),
	)
	return y, b, nil
}

// balanceOf returns holder's wallet balance of side's asset.
func (m *Market) balanceOf(p *Pool, side model.Side, holder common.Address) *big.Int {
	if side == model.SideYield {
		return m.forge.YieldBalance(p.Key.Series, holder)
	}
	return m.bank.Balance(p.Key.Base, holder)
}

// move transfers amount of side's asset between two wallets.
func (m *Market) move(p *Pool, side model.Side, from, to common.Address, amount *big.Int, now uint64) error {
	if amount.Sign() == 0 {
		return nil
	}
	if side == model.SideYield {
		return m.forge.TransferYield(from, to, p.Key.Series, amount, now)
	}
	return m.bank.Transfer(p.Key.Base, from, to, amount)
}

func (m *Market) collect(p *Pool, side model.Side, holder common.Address, amount *big.Int, now uint64) error {
	return m.move(p, side, holder, p.Address, amount, now)
}

func (m *Market) pay(p *Pool, side model.Side, recipient common.Address, amount *big.Int, now uint64) error {
	return m.move(p, side, p.Address, recipient, amount, now)
}

// live fails once the series has matured. Swaps and adds require it.
func (m *Market) live(p *Pool, now uint64) error {
	if now >= p.Key.Series.Expiry {
		return fmt.Errorf("%w: %s matured at %d", model.ErrYieldContractExpired, p.Key.Series, p.Key.Series.Expiry)
	}
	return nil
}

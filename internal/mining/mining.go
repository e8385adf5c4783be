// Package mining rewards staked pool shares with an epoch budget that vests over the
// following epochs, and passes the pool interest earned by staked shares through to stakers.
package mining

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"yieldsplit/internal/accrual"
	"yieldsplit/internal/journal"
	"yieldsplit/internal/market"
	"yieldsplit/internal/model"
	"yieldsplit/internal/token"
)

type Config struct {
	StartTime     uint64
	EpochDuration uint64
	VestingEpochs uint64
	EpochBudget   *big.Int
	Denominator   uint64
	RewardToken   common.Address
	// Base is the base asset of the pools whose shares are staked.
	Base common.Address
}

// Position is one staker's stake in a series program.
type Position struct {
	Stake        *big.Int            `json:"stake"`
	StakeSeconds *big.Int            `json:"stake_seconds"`
	LastEpoch    uint64              `json:"last_epoch"`
	LastUpdated  uint64              `json:"last_updated"`
	Vesting      map[uint64]*big.Int `json:"vesting"`
}

func newPosition(now uint64) *Position {
	return &Position{
		Stake:        new(big.Int),
		StakeSeconds: new(big.Int),
		LastUpdated:  now,
		Vesting:      make(map[uint64]*big.Int),
	}
}

func (p *Position) clone() *Position {
	out := &Position{
		Stake:        new(big.Int).Set(p.Stake),
		StakeSeconds: new(big.Int).Set(p.StakeSeconds),
		LastEpoch:    p.LastEpoch,
		LastUpdated:  p.LastUpdated,
		Vesting:      make(map[uint64]*big.Int, len(p.Vesting)),
	}
	for epoch, amount := range p.Vesting {
		out.Vesting[epoch] = new(big.Int).Set(amount)
	}
	return out
}

// Program is the staking program of one series.
type Program struct {
	Series      model.SeriesKey              `json:"series"`
	TotalStake  *big.Int                     `json:"total_stake"`
	LastUpdated uint64                       `json:"last_updated"`
	Epochs      map[uint64]*big.Int          `json:"epochs"`
	Interest    *accrual.Ledger              `json:"interest"`
	Positions   map[common.Address]*Position `json:"positions"`
}

func (p *Program) clone() *Program {
	out := &Program{
		Series:      p.Series,
		TotalStake:  new(big.Int).Set(p.TotalStake),
		LastUpdated: p.LastUpdated,
		Epochs:      make(map[uint64]*big.Int, len(p.Epochs)),
		Interest:    p.Interest.Clone(),
		Positions:   make(map[common.Address]*Position, len(p.Positions)),
	}
	for epoch, total := range p.Epochs {
		out.Epochs[epoch] = new(big.Int).Set(total)
	}
	for holder, pos := range p.Positions {
		out.Positions[holder] = pos.clone()
	}
	return out
}

// BudgetVersion is the global epoch budget from FirstEpoch on.
type BudgetVersion struct {
	FirstEpoch uint64   `json:"first_epoch"`
	Budget     *big.Int `json:"budget"`
}

// AllocationVersion is the per-series numerator table from FirstEpoch on.
type AllocationVersion struct {
	FirstEpoch uint64                     `json:"first_epoch"`
	Numerators map[model.SeriesKey]uint64 `json:"numerators"`
}

// State is the persisted mining state.
type State struct {
	Programs    map[model.SeriesKey]*Program `json:"programs"`
	Budgets     []BudgetVersion              `json:"budgets"`
	Allocations []AllocationVersion          `json:"allocations"`
	Distributed *big.Int                     `json:"distributed"`
}

// Rewards is the read-only view returned by PendingRewards.
type Rewards struct {
	Claimable *big.Int `json:"claimable"`
	Vesting   *big.Int `json:"vesting"`
	Interest  *big.Int `json:"interest"`
}

type Mining struct {
	cfg     Config
	bank    *token.Bank
	market  *market.Market
	address common.Address
	logger  *zap.Logger
	state   *State
	journal *journal.Journal
}

func New(cfg Config, bank *token.Bank, mk *market.Market, logger *zap.Logger) *Mining {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EpochDuration == 0 {
		cfg.EpochDuration = 7 * 24 * 3600
	}
	if cfg.VestingEpochs == 0 {
		cfg.VestingEpochs = 1
	}
	if cfg.Denominator == 0 {
		cfg.Denominator = 1
	}
	if cfg.EpochBudget == nil {
		cfg.EpochBudget = new(big.Int)
	}
	m := &Mining{
		cfg:     cfg,
		bank:    bank,
		market:  mk,
		address: model.DeriveAddress("mining", cfg.Base.Hex()),
		logger:  logger,
	}
	m.Restore(nil)
	return m
}

// Address is the account that holds staked shares and the reward token.
func (m *Mining) Address() common.Address {
	return m.address
}

// State exposes the mining state for snapshots.
func (m *Mining) State() *State {
	return m.state
}

// Restore replaces the mining state with a previously saved one.
func (m *Mining) Restore(st *State) {
	if st == nil {
		st = &State{}
	}
	if st.Programs == nil {
		st.Programs = make(map[model.SeriesKey]*Program)
	}
	if len(st.Budgets) == 0 {
		st.Budgets = []BudgetVersion{{FirstEpoch: 1, Budget: new(big.Int).Set(m.cfg.EpochBudget)}}
	}
	if st.Distributed == nil {
		st.Distributed = new(big.Int)
	}
	m.state = st
	m.Attach(m.journal)
}

// Attach makes every program record its changes in j.
func (m *Mining) Attach(j *journal.Journal) {
	m.journal = j
	for _, prog := range m.state.Programs {
		prog.Interest.Attach(j)
	}
}

// EpochOf returns the epoch containing t, 0 before the program starts.
func (m *Mining) EpochOf(t uint64) uint64 {
	if t < m.cfg.StartTime {
		return 0
	}
	return (t-m.cfg.StartTime)/m.cfg.EpochDuration + 1
}

func (m *Mining) epochEnd(epoch uint64) uint64 {
	return m.cfg.StartTime + epoch*m.cfg.EpochDuration
}

// walk visits every epoch segment of [from, to) that lies after the start time.
func (m *Mining) walk(from, to uint64, visit func(epoch, seconds uint64)) {
	if from < m.cfg.StartTime {
		from = m.cfg.StartTime
	}
	for from < to {
		epoch := m.EpochOf(from)
		end := m.epochEnd(epoch)
		if end > to {
			end = to
		}
		visit(epoch, end-from)
		from = end
	}
}

// budgetFor returns the absolute reward budget of series for epoch.
func (m *Mining) budgetFor(series model.SeriesKey, epoch uint64) *big.Int {
	var budget *big.Int
	for _, v := range m.state.Budgets {
		if v.FirstEpoch <= epoch {
			budget = v.Budget
		}
	}
	var numerator uint64
	for _, v := range m.state.Allocations {
		if v.FirstEpoch <= epoch {
			numerator = v.Numerators[series]
		}
	}
	if budget == nil || numerator == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(budget, new(big.Int).SetUint64(numerator))
	return out.Quo(out, new(big.Int).SetUint64(m.cfg.Denominator))
}

// SetAllocation replaces the numerator table from the next epoch on. Numerators must sum to
// the configured denominator.
func (m *Mining) SetAllocation(series []model.SeriesKey, numerators []uint64, now uint64) error {
	if len(series) == 0 || len(series) != len(numerators) {
		return fmt.Errorf("%w: %d series for %d numerators", model.ErrInvalidAllocation, len(series), len(numerators))
	}
	table := make(map[model.SeriesKey]uint64, len(series))
	var sum uint64
	for i, key := range series {
		if _, dup := table[key]; dup {
			return fmt.Errorf("%w: %s listed twice", model.ErrInvalidAllocation, key)
		}
		table[key] = numerators[i]
		sum += numerators[i]
	}
	if sum != m.cfg.Denominator {
		return fmt.Errorf("%w: numerators sum to %d, want %d", model.ErrInvalidAllocation, sum, m.cfg.Denominator)
	}

	first := m.EpochOf(now) + 1
	versions := m.state.Allocations[:0:0]
	for _, v := range m.state.Allocations {
		if v.FirstEpoch < first {
			versions = append(versions, v)
		}
	}
	prev := m.state.Allocations
	m.journal.Record(func() { m.state.Allocations = prev })
	m.state.Allocations = append(versions, AllocationVersion{FirstEpoch: first, Numerators: table})

	m.logger.Info("allocation set", zap.Uint64("first_epoch", first), zap.Int("series", len(table)))
	return nil
}

// SetEpochBudget replaces the global epoch budget from the next epoch on.
func (m *Mining) SetEpochBudget(budget *big.Int, now uint64) error {
	if budget == nil || budget.Sign() < 0 {
		return fmt.Errorf("%w: negative budget", model.ErrInvalidAllocation)
	}
	first := m.EpochOf(now) + 1
	versions := m.state.Budgets[:0:0]
	for _, v := range m.state.Budgets {
		if v.FirstEpoch < first {
			versions = append(versions, v)
		}
	}
	prev := m.state.Budgets
	m.journal.Record(func() { m.state.Budgets = prev })
	m.state.Budgets = append(versions, BudgetVersion{FirstEpoch: first, Budget: new(big.Int).Set(budget)})

	m.logger.Info("epoch budget set", zap.Uint64("first_epoch", first), zap.String("budget", budget.String()))
	return nil
}

// Series lists every series with a staking program, sorted by key.
func (m *Mining) Series() []model.SeriesKey {
	keys := make([]model.SeriesKey, 0, len(m.state.Programs))
	for key := range m.state.Programs {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// StakeOf returns staker's staked shares in series.
func (m *Mining) StakeOf(series model.SeriesKey, staker common.Address) *big.Int {
	prog, ok := m.state.Programs[series]
	if !ok {
		return new(big.Int)
	}
	pos, ok := prog.Positions[staker]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(pos.Stake)
}

func (m *Mining) poolKey(series model.SeriesKey) model.PoolKey {
	return model.PoolKey{Series: series, Base: m.cfg.Base}
}

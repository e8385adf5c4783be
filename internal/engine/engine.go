// Package engine composes the forge, the exchange pools and the reward scheduler over one
// shared ledger and applies operations to it one at a time.
package engine

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"yieldsplit/internal/forge"
	"yieldsplit/internal/journal"
	"yieldsplit/internal/market"
	"yieldsplit/internal/mining"
	"yieldsplit/internal/model"
	"yieldsplit/internal/token"
	"yieldsplit/internal/yieldsource"
)

// Params configures every component plus the administrative roles.
type Params struct {
	Forge            forge.Config
	Market           market.Config
	Mining           mining.Config
	Governance       common.Address
	EmergencyHandler common.Address
}

// Snapshot is the complete persisted engine state.
type Snapshot struct {
	Version  int                `json:"version"`
	LastTime uint64             `json:"last_time"`
	Applied  uint64             `json:"applied"`
	Bank     *token.Bank        `json:"bank"`
	Vault    *yieldsource.Vault `json:"vault"`
	Forge    *forge.State       `json:"forge"`
	Market   *market.State      `json:"market"`
	Mining   *mining.State      `json:"mining"`
	Guards   *Guards            `json:"guards"`
}

const snapshotVersion = 1

// Engine serializes every call against the shared ledger. A failed call leaves the ledger as
// it was before the call: every component records the entries it changes in a shared journal,
// which is rolled back on failure.
type Engine struct {
	mu       sync.Mutex
	params   Params
	bank     *token.Bank
	vault    *yieldsource.Vault
	forge    *forge.Forge
	market   *market.Market
	mining   *mining.Mining
	guards   *Guards
	journal  *journal.Journal
	logger   *zap.Logger
	lastTime uint64
	applied  uint64
}

func New(params Params, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	bank := token.NewBank()
	vault := yieldsource.NewVault()
	f := forge.New(params.Forge, bank, vault, logger.Named("forge"))
	mk := market.New(params.Market, bank, f, logger.Named("market"))
	mn := mining.New(params.Mining, bank, mk, logger.Named("mining"))
	e := &Engine{
		params:  params,
		bank:    bank,
		vault:   vault,
		forge:   f,
		market:  mk,
		mining:  mn,
		guards:  NewGuards(),
		journal: journal.New(),
		logger:  logger,
	}
	e.attach()
	return e
}

func (e *Engine) attach() {
	e.bank.Attach(e.journal)
	e.vault.Attach(e.journal)
	e.forge.Attach(e.journal)
	e.market.Attach(e.journal)
	e.mining.Attach(e.journal)
}

// Forge exposes the split issuer for read-only queries.
func (e *Engine) Forge() *forge.Forge { return e.forge }

// Market exposes the exchange pools for read-only queries.
func (e *Engine) Market() *market.Market { return e.market }

// Mining exposes the reward scheduler for read-only queries.
func (e *Engine) Mining() *mining.Mining { return e.mining }

// Bank exposes wallet balances for read-only queries.
func (e *Engine) Bank() *token.Bank { return e.bank }

// Vault exposes the yield source for read-only queries.
func (e *Engine) Vault() *yieldsource.Vault { return e.vault }

// Applied returns the number of operations applied successfully.
func (e *Engine) Applied() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applied
}

// LastTime returns the timestamp of the latest applied operation.
func (e *Engine) LastTime() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastTime
}

func (e *Engine) snapshot() *Snapshot {
	return &Snapshot{
		Version:  snapshotVersion,
		LastTime: e.lastTime,
		Applied:  e.applied,
		Bank:     e.bank,
		Vault:    e.vault,
		Forge:    e.forge.State(),
		Market:   e.market.State(),
		Mining:   e.mining.State(),
		Guards:   e.guards,
	}
}

// Snapshot encodes the engine state as JSON.
func (e *Engine) Snapshot() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	data, err := json.Marshal(e.snapshot())
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

// Restore replaces the engine state with a snapshot produced by Snapshot.
func (e *Engine) Restore(data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.restore(data)
}

func (e *Engine) restore(data []byte) error {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}

	bank := token.NewBank()
	if snap.Bank != nil && snap.Bank.Assets != nil {
		bank = snap.Bank
	}
	vault := yieldsource.NewVault()
	if snap.Vault != nil {
		if snap.Vault.Rates != nil {
			vault.Rates = snap.Vault.Rates
		}
		if snap.Vault.Units != nil {
			vault.Units = snap.Vault.Units
		}
	}
	guards := NewGuards()
	if snap.Guards != nil && snap.Guards.Status != nil {
		guards = snap.Guards
	}

	// Components keep pointers to the bank and the vault.
	*e.bank = *bank
	*e.vault = *vault
	e.forge.Restore(snap.Forge)
	e.market.Restore(snap.Market)
	e.mining.Restore(snap.Mining)
	e.guards = guards
	e.lastTime = snap.LastTime
	e.applied = snap.Applied
	e.attach()
	return nil
}

// atomic runs fn and reverts every ledger entry it changed when it fails.
func (e *Engine) atomic(now uint64, fn func() error) error {
	e.journal.Begin()
	if err := fn(); err != nil {
		n := e.journal.Rollback()
		e.logger.Debug("operation reverted", zap.Int("entries", n), zap.Error(err))
		return err
	}
	e.journal.Commit()
	if now > e.lastTime {
		e.lastTime = now
	}
	e.applied++
	return nil
}

func (e *Engine) requireGovernance(caller common.Address) error {
	if caller != e.params.Governance {
		return fmt.Errorf("%w: %s is not governance", model.ErrUnauthorized, caller.Hex())
	}
	return nil
}

// SeriesSummary is a read-only view of one series.
type SeriesSummary struct {
	Key         model.SeriesKey `json:"key"`
	Status      string          `json:"status"`
	Guard       string          `json:"guard,omitempty"`
	BaseRate    *big.Int        `json:"base_rate"`
	LastRate    *big.Int        `json:"last_rate"`
	Index       *big.Int        `json:"index"`
	YieldSupply *big.Int        `json:"yield_supply"`
	Units       *big.Int        `json:"units"`
	FeeUnits    *big.Int        `json:"fee_units"`
	CreatedAt   uint64          `json:"created_at"`
}

// ListSeries summarizes every series at now, sorted by key.
func (e *Engine) ListSeries(now uint64) []SeriesSummary {
	e.mu.Lock()
	defer e.mu.Unlock()

	keys := e.forge.Keys()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	out := make([]SeriesSummary, 0, len(keys))
	for _, key := range keys {
		s, err := e.forge.Lookup(key)
		if err != nil {
			continue
		}
		out = append(out, SeriesSummary{
			Key:         key,
			Status:      s.Status(now),
			Guard:       e.guards.Status[key.String()],
			BaseRate:    new(big.Int).Set(s.BaseRate),
			LastRate:    new(big.Int).Set(s.LastRate),
			Index:       s.Interest.Current(),
			YieldSupply: new(big.Int).Set(s.Yield.Supply),
			Units:       new(big.Int).Set(s.Units),
			FeeUnits:    new(big.Int).Set(s.FeeUnits),
			CreatedAt:   s.CreatedAt,
		})
	}
	return out
}

// PoolSummary is a read-only view of one pool.
type PoolSummary struct {
	Key       model.PoolKey   `json:"key"`
	Address   common.Address  `json:"address"`
	Guard     string          `json:"guard,omitempty"`
	Reserves  market.Reserves `json:"reserves"`
	SpotPrice *big.Int        `json:"spot_price,omitempty"`
}

// ListPools summarizes every pool at now, sorted by key.
func (e *Engine) ListPools(now uint64) ([]PoolSummary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	keys := e.market.Keys()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	out := make([]PoolSummary, 0, len(keys))
	for _, key := range keys {
		p, err := e.market.Lookup(key)
		if err != nil {
			return nil, err
		}
		reserves, err := e.market.GetReserves(key, now)
		if err != nil {
			return nil, err
		}
		summary := PoolSummary{
			Key:      key,
			Address:  p.Address,
			Guard:    e.guards.poolStatus(key),
			Reserves: reserves,
		}
		if reserves.Yield.Sign() > 0 && reserves.Base.Sign() > 0 {
			price, err := e.market.SpotPrice(key, now)
			if err != nil {
				return nil, err
			}
			summary.SpotPrice = price
		}
		out = append(out, summary)
	}
	return out, nil
}

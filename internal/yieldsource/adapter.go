package yieldsource

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"yieldsplit/internal/fixed"
	"yieldsplit/internal/journal"
	"yieldsplit/internal/model"
)

// Adapter is the yield-bearing asset integration consumed by the forge. Rates are underlying
// units per yield-bearing unit at the fixed.One scale and never decrease.
type Adapter interface {
	Supports(asset common.Address) bool
	CurrentExchangeRate(asset common.Address) (*big.Int, error)
	Deposit(asset common.Address, amount *big.Int) (*big.Int, error)
	Withdraw(asset common.Address, units *big.Int) (*big.Int, error)
}

// Vault is an in-process Adapter whose exchange rates are pushed from outside
// (scenario operations or the chain rate sync).
type Vault struct {
	Rates map[common.Address]*big.Int `json:"rates"`
	Units map[common.Address]*big.Int `json:"units"`

	journal *journal.Journal
}

func NewVault() *Vault {
	return &Vault{
		Rates: make(map[common.Address]*big.Int),
		Units: make(map[common.Address]*big.Int),
	}
}

// Attach makes the vault record its changes in j.
func (v *Vault) Attach(j *journal.Journal) {
	v.journal = j
}

// SetRate records a new exchange rate for asset. Rates must be positive and monotone.
func (v *Vault) SetRate(asset common.Address, rate *big.Int) error {
	if rate == nil || rate.Sign() <= 0 {
		return fmt.Errorf("%w: rate must be positive", model.ErrInvalidRate)
	}
	if prev, ok := v.Rates[asset]; ok && rate.Cmp(prev) < 0 {
		return fmt.Errorf("%w: rate for %s decreased from %s to %s", model.ErrInvalidRate, asset.Hex(), prev, rate)
	}
	journal.Entry(v.journal, v.Rates, asset, nil)
	v.Rates[asset] = new(big.Int).Set(rate)
	if _, ok := v.Units[asset]; !ok {
		journal.Entry(v.journal, v.Units, asset, nil)
		v.Units[asset] = new(big.Int)
	}
	return nil
}

func (v *Vault) Supports(asset common.Address) bool {
	_, ok := v.Rates[asset]
	return ok
}

func (v *Vault) CurrentExchangeRate(asset common.Address) (*big.Int, error) {
	rate, ok := v.Rates[asset]
	if !ok {
		return nil, fmt.Errorf("%w: no yield source for %s", model.ErrInvalidFactoryOrAssetPair, asset.Hex())
	}
	return new(big.Int).Set(rate), nil
}

// Deposit converts amount of underlying into yield-bearing units at the current rate.
func (v *Vault) Deposit(asset common.Address, amount *big.Int) (*big.Int, error) {
	rate, err := v.CurrentExchangeRate(asset)
	if err != nil {
		return nil, err
	}
	units := fixed.Div(amount, rate)
	v.journal.Int(v.Units[asset])
	v.Units[asset].Add(v.Units[asset], units)
	return units, nil
}

// Withdraw redeems yield-bearing units for underlying at the current rate.
func (v *Vault) Withdraw(asset common.Address, units *big.Int) (*big.Int, error) {
	rate, err := v.CurrentExchangeRate(asset)
	if err != nil {
		return nil, err
	}
	held := v.Units[asset]
	if held.Cmp(units) < 0 {
		return nil, fmt.Errorf("%w: vault holds %s units of %s, needs %s", model.ErrInsufficientBalance, held, asset.Hex(), units)
	}
	v.journal.Int(held)
	held.Sub(held, units)
	return fixed.Mul(units, rate), nil
}

// Quote returns the underlying value of units at the current rate without withdrawing.
func (v *Vault) Quote(asset common.Address, units *big.Int) (*big.Int, error) {
	rate, err := v.CurrentExchangeRate(asset)
	if err != nil {
		return nil, err
	}
	return fixed.Mul(units, rate), nil
}

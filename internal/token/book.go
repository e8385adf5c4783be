package token

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"yieldsplit/internal/journal"
	"yieldsplit/internal/model"
)

// Book is a fungible balance sheet with a tracked total supply.
type Book struct {
	Supply   *big.Int                    `json:"supply"`
	Balances map[common.Address]*big.Int `json:"balances"`

	journal *journal.Journal
}

func NewBook() *Book {
	return &Book{
		Supply:   new(big.Int),
		Balances: make(map[common.Address]*big.Int),
	}
}

// Attach makes the book record its changes in j.
func (b *Book) Attach(j *journal.Journal) {
	b.journal = j
}

// BalanceOf returns a copy of the holder's balance.
func (b *Book) BalanceOf(holder common.Address) *big.Int {
	bal, ok := b.Balances[holder]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(bal)
}

// Has reports whether holder owns at least amount.
func (b *Book) Has(holder common.Address, amount *big.Int) bool {
	bal, ok := b.Balances[holder]
	if !ok {
		return amount.Sign() <= 0
	}
	return bal.Cmp(amount) >= 0
}

// Mint credits amount to holder and grows the supply.
func (b *Book) Mint(holder common.Address, amount *big.Int) {
	if amount.Sign() == 0 {
		return
	}
	b.credit(holder, amount)
	b.journal.Int(b.Supply)
	b.Supply.Add(b.Supply, amount)
}

// Burn debits amount from holder and shrinks the supply.
func (b *Book) Burn(holder common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	if err := b.debit(holder, amount); err != nil {
		return err
	}
	b.journal.Int(b.Supply)
	b.Supply.Sub(b.Supply, amount)
	return nil
}

// Transfer moves amount between holders.
func (b *Book) Transfer(from, to common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	if err := b.debit(from, amount); err != nil {
		return err
	}
	b.credit(to, amount)
	return nil
}

// Clone deep-copies the book.
func (b *Book) Clone() *Book {
	out := &Book{
		Supply:   new(big.Int).Set(b.Supply),
		Balances: make(map[common.Address]*big.Int, len(b.Balances)),
	}
	for holder, bal := range b.Balances {
		out.Balances[holder] = new(big.Int).Set(bal)
	}
	return out
}

func (b *Book) credit(holder common.Address, amount *big.Int) {
	if amount.Sign() < 0 {
		panic(fmt.Sprintf("token: negative credit %s", amount))
	}
	journal.Entry(b.journal, b.Balances, holder, cloneInt)
	bal, ok := b.Balances[holder]
	if !ok {
		b.Balances[holder] = new(big.Int).Set(amount)
		return
	}
	bal.Add(bal, amount)
}

func (b *Book) debit(holder common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("token: negative debit %s", amount)
	}
	bal, ok := b.Balances[holder]
	if !ok || bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", model.ErrInsufficientBalance, holder.Hex(), b.BalanceOf(holder), amount)
	}
	journal.Entry(b.journal, b.Balances, holder, cloneInt)
	bal.Sub(bal, amount)
	if bal.Sign() == 0 {
		delete(b.Balances, holder)
	}
	return nil
}

func cloneInt(v *big.Int) *big.Int {
	return new(big.Int).Set(v)
}

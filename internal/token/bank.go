package token

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"yieldsplit/internal/journal"
)

// Bank holds wallet balances of external assets (underlying assets, base assets, reward token).
type Bank struct {
	Assets map[common.Address]*Book `json:"assets"`

	journal *journal.Journal
}

func NewBank() *Bank {
	return &Bank{Assets: make(map[common.Address]*Book)}
}

// Attach makes the bank and every book in it record their changes in j.
func (b *Bank) Attach(j *journal.Journal) {
	b.journal = j
	for _, book := range b.Assets {
		book.Attach(j)
	}
}

// Balance returns holder's balance of asset.
func (b *Bank) Balance(asset, holder common.Address) *big.Int {
	book, ok := b.Assets[asset]
	if !ok {
		return new(big.Int)
	}
	return book.BalanceOf(holder)
}

// Has reports whether holder owns at least amount of asset.
func (b *Bank) Has(asset, holder common.Address, amount *big.Int) bool {
	if amount.Sign() <= 0 {
		return true
	}
	book, ok := b.Assets[asset]
	if !ok {
		return false
	}
	return book.Has(holder, amount)
}

// Credit mints asset into holder's wallet.
func (b *Bank) Credit(asset, holder common.Address, amount *big.Int) {
	b.book(asset).Mint(holder, amount)
}

// Debit burns asset from holder's wallet.
func (b *Bank) Debit(asset, holder common.Address, amount *big.Int) error {
	return b.book(asset).Burn(holder, amount)
}

// Transfer moves asset between wallets.
func (b *Bank) Transfer(asset, from, to common.Address, amount *big.Int) error {
	return b.book(asset).Transfer(from, to, amount)
}

// Supply returns the total tracked supply of asset.
func (b *Bank) Supply(asset common.Address) *big.Int {
	book, ok := b.Assets[asset]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(book.Supply)
}

func (b *Bank) book(asset common.Address) *Book {
	book, ok := b.Assets[asset]
	if !ok {
		journal.Entry(b.journal, b.Assets, asset, nil)
		book = NewBook()
		book.Attach(b.journal)
		b.Assets[asset] = book
	}
	return book
}

// Package accrual implements lazily settled index accounting: one monotone global index
// plus a last-seen snapshot per holder, settled whenever the holder's balance is touched.
package accrual

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"yieldsplit/internal/fixed"
	"yieldsplit/internal/journal"
)

// Indexed is implemented by every balance book that settles lazily against an index.
type Indexed interface {
	Settle(holder common.Address, now uint64) (*big.Int, error)
}

// Snapshot is a holder's last-seen index and settled but unclaimed amount.
type Snapshot struct {
	LastIndex *big.Int `json:"last_index"`
	Pending   *big.Int `json:"pending"`
}

// Ledger tracks a cumulative amount-per-unit index at the fixed.One scale.
type Ledger struct {
	Index   *big.Int                     `json:"index"`
	Carry   *big.Int                     `json:"carry"`
	Holders map[common.Address]*Snapshot `json:"holders"`

	journal *journal.Journal
}

func NewLedger() *Ledger {
	return &Ledger{
		Index:   new(big.Int),
		Carry:   new(big.Int),
		Holders: make(map[common.Address]*Snapshot),
	}
}

// Attach makes the ledger record its changes in j.
func (l *Ledger) Attach(j *journal.Journal) {
	l.journal = j
}

// Current returns a copy of the index.
func (l *Ledger) Current() *big.Int {
	return new(big.Int).Set(l.Index)
}

// Raise moves the index up to index. Lower values are ignored so the index never rolls back.
func (l *Ledger) Raise(index *big.Int) {
	if index.Cmp(l.Index) > 0 {
		l.journal.Int(l.Index)
		l.Index.Set(index)
	}
}

// Distribute spreads amount over supply units. The undistributable remainder is carried to
// the next call so that holders are never paid more than was distributed.
func (l *Ledger) Distribute(amount, supply *big.Int) {
	l.journal.Int(l.Carry)
	if amount.Sign() > 0 {
		l.Carry.Add(l.Carry, amount)
	}
	if supply.Sign() <= 0 || l.Carry.Sign() == 0 {
		return
	}
	inc := fixed.MulDiv(l.Carry, fixed.One, supply)
	if inc.Sign() == 0 {
		return
	}
	l.journal.Int(l.Index)
	l.Index.Add(l.Index, inc)
	l.Carry.Sub(l.Carry, fixed.MulDivUp(inc, supply, fixed.One))
}

// Accrue moves holder's snapshot to the current index and returns the gross amount due for
// balance. The caller decides how much of it to Credit.
func (l *Ledger) Accrue(holder common.Address, balance *big.Int) *big.Int {
	snap := l.snapshot(holder)
	delta := new(big.Int).Sub(l.Index, snap.LastIndex)
	snap.LastIndex.Set(l.Index)
	if delta.Sign() <= 0 || balance.Sign() <= 0 {
		return new(big.Int)
	}
	return fixed.MulDiv(balance, delta, fixed.One)
}

// Credit adds amount to holder's pending balance.
func (l *Ledger) Credit(holder common.Address, amount *big.Int) {
	if amount.Sign() <= 0 {
		return
	}
	snap := l.snapshot(holder)
	snap.Pending.Add(snap.Pending, amount)
}

// Settle accrues and credits in one step, returning the newly credited amount.
func (l *Ledger) Settle(holder common.Address, balance *big.Int) *big.Int {
	due := l.Accrue(holder, balance)
	l.Credit(holder, due)
	return due
}

// Take zeroes and returns holder's pending amount.
func (l *Ledger) Take(holder common.Address) *big.Int {
	snap, ok := l.Holders[holder]
	if !ok {
		return new(big.Int)
	}
	out := new(big.Int).Set(snap.Pending)
	journal.Entry(l.journal, l.Holders, holder, cloneSnapshot)
	snap.Pending.SetInt64(0)
	return out
}

// Pending returns holder's settled but unclaimed amount.
func (l *Ledger) Pending(holder common.Address) *big.Int {
	snap, ok := l.Holders[holder]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(snap.Pending)
}

// Unsettled returns what Accrue would yield for balance at index, without mutating.
func (l *Ledger) Unsettled(holder common.Address, balance, index *big.Int) *big.Int {
	last := l.Index
	if snap, ok := l.Holders[holder]; ok {
		last = snap.LastIndex
	}
	delta := new(big.Int).Sub(index, last)
	if delta.Sign() <= 0 || balance.Sign() <= 0 {
		return new(big.Int)
	}
	return fixed.MulDiv(balance, delta, fixed.One)
}

// Clone deep-copies the ledger.
func (l *Ledger) Clone() *Ledger {
	out := &Ledger{
		Index:   new(big.Int).Set(l.Index),
		Carry:   new(big.Int).Set(l.Carry),
		Holders: make(map[common.Address]*Snapshot, len(l.Holders)),
	}
	for holder, snap := range l.Holders {
		out.Holders[holder] = cloneSnapshot(snap)
	}
	return out
}

func cloneSnapshot(snap *Snapshot) *Snapshot {
	return &Snapshot{
		LastIndex: new(big.Int).Set(snap.LastIndex),
		Pending:   new(big.Int).Set(snap.Pending),
	}
}

// snapshot returns holder's entry for an in-place change, recording its prior state first.
func (l *Ledger) snapshot(holder common.Address) *Snapshot {
	journal.Entry(l.journal, l.Holders, holder, cloneSnapshot)
	snap, ok := l.Holders[holder]
	if !ok {
		snap = &Snapshot{LastIndex: new(big.Int).Set(l.Index), Pending: new(big.Int)}
		l.Holders[holder] = snap
	}
	return snap
}

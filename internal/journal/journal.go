// Package journal records how to revert in-place ledger changes. An engine call begins a
// journal, every primitive that mutates the ledger records the prior value of what it touches,
// and a failed call rolls those entries back in reverse order.
package journal

import "math/big"

// Journal is a list of undo steps. A nil Journal and a Journal outside Begin/Commit record
// nothing, so components work unchanged when used on their own.
type Journal struct {
	active bool
	undo   []func()
}

func New() *Journal {
	return &Journal{}
}

// Begin starts recording. Entries left from an earlier call are dropped.
func (j *Journal) Begin() {
	if j == nil {
		return
	}
	j.clear()
	j.active = true
}

// Commit keeps every change made since Begin.
func (j *Journal) Commit() {
	if j == nil {
		return
	}
	j.clear()
	j.active = false
}

// Rollback reverts every change made since Begin and returns how many entries it undid.
func (j *Journal) Rollback() int {
	if j == nil {
		return 0
	}
	n := len(j.undo)
	for i := n - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.clear()
	j.active = false
	return n
}

// Len returns the number of entries recorded since Begin.
func (j *Journal) Len() int {
	if j == nil {
		return 0
	}
	return len(j.undo)
}

// Record adds an undo step.
func (j *Journal) Record(fn func()) {
	if j == nil || !j.active {
		return
	}
	j.undo = append(j.undo, fn)
}

// Int remembers the value of v, which is changed in place afterwards.
func (j *Journal) Int(v *big.Int) {
	if j == nil || !j.active || v == nil {
		return
	}
	old := new(big.Int).Set(v)
	j.undo = append(j.undo, func() { v.Set(old) })
}

// Uint64 remembers the value of *v.
func (j *Journal) Uint64(v *uint64) {
	if j == nil || !j.active {
		return
	}
	old := *v
	j.undo = append(j.undo, func() { *v = old })
}

// Entry remembers m[k], including its absence. clone copies values that are changed in place;
// pass nil for plain values.
func Entry[K comparable, V any](j *Journal, m map[K]V, k K, clone func(V) V) {
	if j == nil || !j.active {
		return
	}
	old, ok := m[k]
	if ok && clone != nil {
		old = clone(old)
	}
	j.undo = append(j.undo, func() {
		if ok {
			m[k] = old
		} else {
			delete(m, k)
		}
	})
}

func (j *Journal) clear() {
	for i := range j.undo {
		j.undo[i] = nil
	}
	j.undo = j.undo[:0]
}

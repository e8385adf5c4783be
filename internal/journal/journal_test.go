package journal

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRollbackRestoresValuesAndEntries(t *testing.T) {
	j := New()
	total := big.NewInt(10)
	var stamp uint64 = 5
	balances := map[string]*big.Int{"alice": big.NewInt(3)}

	j.Begin()
	j.Int(total)
	total.Add(total, big.NewInt(7))
	j.Uint64(&stamp)
	stamp = 9
	Entry(j, balances, "alice", func(v *big.Int) *big.Int { return new(big.Int).Set(v) })
	balances["alice"].SetInt64(0)
	delete(balances, "alice")
	Entry(j, balances, "bob", nil)
	balances["bob"] = big.NewInt(1)

	assert.Equal(t, 4, j.Len())
	assert.Equal(t, 4, j.Rollback())

	assert.Equal(t, int64(10), total.Int64())
	assert.Equal(t, uint64(5), stamp)
	assert.Equal(t, int64(3), balances["alice"].Int64())
	_, ok := balances["bob"]
	assert.False(t, ok)
	assert.Zero(t, j.Len())
}

func TestRepeatedEntriesUndoToTheOldest(t *testing.T) {
	j := New()
	v := big.NewInt(1)

	j.Begin()
	j.Int(v)
	v.SetInt64(2)
	j.Int(v)
	v.SetInt64(3)
	j.Rollback()

	assert.Equal(t, int64(1), v.Int64())
}

func TestInactiveJournalRecordsNothing(t *testing.T) {
	j := New()
	v := big.NewInt(1)
	j.Int(v)
	assert.Zero(t, j.Len())

	j.Begin()
	j.Int(v)
	j.Commit()
	v.SetInt64(2)
	assert.Zero(t, j.Rollback())
	assert.Equal(t, int64(2), v.Int64())

	var none *Journal
	none.Begin()
	none.Int(v)
	Entry(none, map[string]int{}, "k", nil)
	assert.Zero(t, none.Rollback())
}

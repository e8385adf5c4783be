package token

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yieldsplit/internal/model"
)

var (
	alice = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	usdc  = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
)

func TestBookMintTransferBurn(t *testing.T) {
	book := NewBook()
	book.Mint(alice, big.NewInt(100))
	require.NoError(t, book.Transfer(alice, bob, big.NewInt(40)))
	require.NoError(t, book.Burn(bob, big.NewInt(10)))

	assert.Equal(t, int64(60), book.BalanceOf(alice).Int64())
	assert.Equal(t, int64(30), book.BalanceOf(bob).Int64())
	assert.Equal(t, int64(90), book.Supply.Int64())
}

func TestBookInsufficientBalanceLeavesStateUntouched(t *testing.T) {
	book := NewBook()
	book.Mint(alice, big.NewInt(5))

	err := book.Transfer(alice, bob, big.NewInt(6))
	assert.ErrorIs(t, err, model.ErrInsufficientBalance)
	assert.Equal(t, int64(5), book.BalanceOf(alice).Int64())
	assert.Equal(t, 0, book.BalanceOf(bob).Sign())

	err = book.Burn(bob, big.NewInt(1))
	assert.ErrorIs(t, err, model.ErrInsufficientBalance)
}

func TestBookCloneIsIndependent(t *testing.T) {
	book := NewBook()
	book.Mint(alice, big.NewInt(7))
	cp := book.Clone()
	cp.Mint(alice, big.NewInt(1))

	assert.Equal(t, int64(7), book.BalanceOf(alice).Int64())
	assert.Equal(t, int64(8), cp.BalanceOf(alice).Int64())
}

func TestBank(t *testing.T) {
	bank := NewBank()
	assert.False(t, bank.Has(usdc, alice, big.NewInt(1)))

	bank.Credit(usdc, alice, big.NewInt(50))
	require.NoError(t, bank.Transfer(usdc, alice, bob, big.NewInt(20)))
	assert.Equal(t, int64(30), bank.Balance(usdc, alice).Int64())
	assert.Equal(t, int64(20), bank.Balance(usdc, bob).Int64())

	assert.ErrorIs(t, bank.Debit(usdc, bob, big.NewInt(21)), model.ErrInsufficientBalance)
	assert.Equal(t, int64(50), bank.Supply(usdc).Int64())
}

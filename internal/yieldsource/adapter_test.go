package yieldsource

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yieldsplit/internal/fixed"
	"yieldsplit/internal/model"
)

var dai = common.HexToAddress("0xdddddddddddddddddddddddddddddddddddddddd")

func TestVaultRates(t *testing.T) {
	v := NewVault()
	assert.False(t, v.Supports(dai))
	_, err := v.CurrentExchangeRate(dai)
	assert.ErrorIs(t, err, model.ErrInvalidFactoryOrAssetPair)

	require.NoError(t, v.SetRate(dai, fixed.One))
	require.NoError(t, v.SetRate(dai, fixed.Wad(2)))
	assert.ErrorIs(t, v.SetRate(dai, fixed.One), model.ErrInvalidRate)
	assert.ErrorIs(t, v.SetRate(dai, fixed.Zero()), model.ErrInvalidRate)
}

func TestVaultDepositWithdraw(t *testing.T) {
	v := NewVault()
	require.NoError(t, v.SetRate(dai, fixed.Wad(2)))

	units, err := v.Deposit(dai, fixed.Wad(100))
	require.NoError(t, err)
	assert.Equal(t, 0, units.Cmp(fixed.Wad(50)))

	require.NoError(t, v.SetRate(dai, fixed.Wad(4)))
	out, err := v.Withdraw(dai, fixed.Wad(25))
	require.NoError(t, err)
	assert.Equal(t, 0, out.Cmp(fixed.Wad(100)))

	_, err = v.Withdraw(dai, fixed.Wad(26))
	assert.ErrorIs(t, err, model.ErrInsufficientBalance)
}

package fixed

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func within(t *testing.T, want, got *big.Int, tol int64) {
	t.Helper()
	diff := new(big.Int).Sub(want, got)
	diff.Abs(diff)
	assert.True(t, diff.Cmp(big.NewInt(tol)) <= 0, "want %s got %s (diff %s)", want, got, diff)
}

func TestLn(t *testing.T) {
	got, err := Ln(One)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Int64())

	got, err = Ln(Wad(2))
	require.NoError(t, err)
	within(t, MustParse("693147180559945309"), got, 1)

	got, err = Ln(MustParse("500000000000000000"))
	require.NoError(t, err)
	within(t, MustParse("-693147180559945309"), got, 1)

	_, err = Ln(Zero())
	assert.ErrorIs(t, err, ErrDomain)
}

func TestExp(t *testing.T) {
	got, err := Exp(Zero())
	require.NoError(t, err)
	assert.Equal(t, 0, got.Cmp(One))

	got, err = Exp(One)
	require.NoError(t, err)
	within(t, MustParse("2718281828459045235"), got, 1)

	got, err = Exp(new(big.Int).Neg(One))
	require.NoError(t, err)
	within(t, MustParse("367879441171442322"), got, 1)

	_, err = Exp(Wad(131))
	assert.ErrorIs(t, err, ErrDomain)
}

func TestPow(t *testing.T) {
	half := MustParse("500000000000000000")

	got, err := Pow(Wad(4), half)
	require.NoError(t, err)
	within(t, Wad(2), got, 2)

	got, err = Pow(half, Wad(3))
	require.NoError(t, err)
	within(t, MustParse("125000000000000000"), got, 2)

	base := MustParse("987654321000000000")
	got, err = Pow(base, One)
	require.NoError(t, err)
	within(t, base, got, 2)

	got, err = Pow(Zero(), half)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Sign())
}

func TestBpsAndRounding(t *testing.T) {
	assert.Equal(t, int64(35), Bps(big.NewInt(1000), 350).Int64())
	assert.Equal(t, int64(3), MulDiv(big.NewInt(10), big.NewInt(1), big.NewInt(3)).Int64())
	assert.Equal(t, int64(4), MulDivUp(big.NewInt(10), big.NewInt(1), big.NewInt(3)).Int64())
	assert.Equal(t, 0, BpsToWad(5000).Cmp(half()))
	assert.Equal(t, int64(3), Sqrt(big.NewInt(15)).Int64())
}

func half() *big.Int {
	return new(big.Int).Quo(One, big.NewInt(2))
}

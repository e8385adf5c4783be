package fixed

import (
	"fmt"
	"math/big"
)

// Decimals is the number of decimals of the shared fixed-point scale.
const Decimals = 18

// BpsDenominator is the denominator of basis-point rates.
const BpsDenominator = 10_000

var (
	// One is 1.0 at the shared 18-decimal scale.
	One = pow10(Decimals)

	bpsDen = big.NewInt(BpsDenominator)
)

// Zero returns a fresh zero value.
func Zero() *big.Int {
	return new(big.Int)
}

// Clone copies v, treating nil as zero.
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// Wad converts a whole-unit integer to the 18-decimal scale.
func Wad(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), One)
}

// Mul returns a*b/One rounded down.
func Mul(a, b *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, One)
}

// Div returns a*One/b rounded down.
func Div(a, b *big.Int) *big.Int {
	out := new(big.Int).Mul(a, One)
	return out.Quo(out, b)
}

// MulDiv returns a*b/c rounded down.
func MulDiv(a, b, c *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, c)
}

// MulDivUp returns a*b/c rounded up for non-negative operands.
func MulDivUp(a, b, c *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return divUp(out, c)
}

// Bps returns x*bps/10000 rounded down.
func Bps(x *big.Int, bps uint32) *big.Int {
	out := new(big.Int).Mul(x, big.NewInt(int64(bps)))
	return out.Quo(out, bpsDen)
}

// BpsToWad converts a basis-point rate to the 18-decimal scale.
func BpsToWad(bps uint32) *big.Int {
	return MulDiv(big.NewInt(int64(bps)), One, bpsDen)
}

// Min returns the smaller of a and b.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// Sqrt returns floor(sqrt(x)).
func Sqrt(x *big.Int) *big.Int {
	if x.Sign() <= 0 {
		return new(big.Int)
	}
	return new(big.Int).Sqrt(x)
}

// Parse reads a base-10 integer string.
func Parse(value string) (*big.Int, error) {
	if value == "" {
		return new(big.Int), nil
	}
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid int: %s", value)
	}
	return parsed, nil
}

// MustParse is Parse for constants and tests.
func MustParse(value string) *big.Int {
	v, err := Parse(value)
	if err != nil {
		panic(err)
	}
	return v
}

func divUp(num, den *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

func pow10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}

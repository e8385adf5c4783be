package fixed

import (
	"errors"
	"math/big"
)

// ln and exp run at 36 decimals and are rounded back to 18.
var (
	hiOne  = pow10(36)
	hiTwo  = new(big.Int).Mul(hiOne, big.NewInt(2))
	upHi   = pow10(18)
	ln2Hi  = MustParse("693147180559945309417232121458176568")
	maxExp = Wad(130)

	// ErrDomain is returned for logarithms of non-positive values.
	ErrDomain = errors.New("fixed: argument out of domain")
)

// Ln returns the natural logarithm of x (18 decimals).
func Ln(x *big.Int) (*big.Int, error) {
	if x.Sign() <= 0 {
		return nil, ErrDomain
	}
	hi := new(big.Int).Mul(x, upHi)
	return roundHi(lnHi(hi)), nil
}

// Exp returns e^x (18 decimals). Inputs above 130 are rejected.
func Exp(x *big.Int) (*big.Int, error) {
	if x.Cmp(maxExp) > 0 {
		return nil, ErrDomain
	}
	hi := new(big.Int).Mul(x, upHi)
	return roundHi(expHi(hi)), nil
}

// Pow returns base^exponent for a positive base (both 18 decimals).
func Pow(base, exponent *big.Int) (*big.Int, error) {
	if exponent.Sign() == 0 {
		return Clone(One), nil
	}
	if base.Sign() == 0 {
		if exponent.Sign() > 0 {
			return new(big.Int), nil
		}
		return nil, ErrDomain
	}
	if base.Sign() < 0 {
		return nil, ErrDomain
	}
	if base.Cmp(One) == 0 {
		return Clone(One), nil
	}

	l := lnHi(new(big.Int).Mul(base, upHi))
	l.Mul(l, exponent)
	l.Quo(l, One)
	if l.Cmp(new(big.Int).Mul(maxExp, upHi)) > 0 {
		return nil, ErrDomain
	}
	return roundHi(expHi(l)), nil
}

// lnHi computes ln(x) with x and the result at 36 decimals.
func lnHi(x *big.Int) *big.Int {
	m := new(big.Int).Set(x)
	k := int64(0)
	for m.Cmp(hiTwo) >= 0 {
		m.Rsh(m, 1)
		k++
	}
	for m.Cmp(hiOne) < 0 {
		m.Lsh(m, 1)
		k--
	}

	// ln(m) = 2 * atanh((m-1)/(m+1)), z <= 1/3 for m in [1, 2).
	num := new(big.Int).Sub(m, hiOne)
	den := new(big.Int).Add(m, hiOne)
	z := new(big.Int).Mul(num, hiOne)
	z.Quo(z, den)
	z2 := new(big.Int).Mul(z, z)
	z2.Quo(z2, hiOne)

	sum := new(big.Int)
	term := new(big.Int).Set(z)
	for n := int64(1); term.Sign() != 0; n += 2 {
		sum.Add(sum, new(big.Int).Quo(term, big.NewInt(n)))
		term.Mul(term, z2)
		term.Quo(term, hiOne)
	}
	sum.Lsh(sum, 1)

	return sum.Add(sum, new(big.Int).Mul(big.NewInt(k), ln2Hi))
}

// expHi computes e^x with x and the result at 36 decimals.
func expHi(x *big.Int) *big.Int {
	k := new(big.Int).Quo(x, ln2Hi)
	r := new(big.Int).Sub(x, new(big.Int).Mul(k, ln2Hi))

	sum := new(big.Int).Set(hiOne)
	term := new(big.Int).Set(hiOne)
	for n := int64(1); ; n++ {
		term.Mul(term, r)
		term.Quo(term, hiOne)
		term.Quo(term, big.NewInt(n))
		if term.Sign() == 0 {
			break
		}
		sum.Add(sum, term)
	}

	shift := k.Int64()
	if shift >= 0 {
		return sum.Lsh(sum, uint(shift))
	}
	return sum.Rsh(sum, uint(-shift))
}

func roundHi(v *big.Int) *big.Int {
	half := new(big.Int).Rsh(upHi, 1)
	if v.Sign() >= 0 {
		v.Add(v, half)
	} else {
		v.Sub(v, half)
	}
	return v.Quo(v, upHi)
}

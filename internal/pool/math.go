package pool

import (
	"math/big"

	"github.com/holiman/uint256"
)

// mulDiv returns a*b/den with a 512-bit intermediate product, rounding the
// quotient down. Share-price conversions are always a multiply followed by a
// divide, and the product of two 256-bit values does not fit in 256 bits.
func mulDiv(a, b, den *uint256.Int) (*uint256.Int, error) {
	return mulDivRound(a, b, den, false)
}

// mulDivCeil is mulDiv rounding the quotient up.
func mulDivCeil(a, b, den *uint256.Int) (*uint256.Int, error) {
	return mulDivRound(a, b, den, true)
}

func mulDivRound(a, b, den *uint256.Int, roundUp bool) (*uint256.Int, error) {
	if den == nil || den.IsZero() {
		return nil, ErrDivisionByZero
	}
	product := new(big.Int).Mul(a.ToBig(), b.ToBig())
	if roundUp {
		product.Add(product, new(big.Int).Sub(den.ToBig(), big.NewInt(1)))
	}
	product.Div(product, den.ToBig())
	result, overflow := uint256.FromBig(product)
	if overflow {
		return nil, ErrAmountOverflow
	}
	return result, nil
}

func add(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrAmountOverflow
	}
	return sum, nil
}

func sub(a, b *uint256.Int) (*uint256.Int, error) {
	diff, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, ErrAmountOverflow
	}
	return diff, nil
}

// subSaturating clamps at zero instead of failing. Used only where the
// baseline bookkeeping is allowed to absorb an unexplained balance decrease.
func subSaturating(a, b *uint256.Int) *uint256.Int {
	if a.Cmp(b) < 0 {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Sub(a, b)
}

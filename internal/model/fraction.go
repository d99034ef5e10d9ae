package model

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// RewardFeeFraction is the operator's cut of newly accrued rewards,
// expressed as numerator/denominator.
type RewardFeeFraction struct {
	Numerator   uint64 `json:"numerator"`
	Denominator uint64 `json:"denominator"`
}

// Validate checks that the fraction is well formed and within [0, 1].
func (f RewardFeeFraction) Validate() error {
	if f.Denominator == 0 {
		return fmt.Errorf("reward fee denominator must be non-zero")
	}
	if f.Numerator > f.Denominator {
		return fmt.Errorf("reward fee fraction %d/%d exceeds 1", f.Numerator, f.Denominator)
	}
	return nil
}

// Apply returns floor(amount * numerator / denominator). The fraction must
// have been validated; since it never exceeds 1 the result always fits.
func (f RewardFeeFraction) Apply(amount *uint256.Int) *uint256.Int {
	if f.Numerator == 0 || amount == nil || amount.IsZero() {
		return uint256.NewInt(0)
	}
	product := new(big.Int).Mul(amount.ToBig(), new(big.Int).SetUint64(f.Numerator))
	product.Div(product, new(big.Int).SetUint64(f.Denominator))
	result, _ := uint256.FromBig(product)
	return result
}

// IsZero reports whether the fee takes no cut at all.
func (f RewardFeeFraction) IsZero() bool {
	return f.Numerator == 0
}

func (f RewardFeeFraction) String() string {
	return fmt.Sprintf("%d/%d", f.Numerator, f.Denominator)
}

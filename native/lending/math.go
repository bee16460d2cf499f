package lending

import (
	"math"

	"github.com/holiman/uint256"
)

// All ledger arithmetic is overflow-checked. Faults surface as ErrOverflow,
// ErrUnderflow or ErrDivisionByZero and abort the operation; nothing ever
// saturates silently.

func checkedAdd(a, b uint64) (uint64, error) {
	if b > math.MaxUint64-a {
		return 0, ErrOverflow
	}
	return a + b, nil
}

func checkedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrUnderflow
	}
	return a - b, nil
}

// mulDiv computes floor(a*b/div) through 256-bit intermediates so the product
// cannot wrap. Truncating division only: the floor bias is what keeps rounding
// loss on the pool's side.
func mulDiv(a, b, div uint64) (uint64, error) {
	if div == 0 {
		return 0, ErrDivisionByZero
	}
	prod := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	quo := prod.Div(prod, uint256.NewInt(div))
	if !quo.IsUint64() {
		return 0, ErrOverflow
	}
	return quo.Uint64(), nil
}

// checkedMul is mulDiv with a unit divisor, used when valuing amounts at an
// oracle price.
func checkedMul(a, b uint64) (uint64, error) {
	return mulDiv(a, b, 1)
}

// mulBps applies a basis-point ratio to an amount, flooring the result.
func mulBps(amount, bps uint64) (uint64, error) {
	return mulDiv(amount, bps, BpsBase)
}

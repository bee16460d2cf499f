package lending

import "math"

// secondsPerYear is the accrual denominator for annualised rates.
const secondsPerYear = 31_536_000

// maxAccrualFloat is the smallest float64 at or above 2^64. Accruals reaching
// it no longer fit a uint64 ledger slot.
var maxAccrualFloat = math.Ldexp(1, 64)

// accrueValue grows a principal by continuously compounded interest:
// floor(principal * e^(rate*elapsed)), with the rate given as annual basis
// points. A zero elapsed window is the identity; a negative one signals a
// clock or bookkeeping fault and fails with ErrInvalidElapsedTime rather than
// discounting the principal.
//
// The exponential is evaluated in double-precision floating point; the
// sub-integer rounding error this introduces is bounded by the floor and the
// never-shrink guard below.
func accrueValue(principal, rateBps uint64, elapsedSeconds int64) (uint64, error) {
	if elapsedSeconds < 0 {
		return 0, ErrInvalidElapsedTime
	}
	if elapsedSeconds == 0 || principal == 0 || rateBps == 0 {
		return principal, nil
	}
	rate := float64(rateBps) / BpsBase / secondsPerYear
	grown := float64(principal) * math.Exp(rate*float64(elapsedSeconds))
	if math.IsInf(grown, 0) || grown >= maxAccrualFloat {
		return 0, ErrOverflow
	}
	if grown < float64(principal) {
		// e^x >= 1 for x >= 0; float noise must never shrink a balance.
		return principal, nil
	}
	return uint64(grown), nil
}

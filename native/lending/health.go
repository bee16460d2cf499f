package lending

import (
	"math"

	"github.com/holiman/uint256"
)

// HealthReport summarises a position's risk state at evaluation time. Values
// are denominated in the oracle's quote unit. HealthFactorBps scales the
// health factor by BpsBase, so BpsBase means exactly 1.0; it is zero when the
// position carries no debt.
type HealthReport struct {
	CollateralValue uint64 `json:"collateralValue"`
	BorrowedValue   uint64 `json:"borrowedValue"`
	HealthFactorBps uint64 `json:"healthFactorBps"`
	Healthy         bool   `json:"healthy"`
}

// evaluateHealth computes the liquidation-threshold-weighted health factor
// collateralValue*thresholdBps / (borrowedValue*BpsBase). The gate itself is
// decided by integer cross-multiplication so no division noise can flip an
// account across the 1.0 boundary.
func evaluateHealth(collateralValue, thresholdBps, borrowedValue uint64) HealthReport {
	report := HealthReport{
		CollateralValue: collateralValue,
		BorrowedValue:   borrowedValue,
	}
	if borrowedValue == 0 {
		report.Healthy = true
		return report
	}
	weighted := new(uint256.Int).Mul(uint256.NewInt(collateralValue), uint256.NewInt(thresholdBps))
	debt := new(uint256.Int).Mul(uint256.NewInt(borrowedValue), uint256.NewInt(BpsBase))
	report.Healthy = weighted.Cmp(debt) >= 0

	factor := new(uint256.Int).Div(weighted, uint256.NewInt(borrowedValue))
	if factor.IsUint64() {
		report.HealthFactorBps = factor.Uint64()
	} else {
		report.HealthFactorBps = math.MaxUint64
	}
	return report
}

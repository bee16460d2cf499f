package lending

// Share conversion for one pool side (deposits or borrows). The exchange rate
// between token amounts and shares is totalAmount/totalShares; it starts at
// 1:1 and drifts upward as interest folds into the totals.
//
// Rounding is always truncating. A depositor may receive fractionally fewer
// shares than their pro-rata entitlement and a share may redeem for
// fractionally less than its exact value; the loss always lands in the pool.
// Rounding up instead would mint unbacked value, so the floor is an invariant
// rather than a preference.

// amountToShares converts a token amount into pool shares at the current
// exchange rate. The first contribution into an empty pool bootstraps the
// rate at 1:1; this is the only case where shares are minted without
// reference to an existing rate.
func amountToShares(amount, poolAmount, poolShares uint64) (uint64, error) {
	if poolAmount == 0 {
		return amount, nil
	}
	return mulDiv(amount, poolShares, poolAmount)
}

// sharesToAmount converts pool shares back into a token amount at the current
// exchange rate. Redeeming non-zero shares against a pool with no shares
// outstanding is a bookkeeping fault, not a zero.
func sharesToAmount(shares, poolAmount, poolShares uint64) (uint64, error) {
	if poolShares == 0 {
		if shares == 0 {
			return 0, nil
		}
		return 0, ErrDivisionByZero
	}
	return mulDiv(shares, poolAmount, poolShares)
}

package lending

// AssetID identifies one of the assets supported by the protocol, e.g. "SOL"
// or "USDC". Every bank is keyed by the asset it custodies.
type AssetID string

// AccountRef is an opaque reference to a token holder understood by the
// transfer service. Bank custody accounts use the "treasury/" prefix and are
// only movable by the engine itself.
type AccountRef string

// BpsBase is the fixed-point base for every policy ratio in the protocol.
// Liquidation threshold, max LTV, liquidation bonus, close factor and interest
// rates are all expressed in basis points: 10_000 == 1.0 (100%).
const BpsBase = 10_000

// Bank captures the aggregate accounting state for a single asset pool.
// Deposit and borrow totals are continuously re-based by accrued interest
// while the share counts stay fixed, so the amount-per-share exchange rate
// floats upward over time.
type Bank struct {
	// Asset is the pool asset and the bank's storage key.
	Asset AssetID `json:"asset"`
	// Custody is the program-owned account holding the pool's tokens.
	Custody AccountRef `json:"custody"`
	// TotalDeposits is the sum of depositor principal plus accrued interest.
	TotalDeposits uint64 `json:"totalDeposits"`
	// TotalDepositShares is the number of deposit shares outstanding.
	TotalDepositShares uint64 `json:"totalDepositShares"`
	// TotalBorrows is the outstanding borrowed amount plus accrued interest.
	TotalBorrows uint64 `json:"totalBorrows"`
	// TotalBorrowShares is the number of borrow shares outstanding.
	TotalBorrowShares uint64 `json:"totalBorrowShares"`
	// InterestRateBps is the annual continuously compounded rate in basis
	// points, fixed when the bank is initialised.
	InterestRateBps uint64 `json:"interestRateBps"`
	// LiquidationThresholdBps is the collateral weighting applied when
	// computing borrow limits and health factors.
	LiquidationThresholdBps uint64 `json:"liquidationThresholdBps"`
	// MaxLTVBps is the maximum loan-to-value ratio permitted at origination.
	MaxLTVBps uint64 `json:"maxLtvBps"`
	// LiquidationBonusBps is the premium paid to liquidators on top of the
	// repaid value.
	LiquidationBonusBps uint64 `json:"liquidationBonusBps"`
	// LiquidationCloseFactorBps bounds the debt fraction repayable in a
	// single liquidation call.
	LiquidationCloseFactorBps uint64 `json:"liquidationCloseFactorBps"`
	// LastUpdated is the unix time interest was last folded into the totals.
	LastUpdated int64 `json:"lastUpdated"`
}

// BankParams groups the immutable policy constants supplied when a bank is
// created.
type BankParams struct {
	InterestRateBps           uint64 `json:"interestRateBps"`
	LiquidationThresholdBps   uint64 `json:"liquidationThresholdBps"`
	MaxLTVBps                 uint64 `json:"maxLtvBps"`
	LiquidationBonusBps       uint64 `json:"liquidationBonusBps"`
	LiquidationCloseFactorBps uint64 `json:"liquidationCloseFactorBps"`
}

// Holding tracks one user's deposit and borrow exposure against a single
// bank. Shares are zero exactly when the matching amount is zero, up to floor
// truncation.
type Holding struct {
	Asset           AssetID `json:"asset"`
	DepositedAmount uint64  `json:"depositedAmount"`
	DepositedShares uint64  `json:"depositedShares"`
	BorrowedAmount  uint64  `json:"borrowedAmount"`
	BorrowedShares  uint64  `json:"borrowedShares"`
}

// Position is the per-user record spanning both supported assets.
type Position struct {
	Owner    AccountRef `json:"owner"`
	Holdings []Holding  `json:"holdings,omitempty"`
	// LastUpdated is the unix time accrued interest was last applied to the
	// position's own amounts.
	LastUpdated int64 `json:"lastUpdated"`
}

// Holding returns the holding entry for the given asset, appending a zeroed
// entry when the position has never touched the asset.
func (p *Position) Holding(asset AssetID) *Holding {
	for i := range p.Holdings {
		if p.Holdings[i].Asset == asset {
			return &p.Holdings[i]
		}
	}
	p.Holdings = append(p.Holdings, Holding{Asset: asset})
	return &p.Holdings[len(p.Holdings)-1]
}

// Price is an oracle quote for one asset. The value is denominated in the
// protocol's common quote unit per whole token and is consumed, never stored.
type Price struct {
	Value uint64 `json:"value"`
	AsOf  int64  `json:"asOf"`
}

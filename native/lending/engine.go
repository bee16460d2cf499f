package lending

import (
	"fmt"
	"sync"
	"time"

	nativecommon "lendvault/native/common"
)

const moduleName = "lending"

// AccountStore is the persistence boundary for bank and position records.
// Loads return nil (not an error) for records that do not exist. Commit
// persists everything one operation touched as a single unit: by the time it
// runs the token transfer has already executed, so a backend that wrote the
// records piecemeal could leave the two ledger halves diverged on a crash.
type AccountStore interface {
	LoadBank(asset AssetID) (*Bank, error)
	SaveBank(bank *Bank) error
	LoadPosition(owner AccountRef) (*Position, error)
	Commit(position *Position, banks ...*Bank) error
}

// TransferService moves tokens between holders. Implementations must be
// atomic and must verify sufficient balance at the source before moving
// anything. Transfers out of a bank's custody account are authorised by the
// engine itself.
type TransferService interface {
	Transfer(from, to AccountRef, asset AssetID, amount uint64) error
}

// PriceOracle supplies asset prices with a staleness bound. Quotes older than
// maxAge must be rejected by the implementation.
type PriceOracle interface {
	GetPrice(asset AssetID, maxAge time.Duration) (Price, error)
}

// Clock abstracts the time source used for elapsed-time accrual.
type Clock interface {
	Now() int64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current unix time in seconds.
func (SystemClock) Now() int64 { return time.Now().Unix() }

// Engine orchestrates the primary state transitions for the lending module:
// deposit, withdraw, borrow, repay and liquidate. Each operation runs as one
// indivisible unit against the touched bank and position records; the token
// transfer is attempted and validated before any ledger mutation is
// committed.
type Engine struct {
	mu          sync.Mutex
	store       AccountStore
	transfers   TransferService
	oracle      PriceOracle
	clock       Clock
	maxPriceAge time.Duration
	pauses      nativecommon.PauseView
}

// NewEngine constructs a lending engine wired to its collaborators.
func NewEngine(store AccountStore, transfers TransferService, oracle PriceOracle, clock Clock) *Engine {
	return &Engine{
		store:       store,
		transfers:   transfers,
		oracle:      oracle,
		clock:       clock,
		maxPriceAge: time.Minute,
	}
}

// SetMaxPriceAge configures the staleness bound applied to oracle quotes.
func (e *Engine) SetMaxPriceAge(age time.Duration) {
	if e == nil || age <= 0 {
		return
	}
	e.maxPriceAge = age
}

// SetPauses wires the pause switchboard consulted before every operation.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// InitBank creates the bank for an asset with its immutable policy constants.
// The custody account reference is derived from the asset and owned by the
// engine from that point on.
func (e *Engine) InitBank(asset AssetID, params BankParams) (*Bank, error) {
	if e == nil || e.store == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	existing, err := e.store.LoadBank(asset)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrBankExists
	}
	bank := &Bank{
		Asset:                     asset,
		Custody:                   AccountRef("treasury/" + string(asset)),
		InterestRateBps:           params.InterestRateBps,
		LiquidationThresholdBps:   params.LiquidationThresholdBps,
		MaxLTVBps:                 params.MaxLTVBps,
		LiquidationBonusBps:       params.LiquidationBonusBps,
		LiquidationCloseFactorBps: params.LiquidationCloseFactorBps,
		LastUpdated:               e.clock.Now(),
	}
	if err := e.store.SaveBank(bank); err != nil {
		return nil, err
	}
	return bank, nil
}

// Deposit moves amount from the user into the bank's custody and mints
// deposit shares at the current exchange rate. The minted share count is
// returned. Deposits cannot be rejected for balance reasons beyond the
// transfer itself failing.
func (e *Engine) Deposit(user AccountRef, asset AssetID, amount uint64) (uint64, error) {
	if e == nil || e.store == nil {
		return 0, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	bank, err := e.ensureBank(asset)
	if err != nil {
		return 0, err
	}
	if err := e.accrueBank(bank, now); err != nil {
		return 0, err
	}

	shares, err := amountToShares(amount, bank.TotalDeposits, bank.TotalDepositShares)
	if err != nil {
		return 0, err
	}
	newDeposits, err := checkedAdd(bank.TotalDeposits, amount)
	if err != nil {
		return 0, err
	}
	newShares, err := checkedAdd(bank.TotalDepositShares, shares)
	if err != nil {
		return 0, err
	}

	position, err := e.ensurePosition(user)
	if err != nil {
		return 0, err
	}
	holding := position.Holding(asset)
	holdingAmount, err := checkedAdd(holding.DepositedAmount, amount)
	if err != nil {
		return 0, err
	}
	holdingShares, err := checkedAdd(holding.DepositedShares, shares)
	if err != nil {
		return 0, err
	}

	if err := e.transfers.Transfer(user, bank.Custody, asset, amount); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	bank.TotalDeposits = newDeposits
	bank.TotalDepositShares = newShares
	holding.DepositedAmount = holdingAmount
	holding.DepositedShares = holdingShares
	position.LastUpdated = now

	if err := e.store.Commit(position, bank); err != nil {
		return 0, err
	}
	return shares, nil
}

// Withdraw redeems part of the user's deposit at the interest-accrued
// exchange rate and releases the tokens from bank custody. The burned share
// count is returned. The share burn is clamped to the user's share balance so
// floor rounding can never over- or under-burn; a bank-level share underflow
// still fails fast as it signals corrupted bookkeeping.
func (e *Engine) Withdraw(user AccountRef, asset AssetID, amount uint64) (uint64, error) {
	if e == nil || e.store == nil {
		return 0, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	bank, err := e.ensureBank(asset)
	if err != nil {
		return 0, err
	}
	if err := e.accrueBank(bank, now); err != nil {
		return 0, err
	}

	position, err := e.ensurePosition(user)
	if err != nil {
		return 0, err
	}
	holding := position.Holding(asset)

	currentValue, err := sharesToAmount(holding.DepositedShares, bank.TotalDeposits, bank.TotalDepositShares)
	if err != nil {
		return 0, err
	}
	if currentValue < amount {
		return 0, ErrInsufficientFunds
	}

	sharesToRemove, err := amountToShares(amount, bank.TotalDeposits, bank.TotalDepositShares)
	if err != nil {
		return 0, err
	}
	if sharesToRemove > holding.DepositedShares {
		sharesToRemove = holding.DepositedShares
	}

	newDeposits, err := checkedSub(bank.TotalDeposits, amount)
	if err != nil {
		return 0, err
	}
	newShares, err := checkedSub(bank.TotalDepositShares, sharesToRemove)
	if err != nil {
		return 0, err
	}

	if err := e.transfers.Transfer(bank.Custody, user, asset, amount); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	bank.TotalDeposits = newDeposits
	bank.TotalDepositShares = newShares
	// Re-base the recorded principal on the accrued entitlement before
	// deducting, so the holding reflects earned interest.
	holding.DepositedAmount = currentValue - amount
	holding.DepositedShares -= sharesToRemove
	if holding.DepositedShares == 0 {
		holding.DepositedAmount = 0
	}
	position.LastUpdated = now

	if err := e.store.Commit(position, bank); err != nil {
		return 0, err
	}
	return sharesToRemove, nil
}

// Borrow lends amount of asset against the user's collateral in
// collateralAsset. Both assets must have fresh oracle prices. The requested
// amount, valued at the borrow asset's price, may not exceed the
// interest-accrued collateral value weighted by the collateral bank's
// liquidation threshold. The accrued collateral is re-based into the holding
// on commit; advancing LastUpdated without it would drop the earned interest
// from every later amount-based valuation.
func (e *Engine) Borrow(user AccountRef, asset, collateralAsset AssetID, amount uint64) (uint64, error) {
	if e == nil || e.store == nil {
		return 0, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	borrowPrice, err := e.freshPrice(asset)
	if err != nil {
		return 0, err
	}
	collateralPrice, err := e.freshPrice(collateralAsset)
	if err != nil {
		return 0, err
	}

	now := e.clock.Now()
	bank, err := e.ensureBank(asset)
	if err != nil {
		return 0, err
	}
	collateralBank, err := e.ensureBank(collateralAsset)
	if err != nil {
		return 0, err
	}
	if err := e.accrueBank(bank, now); err != nil {
		return 0, err
	}

	position, err := e.ensurePosition(user)
	if err != nil {
		return 0, err
	}
	collateralHolding := position.Holding(collateralAsset)

	accruedCollateral, err := accrueValue(collateralHolding.DepositedAmount, collateralBank.InterestRateBps, now-position.LastUpdated)
	if err != nil {
		return 0, err
	}
	collateralValue, err := checkedMul(accruedCollateral, collateralPrice.Value)
	if err != nil {
		return 0, err
	}
	borrowableValue, err := mulBps(collateralValue, collateralBank.LiquidationThresholdBps)
	if err != nil {
		return 0, err
	}
	requestedValue, err := checkedMul(amount, borrowPrice.Value)
	if err != nil {
		return 0, err
	}
	if requestedValue > borrowableValue {
		return 0, ErrOverBorrowableAmount
	}

	shares, err := amountToShares(amount, bank.TotalBorrows, bank.TotalBorrowShares)
	if err != nil {
		return 0, err
	}
	newBorrows, err := checkedAdd(bank.TotalBorrows, amount)
	if err != nil {
		return 0, err
	}
	newShares, err := checkedAdd(bank.TotalBorrowShares, shares)
	if err != nil {
		return 0, err
	}
	holding := position.Holding(asset)
	holdingAmount, err := checkedAdd(holding.BorrowedAmount, amount)
	if err != nil {
		return 0, err
	}
	holdingShares, err := checkedAdd(holding.BorrowedShares, shares)
	if err != nil {
		return 0, err
	}

	if err := e.transfers.Transfer(bank.Custody, user, asset, amount); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	bank.TotalBorrows = newBorrows
	bank.TotalBorrowShares = newShares
	collateralHolding.DepositedAmount = accruedCollateral
	holding.BorrowedAmount = holdingAmount
	holding.BorrowedShares = holdingShares
	position.LastUpdated = now

	if err := e.store.Commit(position, bank); err != nil {
		return 0, err
	}
	return shares, nil
}

// Repay returns amount of a borrowed asset to the bank's custody and burns
// the matching borrow shares. Repaying more than the interest-accrued debt
// fails with ErrOverRepay.
func (e *Engine) Repay(user AccountRef, asset AssetID, amount uint64) (uint64, error) {
	if e == nil || e.store == nil {
		return 0, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	bank, err := e.ensureBank(asset)
	if err != nil {
		return 0, err
	}
	if err := e.accrueBank(bank, now); err != nil {
		return 0, err
	}

	position, err := e.ensurePosition(user)
	if err != nil {
		return 0, err
	}
	holding := position.Holding(asset)

	owed, err := sharesToAmount(holding.BorrowedShares, bank.TotalBorrows, bank.TotalBorrowShares)
	if err != nil {
		return 0, err
	}
	if owed < amount {
		return 0, ErrOverRepay
	}

	sharesToRemove, err := amountToShares(amount, bank.TotalBorrows, bank.TotalBorrowShares)
	if err != nil {
		return 0, err
	}
	if sharesToRemove > holding.BorrowedShares {
		sharesToRemove = holding.BorrowedShares
	}

	newBorrows, err := checkedSub(bank.TotalBorrows, amount)
	if err != nil {
		return 0, err
	}
	newShares, err := checkedSub(bank.TotalBorrowShares, sharesToRemove)
	if err != nil {
		return 0, err
	}

	if err := e.transfers.Transfer(user, bank.Custody, asset, amount); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	bank.TotalBorrows = newBorrows
	bank.TotalBorrowShares = newShares
	holding.BorrowedAmount = owed - amount
	holding.BorrowedShares -= sharesToRemove
	if holding.BorrowedShares == 0 {
		holding.BorrowedAmount = 0
	}
	position.LastUpdated = now

	if err := e.store.Commit(position, bank); err != nil {
		return 0, err
	}
	return sharesToRemove, nil
}

// LiquidationOutcome reports what a liquidation call actually moved.
type LiquidationOutcome struct {
	// RepaidAmount is the borrowed-asset amount the liquidator paid into the
	// borrowed bank's custody.
	RepaidAmount uint64 `json:"repaidAmount"`
	// SeizedAmount is the collateral-asset amount released to the liquidator,
	// including the liquidation bonus.
	SeizedAmount uint64 `json:"seizedAmount"`
	// Health is the report that admitted the liquidation.
	Health HealthReport `json:"health"`
}

// Liquidate lets a third party repay part of an unhealthy borrower's debt in
// exchange for a bonus-weighted slice of their collateral. The close factor
// bounds the debt fraction repayable per call. Both the target position and
// both bank share ledgers are fully reconciled with the transferred tokens:
// repaid debt burns the target's borrow shares, seized collateral burns their
// deposit shares.
func (e *Engine) Liquidate(liquidator, borrower AccountRef, collateralAsset, borrowedAsset AssetID) (*LiquidationOutcome, error) {
	if e == nil || e.store == nil {
		return nil, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	collateralPrice, err := e.freshPrice(collateralAsset)
	if err != nil {
		return nil, err
	}
	borrowPrice, err := e.freshPrice(borrowedAsset)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	collateralBank, err := e.ensureBank(collateralAsset)
	if err != nil {
		return nil, err
	}
	borrowedBank, err := e.ensureBank(borrowedAsset)
	if err != nil {
		return nil, err
	}
	// Both banks accrue to the same instant so their clocks cannot diverge
	// within one call.
	if err := e.accrueBank(collateralBank, now); err != nil {
		return nil, err
	}
	if err := e.accrueBank(borrowedBank, now); err != nil {
		return nil, err
	}

	position, err := e.ensurePosition(borrower)
	if err != nil {
		return nil, err
	}
	collateralHolding := position.Holding(collateralAsset)
	borrowedHolding := position.Holding(borrowedAsset)

	collateralAmount, err := sharesToAmount(collateralHolding.DepositedShares, collateralBank.TotalDeposits, collateralBank.TotalDepositShares)
	if err != nil {
		return nil, err
	}
	debtAmount, err := sharesToAmount(borrowedHolding.BorrowedShares, borrowedBank.TotalBorrows, borrowedBank.TotalBorrowShares)
	if err != nil {
		return nil, err
	}
	collateralValue, err := checkedMul(collateralAmount, collateralPrice.Value)
	if err != nil {
		return nil, err
	}
	borrowedValue, err := checkedMul(debtAmount, borrowPrice.Value)
	if err != nil {
		return nil, err
	}

	health := evaluateHealth(collateralValue, collateralBank.LiquidationThresholdBps, borrowedValue)
	if health.Healthy {
		return nil, ErrAccountNotUnhealthy
	}

	repayAmount, err := mulBps(debtAmount, borrowedBank.LiquidationCloseFactorBps)
	if err != nil {
		return nil, err
	}
	if repayAmount == 0 {
		return nil, ErrInvalidAmount
	}
	repayValue, err := checkedMul(repayAmount, borrowPrice.Value)
	if err != nil {
		return nil, err
	}
	seizeValue, err := mulBps(repayValue, BpsBase+collateralBank.LiquidationBonusBps)
	if err != nil {
		return nil, err
	}
	seizeAmount, err := mulDiv(seizeValue, 1, collateralPrice.Value)
	if err != nil {
		return nil, err
	}
	if seizeAmount > collateralAmount {
		seizeAmount = collateralAmount
	}

	borrowShareBurn, err := amountToShares(repayAmount, borrowedBank.TotalBorrows, borrowedBank.TotalBorrowShares)
	if err != nil {
		return nil, err
	}
	if borrowShareBurn > borrowedHolding.BorrowedShares {
		borrowShareBurn = borrowedHolding.BorrowedShares
	}
	depositShareBurn, err := amountToShares(seizeAmount, collateralBank.TotalDeposits, collateralBank.TotalDepositShares)
	if err != nil {
		return nil, err
	}
	if depositShareBurn > collateralHolding.DepositedShares {
		depositShareBurn = collateralHolding.DepositedShares
	}

	newBorrows, err := checkedSub(borrowedBank.TotalBorrows, repayAmount)
	if err != nil {
		return nil, err
	}
	newBorrowShares, err := checkedSub(borrowedBank.TotalBorrowShares, borrowShareBurn)
	if err != nil {
		return nil, err
	}
	newDeposits, err := checkedSub(collateralBank.TotalDeposits, seizeAmount)
	if err != nil {
		return nil, err
	}
	newDepositShares, err := checkedSub(collateralBank.TotalDepositShares, depositShareBurn)
	if err != nil {
		return nil, err
	}

	if err := e.transfers.Transfer(liquidator, borrowedBank.Custody, borrowedAsset, repayAmount); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	if err := e.transfers.Transfer(collateralBank.Custody, liquidator, collateralAsset, seizeAmount); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	borrowedBank.TotalBorrows = newBorrows
	borrowedBank.TotalBorrowShares = newBorrowShares
	collateralBank.TotalDeposits = newDeposits
	collateralBank.TotalDepositShares = newDepositShares

	borrowedHolding.BorrowedAmount = debtAmount - repayAmount
	borrowedHolding.BorrowedShares -= borrowShareBurn
	if borrowedHolding.BorrowedShares == 0 {
		borrowedHolding.BorrowedAmount = 0
	}
	collateralHolding.DepositedAmount = collateralAmount - seizeAmount
	collateralHolding.DepositedShares -= depositShareBurn
	if collateralHolding.DepositedShares == 0 {
		collateralHolding.DepositedAmount = 0
	}
	position.LastUpdated = now

	if err := e.store.Commit(position, borrowedBank, collateralBank); err != nil {
		return nil, err
	}

	return &LiquidationOutcome{
		RepaidAmount: repayAmount,
		SeizedAmount: seizeAmount,
		Health:       health,
	}, nil
}

// Bank returns the current record for an asset's bank.
func (e *Engine) Bank(asset AssetID) (*Bank, error) {
	if e == nil || e.store == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ensureBank(asset)
}

// Position returns the current record for a user, which may be empty.
func (e *Engine) Position(owner AccountRef) (*Position, error) {
	if e == nil || e.store == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ensurePosition(owner)
}

// PositionHealth evaluates a position against fresh prices without mutating
// any state.
func (e *Engine) PositionHealth(owner AccountRef, collateralAsset, borrowedAsset AssetID) (*HealthReport, error) {
	if e == nil || e.store == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	collateralPrice, err := e.freshPrice(collateralAsset)
	if err != nil {
		return nil, err
	}
	borrowPrice, err := e.freshPrice(borrowedAsset)
	if err != nil {
		return nil, err
	}
	collateralBank, err := e.ensureBank(collateralAsset)
	if err != nil {
		return nil, err
	}
	borrowedBank, err := e.ensureBank(borrowedAsset)
	if err != nil {
		return nil, err
	}
	position, err := e.ensurePosition(owner)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	elapsed := now - position.LastUpdated
	collateralHolding := position.Holding(collateralAsset)
	borrowedHolding := position.Holding(borrowedAsset)

	accruedCollateral, err := accrueValue(collateralHolding.DepositedAmount, collateralBank.InterestRateBps, elapsed)
	if err != nil {
		return nil, err
	}
	accruedDebt, err := accrueValue(borrowedHolding.BorrowedAmount, borrowedBank.InterestRateBps, elapsed)
	if err != nil {
		return nil, err
	}
	collateralValue, err := checkedMul(accruedCollateral, collateralPrice.Value)
	if err != nil {
		return nil, err
	}
	borrowedValue, err := checkedMul(accruedDebt, borrowPrice.Value)
	if err != nil {
		return nil, err
	}
	report := evaluateHealth(collateralValue, collateralBank.LiquidationThresholdBps, borrowedValue)
	return &report, nil
}

func (e *Engine) ensureBank(asset AssetID) (*Bank, error) {
	bank, err := e.store.LoadBank(asset)
	if err != nil {
		return nil, err
	}
	if bank == nil {
		return nil, ErrBankNotFound
	}
	return bank, nil
}

func (e *Engine) ensurePosition(owner AccountRef) (*Position, error) {
	position, err := e.store.LoadPosition(owner)
	if err != nil {
		return nil, err
	}
	if position == nil {
		position = &Position{Owner: owner, LastUpdated: e.clock.Now()}
	}
	return position, nil
}

// accrueBank folds the interest earned since the bank's last update into both
// pool totals. Share counts are untouched, which is what moves the exchange
// rate.
func (e *Engine) accrueBank(bank *Bank, now int64) error {
	elapsed := now - bank.LastUpdated
	deposits, err := accrueValue(bank.TotalDeposits, bank.InterestRateBps, elapsed)
	if err != nil {
		return err
	}
	borrows, err := accrueValue(bank.TotalBorrows, bank.InterestRateBps, elapsed)
	if err != nil {
		return err
	}
	bank.TotalDeposits = deposits
	bank.TotalBorrows = borrows
	bank.LastUpdated = now
	return nil
}

func (e *Engine) freshPrice(asset AssetID) (Price, error) {
	if e.oracle == nil {
		return Price{}, ErrNilState
	}
	price, err := e.oracle.GetPrice(asset, e.maxPriceAge)
	if err != nil {
		return Price{}, fmt.Errorf("%w: %w", ErrStalePriceFeed, err)
	}
	if price.Value == 0 {
		return Price{}, ErrStalePriceFeed
	}
	return price, nil
}

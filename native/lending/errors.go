package lending

import "errors"

var (
	// ErrNilState is returned when the engine is used before its
	// collaborators have been wired.
	ErrNilState = errors.New("lending engine: state not configured")
	// ErrBankNotFound is returned when an operation references an asset
	// without an initialised bank.
	ErrBankNotFound = errors.New("lending engine: bank not initialised")
	// ErrBankExists is returned when initialising a bank twice.
	ErrBankExists = errors.New("lending engine: bank already initialised")
	// ErrInvalidAmount rejects zero-amount operations.
	ErrInvalidAmount = errors.New("lending engine: amount must be positive")
	// ErrInsufficientFunds is returned when a withdrawal exceeds the
	// depositor's interest-accrued entitlement.
	ErrInsufficientFunds = errors.New("lending engine: withdrawal exceeds deposited value")
	// ErrOverBorrowableAmount is returned when a borrow exceeds the
	// collateral-derived cap.
	ErrOverBorrowableAmount = errors.New("lending engine: borrow exceeds borrowable amount")
	// ErrOverRepay is returned when a repayment exceeds the outstanding
	// interest-accrued debt.
	ErrOverRepay = errors.New("lending engine: repay exceeds outstanding debt")
	// ErrAccountNotUnhealthy rejects liquidation of a position whose health
	// factor is at or above 1.
	ErrAccountNotUnhealthy = errors.New("lending engine: position is not eligible for liquidation")
	// ErrDivisionByZero signals a share conversion against an empty pool side.
	ErrDivisionByZero = errors.New("lending engine: division by zero")
	// ErrOverflow signals checked arithmetic exceeding the 64-bit range.
	ErrOverflow = errors.New("lending engine: arithmetic overflow")
	// ErrUnderflow signals a ledger decrement below zero.
	ErrUnderflow = errors.New("lending engine: arithmetic underflow")
	// ErrStalePriceFeed is returned when the oracle cannot provide a price
	// within the configured staleness bound.
	ErrStalePriceFeed = errors.New("lending engine: price feed stale or missing")
	// ErrTransferFailed wraps failures propagated from the transfer service.
	// No ledger state is mutated when it is returned.
	ErrTransferFailed = errors.New("lending engine: transfer failed")
	// ErrInvalidElapsedTime signals a clock or bookkeeping fault where the
	// accrual window would be negative.
	ErrInvalidElapsedTime = errors.New("lending engine: negative elapsed time")
)

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	nativecommon "lendvault/native/common"
	"lendvault/native/lending"
)

var errMissingField = errors.New("missing required field")

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// errorReason maps an engine error to the coarse label used in logs, metrics
// and responses.
func errorReason(err error) string {
	switch {
	case errors.Is(err, lending.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, lending.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, lending.ErrOverBorrowableAmount):
		return "over_borrowable_amount"
	case errors.Is(err, lending.ErrOverRepay):
		return "over_repay"
	case errors.Is(err, lending.ErrAccountNotUnhealthy):
		return "account_not_unhealthy"
	case errors.Is(err, lending.ErrStalePriceFeed):
		return "stale_price_feed"
	case errors.Is(err, lending.ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, lending.ErrBankNotFound):
		return "bank_not_found"
	case errors.Is(err, lending.ErrBankExists):
		return "bank_exists"
	case errors.Is(err, lending.ErrDivisionByZero),
		errors.Is(err, lending.ErrOverflow),
		errors.Is(err, lending.ErrUnderflow):
		return "arithmetic_fault"
	case errors.Is(err, lending.ErrInvalidElapsedTime):
		return "invalid_elapsed_time"
	case errors.Is(err, nativecommon.ErrModulePaused):
		return "module_paused"
	case errors.Is(err, nativecommon.ErrQuotaRequestsExceeded),
		errors.Is(err, nativecommon.ErrQuotaAmountExceeded):
		return "quota_exceeded"
	default:
		return "internal"
	}
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, lending.ErrInvalidAmount), errors.Is(err, errMissingField):
		return http.StatusBadRequest
	case errors.Is(err, lending.ErrBankNotFound):
		return http.StatusNotFound
	case errors.Is(err, lending.ErrBankExists):
		return http.StatusConflict
	case errors.Is(err, lending.ErrInsufficientFunds),
		errors.Is(err, lending.ErrOverBorrowableAmount),
		errors.Is(err, lending.ErrOverRepay),
		errors.Is(err, lending.ErrAccountNotUnhealthy):
		return http.StatusUnprocessableEntity
	case errors.Is(err, lending.ErrTransferFailed):
		return http.StatusConflict
	case errors.Is(err, lending.ErrStalePriceFeed),
		errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, nativecommon.ErrQuotaRequestsExceeded),
		errors.Is(err, nativecommon.ErrQuotaAmountExceeded):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusForError(err), errorResponse{
		Error:  err.Error(),
		Reason: errorReason(err),
	})
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorResponse{
		Error:  err.Error(),
		Reason: "bad_request",
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

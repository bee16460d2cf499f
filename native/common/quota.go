package common

import (
	"errors"
	"math"
)

var (
	ErrQuotaRequestsExceeded = errors.New("quota requests exceeded")
	ErrQuotaAmountExceeded   = errors.New("quota amount cap exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

const defaultEpochSeconds = 60

// QuotaNow captures one account's usage counters within its current epoch.
type QuotaNow struct {
	ReqCount   uint32
	AmountUsed uint64
	EpochID    uint64
}

// Quota bounds per-account operation throughput. A zero cap on either axis
// leaves that axis unenforced.
type Quota struct {
	MaxRequestsPerEpoch uint32
	MaxAmountPerEpoch   uint64
	EpochSeconds        uint32
}

// Enabled reports whether any axis of the quota is enforced.
func (q Quota) Enabled() bool {
	return q.MaxRequestsPerEpoch > 0 || q.MaxAmountPerEpoch > 0
}

// EpochOf buckets a unix timestamp into the quota's epoch.
func (q Quota) EpochOf(now int64) uint64 {
	seconds := q.EpochSeconds
	if seconds == 0 {
		seconds = defaultEpochSeconds
	}
	if now < 0 {
		now = 0
	}
	return uint64(now) / uint64(seconds)
}

// Apply folds one request moving amount into the counters. Counters reset when
// the epoch has rolled over since prev was taken. On rejection prev is
// returned unchanged so the caller's stored usage stays untouched.
func (q Quota) Apply(prev QuotaNow, nowEpoch uint64, amount uint64) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}

	if next.ReqCount == math.MaxUint32 {
		return prev, ErrQuotaCounterOverflow
	}
	next.ReqCount++
	if q.MaxRequestsPerEpoch > 0 && next.ReqCount > q.MaxRequestsPerEpoch {
		return prev, ErrQuotaRequestsExceeded
	}

	if amount > math.MaxUint64-next.AmountUsed {
		return prev, ErrQuotaCounterOverflow
	}
	next.AmountUsed += amount
	if q.MaxAmountPerEpoch > 0 && next.AmountUsed > q.MaxAmountPerEpoch {
		return prev, ErrQuotaAmountExceeded
	}

	return next, nil
}

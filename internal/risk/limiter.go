// Package risk enforces exposure limits on position opens.
//
// Limits are checked by the engine before any ledger or book mutation, so
// a rejected open leaves both stores untouched.
package risk

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrLeverageExceeded is returned when the requested leverage falls
	// outside the allowed range.
	ErrLeverageExceeded = errors.New("risk: leverage limit exceeded")

	// ErrPerAssetMarginExceeded is returned when an open would push the
	// margin locked against a single asset beyond the per-asset maximum.
	ErrPerAssetMarginExceeded = errors.New("risk: per-asset margin limit exceeded")

	// ErrTotalMarginExceeded is returned when an open would push the
	// aggregate margin across all open positions beyond the total maximum.
	ErrTotalMarginExceeded = errors.New("risk: total margin limit exceeded")
)

// Limiter enforces margin and leverage limits.
type Limiter struct {
	// MaxLeverage is the highest leverage multiplier accepted on an open.
	MaxLeverage int

	// MaxPerAsset is the maximum margin locked against any single asset.
	MaxPerAsset decimal.Decimal

	// MaxTotal is the maximum aggregate margin across all open positions.
	MaxTotal decimal.Decimal
}

// NewLimiter creates a limiter with the given leverage and margin limits.
func NewLimiter(maxLeverage int, maxPerAsset, maxTotal decimal.Decimal) *Limiter {
	if maxLeverage < 1 {
		maxLeverage = 1
	}
	return &Limiter{
		MaxLeverage: maxLeverage,
		MaxPerAsset: maxPerAsset,
		MaxTotal:    maxTotal,
	}
}

// Check validates whether an open respects the limits.
//
// Parameters:
//   - assetID: asset being traded
//   - margin: ledger units the open would lock
//   - leverage: requested leverage multiplier
//   - existingMargins: map of asset id → margin currently locked
//
// Returns nil if the open is within limits, or an error describing the
// violation.
func (l *Limiter) Check(
	assetID string,
	margin decimal.Decimal,
	leverage int,
	existingMargins map[string]decimal.Decimal,
) error {
	if leverage < 1 || leverage > l.MaxLeverage {
		return ErrLeverageExceeded
	}

	// 1. Per-asset limit.
	newPerAsset := existingMargins[assetID].Add(margin)
	if newPerAsset.GreaterThan(l.MaxPerAsset) {
		return ErrPerAssetMarginExceeded
	}

	// 2. Aggregate limit across every asset.
	total := margin
	for _, m := range existingMargins {
		total = total.Add(m)
	}
	if total.GreaterThan(l.MaxTotal) {
		return ErrTotalMarginExceeded
	}

	return nil
}

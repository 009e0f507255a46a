package engine

import (
	"math"
	"sort"

	"github.com/Xenovative/PMBot/internal/domain"
)

// depthSafetyFactor caps sizing at 80% of observed depth, leaving a 20%
// margin against the book moving between snapshot and order.
const depthSafetyFactor = 0.8

// SafeOrderSize computes the largest tradeable size for a pair trade:
// capped by desired size and by 80% of each leg's depth, rounded to two
// decimals. It fails with domain.ErrInsufficientDepth when the result is
// under one share, and with domain.ErrBelowMinNotional when either leg's
// notional at current reference prices would fall below the $1 floor.
func SafeOrderSize(snap domain.PriceSnapshot, desired float64) (float64, error) {
	availableUp := snap.UpLiquidity * depthSafetyFactor
	availableDown := snap.DownLiquidity * depthSafetyFactor

	safe := math.Min(desired, math.Min(availableUp, availableDown))
	if safe < 1.0 {
		return 0, domain.ErrInsufficientDepth
	}
	safe = math.Max(math.Round(safe*100)/100, 1.0)

	if safe*snap.UpPrice < minOrderNotional || safe*snap.DownPrice < minOrderNotional {
		return 0, domain.ErrBelowMinNotional
	}
	return safe, nil
}

// SweepPrice walks the ask levels cheapest-first to fill sharesNeeded and
// returns the worst (marginal) fill price plus the actual USD cost (the
// per-level VWAP sum). Insufficient depth returns (0, 0).
func SweepPrice(asks []domain.PriceLevel, sharesNeeded float64) (worstPrice, usdCost float64) {
	sorted := append([]domain.PriceLevel(nil), asks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Price < sorted[j].Price })

	remaining := sharesNeeded
	for _, lvl := range sorted {
		if remaining <= 0 {
			break
		}
		filled := math.Min(remaining, lvl.Size)
		usdCost += filled * lvl.Price
		remaining -= lvl.Size
		worstPrice = lvl.Price
	}
	if remaining > 0 {
		return 0, 0
	}
	return worstPrice, usdCost
}

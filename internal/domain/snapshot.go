package domain

import "time"

// PriceSnapshot is a point-in-time view of both legs of an Up/Down market:
// reference buy prices, best asks, aggregated depth over the top five ask
// levels, and the raw top ten levels per leg. TotalCost and Spread are
// derived at construction and never mutated independently.
type PriceSnapshot struct {
	UpPrice       float64
	DownPrice     float64
	UpBestAsk     float64
	DownBestAsk   float64
	UpLiquidity   float64
	DownLiquidity float64
	UpAsks        []PriceLevel
	DownAsks      []PriceLevel
	TotalCost     float64
	Spread        float64
	Timestamp     time.Time
}

// NewPriceSnapshot derives TotalCost and Spread from the leg fields. The
// best-ask sum is preferred because it is the price a taker actually pays;
// reference prices are the fallback when either book came back empty.
func NewPriceSnapshot(s PriceSnapshot) PriceSnapshot {
	if s.UpBestAsk > 0 && s.DownBestAsk > 0 {
		s.TotalCost = s.UpBestAsk + s.DownBestAsk
	} else {
		s.TotalCost = s.UpPrice + s.DownPrice
	}
	s.Spread = 1.0 - s.TotalCost
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now().UTC()
	}
	return s
}

// BestAsk returns the captured best ask for a side, falling back to the
// reference price when the book was empty at capture time.
func (s PriceSnapshot) BestAsk(side Side) float64 {
	switch side {
	case SideUp:
		if s.UpBestAsk > 0 {
			return s.UpBestAsk
		}
		return s.UpPrice
	default:
		if s.DownBestAsk > 0 {
			return s.DownBestAsk
		}
		return s.DownPrice
	}
}

// Liquidity returns the aggregated top-5 ask depth for a side.
func (s PriceSnapshot) Liquidity(side Side) float64 {
	if side == SideUp {
		return s.UpLiquidity
	}
	return s.DownLiquidity
}

// Package domain defines the core entities shared across the PMBot engine:
// markets, price snapshots, opportunities, trade records, bargain holdings,
// and the store interfaces implemented by the persistence layer.
package domain

import "time"

// Side identifies one leg of a binary Up/Down token pair.
type Side string

const (
	SideUp   Side = "UP"
	SideDown Side = "DOWN"
)

// Complement returns the opposite leg.
func (s Side) Complement() Side {
	if s == SideUp {
		return SideDown
	}
	return SideUp
}

// Market represents an Up/Down prediction market discovered via the Gamma
// API. It is immutable during a scan cycle; a new discovery pass replaces it.
type Market struct {
	ID              string
	Question        string
	Slug            string
	ConditionID     string
	UpTokenID       string
	DownTokenID     string
	EndDate         time.Time
	Active          bool
	Closed          bool
	AcceptingOrders bool
	Volume          float64
	Liquidity       float64
}

// TokenID returns the token id for the given side.
func (m Market) TokenID(side Side) string {
	if side == SideUp {
		return m.UpTokenID
	}
	return m.DownTokenID
}

// TimeRemaining returns the duration until market resolution as of now.
// Expired markets return a non-positive duration.
func (m Market) TimeRemaining(now time.Time) time.Duration {
	if m.EndDate.IsZero() {
		return 0
	}
	return m.EndDate.Sub(now)
}

// Tradeable reports whether the market can accept new orders.
func (m Market) Tradeable(now time.Time) bool {
	return m.Active && !m.Closed && m.AcceptingOrders &&
		m.UpTokenID != "" && m.DownTokenID != "" &&
		m.TimeRemaining(now) > 0
}

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64
	Size  float64
}

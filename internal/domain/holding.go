package domain

import "time"

// HoldingStatus tracks a bargain holding's lifecycle. The two terminal
// states (paired, stopped_out) never revert to holding.
type HoldingStatus string

const (
	HoldingStatusHolding    HoldingStatus = "holding"
	HoldingStatusPaired     HoldingStatus = "paired"
	HoldingStatusStoppedOut HoldingStatus = "stopped_out"
)

// BargainHolding is a single-sided position opened by the bargain stacking
// strategy, or an orphan converted from a failed unwind. PairedWith holds
// the counterpart holding's ID once both legs flip to paired.
type BargainHolding struct {
	ID                string
	MarketSlug        string
	Market            Market
	Side              Side
	TokenID           string
	ComplementTokenID string
	BuyPrice          float64
	Shares            float64
	AmountUSD         float64
	Status            HoldingStatus
	Round             int
	PairedWith        string
	CreatedAt         time.Time
}

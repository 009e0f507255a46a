package domain

import "time"

// TradeStatus tracks the lifecycle of one execution attempt.
type TradeStatus string

const (
	TradeStatusPending   TradeStatus = "pending"
	TradeStatusExecuted  TradeStatus = "executed"
	TradeStatusSimulated TradeStatus = "simulated"
	TradeStatusFailed    TradeStatus = "failed"
	TradeStatusSkipped   TradeStatus = "skipped"
)

// Terminal reports whether the status is final.
func (s TradeStatus) Terminal() bool {
	switch s {
	case TradeStatusExecuted, TradeStatusSimulated, TradeStatusFailed, TradeStatusSkipped:
		return true
	case TradeStatusPending:
		return false
	}
	return false
}

// Profitable reports whether this outcome contributes to realized profit
// accounting. Simulated trades count so that dry runs exercise the same
// stats paths as live trading.
func (s TradeStatus) Profitable() bool {
	return s == TradeStatusExecuted || s == TradeStatusSimulated
}

// TradeRecord is the immutable audit record of a single execution attempt.
// Once the status goes terminal the record is append-only history.
type TradeRecord struct {
	ID             string
	Timestamp      time.Time
	MarketSlug     string
	TradeType      string // "arbitrage", "bargain", "stop_loss"
	Side           Side   // bargain/stop-loss records only
	UpPrice        float64
	DownPrice      float64
	TotalCost      float64
	OrderSize      float64
	ExpectedProfit float64
	ProfitPct      float64
	Status         TradeStatus
	Details        string
}

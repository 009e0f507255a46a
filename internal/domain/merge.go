package domain

import (
	"context"
	"time"
)

// MergedPosition is the handoff object pushed to the position-merge
// collaborator whenever a paired trade completes. The engine does not own
// merge state; it only reports cost basis and traded amount.
type MergedPosition struct {
	MarketSlug     string
	ConditionID    string
	UpTokenID      string
	DownTokenID    string
	Amount         float64
	TotalCostBasis float64
}

// MergeStatus tracks the outcome of one mergePositions call.
type MergeStatus string

const (
	MergeStatusSuccess   MergeStatus = "success"
	MergeStatusSimulated MergeStatus = "simulated"
	MergeStatusFailed    MergeStatus = "failed"
)

// MergeRecord is the audit record of one on-chain merge attempt.
type MergeRecord struct {
	Timestamp    time.Time
	MarketSlug   string
	ConditionID  string
	Amount       float64
	USDCReceived float64
	TxHash       string
	GasCost      float64
	NetProfit    float64
	Status       MergeStatus
	Details      string
}

// PositionTracker is the engine-facing interface of the merge collaborator.
// TrackTrade records a completed pair; AutoMergeAll redeems every tracked
// pair for collateral when auto-merge is enabled.
type PositionTracker interface {
	TrackTrade(pos MergedPosition)
	AutoMergeEnabled() bool
	AutoMergeAll(ctx context.Context) []MergeRecord
}

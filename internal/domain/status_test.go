package domain

import (
	"fmt"
	"testing"
)

func TestSnapshotBoundsLogsAndHistory(t *testing.T) {
	s := NewEngineStatus()
	for i := 0; i < logRingCap+25; i++ {
		s.AddLog("line %d", i)
	}
	for i := 0; i < historySurface+5; i++ {
		s.TradeHistory = append(s.TradeHistory, TradeRecord{ID: fmt.Sprintf("t%d", i)})
	}

	snap := s.Snapshot()
	if len(snap.Logs) != logSurface {
		t.Fatalf("snapshot logs = %d, want %d", len(snap.Logs), logSurface)
	}
	if len(snap.TradeHistory) != historySurface {
		t.Fatalf("snapshot history = %d, want %d", len(snap.TradeHistory), historySurface)
	}
	// The surface keeps the newest entries.
	last := snap.TradeHistory[len(snap.TradeHistory)-1]
	if last.ID != fmt.Sprintf("t%d", historySurface+4) {
		t.Fatalf("newest history entry = %s", last.ID)
	}
}

func TestSnapshotCopiesAreIndependent(t *testing.T) {
	s := NewEngineStatus()
	s.ActiveMarkets = []string{"btc-updown"}
	s.TradesPerMarket["btc-updown"] = 1

	snap := s.Snapshot()
	snap.ActiveMarkets[0] = "mutated"
	snap.TradesPerMarket["btc-updown"] = 99

	if s.ActiveMarkets[0] != "btc-updown" {
		t.Fatal("snapshot shares the active markets slice")
	}
	if s.TradesPerMarket["btc-updown"] != 1 {
		t.Fatal("snapshot shares the trades map")
	}
}

func TestSnapshotFiltersBargainHoldings(t *testing.T) {
	s := NewEngineStatus()
	s.BargainHoldings = []*BargainHolding{
		{ID: "a", Status: HoldingStatusHolding},
		{ID: "b", Status: HoldingStatusPaired},
		{ID: "c", Status: HoldingStatusStoppedOut},
		{ID: "d", Status: HoldingStatusHolding},
	}

	snap := s.Snapshot()
	if len(snap.BargainHoldings) != 2 {
		t.Fatalf("holdings surfaced = %d, want 2", len(snap.BargainHoldings))
	}
	for _, h := range snap.BargainHoldings {
		if h.Status != HoldingStatusHolding {
			t.Fatalf("holding %s has status %s", h.ID, h.Status)
		}
	}
}

func TestSnapshotOmitsZeroStartTime(t *testing.T) {
	s := NewEngineStatus()
	if snap := s.Snapshot(); snap.StartTime != nil {
		t.Fatal("zero start time should be omitted")
	}
}

func TestUnpairedHoldingReturnsLatest(t *testing.T) {
	s := NewEngineStatus()
	s.BargainHoldings = []*BargainHolding{
		{ID: "old", MarketSlug: "btc", Status: HoldingStatusHolding},
		{ID: "other", MarketSlug: "eth", Status: HoldingStatusHolding},
		{ID: "new", MarketSlug: "btc", Status: HoldingStatusHolding},
	}

	if h := s.UnpairedHolding("btc"); h == nil || h.ID != "new" {
		t.Fatalf("UnpairedHolding = %+v, want new", h)
	}
	if !s.HasUnpairedElsewhere("btc") {
		t.Fatal("eth holding should count as elsewhere")
	}
	if s.HasUnpairedElsewhere("eth") == false {
		t.Fatal("btc holdings should count as elsewhere for eth")
	}
}

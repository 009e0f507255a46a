package merger

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/Xenovative/PMBot/internal/config"
	"github.com/Xenovative/PMBot/internal/domain"
)

func newTestMerger(t *testing.T) *Merger {
	t.Helper()
	cfg := config.Defaults()
	m, err := New(&cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	m.now = func() time.Time { return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC) }
	return m
}

func trackedPosition(amount, costBasis float64) domain.MergedPosition {
	return domain.MergedPosition{
		MarketSlug:     "btc-updown-15m-1756645200",
		ConditionID:    "0xabc",
		UpTokenID:      "111",
		DownTokenID:    "222",
		Amount:         amount,
		TotalCostBasis: costBasis,
	}
}

func TestTrackTradeAccumulates(t *testing.T) {
	m := newTestMerger(t)

	m.TrackTrade(trackedPosition(50, 0.97))
	m.TrackTrade(trackedPosition(30, 0.96))

	view := m.Status()
	if view.TotalTracked != 1 {
		t.Fatalf("tracked = %d, want 1", view.TotalTracked)
	}
	pos := view.Positions[0]
	if pos.UpBalance != 80 || pos.DownBalance != 80 || pos.MergeableAmount != 80 {
		t.Errorf("balances = %v/%v mergeable %v, want 80/80/80", pos.UpBalance, pos.DownBalance, pos.MergeableAmount)
	}
	// 50*0.97 + 30*0.96
	if math.Abs(pos.TotalCostBasis-77.3) > 1e-9 {
		t.Errorf("cost basis = %v, want 77.3", pos.TotalCostBasis)
	}
}

func TestTrackTradeIgnoresMissingCondition(t *testing.T) {
	m := newTestMerger(t)
	m.TrackTrade(domain.MergedPosition{MarketSlug: "m", Amount: 10})
	if got := m.Status().TotalTracked; got != 0 {
		t.Errorf("tracked = %d, want 0", got)
	}
}

func TestMergeDryRun(t *testing.T) {
	m := newTestMerger(t)
	m.TrackTrade(trackedPosition(50, 0.97))

	record, err := m.Merge(context.Background(), "0xabc", 0)
	if err != nil {
		t.Fatal(err)
	}
	if record.Status != domain.MergeStatusSimulated {
		t.Fatalf("status = %s, want simulated", record.Status)
	}
	if record.Amount != 50 || record.USDCReceived != 50 {
		t.Errorf("amount = %v received %v, want 50/50", record.Amount, record.USDCReceived)
	}
	// 50 USDC back against a 48.50 cost basis.
	if math.Abs(record.NetProfit-1.5) > 1e-9 {
		t.Errorf("net profit = %v, want 1.5", record.NetProfit)
	}

	view := m.Status()
	pos := view.Positions[0]
	if pos.UpBalance != 0 || pos.MergeableAmount != 0 {
		t.Errorf("post-merge balances = %v mergeable %v, want 0/0", pos.UpBalance, pos.MergeableAmount)
	}
	if view.TotalMergedUSDC != 50 || view.MergeCount != 1 {
		t.Errorf("totals = %v USDC / %d merges, want 50/1", view.TotalMergedUSDC, view.MergeCount)
	}
}

func TestMergeBelowMinimum(t *testing.T) {
	m := newTestMerger(t)
	m.TrackTrade(trackedPosition(0.5, 0.97))

	if _, err := m.Merge(context.Background(), "0xabc", 0); err == nil {
		t.Fatal("expected error for a sub-minimum merge")
	}
}

func TestMergeUnknownCondition(t *testing.T) {
	m := newTestMerger(t)
	if _, err := m.Merge(context.Background(), "0xmissing", 0); err == nil {
		t.Fatal("expected error for an untracked condition")
	}
}

func TestAutoMergeAll(t *testing.T) {
	m := newTestMerger(t)
	m.TrackTrade(trackedPosition(50, 0.97))

	other := trackedPosition(20, 0.95)
	other.ConditionID = "0xdef"
	other.MarketSlug = "eth-updown-15m-1756645200"
	m.TrackTrade(other)

	records := m.AutoMergeAll(context.Background())
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	for _, r := range records {
		if r.Status != domain.MergeStatusSimulated {
			t.Errorf("status = %s, want simulated", r.Status)
		}
	}
	if got := m.Status().TotalMergeable; got != 0 {
		t.Errorf("mergeable after auto-merge = %v, want 0", got)
	}
}

func TestAutoMergeAllDisabled(t *testing.T) {
	m := newTestMerger(t)
	m.TrackTrade(trackedPosition(50, 0.97))
	m.SetAutoMerge(false)

	if records := m.AutoMergeAll(context.Background()); records != nil {
		t.Fatalf("records = %v, want nil while disabled", records)
	}
	if m.AutoMergeEnabled() {
		t.Error("AutoMergeEnabled = true after disabling")
	}
}

func TestMergeLiveWithoutKeyFails(t *testing.T) {
	m := newTestMerger(t)
	m.SetDryRun(false)
	m.TrackTrade(trackedPosition(50, 0.97))

	_, err := m.Merge(context.Background(), "0xabc", 0)
	if err == nil {
		t.Fatal("expected failure without a signing key")
	}

	view := m.Status()
	if len(view.History) != 1 || view.History[0].Status != domain.MergeStatusFailed {
		t.Fatalf("history = %+v, want one failed record", view.History)
	}
	// A failed merge must not touch balances.
	if view.Positions[0].MergeableAmount != 50 {
		t.Errorf("mergeable = %v, want untouched 50", view.Positions[0].MergeableAmount)
	}
}

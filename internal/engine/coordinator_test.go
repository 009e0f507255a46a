package engine

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/Xenovative/PMBot/internal/config"
	"github.com/Xenovative/PMBot/internal/domain"
)

func testOpportunity(upAsk, downAsk float64) domain.Opportunity {
	market := testMarket(10 * time.Minute)
	snap := testSnapshot(upAsk, downAsk)
	return Evaluate(market, snap, config.Defaults().Engine, 0, time.Time{}, testNow)
}

// bookQuotes serves a fixed best ask per token for book refreshes.
func bookQuotes(asks map[string]float64) *stubQuotes {
	return &stubQuotes{
		getOrderBook: func(_ context.Context, tokenID string) ([]domain.PriceLevel, error) {
			return []domain.PriceLevel{{Price: asks[tokenID], Size: 1000}}, nil
		},
	}
}

func TestExecuteTradeDryRun(t *testing.T) {
	e := newTestEngine(t, config.Defaults(), &stubQuotes{}, nil)

	opp := testOpportunity(0.48, 0.49)
	record := e.ExecuteTrade(context.Background(), opp)

	if record.Status != domain.TradeStatusSimulated {
		t.Fatalf("status = %s, want simulated", record.Status)
	}
	if record.ExpectedProfit != 1.25 {
		t.Errorf("expected profit = %v, want 1.25", record.ExpectedProfit)
	}

	st := e.Status()
	st.RLock()
	defer st.RUnlock()
	if st.TotalTrades != 1 {
		t.Errorf("TotalTrades = %d, want 1", st.TotalTrades)
	}
	if st.TotalProfit != 1.25 {
		t.Errorf("TotalProfit = %v, want 1.25", st.TotalProfit)
	}
	if len(st.TradeHistory) != 1 {
		t.Errorf("history length = %d, want 1", len(st.TradeHistory))
	}
}

func TestExecuteTradeStopLossCooldown(t *testing.T) {
	e := newTestEngine(t, config.Defaults(), &stubQuotes{}, nil)
	e.stopLossCooldownUntil = testNow.Add(time.Minute)

	record := e.ExecuteTrade(context.Background(), testOpportunity(0.48, 0.49))
	if record.Status != domain.TradeStatusSkipped {
		t.Fatalf("status = %s, want skipped", record.Status)
	}

	st := e.Status()
	st.RLock()
	defer st.RUnlock()
	if st.TotalTrades != 0 {
		t.Errorf("TotalTrades = %d, want 0 for a skipped trade", st.TotalTrades)
	}
}

func TestExecuteTradeInsufficientDepth(t *testing.T) {
	e := newTestEngine(t, config.Defaults(), &stubQuotes{}, nil)

	opp := testOpportunity(0.48, 0.49)
	opp.Snapshot.UpLiquidity = 1
	opp.Snapshot.DownLiquidity = 1

	record := e.ExecuteTrade(context.Background(), opp)
	if record.Status != domain.TradeStatusFailed {
		t.Fatalf("status = %s, want failed", record.Status)
	}
	if !strings.Contains(record.Details, "insufficient liquidity") {
		t.Errorf("details = %q, want insufficient liquidity", record.Details)
	}

	st := e.Status()
	st.RLock()
	defer st.RUnlock()
	if st.TotalTrades != 0 {
		t.Errorf("TotalTrades = %d, want 0 when sizing rejects the trade", st.TotalTrades)
	}
}

func TestExecuteTradeFirstLegExhaustsRetries(t *testing.T) {
	cfg := config.Defaults()
	cfg.Engine.DryRun = false

	var buys []float64
	sells := 0
	orders := &stubOrders{
		marketBuy: func(_ context.Context, _ string, amountUSD float64) (domain.Fill, error) {
			buys = append(buys, amountUSD)
			return domain.Fill{}, domain.ErrInsufficientDepth
		},
		limitSell: func(context.Context, string, float64, float64, domain.TimeInForce) (domain.Fill, error) {
			sells++
			return domain.Fill{}, nil
		},
	}
	e := newTestEngine(t, cfg, bookQuotes(map[string]float64{"up-token": 0.48, "down-token": 0.49}), orders)

	record := e.ExecuteTrade(context.Background(), testOpportunity(0.48, 0.49))
	if record.Status != domain.TradeStatusFailed {
		t.Fatalf("status = %s, want failed", record.Status)
	}
	if !strings.Contains(record.Details, "buy failed after retries") {
		t.Errorf("details = %q, want first-leg failure", record.Details)
	}
	// Full size plus the 50% and 25% reductions, UP leg at 0.48.
	want := []float64{24, 12, 6}
	if len(buys) != len(want) {
		t.Fatalf("buys = %v, want %v", buys, want)
	}
	for i := range want {
		if buys[i] != want[i] {
			t.Errorf("buy %d = %v, want %v", i, buys[i], want[i])
		}
	}
	if sells != 0 {
		t.Errorf("sells = %d, want 0 when no capital was committed", sells)
	}
}

func TestExecuteTradeSecondLegFailureUnwinds(t *testing.T) {
	cfg := config.Defaults()
	cfg.Engine.DryRun = false

	var soldShares, soldPrice float64
	var soldTIF domain.TimeInForce
	orders := &stubOrders{
		marketBuy: func(_ context.Context, tokenID string, _ float64) (domain.Fill, error) {
			if tokenID == "up-token" {
				return domain.Fill{OrderID: "o1", Shares: 50, Price: 0.48}, nil
			}
			return domain.Fill{}, domain.ErrInsufficientDepth
		},
		limitSell: func(_ context.Context, tokenID string, shares, limitPrice float64, tif domain.TimeInForce) (domain.Fill, error) {
			if tokenID != "up-token" {
				t.Errorf("sold token %q, want up-token", tokenID)
			}
			soldShares, soldPrice, soldTIF = shares, limitPrice, tif
			return domain.Fill{OrderID: "o2"}, nil
		},
	}
	e := newTestEngine(t, cfg, bookQuotes(map[string]float64{"up-token": 0.48, "down-token": 0.49}), orders)

	record := e.ExecuteTrade(context.Background(), testOpportunity(0.48, 0.49))
	if record.Status != domain.TradeStatusFailed {
		t.Fatalf("status = %s, want failed", record.Status)
	}
	if !strings.Contains(record.Details, "unwound") {
		t.Errorf("details = %q, want unwound", record.Details)
	}
	if soldShares != 50 || soldPrice != 0.48 || soldTIF != domain.FillOrKill {
		t.Errorf("sell = %.2f @ %.2f %s, want 50 @ 0.48 FOK", soldShares, soldPrice, soldTIF)
	}
}

func TestExecuteTradeUnwindExhaustionConvertsOrphan(t *testing.T) {
	cfg := config.Defaults()
	cfg.Engine.DryRun = false

	sells := 0
	orders := &stubOrders{
		marketBuy: func(_ context.Context, tokenID string, _ float64) (domain.Fill, error) {
			if tokenID == "up-token" {
				return domain.Fill{OrderID: "o1", Shares: 50, Price: 0.48}, nil
			}
			return domain.Fill{}, domain.ErrInsufficientDepth
		},
		limitSell: func(context.Context, string, float64, float64, domain.TimeInForce) (domain.Fill, error) {
			sells++
			return domain.Fill{}, errors.New("no match")
		},
	}
	e := newTestEngine(t, cfg, bookQuotes(map[string]float64{"up-token": 0.48, "down-token": 0.49}), orders)

	record := e.ExecuteTrade(context.Background(), testOpportunity(0.48, 0.49))
	if record.Status != domain.TradeStatusFailed {
		t.Fatalf("status = %s, want failed", record.Status)
	}
	if !strings.Contains(record.Details, "converted to bargain holding") {
		t.Errorf("details = %q, want orphan conversion", record.Details)
	}
	// Three attempts, each trying the price ladder (0.48, 0.43, 0.01)
	// with FOK and GTC.
	if sells != 18 {
		t.Errorf("sells = %d, want 18", sells)
	}

	st := e.Status()
	st.RLock()
	defer st.RUnlock()
	if len(st.BargainHoldings) != 1 {
		t.Fatalf("holdings = %d, want 1", len(st.BargainHoldings))
	}
	h := st.BargainHoldings[0]
	if h.Status != domain.HoldingStatusHolding {
		t.Errorf("holding status = %s, want holding", h.Status)
	}
	if h.Side != domain.SideUp || h.Shares != 50 || h.BuyPrice != 0.48 || h.Round != 1 {
		t.Errorf("holding = %s %.2f @ %.4f round %d, want UP 50 @ 0.48 round 1", h.Side, h.Shares, h.BuyPrice, h.Round)
	}
}

func TestExecuteTradeRecheckAbandonsSecondLeg(t *testing.T) {
	cfg := config.Defaults()
	cfg.Engine.DryRun = false

	downReads := 0
	quotes := &stubQuotes{
		getOrderBook: func(_ context.Context, tokenID string) ([]domain.PriceLevel, error) {
			if tokenID == "down-token" {
				downReads++
				if downReads > 1 {
					// The book moved against us after the first fill.
					return []domain.PriceLevel{{Price: 0.53, Size: 1000}}, nil
				}
				return []domain.PriceLevel{{Price: 0.49, Size: 1000}}, nil
			}
			return []domain.PriceLevel{{Price: 0.48, Size: 1000}}, nil
		},
	}
	unwound := false
	orders := &stubOrders{
		marketBuy: func(_ context.Context, tokenID string, amountUSD float64) (domain.Fill, error) {
			if tokenID != "up-token" {
				t.Errorf("bought %q after failed revalidation", tokenID)
			}
			if amountUSD != 24 {
				t.Errorf("first leg amount = %v, want 24", amountUSD)
			}
			return domain.Fill{OrderID: "o1", Shares: 50, Price: 0.48}, nil
		},
		limitSell: func(context.Context, string, float64, float64, domain.TimeInForce) (domain.Fill, error) {
			unwound = true
			return domain.Fill{OrderID: "o2"}, nil
		},
	}
	e := newTestEngine(t, cfg, quotes, orders)

	record := e.ExecuteTrade(context.Background(), testOpportunity(0.48, 0.49))
	if record.Status != domain.TradeStatusFailed {
		t.Fatalf("status = %s, want failed", record.Status)
	}
	if !strings.Contains(record.Details, "revalidation failed") || !strings.Contains(record.Details, "unwound") {
		t.Errorf("details = %q, want revalidation failure with unwind", record.Details)
	}
	if !unwound {
		t.Error("expected the filled first leg to be sold back")
	}
}

func TestExecuteTradePairFill(t *testing.T) {
	cfg := config.Defaults()
	cfg.Engine.DryRun = false

	var downAmount float64
	orders := &stubOrders{
		marketBuy: func(_ context.Context, tokenID string, amountUSD float64) (domain.Fill, error) {
			if tokenID == "up-token" {
				return domain.Fill{OrderID: "o1", Shares: 50, Price: 0.48}, nil
			}
			downAmount = amountUSD
			return domain.Fill{OrderID: "o2", Shares: 50, Price: 0.49}, nil
		},
		limitSell: func(context.Context, string, float64, float64, domain.TimeInForce) (domain.Fill, error) {
			t.Error("unexpected sell on the success path")
			return domain.Fill{}, nil
		},
	}
	e := newTestEngine(t, cfg, bookQuotes(map[string]float64{"up-token": 0.48, "down-token": 0.49}), orders)

	record := e.ExecuteTrade(context.Background(), testOpportunity(0.48, 0.49))
	if record.Status != domain.TradeStatusExecuted {
		t.Fatalf("status = %s, want executed", record.Status)
	}
	if downAmount != 24.5 {
		t.Errorf("second leg amount = %v, want 24.5", downAmount)
	}
	if record.TotalCost != 0.97 {
		t.Errorf("total cost = %v, want 0.97 from actual fills", record.TotalCost)
	}
	// (1 - 0.97) * 50
	if math.Abs(record.ExpectedProfit-1.5) > 1e-9 {
		t.Errorf("profit = %v, want 1.5", record.ExpectedProfit)
	}

	st := e.Status()
	st.RLock()
	defer st.RUnlock()
	if math.Abs(st.TotalProfit-1.5) > 1e-9 {
		t.Errorf("TotalProfit = %v, want 1.5", st.TotalProfit)
	}
	if st.TradesForMarket("btc-updown-15m-1756645200") != 1 {
		t.Errorf("market trade count = %d, want 1", st.TradesForMarket("btc-updown-15m-1756645200"))
	}
}

package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/Xenovative/PMBot/internal/config"
	"github.com/Xenovative/PMBot/internal/domain"
)

func bargainMarket(slug string, remaining time.Duration) domain.Market {
	return domain.Market{
		ID:              slug,
		Slug:            slug,
		ConditionID:     "0x" + slug,
		UpTokenID:       slug + "-up",
		DownTokenID:     slug + "-down",
		EndDate:         testNow.Add(remaining),
		Active:          true,
		AcceptingOrders: true,
	}
}

func holdingFor(slug string, side domain.Side, buyPrice float64, round int, status domain.HoldingStatus) *domain.BargainHolding {
	m := bargainMarket(slug, time.Hour)
	return &domain.BargainHolding{
		ID:                slug + "-" + string(side),
		MarketSlug:        slug,
		Market:            m,
		Side:              side,
		TokenID:           m.TokenID(side),
		ComplementTokenID: m.TokenID(side.Complement()),
		BuyPrice:          buyPrice,
		Shares:            100,
		AmountUSD:         buyPrice * 100,
		Status:            status,
		Round:             round,
		CreatedAt:         testNow,
	}
}

func storeSnapshot(e *Engine, slug string, snap domain.PriceSnapshot) {
	e.status.Lock()
	e.status.MarketPrices[slug] = snap
	e.status.Unlock()
}

func TestBargainStack(t *testing.T) {
	threshold := 0.49

	t.Run("empty", func(t *testing.T) {
		st := bargainStack(nil, "m", threshold)
		if st.round != 0 || st.ceiling != threshold || st.unpaired != nil {
			t.Errorf("stack = %+v, want round 0, ceiling %v, no unpaired", st, threshold)
		}
	})

	t.Run("ceiling tightens after a paired round", func(t *testing.T) {
		holdings := []*domain.BargainHolding{
			holdingFor("m", domain.SideUp, 0.45, 1, domain.HoldingStatusPaired),
			holdingFor("m", domain.SideDown, 0.52, 1, domain.HoldingStatusPaired),
		}
		st := bargainStack(holdings, "m", threshold)
		if st.round != 1 || st.ceiling != 0.45 || st.unpaired != nil {
			t.Errorf("stack = %+v, want round 1, ceiling 0.45", st)
		}
		if st.ceiling >= threshold {
			t.Errorf("ceiling %v must be below the opening threshold %v", st.ceiling, threshold)
		}
	})

	t.Run("unpaired holding surfaces with its round's floor", func(t *testing.T) {
		holdings := []*domain.BargainHolding{
			holdingFor("m", domain.SideUp, 0.45, 1, domain.HoldingStatusPaired),
			holdingFor("m", domain.SideDown, 0.52, 1, domain.HoldingStatusPaired),
			holdingFor("m", domain.SideDown, 0.40, 2, domain.HoldingStatusHolding),
		}
		st := bargainStack(holdings, "m", threshold)
		if st.unpaired == nil || st.unpaired.BuyPrice != 0.40 {
			t.Fatalf("unpaired = %+v, want the round-2 holding", st.unpaired)
		}
		if st.round != 2 || st.ceiling != 0.40 {
			t.Errorf("stack = round %d ceiling %v, want round 2 ceiling 0.40", st.round, st.ceiling)
		}
	})

	t.Run("stopped-out rounds burn the round number but not the ceiling", func(t *testing.T) {
		holdings := []*domain.BargainHolding{
			holdingFor("m", domain.SideUp, 0.45, 1, domain.HoldingStatusPaired),
			holdingFor("m", domain.SideDown, 0.52, 1, domain.HoldingStatusPaired),
			holdingFor("m", domain.SideDown, 0.38, 2, domain.HoldingStatusStoppedOut),
		}
		st := bargainStack(holdings, "m", threshold)
		if st.round != 2 {
			t.Errorf("round = %d, want 2 so the number is not reused", st.round)
		}
		if st.ceiling != 0.45 {
			t.Errorf("ceiling = %v, want 0.45 from the last successful round", st.ceiling)
		}
		if st.unpaired != nil {
			t.Errorf("unpaired = %+v, want nil", st.unpaired)
		}
	})

	t.Run("other markets ignored", func(t *testing.T) {
		holdings := []*domain.BargainHolding{
			holdingFor("other", domain.SideUp, 0.20, 3, domain.HoldingStatusHolding),
		}
		st := bargainStack(holdings, "m", threshold)
		if st.round != 0 || st.unpaired != nil {
			t.Errorf("stack = %+v, want untouched state", st)
		}
	})
}

func TestCheckBargainOpportunitiesNewOpen(t *testing.T) {
	e := newTestEngine(t, config.Defaults(), &stubQuotes{}, nil)

	market := bargainMarket("mkt-a", 30*time.Minute)
	storeSnapshot(e, "mkt-a", testSnapshot(0.30, 0.68))

	opps := e.CheckBargainOpportunities(context.Background(), []domain.Market{market})
	if len(opps) != 1 {
		t.Fatalf("opps = %d, want 1", len(opps))
	}
	opp := opps[0]
	if opp.Side != domain.SideUp || opp.BestAsk != 0.30 || opp.Round != 1 || opp.IsPairing {
		t.Errorf("opp = %s @ %v round %d pairing %v, want UP @ 0.30 round 1 new open",
			opp.Side, opp.BestAsk, opp.Round, opp.IsPairing)
	}
}

func TestCheckBargainRespectsCeiling(t *testing.T) {
	e := newTestEngine(t, config.Defaults(), &stubQuotes{}, nil)

	market := bargainMarket("mkt-a", 30*time.Minute)
	e.status.BargainHoldings = []*domain.BargainHolding{
		holdingFor("mkt-a", domain.SideUp, 0.45, 1, domain.HoldingStatusPaired),
		holdingFor("mkt-a", domain.SideDown, 0.52, 1, domain.HoldingStatusPaired),
	}

	// Both asks at or above the round-1 floor of 0.45: nothing opens.
	storeSnapshot(e, "mkt-a", testSnapshot(0.45, 0.55))
	if opps := e.CheckBargainOpportunities(context.Background(), []domain.Market{market}); len(opps) != 0 {
		t.Fatalf("opps = %d, want 0 at the ceiling", len(opps))
	}

	// An ask strictly under the floor opens round 2.
	storeSnapshot(e, "mkt-a", testSnapshot(0.44, 0.55))
	opps := e.CheckBargainOpportunities(context.Background(), []domain.Market{market})
	if len(opps) != 1 || opps[0].Round != 2 || opps[0].BestAsk != 0.44 {
		t.Fatalf("opps = %+v, want one round-2 open @ 0.44", opps)
	}
}

func TestCheckBargainCrossMarketExclusivity(t *testing.T) {
	e := newTestEngine(t, config.Defaults(), &stubQuotes{}, nil)

	marketA := bargainMarket("mkt-a", 30*time.Minute)
	marketB := bargainMarket("mkt-b", 30*time.Minute)
	e.status.BargainHoldings = []*domain.BargainHolding{
		holdingFor("mkt-a", domain.SideUp, 0.30, 1, domain.HoldingStatusHolding),
	}
	storeSnapshot(e, "mkt-a", testSnapshot(0.30, 0.60))
	storeSnapshot(e, "mkt-b", testSnapshot(0.20, 0.78))

	opps := e.CheckBargainOpportunities(context.Background(), []domain.Market{marketA, marketB})
	if len(opps) != 1 {
		t.Fatalf("opps = %d, want only the pairing buy while mkt-a is unpaired", len(opps))
	}
	opp := opps[0]
	if !opp.IsPairing || opp.Market.Slug != "mkt-a" || opp.Side != domain.SideDown {
		t.Errorf("opp = %+v, want DOWN pairing in mkt-a", opp)
	}
	if opp.PairWith == nil || opp.PairWith.BuyPrice != 0.30 {
		t.Errorf("PairWith = %+v, want the unpaired holding", opp.PairWith)
	}
}

func TestCheckBargainPairingTarget(t *testing.T) {
	e := newTestEngine(t, config.Defaults(), &stubQuotes{}, nil)

	market := bargainMarket("mkt-a", 30*time.Minute)
	e.status.BargainHoldings = []*domain.BargainHolding{
		holdingFor("mkt-a", domain.SideUp, 0.30, 1, domain.HoldingStatusHolding),
	}

	// Pairing target is 0.99 - 0.30 = 0.69; an ask at 0.70 cannot lock a
	// profitable pair.
	storeSnapshot(e, "mkt-a", testSnapshot(0.29, 0.70))
	if opps := e.CheckBargainOpportunities(context.Background(), []domain.Market{market}); len(opps) != 0 {
		t.Fatalf("opps = %d, want 0 above the pairing target", len(opps))
	}

	storeSnapshot(e, "mkt-a", testSnapshot(0.29, 0.68))
	opps := e.CheckBargainOpportunities(context.Background(), []domain.Market{market})
	if len(opps) != 1 || !opps[0].IsPairing {
		t.Fatalf("opps = %+v, want one pairing buy under the target", opps)
	}
}

func TestCheckBargainFutureMarketGate(t *testing.T) {
	e := newTestEngine(t, config.Defaults(), &stubQuotes{}, nil)

	// 10 minutes remaining is under the 15 minute future-market minimum.
	market := bargainMarket("mkt-a", 10*time.Minute)
	storeSnapshot(e, "mkt-a", testSnapshot(0.30, 0.68))

	if opps := e.CheckBargainOpportunities(context.Background(), []domain.Market{market}); len(opps) != 0 {
		t.Fatalf("opps = %d, want 0 for a near-expiry market", len(opps))
	}
}

func TestExecuteBargainBuyPairing(t *testing.T) {
	e := newTestEngine(t, config.Defaults(), &stubQuotes{}, nil)

	market := bargainMarket("mkt-a", 30*time.Minute)
	unpaired := holdingFor("mkt-a", domain.SideUp, 0.40, 2, domain.HoldingStatusHolding)
	e.status.BargainHoldings = []*domain.BargainHolding{unpaired}

	snap := testSnapshot(0.40, 0.50)
	opp := BargainOpportunity{
		Market:            market,
		Side:              domain.SideDown,
		TokenID:           market.DownTokenID,
		ComplementTokenID: market.UpTokenID,
		Price:             0.50,
		BestAsk:           0.50,
		Snapshot:          snap,
		Round:             2,
		IsPairing:         true,
		PairWith:          unpaired,
	}

	holding := e.ExecuteBargainBuy(context.Background(), opp)
	if holding == nil {
		t.Fatal("expected a holding")
	}
	// $25 at 0.50 is 50 simulated shares.
	if holding.Shares != 50 || holding.AmountUSD != 25 {
		t.Errorf("holding = %.1f shares $%.2f, want 50 shares $25", holding.Shares, holding.AmountUSD)
	}

	if holding.Status != domain.HoldingStatusPaired || unpaired.Status != domain.HoldingStatusPaired {
		t.Errorf("statuses = %s/%s, want paired/paired", holding.Status, unpaired.Status)
	}
	if holding.PairedWith != unpaired.ID || unpaired.PairedWith != holding.ID {
		t.Error("pair cross-links not set")
	}

	st := e.Status()
	st.RLock()
	defer st.RUnlock()
	if len(st.TradeHistory) != 1 {
		t.Fatalf("history = %d, want 1", len(st.TradeHistory))
	}
	record := st.TradeHistory[0]
	if record.TradeType != "bargain" || record.Status != domain.TradeStatusSimulated {
		t.Errorf("record = %s/%s, want bargain/simulated", record.TradeType, record.Status)
	}
	// Matched shares are min(50, 100) at 0.10 profit per share.
	if record.OrderSize != 50 {
		t.Errorf("matched shares = %v, want 50", record.OrderSize)
	}
	if math.Abs(record.ExpectedProfit-5) > 1e-9 {
		t.Errorf("profit = %v, want 5", record.ExpectedProfit)
	}
}

func TestExecuteBargainBuyExclusivityRecheck(t *testing.T) {
	e := newTestEngine(t, config.Defaults(), &stubQuotes{}, nil)

	e.status.BargainHoldings = []*domain.BargainHolding{
		holdingFor("mkt-b", domain.SideUp, 0.30, 1, domain.HoldingStatusHolding),
	}

	market := bargainMarket("mkt-a", 30*time.Minute)
	opp := BargainOpportunity{
		Market:  market,
		Side:    domain.SideUp,
		TokenID: market.UpTokenID,
		BestAsk: 0.30,
		Round:   1,
	}
	if holding := e.ExecuteBargainBuy(context.Background(), opp); holding != nil {
		t.Fatal("expected the open to be blocked by the unpaired holding elsewhere")
	}
}

func TestScanBargainHoldingsStopLoss(t *testing.T) {
	askQuotes := func(asks map[string]float64) *stubQuotes {
		return &stubQuotes{
			getPrice: func(_ context.Context, tokenID, _ string) (float64, error) {
				return asks[tokenID], nil
			},
			getOrderBook: func(_ context.Context, tokenID string) ([]domain.PriceLevel, error) {
				return []domain.PriceLevel{{Price: asks[tokenID], Size: 500}}, nil
			},
		}
	}

	t.Run("drop at threshold triggers", func(t *testing.T) {
		holding := holdingFor("mkt-a", domain.SideUp, 0.45, 1, domain.HoldingStatusHolding)
		e := newTestEngine(t, config.Defaults(), askQuotes(map[string]float64{
			"mkt-a-up":   0.42,
			"mkt-a-down": 0.55,
		}), nil)
		e.status.BargainHoldings = []*domain.BargainHolding{holding}

		e.ScanBargainHoldings(context.Background())

		if holding.Status != domain.HoldingStatusStoppedOut {
			t.Fatalf("status = %s, want stopped_out", holding.Status)
		}
		if want := testNow.Add(3 * time.Minute); !e.stopLossCooldownUntil.Equal(want) {
			t.Errorf("cooldown until = %v, want %v", e.stopLossCooldownUntil, want)
		}
		if got := e.StopLossCooldownRemaining(); got != 3*time.Minute {
			t.Errorf("cooldown remaining = %v, want 3m", got)
		}

		st := e.Status()
		st.RLock()
		defer st.RUnlock()
		if len(st.TradeHistory) != 1 {
			t.Fatalf("history = %d, want 1", len(st.TradeHistory))
		}
		record := st.TradeHistory[0]
		if record.TradeType != "stop_loss" {
			t.Errorf("trade type = %s, want stop_loss", record.TradeType)
		}
		// 0.03 drop across 100 shares.
		if math.Abs(record.ExpectedProfit+3) > 1e-9 {
			t.Errorf("profit = %v, want -3", record.ExpectedProfit)
		}
	})

	t.Run("drop under threshold holds", func(t *testing.T) {
		holding := holdingFor("mkt-a", domain.SideUp, 0.45, 1, domain.HoldingStatusHolding)
		e := newTestEngine(t, config.Defaults(), askQuotes(map[string]float64{
			"mkt-a-up":   0.44,
			"mkt-a-down": 0.55,
		}), nil)
		e.status.BargainHoldings = []*domain.BargainHolding{holding}

		e.ScanBargainHoldings(context.Background())

		if holding.Status != domain.HoldingStatusHolding {
			t.Errorf("status = %s, want holding untouched", holding.Status)
		}
		if !e.stopLossCooldownUntil.IsZero() {
			t.Error("cooldown armed on a sub-threshold drop")
		}
	})
}

package engine

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Xenovative/PMBot/internal/domain"
)

// BargainOpportunity is a proposed single-sided bargain buy: either a new
// round opening or the pairing buy that completes an existing holding.
type BargainOpportunity struct {
	Market            domain.Market
	Side              domain.Side
	TokenID           string
	ComplementTokenID string
	Price             float64
	BestAsk           float64
	Snapshot          domain.PriceSnapshot
	Round             int
	IsPairing         bool
	PairWith          *domain.BargainHolding
}

// stackState summarizes one market's bargain stack.
type stackState struct {
	unpaired *domain.BargainHolding
	// ceiling is the maximum entry price for the next round: the minimum
	// successful buy price of the latest active round, or the global
	// threshold before the first round.
	ceiling float64
	// round counts every opened round, stopped-out ones included, so a
	// stop-loss cannot cause the same round number to be reused.
	round int
}

// bargainStack derives the stack state for one market from the holdings
// list. Stopped-out holdings count toward the round number but never
// toward the price ceiling; only successful buys tighten it.
func bargainStack(holdings []*domain.BargainHolding, slug string, threshold float64) stackState {
	st := stackState{ceiling: threshold}

	latestActiveRound := 0
	for _, h := range holdings {
		if h.MarketSlug != slug {
			continue
		}
		if h.Round > st.round {
			st.round = h.Round
		}
		switch h.Status {
		case domain.HoldingStatusHolding:
			st.unpaired = h
			fallthrough
		case domain.HoldingStatusPaired:
			if h.Round > latestActiveRound {
				latestActiveRound = h.Round
			}
		case domain.HoldingStatusStoppedOut:
		}
	}

	if latestActiveRound > 0 {
		floor := 0.0
		for _, h := range holdings {
			if h.MarketSlug != slug || h.Round != latestActiveRound {
				continue
			}
			if h.Status == domain.HoldingStatusStoppedOut {
				continue
			}
			if floor == 0 || h.BuyPrice < floor {
				floor = h.BuyPrice
			}
		}
		if floor > 0 {
			st.ceiling = floor
		}
	}

	return st
}

// CheckBargainOpportunities scans candidate markets for stacking buys.
// Pairing an existing holding is exempt from the future-market gate and
// the cross-market exclusivity rule: completing a pair always has
// priority. New round opens require a future market, no unpaired holding
// anywhere else, and an ask strictly under the round ceiling. Results are
// sorted cheapest ask first.
func (e *Engine) CheckBargainOpportunities(ctx context.Context, markets []domain.Market) []BargainOpportunity {
	if e.onStopLossCooldown() {
		return nil
	}

	ecfg := e.engineCfg()
	bcfg := e.bargainCfg()
	now := e.now()

	var opps []BargainOpportunity
	for _, market := range markets {
		if market.UpTokenID == "" || market.DownTokenID == "" {
			continue
		}

		e.status.RLock()
		tradesUsed := e.status.TradesForMarket(market.Slug)
		snap, haveSnap := e.status.MarketPrices[market.Slug]
		e.status.RUnlock()
		if ecfg.MaxTradesPerMarket-tradesUsed <= 0 {
			continue
		}

		if !haveSnap {
			fresh, err := e.FetchSnapshot(ctx, market)
			if err != nil {
				continue
			}
			snap = *fresh
			e.status.Lock()
			e.status.MarketPrices[market.Slug] = snap
			e.status.Unlock()
		}

		upAsk := snap.BestAsk(domain.SideUp)
		downAsk := snap.BestAsk(domain.SideDown)

		e.status.RLock()
		st := bargainStack(e.status.BargainHoldings, market.Slug, bcfg.PriceThreshold)
		unpairedElsewhere := e.status.HasUnpairedElsewhere(market.Slug)
		e.status.RUnlock()

		if st.unpaired != nil {
			side := st.unpaired.Side.Complement()
			ask := downAsk
			if side == domain.SideUp {
				ask = upAsk
			}
			ref := snap.DownPrice
			if side == domain.SideUp {
				ref = snap.UpPrice
			}
			target := bcfg.PairThreshold - st.unpaired.BuyPrice
			if ask >= bcfg.MinPrice && ask < target {
				opps = append(opps, BargainOpportunity{
					Market:            market,
					Side:              side,
					TokenID:           market.TokenID(side),
					ComplementTokenID: market.TokenID(side.Complement()),
					Price:             ref,
					BestAsk:           ask,
					Snapshot:          snap,
					Round:             st.unpaired.Round,
					IsPairing:         true,
					PairWith:          st.unpaired,
				})
			}
			continue
		}

		// New round opens only in future markets, and only while no other
		// market has an unpaired position.
		if market.TimeRemaining(now) <= bcfg.FutureMarketMin.Duration {
			continue
		}
		if unpairedElsewhere {
			continue
		}
		nextRound := st.round + 1
		if bcfg.MaxRounds > 0 && nextRound > bcfg.MaxRounds {
			continue
		}

		type candidate struct {
			side domain.Side
			ask  float64
		}
		var candidates []candidate
		if upAsk >= bcfg.MinPrice && upAsk < st.ceiling {
			candidates = append(candidates, candidate{domain.SideUp, upAsk})
		}
		if downAsk >= bcfg.MinPrice && downAsk < st.ceiling {
			candidates = append(candidates, candidate{domain.SideDown, downAsk})
		}
		if len(candidates) == 0 {
			continue
		}
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].ask < candidates[j].ask })

		best := candidates[0]
		opps = append(opps, BargainOpportunity{
			Market:            market,
			Side:              best.side,
			TokenID:           market.TokenID(best.side),
			ComplementTokenID: market.TokenID(best.side.Complement()),
			Price:             best.ask,
			BestAsk:           best.ask,
			Snapshot:          snap,
			Round:             nextRound,
		})
	}

	sort.Slice(opps, func(i, j int) bool { return opps[i].BestAsk < opps[j].BestAsk })
	return opps
}

// ExecuteBargainBuy performs one bargain buy. A pairing buy atomically
// flips both holdings to paired, cross-links them, and emits the realized
// trade record; matched shares are the minimum of the two legs to guard
// against size mismatch from partial fills.
func (e *Engine) ExecuteBargainBuy(ctx context.Context, opp BargainOpportunity) *domain.BargainHolding {
	ecfg := e.engineCfg()
	market := opp.Market

	if !opp.IsPairing {
		e.status.RLock()
		blocked := e.status.HasUnpairedElsewhere(market.Slug)
		e.status.RUnlock()
		if blocked {
			e.status.AddLog("[bargain] skip %s %s: another market holds an unpaired position", market.Slug, opp.Side)
			return nil
		}
	}

	amountUSD := round2(ecfg.OrderSize * opp.BestAsk)
	if amountUSD < minOrderNotional {
		e.status.AddLog("[bargain] %s %s notional $%.2f under $1, skipped", market.Slug, opp.Side, amountUSD)
		return nil
	}

	action := "open"
	if opp.IsPairing {
		action = "pair"
	}
	e.status.AddLog("[bargain r%d %s] %s %s @ %.4f", opp.Round, action, market.Slug, opp.Side, opp.BestAsk)

	holding := &domain.BargainHolding{
		ID:                uuid.NewString(),
		MarketSlug:        market.Slug,
		Market:            market,
		Side:              opp.Side,
		TokenID:           opp.TokenID,
		ComplementTokenID: opp.ComplementTokenID,
		BuyPrice:          opp.BestAsk,
		AmountUSD:         amountUSD,
		Status:            domain.HoldingStatusHolding,
		Round:             opp.Round,
		CreatedAt:         e.now(),
	}

	if ecfg.DryRun {
		holding.Shares = 0
		if opp.BestAsk > 0 {
			holding.Shares = amountUSD / opp.BestAsk
		}
		e.status.AddLog("[bargain sim r%d] buy %s | $%.2f @ %.4f ~= %.1f shares",
			opp.Round, opp.Side, amountUSD, opp.BestAsk, holding.Shares)
	} else {
		fill, err := e.orders.MarketBuy(ctx, opp.TokenID, amountUSD)
		if err != nil {
			e.status.AddLog("[bargain] %s buy failed: %v", opp.Side, err)
			return nil
		}
		holding.BuyPrice = fill.Price
		holding.Shares = fill.Shares
		e.status.AddLog("[bargain r%d] %s filled | %.1f shares @ %.4f", opp.Round, opp.Side, holding.Shares, holding.BuyPrice)
	}

	e.status.Lock()
	e.status.BargainHoldings = append(e.status.BargainHoldings, holding)
	e.status.TotalTrades++
	e.status.IncrementTrades(market.Slug)
	e.status.Unlock()

	if opp.IsPairing && opp.PairWith != nil {
		e.completePair(ctx, opp, holding)
	}

	return holding
}

// completePair flips both legs of a finished pair to paired and records
// the realized result.
func (e *Engine) completePair(ctx context.Context, opp BargainOpportunity, holding *domain.BargainHolding) {
	ecfg := e.engineCfg()
	pairWith := opp.PairWith
	market := opp.Market

	combined := pairWith.BuyPrice + holding.BuyPrice
	profitPerShare := 1.0 - combined
	shares := holding.Shares
	if pairWith.Shares < shares {
		shares = pairWith.Shares
	}

	status := domain.TradeStatusExecuted
	if ecfg.DryRun {
		status = domain.TradeStatusSimulated
	}

	record := domain.TradeRecord{
		ID:             uuid.NewString(),
		Timestamp:      e.now(),
		MarketSlug:     market.Slug,
		TradeType:      "bargain",
		Side:           holding.Side,
		UpPrice:        opp.Snapshot.UpPrice,
		DownPrice:      opp.Snapshot.DownPrice,
		TotalCost:      combined,
		OrderSize:      shares,
		ExpectedProfit: profitPerShare * shares,
		Status:         status,
	}
	if combined > 0 {
		record.ProfitPct = profitPerShare / combined * 100
	}
	record.Details = string(pairWith.Side) + " + " + string(holding.Side) + " pair completed"

	e.status.Lock()
	holding.Status = domain.HoldingStatusPaired
	holding.PairedWith = pairWith.ID
	pairWith.Status = domain.HoldingStatusPaired
	pairWith.PairedWith = holding.ID
	e.status.TradeHistory = append(e.status.TradeHistory, record)
	e.status.TotalProfit += record.ExpectedProfit
	e.status.AddLogLocked("[bargain r%d paired] %s | %s@%.4f + %s@%.4f = %.4f | profit $%.4f",
		opp.Round, market.Slug, pairWith.Side, pairWith.BuyPrice, holding.Side, holding.BuyPrice,
		combined, record.ExpectedProfit)
	e.status.Unlock()

	if !ecfg.DryRun && market.ConditionID != "" && e.tracker != nil {
		e.tracker.TrackTrade(domain.MergedPosition{
			MarketSlug:     market.Slug,
			ConditionID:    market.ConditionID,
			UpTokenID:      market.UpTokenID,
			DownTokenID:    market.DownTokenID,
			Amount:         shares,
			TotalCostBasis: combined,
		})
		if e.tracker.AutoMergeEnabled() {
			for _, mr := range e.tracker.AutoMergeAll(ctx) {
				e.status.AddLog("merge result: %s | %.0f pairs -> %.2f USDC | %s",
					mr.Status, mr.Amount, mr.USDCReceived, mr.Details)
			}
		}
	}
}

// ScanBargainHoldings is the stop-loss monitor: every unpaired holding is
// repriced against the live book, and a drop of at least the configured
// threshold liquidates it and arms the global cooldown so the engine does
// not immediately re-enter a falling market.
func (e *Engine) ScanBargainHoldings(ctx context.Context) {
	bcfg := e.bargainCfg()
	ecfg := e.engineCfg()

	e.status.RLock()
	var active []*domain.BargainHolding
	for _, h := range e.status.BargainHoldings {
		if h.Status == domain.HoldingStatusHolding {
			active = append(active, h)
		}
	}
	e.status.RUnlock()

	for _, holding := range active {
		snap, err := e.FetchSnapshot(ctx, holding.Market)
		if err != nil {
			continue
		}

		current := snap.BestAsk(holding.Side)
		drop := holding.BuyPrice - current
		if drop < bcfg.StopLossCents {
			continue
		}

		e.status.AddLog("[stop-loss r%d] %s %s | bought %.4f -> now %.4f (down %.4f >= %.4f)",
			holding.Round, holding.MarketSlug, holding.Side, holding.BuyPrice, current, drop, bcfg.StopLossCents)

		if ecfg.DryRun {
			e.status.AddLog("[stop-loss sim] selling %.1f shares %s @ ~%.4f", holding.Shares, holding.Side, current)
		} else {
			if e.sellBack(ctx, holding.TokenID, holding.Shares, current, "stop-loss "+string(holding.Side)) {
				e.status.AddLog("[stop-loss] %s sold", holding.Side)
			} else {
				e.status.AddLog("[stop-loss] %s liquidation failed, manual intervention needed", holding.Side)
			}
		}

		e.stopLossCooldownUntil = e.now().Add(bcfg.StopLossCooldown.Duration)
		e.status.AddLog("stop-loss cooldown armed for %s", bcfg.StopLossCooldown.Duration)

		status := domain.TradeStatusExecuted
		if ecfg.DryRun {
			status = domain.TradeStatusSimulated
		}
		record := domain.TradeRecord{
			ID:             uuid.NewString(),
			Timestamp:      e.now(),
			MarketSlug:     holding.MarketSlug,
			TradeType:      "stop_loss",
			Side:           holding.Side,
			UpPrice:        snap.UpPrice,
			DownPrice:      snap.DownPrice,
			TotalCost:      snap.TotalCost,
			OrderSize:      holding.Shares,
			ExpectedProfit: -(drop * holding.Shares),
			Status:         status,
			Details:        "stop-loss liquidation",
		}
		if holding.BuyPrice > 0 {
			record.ProfitPct = -(drop / holding.BuyPrice * 100)
		}

		e.status.Lock()
		holding.Status = domain.HoldingStatusStoppedOut
		e.status.TotalTrades++
		e.status.IncrementTrades(holding.MarketSlug)
		e.status.TradeHistory = append(e.status.TradeHistory, record)
		e.status.TotalProfit += record.ExpectedProfit
		e.status.Unlock()
	}
}

// StopLossCooldownRemaining reports how long the global cooldown still has
// to run; zero when inactive.
func (e *Engine) StopLossCooldownRemaining() time.Duration {
	now := e.now()
	if e.stopLossCooldownUntil.IsZero() || !now.Before(e.stopLossCooldownUntil) {
		return 0
	}
	return e.stopLossCooldownUntil.Sub(now)
}

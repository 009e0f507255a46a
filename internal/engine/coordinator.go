package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/Xenovative/PMBot/internal/domain"
)

// leg bundles the per-side parameters of one half of a pair trade.
type leg struct {
	side      domain.Side
	tokenID   string
	price     float64
	amountUSD float64
}

// ExecuteTrade runs the two-leg execution state machine for one viable
// opportunity and returns the terminal trade record. The less liquid leg
// is bought first: a fill-or-kill failure before any capital is committed
// is strictly cheaper than one after. A second-leg failure (or a failed
// post-first-leg revalidation) triggers the unwind protocol; if the unwind
// exhausts its attempts the orphaned position is converted into a bargain
// holding rather than left as stuck risk.
func (e *Engine) ExecuteTrade(ctx context.Context, opp domain.Opportunity) domain.TradeRecord {
	if e.onStopLossCooldown() {
		return domain.TradeRecord{
			ID:         uuid.NewString(),
			Timestamp:  e.now(),
			MarketSlug: opp.Market.Slug,
			TradeType:  "arbitrage",
			Status:     domain.TradeStatusSkipped,
			Details:    "stop-loss cooldown active",
		}
	}

	cfg := e.engineCfg()
	market := opp.Market
	snap := opp.Snapshot
	desired := cfg.OrderSize

	orderSize, sizeErr := SafeOrderSize(snap, desired)
	if sizeErr != nil {
		details := "insufficient liquidity, trade skipped"
		if errors.Is(sizeErr, domain.ErrBelowMinNotional) {
			details = "a leg's notional is under the $1 minimum, trade skipped"
		}
		e.status.AddLog("no safe order size: %v | UP %.0f DOWN %.0f",
			sizeErr, snap.UpLiquidity, snap.DownLiquidity)
		return domain.TradeRecord{
			ID:         uuid.NewString(),
			Timestamp:  e.now(),
			MarketSlug: market.Slug,
			TradeType:  "arbitrage",
			UpPrice:    snap.UpPrice,
			DownPrice:  snap.DownPrice,
			TotalCost:  snap.TotalCost,
			Status:     domain.TradeStatusFailed,
			Details:    details,
		}
	}
	if orderSize < desired {
		e.status.AddLog("adaptive sizing: %.2f -> %.2f (UP depth %.0f, DOWN depth %.0f)",
			desired, orderSize, snap.UpLiquidity, snap.DownLiquidity)
	}

	record := domain.TradeRecord{
		ID:             uuid.NewString(),
		Timestamp:      e.now(),
		MarketSlug:     market.Slug,
		TradeType:      "arbitrage",
		UpPrice:        snap.UpPrice,
		DownPrice:      snap.DownPrice,
		TotalCost:      snap.TotalCost,
		OrderSize:      orderSize,
		ExpectedProfit: opp.PotentialProfit * (orderSize / desired),
		ProfitPct:      opp.ProfitPct,
		Status:         domain.TradeStatusPending,
	}

	if cfg.DryRun {
		record.Status = domain.TradeStatusSimulated
		record.Details = "simulated trade, no funds at risk"
		e.status.AddLog("[sim] buy %.2f UP@%.4f + %.2f DOWN@%.4f | expected profit $%.4f",
			orderSize, snap.UpPrice, orderSize, snap.DownPrice, record.ExpectedProfit)
		e.updateTradeStats(ctx, &record, market, orderSize)
		return record
	}

	// Refresh both legs from the live book; the evaluation snapshot may
	// already be stale.
	upPrice := e.refreshBestAsk(ctx, market.UpTokenID, snap.BestAsk(domain.SideUp))
	downPrice := e.refreshBestAsk(ctx, market.DownTokenID, snap.BestAsk(domain.SideDown))
	actualCost := upPrice + downPrice

	if actualCost >= 1.0 {
		e.status.AddLog("no profit at commit time | UP %.4f + DOWN %.4f = %.4f >= 1.0",
			upPrice, downPrice, actualCost)
		record.Status = domain.TradeStatusFailed
		record.Details = fmt.Sprintf("no profit at commit (%.4f)", actualCost)
		e.updateTradeStats(ctx, &record, market, orderSize)
		return record
	}

	up := leg{domain.SideUp, market.UpTokenID, upPrice, round2(orderSize * upPrice)}
	down := leg{domain.SideDown, market.DownTokenID, downPrice, round2(orderSize * downPrice)}

	first, second := up, down
	if snap.DownLiquidity < snap.UpLiquidity {
		first, second = down, up
	}

	e.status.AddLog("[live] pair trade %.2f shares | %s $%.2f @%.4f first, %s $%.2f @%.4f second",
		orderSize, first.side, first.amountUSD, first.price, second.side, second.amountUSD, second.price)

	firstFill, err := e.orders.MarketBuy(ctx, first.tokenID, first.amountUSD)
	if err != nil {
		firstFill, orderSize, err = e.retryFirstLeg(ctx, first, second, orderSize, err)
		if err != nil {
			record.Status = domain.TradeStatusFailed
			record.Details = fmt.Sprintf("%s buy failed after retries: %v", first.side, err)
			e.status.AddLog("trade failed: %s leg would not fill", first.side)
			e.updateTradeStats(ctx, &record, market, orderSize)
			return record
		}
		second.amountUSD = round2(orderSize * second.price)
	}
	e.status.AddLog("%s filled | %.2f shares @ %.4f", first.side, firstFill.Shares, firstFill.Price)

	// Second staleness guard: re-check both books before risking the
	// second leg. Abandoning here is a normal path, not an exceptional one.
	reUp := e.refreshBestAsk(ctx, market.UpTokenID, upPrice)
	reDown := e.refreshBestAsk(ctx, market.DownTokenID, downPrice)
	recheckCost := reUp + reDown
	if recheckCost >= 1.0 {
		e.status.AddLog("revalidation failed | UP %.4f + DOWN %.4f = %.4f >= 1.0, abandoning second leg",
			reUp, reDown, recheckCost)
		unwound := e.unwindOrConvert(ctx, market, first, firstFill, orderSize)
		record.Status = domain.TradeStatusFailed
		record.Details = fmt.Sprintf("revalidation failed (%.4f) | %s %s", recheckCost, first.side, unwindLabel(unwound))
		e.updateTradeStats(ctx, &record, market, orderSize)
		return record
	}
	if second.side == domain.SideUp {
		second.price = reUp
	} else {
		second.price = reDown
	}
	second.amountUSD = round2(orderSize * second.price)

	secondFill, err := e.orders.MarketBuy(ctx, second.tokenID, second.amountUSD)
	if err != nil {
		e.status.AddLog("%s leg failed, unwinding %s to avoid one-sided exposure: %v", second.side, first.side, err)
		unwound := e.unwindOrConvert(ctx, market, first, firstFill, orderSize)
		record.Status = domain.TradeStatusFailed
		record.Details = fmt.Sprintf("%s buy failed | %s %s | %v", second.side, first.side, unwindLabel(unwound), err)
		e.updateTradeStats(ctx, &record, market, orderSize)
		return record
	}

	actualUp, actualDown := firstFill.Price, secondFill.Price
	if first.side == domain.SideDown {
		actualUp, actualDown = secondFill.Price, firstFill.Price
	}
	actualTotal := actualUp + actualDown
	actualProfit := (1.0 - actualTotal) * orderSize

	record.Status = domain.TradeStatusExecuted
	record.OrderSize = orderSize
	record.UpPrice = actualUp
	record.DownPrice = actualDown
	record.TotalCost = actualTotal
	record.ExpectedProfit = actualProfit
	record.ProfitPct = 0
	if actualTotal > 0 {
		record.ProfitPct = actualProfit / (actualTotal * orderSize) * 100
	}
	record.Details = fmt.Sprintf("pair filled: %.2f shares, UP@%.4f + DOWN@%.4f", orderSize, actualUp, actualDown)
	e.status.AddLog("[live] pair filled %.2f shares UP@%.4f + DOWN@%.4f | cost %.4f | profit $%.4f",
		orderSize, actualUp, actualDown, actualTotal, actualProfit)

	e.updateTradeStats(ctx, &record, market, orderSize)
	return record
}

// retryFirstLeg reattempts a failed first leg at reduced sizes, skipping
// any size whose implied notional on either leg would fall below the $1
// floor. It returns the successful fill and the reduced order size.
func (e *Engine) retryFirstLeg(ctx context.Context, first, second leg, orderSize float64, lastErr error) (domain.Fill, float64, error) {
	var fill domain.Fill
	finalSize := orderSize

	ok := firstLegPolicy.Run(ctx, e.sleep, func(attempt int) bool {
		trySize := round2(orderSize * firstLegPolicy.Factor(attempt))
		if trySize >= orderSize {
			return false
		}
		retryUSD := trySize * first.price
		otherUSD := trySize * second.price
		if retryUSD < minOrderNotional || otherUSD < minOrderNotional {
			e.status.AddLog("skip retry at %.2f shares: a leg is under $1 ($%.2f / $%.2f)", trySize, retryUSD, otherUSD)
			return false
		}
		e.status.AddLog("retrying %s at reduced size %.2f ($%.2f @ %.4f)", first.side, trySize, retryUSD, first.price)

		f, err := e.orders.MarketBuy(ctx, first.tokenID, round2(retryUSD))
		if err != nil {
			lastErr = err
			return false
		}
		fill = f
		finalSize = trySize
		return true
	})
	if !ok {
		return domain.Fill{}, orderSize, lastErr
	}
	return fill, finalSize, nil
}

// unwindOrConvert drives the unwind protocol for a filled first leg and,
// when every attempt fails, converts the orphan into a bargain holding so
// the stacking strategy can pair it off later.
func (e *Engine) unwindOrConvert(ctx context.Context, market domain.Market, first leg, fill domain.Fill, orderSize float64) bool {
	shares := fill.Shares
	if shares <= 0 {
		shares = orderSize
	}
	buyPrice := fill.Price
	if buyPrice <= 0 {
		buyPrice = first.price
	}

	unwound := unwindPolicy.Run(ctx, e.sleep, func(attempt int) bool {
		e.status.AddLog("unwind attempt %d/%d for %s after settlement wait", attempt+1, unwindPolicy.Attempts(), first.side)
		return e.sellBack(ctx, first.tokenID, shares, buyPrice, string(first.side))
	})
	if unwound {
		return true
	}

	e.status.AddLog("unwind exhausted for %s | token %.16s... shares %.2f", first.side, first.tokenID, shares)
	e.convertOrphanToBargain(market, first.side, buyPrice, shares, round2(shares*buyPrice))
	return false
}

// sellBack tries to exit a position within one unwind attempt: a ladder of
// limit prices (at cost, below cost, floor) crossed with order types (FOK
// first, then a resting GTC).
func (e *Engine) sellBack(ctx context.Context, tokenID string, shares, buyPrice float64, label string) bool {
	shares = math.Floor(shares*100) / 100
	if shares <= 0 {
		e.status.AddLog("%s position too small to unwind", label)
		return false
	}

	e.status.AddLog("unwinding %s | selling %.2f shares @ ~%.4f", label, shares, buyPrice)

	prices := sellPriceLadder(buyPrice)
	for _, price := range prices {
		for _, tif := range []domain.TimeInForce{domain.FillOrKill, domain.GoodTilCancelled} {
			fill, err := e.orders.LimitSell(ctx, tokenID, shares, price, tif)
			if err != nil {
				e.status.AddLog("%s sell-back %s @ %.2f failed: %v", label, tif, price, err)
				continue
			}
			e.status.AddLog("%s sold back (%s) @ %.2f | order %s", label, tif, price, fill.OrderID)
			return true
		}
	}

	e.status.AddLog("every sell-back path failed for %s", label)
	return false
}

// sellPriceLadder returns the deduplicated unwind price levels: at cost,
// five cents below cost, and the exchange floor.
func sellPriceLadder(buyPrice float64) []float64 {
	candidates := []float64{
		round2(buyPrice),
		round2(math.Max(buyPrice-0.05, 0.01)),
		0.01,
	}
	var prices []float64
	for _, p := range candidates {
		dup := false
		for _, q := range prices {
			if p == q {
				dup = true
				break
			}
		}
		if !dup {
			prices = append(prices, p)
		}
	}
	return prices
}

// convertOrphanToBargain hands a position the unwind could not exit to the
// bargain stacking strategy instead of requiring manual intervention.
func (e *Engine) convertOrphanToBargain(market domain.Market, side domain.Side, buyPrice, shares, amountUSD float64) *domain.BargainHolding {
	holding := &domain.BargainHolding{
		ID:                uuid.NewString(),
		MarketSlug:        market.Slug,
		Market:            market,
		Side:              side,
		TokenID:           market.TokenID(side),
		ComplementTokenID: market.TokenID(side.Complement()),
		BuyPrice:          buyPrice,
		Shares:            shares,
		AmountUSD:         amountUSD,
		Status:            domain.HoldingStatusHolding,
		Round:             1,
		CreatedAt:         e.now(),
	}

	e.status.Lock()
	e.status.BargainHoldings = append(e.status.BargainHoldings, holding)
	e.status.AddLogLocked("orphan converted to bargain holding: %s %s | %.1f shares @ %.4f, awaiting pair",
		market.Slug, side, shares, buyPrice)
	e.status.Unlock()

	e.logger.Warn("orphan converted to bargain holding",
		slog.String("market", market.Slug),
		slog.String("side", string(side)),
		slog.Float64("shares", shares),
		slog.Float64("buy_price", buyPrice))
	return holding
}

// refreshBestAsk reads the live book for one token and returns its lowest
// ask, falling back to the supplied price when the read fails or the book
// is empty.
func (e *Engine) refreshBestAsk(ctx context.Context, tokenID string, fallback float64) float64 {
	asks, err := e.quotes.GetOrderBook(ctx, tokenID)
	if err != nil {
		e.status.AddLog("book refresh failed, using stale price %.4f: %v", fallback, err)
		return fallback
	}
	best, _, _ := summarizeAsks(asks)
	if best <= 0 {
		return fallback
	}
	return best
}

// updateTradeStats applies a terminal trade record to the shared status
// and, for profitable outcomes, hands the pair off to the position-merge
// collaborator.
func (e *Engine) updateTradeStats(ctx context.Context, record *domain.TradeRecord, market domain.Market, orderSize float64) {
	e.status.Lock()
	e.status.TotalTrades++
	e.status.IncrementTrades(market.Slug)
	e.status.LastTradeTime = e.now()
	if record.Status.Profitable() {
		e.status.TotalProfit += record.ExpectedProfit
	}
	e.status.TradeHistory = append(e.status.TradeHistory, *record)
	e.status.Unlock()

	if !record.Status.Profitable() || market.ConditionID == "" || e.tracker == nil {
		return
	}

	e.tracker.TrackTrade(domain.MergedPosition{
		MarketSlug:     market.Slug,
		ConditionID:    market.ConditionID,
		UpTokenID:      market.UpTokenID,
		DownTokenID:    market.DownTokenID,
		Amount:         orderSize,
		TotalCostBasis: record.TotalCost,
	})
	if e.tracker.AutoMergeEnabled() {
		for _, mr := range e.tracker.AutoMergeAll(ctx) {
			e.status.AddLog("merge result: %s | %.0f pairs -> %.2f USDC | %s",
				mr.Status, mr.Amount, mr.USDCReceived, mr.Details)
		}
	}
}

func unwindLabel(unwound bool) string {
	if unwound {
		return "unwound"
	}
	return "unwind failed, converted to bargain holding"
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/Xenovative/PMBot/internal/config"
	"github.com/Xenovative/PMBot/internal/domain"
)

// minOrderNotional is the exchange-imposed per-order minimum in USD.
const minOrderNotional = 1.0

// Evaluate decides whether a snapshot presents a viable arbitrage trade.
// Rejection checks run in a fixed order and short-circuit at the first
// failure; a later check never overrides an earlier reason. Profit is
// always computed from the worst-case (slippage-inflated) cost so callers
// can rank opportunities conservatively even when they are not viable.
func Evaluate(market domain.Market, snap domain.PriceSnapshot, cfg config.EngineConfig, tradesThisMarket int, lastTrade time.Time, now time.Time) domain.Opportunity {
	worstCost := snap.TotalCost + cfg.SlippageAllowance
	investment := worstCost * cfg.OrderSize
	payout := 1.0 * cfg.OrderSize
	profit := payout - investment
	profitPct := 0.0
	if investment > 0 {
		profitPct = profit / investment * 100
	}

	opp := domain.Opportunity{
		Market:          market,
		Snapshot:        snap,
		PotentialProfit: round4(profit),
		ProfitPct:       round4(profitPct),
		Viable:          true,
	}

	switch {
	case worstCost >= 1.0:
		opp.Viable = false
		opp.Reason = fmt.Sprintf("worst-case cost %.4f >= 1.0, no profit after slippage", worstCost)

	case snap.TotalCost >= cfg.TargetPairCost:
		opp.Viable = false
		opp.Reason = fmt.Sprintf("total cost %.4f >= target %.4f", snap.TotalCost, cfg.TargetPairCost)

	case snap.UpPrice <= 0 || snap.DownPrice <= 0:
		opp.Viable = false
		opp.Reason = "invalid price data"

	case market.TimeRemaining(now) < cfg.MinTimeRemaining.Duration:
		opp.Viable = false
		opp.Reason = fmt.Sprintf("time remaining %s below minimum %s",
			market.TimeRemaining(now).Round(time.Second), cfg.MinTimeRemaining.Duration)

	case tradesThisMarket >= cfg.MaxTradesPerMarket:
		opp.Viable = false
		opp.Reason = fmt.Sprintf("trade cap reached (%d)", cfg.MaxTradesPerMarket)

	case !lastTrade.IsZero() && now.Sub(lastTrade) < cfg.TradeCooldown.Duration:
		remaining := cfg.TradeCooldown.Duration - now.Sub(lastTrade)
		opp.Viable = false
		opp.Reason = fmt.Sprintf("trade cooldown, %s remaining", remaining.Round(time.Second))

	case snap.UpLiquidity < cfg.MinLiquidity || snap.DownLiquidity < cfg.MinLiquidity:
		opp.Viable = false
		opp.Reason = fmt.Sprintf("insufficient liquidity (UP %.0f, DOWN %.0f)", snap.UpLiquidity, snap.DownLiquidity)

	case cfg.OrderSize*minPrice(snap.UpPrice, snap.DownPrice) < minOrderNotional:
		low := minPrice(snap.UpPrice, snap.DownPrice)
		opp.Viable = false
		opp.Reason = fmt.Sprintf("cheap leg notional below $1 (%.2f x %.4f = $%.2f)",
			cfg.OrderSize, low, cfg.OrderSize*low)

	default:
		opp.Reason = fmt.Sprintf("arbitrage opportunity: profit $%.4f (%.2f%%)", profit, profitPct)
	}

	return opp
}

func minPrice(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}

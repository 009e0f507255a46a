// Package engine implements the pair-arbitrage core: price snapshot
// fetching, opportunity evaluation, order sizing, two-leg execution with
// unwind recovery, and the bargain stacking strategy. One Engine instance
// is driven by a single control loop; all status mutation happens from
// that loop's goroutine.
package engine

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Xenovative/PMBot/internal/config"
	"github.com/Xenovative/PMBot/internal/domain"
)

// QuoteService reads prices and orderbook depth. It is queried at high
// frequency, so implementations should be cheap per call.
type QuoteService interface {
	GetPrice(ctx context.Context, tokenID, side string) (float64, error)
	GetOrderBook(ctx context.Context, tokenID string) ([]domain.PriceLevel, error)
}

// OrderService places orders. MarketBuy is fill-or-kill sized in quote
// currency; LimitSell supports fill-or-kill and resting orders. Both must
// return domain.ErrInsufficientDepth when the book cannot match, so the
// coordinator can tell "no liquidity" from "rejected".
type OrderService interface {
	MarketBuy(ctx context.Context, tokenID string, amountUSD float64) (domain.Fill, error)
	LimitSell(ctx context.Context, tokenID string, shares, limitPrice float64, tif domain.TimeInForce) (domain.Fill, error)
}

// Engine owns the scan-and-trade cycle state for one bot instance.
type Engine struct {
	quotes  QuoteService
	orders  OrderService
	tracker domain.PositionTracker
	status  *domain.EngineStatus
	logger  *slog.Logger

	cfgMu sync.RWMutex
	cfg   *config.Config

	// stopLossCooldownUntil gates all new trade entries after a bargain
	// stop-loss fires. Written and read from the control loop only.
	stopLossCooldownUntil time.Time

	// now and sleep are swapped out by tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Engine. tracker may be nil when position merging is
// disabled; orders may be nil in dry-run mode.
func New(cfg *config.Config, quotes QuoteService, orders OrderService, tracker domain.PositionTracker, status *domain.EngineStatus, logger *slog.Logger) *Engine {
	return &Engine{
		quotes:  quotes,
		orders:  orders,
		tracker: tracker,
		status:  status,
		logger:  logger.With(slog.String("component", "engine")),
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
		sleep:   sleepCtx,
	}
}

// Status exposes the shared run state for the presentation layer.
func (e *Engine) Status() *domain.EngineStatus {
	return e.status
}

// Config returns a copy of the current configuration.
func (e *Engine) Config() config.Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return *e.cfg
}

func (e *Engine) engineCfg() config.EngineConfig {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg.Engine
}

func (e *Engine) bargainCfg() config.BargainConfig {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg.Bargain
}

// UpdateConfig applies a validated hot update to the running configuration.
// Unknown fields cannot be expressed; a failed validation leaves the
// configuration untouched.
func (e *Engine) UpdateConfig(u config.Update) error {
	e.cfgMu.Lock()
	err := e.cfg.ApplyUpdate(u)
	dryRun := e.cfg.Engine.DryRun
	e.cfgMu.Unlock()
	if err != nil {
		return err
	}

	fields := u.Fields()
	e.status.Lock()
	e.status.Mode = modeLabel(dryRun)
	e.status.AddLogLocked("config updated: %s", strings.Join(fields, ", "))
	e.status.Unlock()
	e.logger.Info("config updated", slog.Any("fields", fields))
	return nil
}

// ScanMarket fetches a fresh snapshot for one market and evaluates it.
// A nil opportunity with nil error means the snapshot could not be taken
// this cycle (recoverable; the caller just moves on).
func (e *Engine) ScanMarket(ctx context.Context, market domain.Market) (*domain.Opportunity, error) {
	snap, err := e.FetchSnapshot(ctx, market)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		e.status.AddLog("price fetch failed for %s: %v", market.Slug, err)
		e.logger.Warn("price fetch failed", slog.String("market", market.Slug), slog.Any("error", err))
		return nil, nil
	}

	cfg := e.engineCfg()
	now := e.now()

	e.status.Lock()
	e.status.MarketPrices[market.Slug] = *snap
	e.status.ScanCount++
	scanCount := e.status.ScanCount
	trades := e.status.TradesForMarket(market.Slug)
	lastTrade := e.status.LastTradeTime
	e.status.Unlock()

	opp := Evaluate(market, *snap, cfg, trades, lastTrade, now)

	e.status.Lock()
	if opp.Viable {
		e.status.OpportunitiesFound++
		e.status.AddLogLocked("opportunity: %s | UP %.4f DOWN %.4f | cost %.4f | profit $%.4f (%.2f%%)",
			market.Slug, snap.UpPrice, snap.DownPrice, snap.TotalCost, opp.PotentialProfit, opp.ProfitPct)
	} else if scanCount%5 == 0 {
		e.status.AddLogLocked("scan #%d | %s | UP %.4f DOWN %.4f | cost %.4f | %s",
			scanCount, market.Slug, snap.UpPrice, snap.DownPrice, snap.TotalCost, opp.Reason)
	}
	e.status.Unlock()

	return &opp, nil
}

// onStopLossCooldown reports whether the global stop-loss cooldown is
// still active, logging the remaining time when it is.
func (e *Engine) onStopLossCooldown() bool {
	now := e.now()
	if e.stopLossCooldownUntil.IsZero() || !now.Before(e.stopLossCooldownUntil) {
		return false
	}
	remaining := e.stopLossCooldownUntil.Sub(now).Round(time.Second)
	e.status.AddLog("stop-loss cooldown active, %s remaining", remaining)
	return true
}

func modeLabel(dryRun bool) string {
	if dryRun {
		return "simulated"
	}
	return "live"
}

// sleepCtx blocks for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return domain.ErrContextDone
	case <-t.C:
		return nil
	}
}

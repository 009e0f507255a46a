package app

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Xenovative/PMBot/internal/domain"
	"github.com/Xenovative/PMBot/internal/engine"
	"github.com/Xenovative/PMBot/internal/server/handler"
	"github.com/Xenovative/PMBot/internal/server/ws"
)

// maxConcurrentScans bounds the per-cycle market scan fan-out so a long
// symbol list cannot open an unbounded number of quote requests at once.
const maxConcurrentScans = 8

// retentionInterval is how often the archive-then-delete retention pass
// runs. Retention state lives in the stores, so a coarse interval is fine.
const retentionInterval = 24 * time.Hour

// Bot drives the scan-and-trade cycle. The loop itself runs for the whole
// process lifetime; StartBot and StopBot toggle whether a tick does any
// work, so the HTTP surface can pause and resume trading without tearing
// goroutines down.
type Bot struct {
	eng    *engine.Engine
	deps   *Dependencies
	hub    *ws.Hub
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	running bool

	// persistedTrades tracks how much of the status trade history has
	// already been written to the trade store.
	persistedTrades int
}

// NewBot wires the scan loop to its collaborators. hub may be nil when the
// server is disabled.
func NewBot(eng *engine.Engine, deps *Dependencies, hub *ws.Hub, logger *slog.Logger) *Bot {
	return &Bot{
		eng:    eng,
		deps:   deps,
		hub:    hub,
		logger: logger.With(slog.String("component", "bot")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Running reports whether the scan loop is actively trading.
func (b *Bot) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// StartBot resumes the scan cycle. Accumulated history and holdings are
// kept across restarts so an operator pause never orphans a bargain stack.
func (b *Bot) StartBot() error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return handler.ErrAlreadyRunning
	}
	b.running = true
	b.mu.Unlock()

	cfg := b.eng.Config()
	mode := modeLabel(cfg.Engine.DryRun)

	status := b.eng.Status()
	status.Lock()
	status.Running = true
	status.StartTime = b.now()
	status.Mode = mode
	status.AddLogLocked("bot started | mode: %s", mode)
	status.AddLogLocked("order size: $%.2f | target cost: %.4f | symbols: %v",
		cfg.Engine.OrderSize, cfg.Engine.TargetPairCost, cfg.Engine.CryptoSymbols)
	status.Unlock()

	b.logger.Info("bot started", slog.String("mode", mode))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.deps.Notifier.EngineStarted(ctx, mode); err != nil {
		b.logger.Warn("start notification failed", slog.Any("error", err))
	}
	b.publishStatus(ctx)
	return nil
}

// StopBot pauses the scan cycle after the current tick finishes.
func (b *Bot) StopBot() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return handler.ErrNotRunning
	}
	b.running = false
	b.mu.Unlock()

	status := b.eng.Status()
	status.Lock()
	status.Running = false
	status.AddLogLocked("bot stopped")
	status.Unlock()

	b.logger.Info("bot stopped")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.deps.Notifier.EngineStopped(ctx); err != nil {
		b.logger.Warn("stop notification failed", slog.Any("error", err))
	}
	b.publishStatus(ctx)
	return nil
}

// Run executes the scan loop until the context is cancelled. The scan
// interval is re-read from config every tick so hot updates take effect
// without a restart.
func (b *Bot) Run(ctx context.Context) error {
	retention := time.NewTicker(retentionInterval)
	defer retention.Stop()

	// Run retention once at startup so a bot that restarts daily still
	// prunes history.
	b.runRetention(ctx)

	for {
		interval := b.eng.Config().Engine.ScanInterval.Duration
		if interval <= 0 {
			interval = 5 * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-retention.C:
			b.runRetention(ctx)
		case <-time.After(interval):
			if !b.Running() {
				continue
			}
			b.runCycle(ctx)
		}
	}
}

// runCycle performs one full pass: discover markets, scan them
// concurrently, execute arbitrage trades serially by descending profit,
// then work the bargain stacks.
func (b *Bot) runCycle(ctx context.Context) {
	cfg := b.eng.Config()
	now := b.now()
	status := b.eng.Status()

	markets, err := b.deps.Gamma.FindUpDownMarkets(ctx, cfg.Engine.CryptoSymbols, now)
	if err != nil {
		status.AddLog("market discovery failed: %v", err)
		b.logger.Warn("market discovery failed", slog.Any("error", err))
		return
	}

	tradeable := markets[:0]
	for _, m := range markets {
		if m.Tradeable(now) {
			tradeable = append(tradeable, m)
		}
	}

	slugs := make([]string, len(tradeable))
	for i, m := range tradeable {
		slugs[i] = m.Slug
	}
	status.Lock()
	status.ActiveMarkets = slugs
	status.Unlock()

	if len(tradeable) == 0 {
		status.AddLog("no tradeable markets, waiting for the next cycle")
		b.publishStatus(ctx)
		return
	}

	// Concurrent scan fan-out. A failed scan logs inside the engine and
	// yields a nil result; only context cancellation aborts the cycle.
	results := make([]*domain.Opportunity, len(tradeable))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentScans)
	for i, m := range tradeable {
		g.Go(func() error {
			opp, err := b.eng.ScanMarket(gctx, m)
			if err != nil {
				return err
			}
			results[i] = opp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		b.logger.Warn("scan cycle aborted", slog.Any("error", err))
		return
	}

	b.recordScans(ctx, now, tradeable, results)

	viable := make([]domain.Opportunity, 0, len(results))
	for _, opp := range results {
		if opp != nil && opp.Viable {
			viable = append(viable, *opp)
		}
	}
	sort.Slice(viable, func(i, j int) bool {
		return viable[i].PotentialProfit > viable[j].PotentialProfit
	})

	status.Lock()
	status.Opportunities = viable
	status.Unlock()

	// Trades execute strictly one at a time so two legs never compete for
	// the same book depth.
	for _, opp := range viable {
		if !b.Running() || ctx.Err() != nil {
			break
		}
		b.eng.ExecuteTrade(ctx, opp)
	}

	if cfg.Bargain.Enabled {
		b.eng.ScanBargainHoldings(ctx)
		for _, opp := range b.eng.CheckBargainOpportunities(ctx, tradeable) {
			if !b.Running() || ctx.Err() != nil {
				break
			}
			if holding := b.eng.ExecuteBargainBuy(ctx, opp); holding != nil {
				b.publish(ctx, ws.ChannelBargains, holding)
			}
		}
	}

	b.flushTrades(ctx)
	b.publishStatus(ctx)
}

// recordScans persists this cycle's observations and refreshes the
// snapshot cache. Both sinks are optional and best-effort.
func (b *Bot) recordScans(ctx context.Context, now time.Time, markets []domain.Market, results []*domain.Opportunity) {
	rows := make([]domain.ScanRow, 0, len(results))
	for i, opp := range results {
		if opp == nil {
			continue
		}
		snap := opp.Snapshot
		if b.deps.Snapshots != nil {
			if err := b.deps.Snapshots.SetSnapshot(ctx, markets[i].Slug, snap); err != nil {
				b.logger.Warn("snapshot cache write failed",
					slog.String("market", markets[i].Slug), slog.Any("error", err))
			}
		}
		rows = append(rows, domain.ScanRow{
			Timestamp:     now,
			MarketSlug:    markets[i].Slug,
			UpPrice:       snap.UpPrice,
			DownPrice:     snap.DownPrice,
			TotalCost:     snap.TotalCost,
			Spread:        snap.Spread,
			UpLiquidity:   snap.UpLiquidity,
			DownLiquidity: snap.DownLiquidity,
			Viable:        opp.Viable,
		})
	}

	if b.deps.ScanStore == nil || len(rows) == 0 || !b.eng.Config().Engine.PersistScans {
		return
	}
	if err := b.deps.ScanStore.InsertBatch(ctx, rows); err != nil {
		b.logger.Warn("scan persistence failed", slog.Any("error", err))
	}
}

// flushTrades persists and announces every trade record appended to the
// status history since the last flush. Arbitrage, bargain pair, and
// stop-loss records all land in the same history, so a single length
// watermark covers them.
func (b *Bot) flushTrades(ctx context.Context) {
	status := b.eng.Status()

	status.RLock()
	var fresh []domain.TradeRecord
	if len(status.TradeHistory) > b.persistedTrades {
		fresh = append(fresh, status.TradeHistory[b.persistedTrades:]...)
	}
	status.RUnlock()

	if len(fresh) == 0 {
		return
	}
	b.persistedTrades += len(fresh)

	for _, rec := range fresh {
		if b.deps.TradeStore != nil {
			if err := b.deps.TradeStore.Insert(ctx, rec); err != nil {
				b.logger.Warn("trade persistence failed",
					slog.String("trade_id", rec.ID), slog.Any("error", err))
			}
		}

		var err error
		if rec.TradeType == "stop_loss" {
			err = b.deps.Notifier.StopLossTriggered(ctx, rec)
		} else {
			err = b.deps.Notifier.TradeCompleted(ctx, rec)
		}
		if err != nil {
			b.logger.Warn("trade notification failed",
				slog.String("trade_id", rec.ID), slog.Any("error", err))
		}

		b.publish(ctx, ws.ChannelTrades, rec)
	}
}

// runRetention archives records older than the configured retention window
// and deletes them only after the archive upload succeeded.
func (b *Bot) runRetention(ctx context.Context) {
	days := b.eng.Config().S3.RetentionDays
	if b.deps.Archiver == nil || days <= 0 {
		return
	}
	cutoff := b.now().AddDate(0, 0, -days)

	type pass struct {
		kind    string
		archive func(context.Context, time.Time) (int64, error)
		prune   func(context.Context, time.Time) (int64, error)
	}
	passes := []pass{
		{"trades", b.deps.Archiver.ArchiveTrades, b.deps.TradeStore.DeleteBefore},
		{"merges", b.deps.Archiver.ArchiveMerges, b.deps.MergeStore.DeleteBefore},
		{"scans", b.deps.Archiver.ArchiveScans, b.deps.ScanStore.DeleteBefore},
	}
	for _, p := range passes {
		archived, err := p.archive(ctx, cutoff)
		if err != nil {
			b.logger.Warn("archive pass failed", slog.String("kind", p.kind), slog.Any("error", err))
			continue
		}
		if archived == 0 {
			continue
		}
		deleted, err := p.prune(ctx, cutoff)
		if err != nil {
			b.logger.Warn("retention delete failed", slog.String("kind", p.kind), slog.Any("error", err))
			continue
		}
		b.logger.Info("retention pass complete",
			slog.String("kind", p.kind),
			slog.Int64("archived", archived),
			slog.Int64("deleted", deleted),
		)
	}
}

func (b *Bot) publish(ctx context.Context, channel string, payload any) {
	publishEvent(ctx, b.deps.EventBus, b.hub, b.logger, channel, payload)
}

// publishEvent delivers an event envelope. With Redis enabled it goes
// through pub/sub so every replica's hub sees it; otherwise it goes
// straight to the local hub.
func publishEvent(ctx context.Context, bus domain.EventBus, hub *ws.Hub, logger *slog.Logger, channel string, payload any) {
	if bus != nil {
		envelope := map[string]any{"type": channel, "payload": payload}
		if err := bus.PublishEvent(ctx, channel, envelope); err != nil {
			logger.Warn("event publish failed", slog.String("channel", channel), slog.Any("error", err))
		}
		return
	}
	if hub != nil {
		hub.Broadcast(channel, payload)
	}
}

func (b *Bot) publishStatus(ctx context.Context) {
	b.publish(ctx, ws.ChannelStatus, b.eng.Status().Snapshot())
}

func modeLabel(dryRun bool) string {
	if dryRun {
		return "simulated"
	}
	return "live"
}

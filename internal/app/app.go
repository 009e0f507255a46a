// Package app assembles the bot process: dependency wiring, the scan
// loop, and the HTTP/WebSocket surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Xenovative/PMBot/internal/config"
	"github.com/Xenovative/PMBot/internal/domain"
	"github.com/Xenovative/PMBot/internal/engine"
	"github.com/Xenovative/PMBot/internal/server"
	"github.com/Xenovative/PMBot/internal/server/handler"
	"github.com/Xenovative/PMBot/internal/server/ws"
)

// liveLockTTL is the lease on the per-wallet live-trading lock. The lock
// manager renews it in the background while the process is healthy.
const liveLockTTL = 30 * time.Second

// shutdownTimeout bounds the HTTP server drain on exit.
const shutdownTimeout = 10 * time.Second

// App owns the process lifecycle.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
}

// New creates an App from a validated configuration.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Run wires dependencies, builds the engine and its surfaces, and blocks
// until the context is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer cleanup()

	// With real money on the line only one process per wallet may trade.
	// Without Redis there is nothing to coordinate through, so the guard
	// only applies when both live mode and Redis are on.
	if !a.cfg.Engine.DryRun && deps.Locks != nil {
		release, err := deps.Locks.Hold(ctx, "live:"+a.cfg.Wallet.FunderAddress, liveLockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return fmt.Errorf("app: another live instance is already trading for %s: %w",
					a.cfg.Wallet.FunderAddress, err)
			}
			return fmt.Errorf("app: live instance lock: %w", err)
		}
		defer release()
	}

	status := domain.NewEngineStatus()
	status.Mode = modeLabel(a.cfg.Engine.DryRun)

	// hub is assigned below when the server is enabled; the publish
	// closure reads it late so merge events still reach clients.
	var hub *ws.Hub
	publish := func(ctx context.Context, channel string, payload any) {
		publishEvent(ctx, deps.EventBus, hub, a.logger, channel, payload)
	}

	merges := newMergeRecorder(deps.Merger, deps.MergeStore, deps.Notifier, publish, a.logger)
	eng := engine.New(a.cfg, deps.Clob, deps.Clob, merges, status, a.logger)

	if a.cfg.Server.Enabled {
		hub = ws.NewHub(deps.EventBus, func() string {
			return modeLabel(eng.Config().Engine.DryRun)
		}, a.logger)
	}

	bot := NewBot(eng, deps, hub, a.logger)

	// Headless deployments have no API to press start, so the loop
	// begins trading immediately.
	if !a.cfg.Server.Enabled {
		if err := bot.StartBot(); err != nil {
			return fmt.Errorf("app: start bot: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return bot.Run(gctx) })

	if hub != nil {
		g.Go(func() error { return hub.Run(gctx) })
	}

	if a.cfg.Server.Enabled {
		srv := server.NewServer(server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
		}, a.buildHandlers(deps, eng, bot, merges), hub, a.logger)

		g.Go(func() error {
			if err := srv.Start(); err != nil {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) buildHandlers(deps *Dependencies, eng *engine.Engine, bot *Bot, merges *mergeRecorder) server.Handlers {
	health := handler.NewHealthHandler(a.logger)
	if deps.PG != nil {
		health.AddCheck("postgres", deps.PG.Pool().Ping)
	}
	if deps.Redis != nil {
		health.AddCheck("redis", deps.Redis.Ping)
	}
	if deps.S3 != nil {
		health.AddCheck("s3", deps.S3.Health)
	}

	symbols := func() []string { return eng.Config().Engine.CryptoSymbols }

	handlers := server.Handlers{
		Health:  health,
		Status:  handler.NewStatusHandler(eng.Status()),
		Bot:     handler.NewBotHandler(bot, a.logger),
		Config:  handler.NewConfigHandler(eng, a.logger),
		Merge:   handler.NewMergeHandler(merges, a.logger),
		Markets: handler.NewMarketHandler(deps.Gamma, deps.Clob, symbols, a.logger),
		History: handler.NewHistoryHandler(deps.TradeStore, deps.ScanStore, eng.Status(), a.logger),
	}
	if deps.BlobReader != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.BlobReader, a.logger)
	}
	return handlers
}

// Package server hosts the HTTP + WebSocket status surface of the bot.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Xenovative/PMBot/internal/server/handler"
	"github.com/Xenovative/PMBot/internal/server/middleware"
	"github.com/Xenovative/PMBot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers that the server registers. Archive
// may be nil when S3 is disabled.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Bot     *handler.BotHandler
	Config  *handler.ConfigHandler
	Merge   *handler.MergeHandler
	Markets *handler.MarketHandler
	History *handler.HistoryHandler
	Archive *handler.ArchiveHandler
}

// Server is the headless HTTP + WebSocket API for the bot.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered and the middleware
// chain (logging, CORS, auth) wired up.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Engine status and control.
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	mux.HandleFunc("POST /api/bot/start", handlers.Bot.Start)
	mux.HandleFunc("POST /api/bot/stop", handlers.Bot.Stop)

	// Configuration.
	mux.HandleFunc("GET /api/config", handlers.Config.GetConfig)
	mux.HandleFunc("PUT /api/config", handlers.Config.UpdateConfig)

	// Position merging.
	mux.HandleFunc("GET /api/merge/status", handlers.Merge.GetStatus)
	mux.HandleFunc("POST /api/merge/toggle", handlers.Merge.Toggle)
	mux.HandleFunc("POST /api/merge/execute", handlers.Merge.Execute)
	mux.HandleFunc("POST /api/merge/all", handlers.Merge.ExecuteAll)

	// Market discovery and price probe.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/price", handlers.Markets.GetPrice)

	// Trade history and analytics.
	mux.HandleFunc("GET /api/trades", handlers.History.ListTrades)
	mux.HandleFunc("GET /api/summary/daily", handlers.History.DailySummary)

	// Archived history (only when S3 is configured).
	if handlers.Archive != nil {
		mux.HandleFunc("GET /api/archives/{kind}", handlers.Archive.List)
		mux.HandleFunc("GET /api/archives/{kind}/{month}", handlers.Archive.Download)
	}

	// WebSocket push.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

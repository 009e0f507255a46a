package handler

import (
	"errors"
	"log/slog"
	"net/http"
)

// ErrAlreadyRunning is returned by BotController.Start when the scan loop is
// active, and by Stop when it is not.
var ErrAlreadyRunning = errors.New("bot already running")

// ErrNotRunning is the Stop counterpart of ErrAlreadyRunning.
var ErrNotRunning = errors.New("bot not running")

// BotController starts and stops the scan loop.
type BotController interface {
	StartBot() error
	StopBot() error
	Running() bool
}

// BotHandler serves the start/stop control endpoints.
type BotHandler struct {
	bot    BotController
	logger *slog.Logger
}

// NewBotHandler creates a BotHandler.
func NewBotHandler(bot BotController, logger *slog.Logger) *BotHandler {
	return &BotHandler{bot: bot, logger: logger}
}

// Start launches the scan loop.
// POST /api/bot/start
func (h *BotHandler) Start(w http.ResponseWriter, r *http.Request) {
	if err := h.bot.StartBot(); err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "bot already running")
			return
		}
		h.logger.ErrorContext(r.Context(), "bot start failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to start bot")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"running": true})
}

// Stop halts the scan loop after the current cycle.
// POST /api/bot/stop
func (h *BotHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.bot.StopBot(); err != nil {
		if errors.Is(err, ErrNotRunning) {
			writeError(w, http.StatusConflict, "bot not running")
			return
		}
		h.logger.ErrorContext(r.Context(), "bot stop failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to stop bot")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"running": false})
}

package handler

import (
	"net/http"

	"github.com/Xenovative/PMBot/internal/domain"
)

// StatusProvider exposes the engine run state to the presentation layer.
type StatusProvider interface {
	Snapshot() domain.StatusSnapshot
}

// StatusHandler serves the engine status snapshot consumed by the dashboard.
type StatusHandler struct {
	status StatusProvider
}

// NewStatusHandler creates a StatusHandler backed by the given provider.
func NewStatusHandler(status StatusProvider) *StatusHandler {
	return &StatusHandler{status: status}
}

// GetStatus responds with the bounded status snapshot: counters, recent
// trades, bargain holdings, per-market prices, and the log tail.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status.Snapshot())
}

package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Xenovative/PMBot/internal/domain"
	"github.com/Xenovative/PMBot/internal/merger"
)

// MergeService is the handler-facing surface of the position merger.
type MergeService interface {
	Status() merger.StatusView
	SetAutoMerge(enabled bool)
	Merge(ctx context.Context, conditionID string, amount float64) (*domain.MergeRecord, error)
	AutoMergeAll(ctx context.Context) []domain.MergeRecord
}

// MergeHandler serves the position-merge endpoints.
type MergeHandler struct {
	merges MergeService
	logger *slog.Logger
}

// NewMergeHandler creates a MergeHandler.
func NewMergeHandler(merges MergeService, logger *slog.Logger) *MergeHandler {
	return &MergeHandler{merges: merges, logger: logger}
}

// GetStatus returns tracked positions, mergeable totals, and recent merge
// history.
// GET /api/merge/status
func (h *MergeHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.merges.Status())
}

// toggleRequest selects the auto-merge state.
type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

// Toggle enables or disables automatic merging after each paired trade.
// POST /api/merge/toggle
func (h *MergeHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.merges.SetAutoMerge(req.Enabled)
	h.logger.InfoContext(r.Context(), "auto-merge toggled", slog.Bool("enabled", req.Enabled))
	writeJSON(w, http.StatusOK, map[string]any{"auto_merge_enabled": req.Enabled})
}

// executeRequest names the position to merge. Amount 0 merges everything
// mergeable for the condition.
type executeRequest struct {
	ConditionID string  `json:"condition_id"`
	Amount      float64 `json:"amount"`
}

// Execute merges one tracked position back into collateral.
// POST /api/merge/execute
func (h *MergeHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ConditionID == "" {
		writeError(w, http.StatusBadRequest, "condition_id is required")
		return
	}

	record, err := h.merges.Merge(r.Context(), req.ConditionID, req.Amount)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// ExecuteAll merges every tracked position with a mergeable balance.
// POST /api/merge/all
func (h *MergeHandler) ExecuteAll(w http.ResponseWriter, r *http.Request) {
	records := h.merges.AutoMergeAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"merged":  len(records),
		"records": records,
	})
}

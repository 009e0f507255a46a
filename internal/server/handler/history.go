package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Xenovative/PMBot/internal/domain"
)

// HistoryHandler serves persisted trade history and daily analytics. With
// persistence disabled it falls back to the in-memory status history.
type HistoryHandler struct {
	trades domain.TradeStore // nil when Postgres is disabled
	scans  domain.ScanStore  // nil when Postgres is disabled
	status StatusProvider
	logger *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler. trades and scans may be nil.
func NewHistoryHandler(trades domain.TradeStore, scans domain.ScanStore, status StatusProvider, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{
		trades: trades,
		scans:  scans,
		status: status,
		logger: logger,
	}
}

// tradeView is the serialized trade record.
type tradeView struct {
	ID             string  `json:"id"`
	Timestamp      string  `json:"timestamp"`
	MarketSlug     string  `json:"market_slug"`
	TradeType      string  `json:"trade_type"`
	Side           string  `json:"side,omitempty"`
	UpPrice        float64 `json:"up_price"`
	DownPrice      float64 `json:"down_price"`
	TotalCost      float64 `json:"total_cost"`
	OrderSize      float64 `json:"order_size"`
	ExpectedProfit float64 `json:"expected_profit"`
	ProfitPct      float64 `json:"profit_pct"`
	Status         string  `json:"status"`
	Details        string  `json:"details,omitempty"`
}

func tradeViewOf(rec domain.TradeRecord) tradeView {
	return tradeView{
		ID:             rec.ID,
		Timestamp:      rec.Timestamp.UTC().Format(time.RFC3339),
		MarketSlug:     rec.MarketSlug,
		TradeType:      rec.TradeType,
		Side:           string(rec.Side),
		UpPrice:        rec.UpPrice,
		DownPrice:      rec.DownPrice,
		TotalCost:      rec.TotalCost,
		OrderSize:      rec.OrderSize,
		ExpectedProfit: rec.ExpectedProfit,
		ProfitPct:      rec.ProfitPct,
		Status:         string(rec.Status),
		Details:        rec.Details,
	}
}

// ListTrades returns the most recent trades, newest first.
// GET /api/trades?limit=50
func (h *HistoryHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)

	var records []domain.TradeRecord
	if h.trades != nil {
		var err error
		records, err = h.trades.ListRecent(r.Context(), limit)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "trade query failed",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to list trades")
			return
		}
	} else {
		hist := h.status.Snapshot().TradeHistory
		for i := len(hist) - 1; i >= 0 && len(records) < limit; i-- {
			records = append(records, hist[i])
		}
	}

	views := make([]tradeView, 0, len(records))
	for _, rec := range records {
		views = append(views, tradeViewOf(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trades": views,
		"total":  len(views),
	})
}

// DailySummary returns aggregated trading activity for one UTC day.
// GET /api/summary/daily?date=2025-03-15
func (h *HistoryHandler) DailySummary(w http.ResponseWriter, r *http.Request) {
	if h.scans == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence disabled")
		return
	}

	day := time.Now().UTC()
	if v := r.URL.Query().Get("date"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		day = parsed
	}

	summary, err := h.scans.DailySummary(r.Context(), day)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "daily summary query failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to build daily summary")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"date":         summary.Date.Format("2006-01-02"),
		"total_trades": summary.TotalTrades,
		"successful":   summary.Successful,
		"failed":       summary.Failed,
		"total_profit": summary.TotalProfit,
		"scan_count":   summary.ScanCount,
		"viable_scans": summary.ViableScans,
	})
}

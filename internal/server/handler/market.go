package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Xenovative/PMBot/internal/domain"
)

// MarketFinder discovers the currently tradeable Up/Down markets.
type MarketFinder interface {
	FindUpDownMarkets(ctx context.Context, symbols []string, now time.Time) ([]domain.Market, error)
}

// QuoteReader serves the ad-hoc price probe endpoint.
type QuoteReader interface {
	GetPrice(ctx context.Context, tokenID, side string) (float64, error)
}

// MarketHandler serves market discovery and price probe endpoints.
type MarketHandler struct {
	finder  MarketFinder
	quotes  QuoteReader
	symbols func() []string
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler. symbols supplies the configured
// crypto symbols at request time so hot config updates take effect.
func NewMarketHandler(finder MarketFinder, quotes QuoteReader, symbols func() []string, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		finder:  finder,
		quotes:  quotes,
		symbols: symbols,
		logger:  logger,
	}
}

// marketView is the serialized market representation.
type marketView struct {
	ID              string  `json:"id"`
	Question        string  `json:"question"`
	Slug            string  `json:"slug"`
	ConditionID     string  `json:"condition_id"`
	UpTokenID       string  `json:"up_token_id"`
	DownTokenID     string  `json:"down_token_id"`
	EndDate         string  `json:"end_date,omitempty"`
	SecondsLeft     int64   `json:"seconds_left"`
	AcceptingOrders bool    `json:"accepting_orders"`
	Tradeable       bool    `json:"tradeable"`
	Volume          float64 `json:"volume"`
	Liquidity       float64 `json:"liquidity"`
}

func marketViewOf(m domain.Market, now time.Time) marketView {
	v := marketView{
		ID:              m.ID,
		Question:        m.Question,
		Slug:            m.Slug,
		ConditionID:     m.ConditionID,
		UpTokenID:       m.UpTokenID,
		DownTokenID:     m.DownTokenID,
		SecondsLeft:     int64(m.TimeRemaining(now).Seconds()),
		AcceptingOrders: m.AcceptingOrders,
		Tradeable:       m.Tradeable(now),
		Volume:          m.Volume,
		Liquidity:       m.Liquidity,
	}
	if !m.EndDate.IsZero() {
		v.EndDate = m.EndDate.UTC().Format(time.RFC3339)
	}
	return v
}

// ListMarkets discovers and returns the Up/Down markets for the configured
// symbols.
// GET /api/markets
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()

	markets, err := h.finder.FindUpDownMarkets(r.Context(), h.symbols(), now)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "market discovery failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "market discovery failed")
		return
	}

	views := make([]marketView, 0, len(markets))
	for _, m := range markets {
		views = append(views, marketViewOf(m, now))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"markets": views,
		"total":   len(views),
	})
}

// GetPrice probes the order book for one token.
// GET /api/price?token_id=...&side=buy
func (h *MarketHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	tokenID := r.URL.Query().Get("token_id")
	if tokenID == "" {
		writeError(w, http.StatusBadRequest, "token_id is required")
		return
	}
	side := r.URL.Query().Get("side")
	if side == "" {
		side = "buy"
	}
	if side != "buy" && side != "sell" {
		writeError(w, http.StatusBadRequest, "side must be buy or sell")
		return
	}

	price, err := h.quotes.GetPrice(r.Context(), tokenID, side)
	if err != nil {
		writeError(w, http.StatusBadGateway, "price fetch failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token_id": tokenID,
		"side":     side,
		"price":    price,
	})
}

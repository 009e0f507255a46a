package handler

import (
	"log/slog"
	"net/http"

	"github.com/Xenovative/PMBot/internal/config"
)

// ConfigService reads and hot-updates the running engine configuration.
type ConfigService interface {
	Config() config.Config
	UpdateConfig(u config.Update) error
}

// ConfigHandler serves the configuration endpoints. Wallet credentials are
// never exposed through this surface.
type ConfigHandler struct {
	cfg    ConfigService
	logger *slog.Logger
}

// NewConfigHandler creates a ConfigHandler.
func NewConfigHandler(cfg ConfigService, logger *slog.Logger) *ConfigHandler {
	return &ConfigHandler{cfg: cfg, logger: logger}
}

// configView is the serialized, credential-free view of the hot-reloadable
// configuration.
type configView struct {
	OrderSize          float64  `json:"order_size"`
	TargetPairCost     float64  `json:"target_pair_cost"`
	SlippageAllowance  float64  `json:"slippage_allowance"`
	DryRun             bool     `json:"dry_run"`
	MinTimeRemainingS  int      `json:"min_time_remaining_seconds"`
	MaxTradesPerMarket int      `json:"max_trades_per_market"`
	TradeCooldownS     int      `json:"trade_cooldown_seconds"`
	MinLiquidity       float64  `json:"min_liquidity"`
	ScanIntervalS      int      `json:"scan_interval_seconds"`
	CryptoSymbols      []string `json:"crypto_symbols"`
	AutoMerge          bool     `json:"auto_merge"`

	BargainEnabled        bool    `json:"bargain_enabled"`
	BargainPriceThreshold float64 `json:"bargain_price_threshold"`
	BargainPairThreshold  float64 `json:"bargain_pair_threshold"`
	BargainStopLossCents  float64 `json:"bargain_stop_loss_cents"`
	BargainMinPrice       float64 `json:"bargain_min_price"`
	BargainMaxRounds      int     `json:"bargain_max_rounds"`
	FutureMarketMinS      int     `json:"future_market_min_seconds"`
}

func viewOf(c config.Config) configView {
	return configView{
		OrderSize:          c.Engine.OrderSize,
		TargetPairCost:     c.Engine.TargetPairCost,
		SlippageAllowance:  c.Engine.SlippageAllowance,
		DryRun:             c.Engine.DryRun,
		MinTimeRemainingS:  int(c.Engine.MinTimeRemaining.Duration.Seconds()),
		MaxTradesPerMarket: c.Engine.MaxTradesPerMarket,
		TradeCooldownS:     int(c.Engine.TradeCooldown.Duration.Seconds()),
		MinLiquidity:       c.Engine.MinLiquidity,
		ScanIntervalS:      int(c.Engine.ScanInterval.Duration.Seconds()),
		CryptoSymbols:      c.Engine.CryptoSymbols,
		AutoMerge:          c.Engine.AutoMerge,

		BargainEnabled:        c.Bargain.Enabled,
		BargainPriceThreshold: c.Bargain.PriceThreshold,
		BargainPairThreshold:  c.Bargain.PairThreshold,
		BargainStopLossCents:  c.Bargain.StopLossCents,
		BargainMinPrice:       c.Bargain.MinPrice,
		BargainMaxRounds:      c.Bargain.MaxRounds,
		FutureMarketMinS:      int(c.Bargain.FutureMarketMin.Duration.Seconds()),
	}
}

// GetConfig returns the current hot-reloadable configuration.
// GET /api/config
func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, viewOf(h.cfg.Config()))
}

// UpdateConfig applies a partial configuration update. Only the enumerated
// hot-reloadable fields can change; the merged result is validated before it
// takes effect.
// PUT /api/config
func (h *ConfigHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var u config.Update
	if err := decodeJSON(r, &u); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(u.Fields()) == 0 {
		writeError(w, http.StatusBadRequest, "no updatable fields in request")
		return
	}

	if err := h.cfg.UpdateConfig(u); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	h.logger.InfoContext(r.Context(), "config updated via api", slog.Any("fields", u.Fields()))
	writeJSON(w, http.StatusOK, viewOf(h.cfg.Config()))
}

// Package config defines the top-level configuration for PMBot and provides
// validation and hot-update helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by PMBOT_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Engine     EngineConfig     `toml:"engine"`
	Bargain    BargainConfig    `toml:"bargain"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds the trading wallet credentials used by the live path.
// Simulated mode never reads these.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	FunderAddress    string `toml:"funder_address"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds Polymarket API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	GammaHost     string `toml:"gamma_host"`
	RPCURL        string `toml:"rpc_url"`
	ChainID       int    `toml:"chain_id"`
	SignatureType int    `toml:"signature_type"`
	ApiKey        string `toml:"api_key"`
	ApiSecret     string `toml:"api_secret"`
	ApiPassphrase string `toml:"api_passphrase"`
}

// PostgresConfig holds PostgreSQL connection parameters for the history store.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the snapshot cache.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the archiver.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	RetentionDays  int    `toml:"retention_days"`
}

// EngineConfig holds the classic pair-arbitrage parameters. Every field is
// hot-reloadable through ApplyUpdate.
type EngineConfig struct {
	OrderSize            float64  `toml:"order_size"`
	TargetPairCost       float64  `toml:"target_pair_cost"`
	SlippageAllowance    float64  `toml:"slippage_allowance"`
	DryRun               bool     `toml:"dry_run"`
	MinTimeRemaining     duration `toml:"min_time_remaining"`
	MaxTradesPerMarket   int      `toml:"max_trades_per_market"`
	TradeCooldown        duration `toml:"trade_cooldown"`
	MinLiquidity         float64  `toml:"min_liquidity"`
	ScanInterval         duration `toml:"scan_interval"`
	CryptoSymbols        []string `toml:"crypto_symbols"`
	AutoMerge            bool     `toml:"auto_merge"`
	PersistScans         bool     `toml:"persist_scans"`
}

// BargainConfig holds the bargain stacking strategy parameters.
type BargainConfig struct {
	Enabled          bool     `toml:"enabled"`
	PriceThreshold   float64  `toml:"price_threshold"`
	PairThreshold    float64  `toml:"pair_threshold"`
	StopLossCents    float64  `toml:"stop_loss_cents"`
	MinPrice         float64  `toml:"min_price"`
	MaxRounds        int      `toml:"max_rounds"`
	FutureMarketMin  duration `toml:"future_market_min"`
	StopLossCooldown duration `toml:"stop_loss_cooldown"`
}

// ServerConfig holds HTTP server parameters for the status surface.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey protects every /api route when set. Empty disables auth,
	// which is only sane for localhost deployments.
	APIKey string `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the values the original deployment
// shipped with.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			GammaHost:     "https://gamma-api.polymarket.com",
			RPCURL:        "https://polygon-rpc.com",
			ChainID:       137,
			SignatureType: 0,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "pmbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "pmbot-history",
			ForcePathStyle: true,
			RetentionDays:  30,
		},
		Engine: EngineConfig{
			OrderSize:          50,
			TargetPairCost:     0.99,
			SlippageAllowance:  0.005,
			DryRun:             true,
			MinTimeRemaining:   duration{2 * time.Minute},
			MaxTradesPerMarket: 10,
			TradeCooldown:      duration{60 * time.Second},
			MinLiquidity:       100,
			ScanInterval:       duration{5 * time.Second},
			CryptoSymbols:      []string{"btc", "eth", "sol"},
			AutoMerge:          true,
			PersistScans:       true,
		},
		Bargain: BargainConfig{
			Enabled:          true,
			PriceThreshold:   0.49,
			PairThreshold:    0.99,
			StopLossCents:    0.02,
			MinPrice:         0.10,
			MaxRounds:        56,
			FutureMarketMin:  duration{15 * time.Minute},
			StopLossCooldown: duration{3 * time.Minute},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8889,
			CORSOrigins: []string{"*"},
		},
		LogLevel: "info",
	}
}

// Validate checks the configuration for inconsistencies that would make a run
// meaningless. Live-trading credential checks are deferred to the live path
// (simulated mode must start without them).
func (c *Config) Validate() error {
	var problems []string

	if c.Engine.OrderSize <= 0 {
		problems = append(problems, "engine.order_size must be positive")
	}
	if c.Engine.TargetPairCost <= 0 || c.Engine.TargetPairCost > 1.0 {
		problems = append(problems, "engine.target_pair_cost must be in (0, 1]")
	}
	if c.Engine.SlippageAllowance < 0 || c.Engine.SlippageAllowance >= 0.5 {
		problems = append(problems, "engine.slippage_allowance must be in [0, 0.5)")
	}
	if c.Engine.MaxTradesPerMarket <= 0 {
		problems = append(problems, "engine.max_trades_per_market must be positive")
	}
	if c.Engine.MinLiquidity < 0 {
		problems = append(problems, "engine.min_liquidity must not be negative")
	}
	if c.Bargain.Enabled {
		if c.Bargain.PriceThreshold <= c.Bargain.MinPrice {
			problems = append(problems, "bargain.price_threshold must exceed bargain.min_price")
		}
		if c.Bargain.PairThreshold <= 0 || c.Bargain.PairThreshold > 1.0 {
			problems = append(problems, "bargain.pair_threshold must be in (0, 1]")
		}
		if c.Bargain.StopLossCents <= 0 {
			problems = append(problems, "bargain.stop_loss_cents must be positive")
		}
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		problems = append(problems, "server.port must be a valid TCP port")
	}
	if c.Polymarket.ClobHost == "" {
		problems = append(problems, "polymarket.clob_host must be set")
	}
	if c.Polymarket.GammaHost == "" {
		problems = append(problems, "polymarket.gamma_host must be set")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ValidateLive checks the credentials the live-trading path requires. Called
// only when dry_run is off.
func (c *Config) ValidateLive() error {
	if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
		return fmt.Errorf("config: live trading requires wallet.private_key or wallet.encrypted_key_path")
	}
	if c.Wallet.FunderAddress == "" {
		return fmt.Errorf("config: live trading requires wallet.funder_address")
	}
	return nil
}

// Update carries the hot-reloadable engine and bargain fields. Nil pointers
// leave the current value untouched; only the fields enumerated here can be
// changed mid-run.
type Update struct {
	OrderSize          *float64 `json:"order_size,omitempty"`
	TargetPairCost     *float64 `json:"target_pair_cost,omitempty"`
	SlippageAllowance  *float64 `json:"slippage_allowance,omitempty"`
	DryRun             *bool    `json:"dry_run,omitempty"`
	MinTimeRemainingS  *int     `json:"min_time_remaining_seconds,omitempty"`
	MaxTradesPerMarket *int     `json:"max_trades_per_market,omitempty"`
	TradeCooldownS     *int     `json:"trade_cooldown_seconds,omitempty"`
	MinLiquidity       *float64 `json:"min_liquidity,omitempty"`
	CryptoSymbols      []string `json:"crypto_symbols,omitempty"`

	BargainEnabled        *bool    `json:"bargain_enabled,omitempty"`
	BargainPriceThreshold *float64 `json:"bargain_price_threshold,omitempty"`
	BargainPairThreshold  *float64 `json:"bargain_pair_threshold,omitempty"`
	BargainStopLossCents  *float64 `json:"bargain_stop_loss_cents,omitempty"`
	BargainMinPrice       *float64 `json:"bargain_min_price,omitempty"`
	FutureMarketMinS      *int     `json:"future_market_min_seconds,omitempty"`
}

// Fields returns the names of the fields the update would change, for logging.
func (u Update) Fields() []string {
	var out []string
	add := func(set bool, name string) {
		if set {
			out = append(out, name)
		}
	}
	add(u.OrderSize != nil, "order_size")
	add(u.TargetPairCost != nil, "target_pair_cost")
	add(u.SlippageAllowance != nil, "slippage_allowance")
	add(u.DryRun != nil, "dry_run")
	add(u.MinTimeRemainingS != nil, "min_time_remaining_seconds")
	add(u.MaxTradesPerMarket != nil, "max_trades_per_market")
	add(u.TradeCooldownS != nil, "trade_cooldown_seconds")
	add(u.MinLiquidity != nil, "min_liquidity")
	add(len(u.CryptoSymbols) > 0, "crypto_symbols")
	add(u.BargainEnabled != nil, "bargain_enabled")
	add(u.BargainPriceThreshold != nil, "bargain_price_threshold")
	add(u.BargainPairThreshold != nil, "bargain_pair_threshold")
	add(u.BargainStopLossCents != nil, "bargain_stop_loss_cents")
	add(u.BargainMinPrice != nil, "bargain_min_price")
	add(u.FutureMarketMinS != nil, "future_market_min_seconds")
	return out
}

// ApplyUpdate merges the update into the config, then re-validates the
// result. On validation failure the config is left unchanged.
func (c *Config) ApplyUpdate(u Update) error {
	next := *c

	if u.OrderSize != nil {
		next.Engine.OrderSize = *u.OrderSize
	}
	if u.TargetPairCost != nil {
		next.Engine.TargetPairCost = *u.TargetPairCost
	}
	if u.SlippageAllowance != nil {
		next.Engine.SlippageAllowance = *u.SlippageAllowance
	}
	if u.DryRun != nil {
		next.Engine.DryRun = *u.DryRun
	}
	if u.MinTimeRemainingS != nil {
		next.Engine.MinTimeRemaining = duration{time.Duration(*u.MinTimeRemainingS) * time.Second}
	}
	if u.MaxTradesPerMarket != nil {
		next.Engine.MaxTradesPerMarket = *u.MaxTradesPerMarket
	}
	if u.TradeCooldownS != nil {
		next.Engine.TradeCooldown = duration{time.Duration(*u.TradeCooldownS) * time.Second}
	}
	if u.MinLiquidity != nil {
		next.Engine.MinLiquidity = *u.MinLiquidity
	}
	if len(u.CryptoSymbols) > 0 {
		next.Engine.CryptoSymbols = append([]string(nil), u.CryptoSymbols...)
	}
	if u.BargainEnabled != nil {
		next.Bargain.Enabled = *u.BargainEnabled
	}
	if u.BargainPriceThreshold != nil {
		next.Bargain.PriceThreshold = *u.BargainPriceThreshold
	}
	if u.BargainPairThreshold != nil {
		next.Bargain.PairThreshold = *u.BargainPairThreshold
	}
	if u.BargainStopLossCents != nil {
		next.Bargain.StopLossCents = *u.BargainStopLossCents
	}
	if u.BargainMinPrice != nil {
		next.Bargain.MinPrice = *u.BargainMinPrice
	}
	if u.FutureMarketMinS != nil {
		next.Bargain.FutureMarketMin = duration{time.Duration(*u.FutureMarketMinS) * time.Second}
	}

	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PMBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load. A missing file is not
// an error: the defaults plus environment are enough to run simulated mode.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PMBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "PMBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.PrivateKey, "PRIVATE_KEY") // compatibility alias
	setStr(&cfg.Wallet.FunderAddress, "PMBOT_WALLET_FUNDER_ADDRESS")
	setStr(&cfg.Wallet.FunderAddress, "FUNDER_ADDRESS") // compatibility alias
	setStr(&cfg.Wallet.EncryptedKeyPath, "PMBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "PMBOT_WALLET_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "PMBOT_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "PMBOT_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.RPCURL, "PMBOT_POLYMARKET_RPC_URL")
	setInt(&cfg.Polymarket.ChainID, "PMBOT_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "PMBOT_POLYMARKET_SIGNATURE_TYPE")
	setStr(&cfg.Polymarket.ApiKey, "PMBOT_POLYMARKET_API_KEY")
	setStr(&cfg.Polymarket.ApiSecret, "PMBOT_POLYMARKET_API_SECRET")
	setStr(&cfg.Polymarket.ApiPassphrase, "PMBOT_POLYMARKET_API_PASSPHRASE")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "PMBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "PMBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PMBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PMBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PMBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PMBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PMBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PMBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PMBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PMBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PMBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PMBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PMBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PMBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PMBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PMBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PMBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PMBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PMBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PMBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PMBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "PMBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PMBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PMBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PMBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PMBOT_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "PMBOT_S3_RETENTION_DAYS")

	// ── Engine ──
	setFloat64(&cfg.Engine.OrderSize, "PMBOT_ENGINE_ORDER_SIZE")
	setFloat64(&cfg.Engine.OrderSize, "ORDER_SIZE") // compatibility alias
	setFloat64(&cfg.Engine.TargetPairCost, "PMBOT_ENGINE_TARGET_PAIR_COST")
	setFloat64(&cfg.Engine.TargetPairCost, "TARGET_PAIR_COST") // compatibility alias
	setFloat64(&cfg.Engine.SlippageAllowance, "PMBOT_ENGINE_SLIPPAGE_ALLOWANCE")
	setBool(&cfg.Engine.DryRun, "PMBOT_ENGINE_DRY_RUN")
	setBool(&cfg.Engine.DryRun, "DRY_RUN") // compatibility alias
	setDuration(&cfg.Engine.MinTimeRemaining, "PMBOT_ENGINE_MIN_TIME_REMAINING")
	setInt(&cfg.Engine.MaxTradesPerMarket, "PMBOT_ENGINE_MAX_TRADES_PER_MARKET")
	setDuration(&cfg.Engine.TradeCooldown, "PMBOT_ENGINE_TRADE_COOLDOWN")
	setFloat64(&cfg.Engine.MinLiquidity, "PMBOT_ENGINE_MIN_LIQUIDITY")
	setDuration(&cfg.Engine.ScanInterval, "PMBOT_ENGINE_SCAN_INTERVAL")
	setStringSlice(&cfg.Engine.CryptoSymbols, "PMBOT_ENGINE_CRYPTO_SYMBOLS")
	setBool(&cfg.Engine.AutoMerge, "PMBOT_ENGINE_AUTO_MERGE")
	setBool(&cfg.Engine.PersistScans, "PMBOT_ENGINE_PERSIST_SCANS")

	// ── Bargain ──
	setBool(&cfg.Bargain.Enabled, "PMBOT_BARGAIN_ENABLED")
	setFloat64(&cfg.Bargain.PriceThreshold, "PMBOT_BARGAIN_PRICE_THRESHOLD")
	setFloat64(&cfg.Bargain.PairThreshold, "PMBOT_BARGAIN_PAIR_THRESHOLD")
	setFloat64(&cfg.Bargain.StopLossCents, "PMBOT_BARGAIN_STOP_LOSS_CENTS")
	setFloat64(&cfg.Bargain.MinPrice, "PMBOT_BARGAIN_MIN_PRICE")
	setInt(&cfg.Bargain.MaxRounds, "PMBOT_BARGAIN_MAX_ROUNDS")
	setDuration(&cfg.Bargain.FutureMarketMin, "PMBOT_BARGAIN_FUTURE_MARKET_MIN")
	setDuration(&cfg.Bargain.StopLossCooldown, "PMBOT_BARGAIN_STOP_LOSS_COOLDOWN")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PMBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PMBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PMBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PMBOT_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PMBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PMBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PMBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PMBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "PMBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if !cfg.Engine.DryRun {
		t.Fatal("defaults must start in simulated mode")
	}
	if cfg.Engine.SlippageAllowance != 0.005 {
		t.Fatalf("slippage allowance = %v, want 0.005", cfg.Engine.SlippageAllowance)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "zero order size",
			mutate: func(c *Config) { c.Engine.OrderSize = 0 },
			want:   "order_size",
		},
		{
			name:   "pair cost above one",
			mutate: func(c *Config) { c.Engine.TargetPairCost = 1.2 },
			want:   "target_pair_cost",
		},
		{
			name:   "slippage out of range",
			mutate: func(c *Config) { c.Engine.SlippageAllowance = 0.5 },
			want:   "slippage_allowance",
		},
		{
			name:   "bargain threshold under floor",
			mutate: func(c *Config) { c.Bargain.PriceThreshold = 0.05 },
			want:   "price_threshold",
		},
		{
			name:   "bad server port",
			mutate: func(c *Config) { c.Server.Port = 99999 },
			want:   "server.port",
		},
		{
			name:   "missing clob host",
			mutate: func(c *Config) { c.Polymarket.ClobHost = "" },
			want:   "clob_host",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidateSkipsBargainChecksWhenDisabled(t *testing.T) {
	cfg := Defaults()
	cfg.Bargain.Enabled = false
	cfg.Bargain.PriceThreshold = 0
	cfg.Bargain.StopLossCents = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled bargain section should not be validated: %v", err)
	}
}

func TestValidateLive(t *testing.T) {
	cfg := Defaults()
	if err := cfg.ValidateLive(); err == nil {
		t.Fatal("live validation should require a key")
	}
	cfg.Wallet.PrivateKey = "0xabc"
	if err := cfg.ValidateLive(); err == nil {
		t.Fatal("live validation should require a funder address")
	}
	cfg.Wallet.FunderAddress = "0xdef"
	if err := cfg.ValidateLive(); err != nil {
		t.Fatalf("ValidateLive: %v", err)
	}
}

func TestApplyUpdateMergesAndConverts(t *testing.T) {
	cfg := Defaults()
	size := 75.0
	cooldown := 90
	u := Update{
		OrderSize:      &size,
		TradeCooldownS: &cooldown,
		CryptoSymbols:  []string{"btc"},
	}

	if err := cfg.ApplyUpdate(u); err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}
	if cfg.Engine.OrderSize != 75 {
		t.Fatalf("order size = %v, want 75", cfg.Engine.OrderSize)
	}
	if cfg.Engine.TradeCooldown.Duration != 90*time.Second {
		t.Fatalf("trade cooldown = %v, want 90s", cfg.Engine.TradeCooldown.Duration)
	}
	if len(cfg.Engine.CryptoSymbols) != 1 || cfg.Engine.CryptoSymbols[0] != "btc" {
		t.Fatalf("symbols = %v, want [btc]", cfg.Engine.CryptoSymbols)
	}
}

func TestApplyUpdateRollsBackOnInvalidResult(t *testing.T) {
	cfg := Defaults()
	bad := -1.0
	if err := cfg.ApplyUpdate(Update{OrderSize: &bad}); err == nil {
		t.Fatal("expected validation error")
	}
	if cfg.Engine.OrderSize != Defaults().Engine.OrderSize {
		t.Fatalf("config mutated on failed update: order size = %v", cfg.Engine.OrderSize)
	}
}

func TestUpdateFields(t *testing.T) {
	size := 10.0
	dry := false
	got := Update{OrderSize: &size, DryRun: &dry}.Fields()
	want := []string{"order_size", "dry_run"}
	if len(got) != len(want) {
		t.Fatalf("fields = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fields = %v, want %v", got, want)
		}
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.OrderSize != Defaults().Engine.OrderSize {
		t.Fatalf("order size = %v, want default", cfg.Engine.OrderSize)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
log_level = "debug"

[engine]
order_size = 25.0
scan_interval = "10s"

[server]
port = 9000
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.OrderSize != 25 {
		t.Fatalf("order size = %v, want 25", cfg.Engine.OrderSize)
	}
	if cfg.Engine.ScanInterval.Duration != 10*time.Second {
		t.Fatalf("scan interval = %v, want 10s", cfg.Engine.ScanInterval.Duration)
	}
	if cfg.Server.Port != 9000 {
		t.Fatalf("server port = %d, want 9000", cfg.Server.Port)
	}
	// Untouched sections keep their defaults.
	if cfg.Polymarket.ChainID != 137 {
		t.Fatalf("chain id = %d, want 137", cfg.Polymarket.ChainID)
	}
}

func TestEnvOverridesBeatFileValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[engine]\norder_size = 25.0\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PMBOT_ENGINE_ORDER_SIZE", "125")
	t.Setenv("PMBOT_ENGINE_SCAN_INTERVAL", "30s")
	t.Setenv("PMBOT_SERVER_API_KEY", "sekrit")
	t.Setenv("PMBOT_REDIS_ENABLED", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.OrderSize != 125 {
		t.Fatalf("order size = %v, want env override 125", cfg.Engine.OrderSize)
	}
	if cfg.Engine.ScanInterval.Duration != 30*time.Second {
		t.Fatalf("scan interval = %v, want 30s", cfg.Engine.ScanInterval.Duration)
	}
	if cfg.Server.APIKey != "sekrit" {
		t.Fatalf("api key = %q, want env value", cfg.Server.APIKey)
	}
	if !cfg.Redis.Enabled {
		t.Fatal("redis should be enabled via env")
	}
}

func TestCompatibilityAliases(t *testing.T) {
	t.Setenv("DRY_RUN", "false")
	t.Setenv("ORDER_SIZE", "42")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.DryRun {
		t.Fatal("DRY_RUN alias not applied")
	}
	if cfg.Engine.OrderSize != 42 {
		t.Fatalf("order size = %v, want alias value 42", cfg.Engine.OrderSize)
	}
}

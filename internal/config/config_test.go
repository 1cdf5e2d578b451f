package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, existed := os.LookupEnv(k)
		_ = os.Unsetenv(k)
		t.Cleanup(func() {
			if existed {
				_ = os.Setenv(k, old)
			}
		})
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t, "SYMBOL", "PORT", "LOG_LEVEL", "ANCHOR_OFFSET", "DAILY_LOSS_LIMIT_USD")

	cfg := LoadFromEnv()
	if cfg.Symbol != "BTCUSDT" {
		t.Errorf("expected default symbol BTCUSDT, got %s", cfg.Symbol)
	}
	if cfg.Port != 3000 {
		t.Errorf("expected default port 3000, got %d", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level info, got %s", cfg.LogLevel)
	}
	if !cfg.DailyLossLimitUSD.IsNegative() {
		t.Errorf("expected daily loss limit to be negative, got %s", cfg.DailyLossLimitUSD)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearEnv(t, "SYMBOL", "PORT")
	_ = os.Setenv("SYMBOL", "ETHUSDT")
	_ = os.Setenv("PORT", "8080")

	cfg := LoadFromEnv()
	if cfg.Symbol != "ETHUSDT" {
		t.Errorf("expected overridden symbol ETHUSDT, got %s", cfg.Symbol)
	}
	if cfg.Port != 8080 {
		t.Errorf("expected overridden port 8080, got %d", cfg.Port)
	}
}

func TestDailyLossLimitAlwaysNegative(t *testing.T) {
	clearEnv(t, "DAILY_LOSS_LIMIT_USD")
	_ = os.Setenv("DAILY_LOSS_LIMIT_USD", "-50")

	cfg := LoadFromEnv()
	if !cfg.DailyLossLimitUSD.IsNegative() {
		t.Errorf("expected daily loss limit to normalize to negative even if given negative, got %s", cfg.DailyLossLimitUSD)
	}
}

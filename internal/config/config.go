package config

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all runtime knobs for the engine.
type Config struct {
	// External interface
	Symbol   string
	Port     int
	LogLevel string

	// Domain stack
	AnchorOffset      decimal.Decimal
	NotionalBase      decimal.Decimal
	DailyLossLimitUSD decimal.Decimal
	MarketDataWSURL   string

	SnapshotInterval time.Duration
	StateDir         string

	RelayTimeout    time.Duration
	RelaysEnabled   bool
	WSMaxReconnects int
	WSBackoff       time.Duration
}

// LoadFromEnv reads the process env (already hydrated by LoadDotEnv) and
// returns a Config with its defaults.
func LoadFromEnv() Config {
	return Config{
		Symbol:   getEnv("SYMBOL", "BTCUSDT"),
		Port:     getEnvInt("PORT", 3000),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		AnchorOffset:      decimal.NewFromFloat(getEnvFloat("ANCHOR_OFFSET", 0.5)),
		NotionalBase:      decimal.NewFromFloat(getEnvFloat("NOTIONAL_BASE", 1000.0)),
		DailyLossLimitUSD: decimal.NewFromFloat(-1 * absFloat(getEnvFloat("DAILY_LOSS_LIMIT_USD", 100.0))),
		MarketDataWSURL:   getEnv("MARKETDATA_WS_URL", "wss://stream.example.com/ws/trade"),

		SnapshotInterval: time.Duration(getEnvInt("SNAPSHOT_INTERVAL_SEC", 60)) * time.Second,
		StateDir:         getEnv("STATE_DIR", "./data"),

		RelayTimeout:    time.Duration(getEnvInt("RELAY_TIMEOUT_SEC", 5)) * time.Second,
		RelaysEnabled:   getEnvBool("RELAYS_ENABLED", true),
		WSMaxReconnects: getEnvInt("WS_MAX_RECONNECTS", 10),
		WSBackoff:       time.Duration(getEnvInt("WS_BACKOFF_SEC", 5)) * time.Second,
	}
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Binance credentials (optional — public market data works unsigned)
	BinanceAPIKey    string
	BinanceAPISecret string
	BinanceTestnet   bool

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string

	// Subscription (comma-separated symbol names, e.g. "BTCUSDT,ETHUSDT")
	Symbols string

	// Aggregation & backfill policy
	CandleIntervalMs uint64
	HistoryDays      int
	MinGapMs         uint64 // detector threshold for reporting a gap
	SmallGapSkipMs   uint64 // gaps narrower than this are left to the live feed
	TailStaleMs      uint64 // tail older than this triggers a tail fetch
	MaxCandles       int    // per-symbol in-memory candle cap

	// Background tasks
	RefreshInterval time.Duration
	CleanupInterval time.Duration
	KeepDays        int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		BinanceAPIKey:    getEnv("BINANCE_API_KEY", ""),
		BinanceAPISecret: getEnv("BINANCE_API_SECRET", ""),
		BinanceTestnet:   getEnvBool("BINANCE_TESTNET", false),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/marketdata.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		Symbols: getEnv("SYMBOLS", "BTCUSDT"),

		CandleIntervalMs: getEnvUint("CANDLE_INTERVAL_MS", 60_000),
		HistoryDays:      getEnvInt("HISTORY_DAYS", 7),
		MinGapMs:         getEnvUint("MIN_GAP_MS", 60_000),
		SmallGapSkipMs:   getEnvUint("SMALL_GAP_SKIP_MS", 60_000),
		TailStaleMs:      getEnvUint("TAIL_STALE_MS", 300_000),
		MaxCandles:       getEnvInt("MAX_CANDLES_IN_MEMORY", 10_000),

		RefreshInterval: getEnvDuration("REFRESH_INTERVAL", 5*time.Minute),
		CleanupInterval: getEnvDuration("CLEANUP_INTERVAL", 6*time.Hour),
		KeepDays:        getEnvInt("KEEP_DAYS", 30),
	}
}

// ParseSymbols splits the Symbols string into uppercase symbol names.
func (c *Config) ParseSymbols() []string {
	parts := strings.Split(c.Symbols, ",")
	syms := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		syms = append(syms, p)
	}
	return syms
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("[config] invalid value for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvUint(key string, fallback uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil || n == 0 {
		log.Printf("[config] invalid value for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid value for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Printf("[config] invalid value for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return d
}

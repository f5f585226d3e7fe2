package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.CandleIntervalMs != 60_000 {
		t.Errorf("CandleIntervalMs = %d, want 60000", cfg.CandleIntervalMs)
	}
	if cfg.HistoryDays != 7 {
		t.Errorf("HistoryDays = %d, want 7", cfg.HistoryDays)
	}
	if cfg.TailStaleMs != 300_000 {
		t.Errorf("TailStaleMs = %d, want 300000", cfg.TailStaleMs)
	}
	if cfg.RefreshInterval != 5*time.Minute {
		t.Errorf("RefreshInterval = %v, want 5m", cfg.RefreshInterval)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CANDLE_INTERVAL_MS", "1000")
	t.Setenv("HISTORY_DAYS", "3")
	t.Setenv("BINANCE_TESTNET", "true")
	t.Setenv("REFRESH_INTERVAL", "30s")

	cfg := Load()
	if cfg.CandleIntervalMs != 1_000 {
		t.Errorf("CandleIntervalMs = %d, want 1000", cfg.CandleIntervalMs)
	}
	if cfg.HistoryDays != 3 {
		t.Errorf("HistoryDays = %d, want 3", cfg.HistoryDays)
	}
	if !cfg.BinanceTestnet {
		t.Error("BinanceTestnet not picked up")
	}
	if cfg.RefreshInterval != 30*time.Second {
		t.Errorf("RefreshInterval = %v, want 30s", cfg.RefreshInterval)
	}
}

func TestLoad_InvalidValueFallsBack(t *testing.T) {
	t.Setenv("HISTORY_DAYS", "banana")
	t.Setenv("MIN_GAP_MS", "0")

	cfg := Load()
	if cfg.HistoryDays != 7 {
		t.Errorf("HistoryDays = %d, want fallback 7", cfg.HistoryDays)
	}
	if cfg.MinGapMs != 60_000 {
		t.Errorf("MinGapMs = %d, want fallback 60000", cfg.MinGapMs)
	}
}

func TestParseSymbols(t *testing.T) {
	cfg := &Config{Symbols: " btcusdt, ETHUSDT ,,solusdt "}
	got := cfg.ParseSymbols()
	want := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseSymbols = %v, want %v", got, want)
	}
}

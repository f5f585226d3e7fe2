package model

import "context"

// ── Collaborator Port Interfaces ──
// These interfaces decouple the engine from concrete collaborators
// (SQLite store, Binance feed, Redis notifier). Each implementation
// satisfies one or more of these interfaces.

// TickStore persists raw trades. Inserts deduplicate on the natural key
// (symbol, timestamp, price, quantity), so replaying a fetch is harmless.
type TickStore interface {
	InsertTicks(symbol string, ticks []Tick) error

	// GetTicks returns persisted ticks in [startMs, endMs], ascending.
	GetTicks(symbol string, startMs, endMs uint64) ([]Tick, error)

	// GetTickTimes returns only the timestamps in [startMs, endMs], ascending.
	// This is the gap detector's input.
	GetTickTimes(symbol string, startMs, endMs uint64) ([]uint64, error)

	// LatestTickTime / EarliestTickTime report the persisted timeline bounds.
	// ok is false when no ticks exist for the symbol.
	LatestTickTime(symbol string) (ts uint64, ok bool, err error)
	EarliestTickTime(symbol string) (ts uint64, ok bool, err error)
}

// CandleStore persists aggregated candles, upserting on (symbol, start time).
type CandleStore interface {
	InsertCandles(symbol string, candles []Candle) error

	// GetCandles returns candles whose start time lies in [startMs, endMs],
	// ascending by start time.
	GetCandles(symbol string, startMs, endMs uint64) ([]Candle, error)
}

// SymbolStore persists the instrument catalog.
type SymbolStore interface {
	InsertSymbols(symbols []Symbol) error
	GetAllSymbols() ([]Symbol, error)

	// GetSymbol returns ok == false when the symbol is unknown.
	GetSymbol(name string) (Symbol, bool, error)
	UpdateSymbolPrice(name string, upd PriceUpdate) error
}

// Store is the full persistent store contract the engine consumes.
type Store interface {
	TickStore
	CandleStore
	SymbolStore

	// CleanupOldData drops ticks and candles older than keepDays.
	CleanupOldData(keepDays int) error
}

// MarketFeed is the exchange network client. Implementations own their
// transport, auth and retry policy; the engine treats every call as
// best-effort and skips a failed step instead of retrying.
type MarketFeed interface {
	FetchHistoricalTrades(ctx context.Context, symbol string, startMs, endMs uint64) ([]Tick, error)
	FetchExchangeInfo(ctx context.Context) ([]Symbol, error)
}

// Package cache holds the in-process live view: the per-symbol candle series
// and the instrument catalog. Each cache is guarded by its own lock; the two
// locks are never held at the same time, and no lock is held across a store
// or network call.
package cache

import (
	"sync"

	"glora-mdengine/internal/marketdata/agg"
	"glora-mdengine/internal/model"
)

// DefaultMaxCandles is the per-symbol history cap when none is configured.
const DefaultMaxCandles = 10_000

// SymbolData is the cached candle series for one symbol: finalized history in
// ascending start-time order plus the current open candle. Stored candles are
// treated as immutable — mutation happens by wholesale replacement only.
type SymbolData struct {
	history []model.Candle
	current *model.Candle
}

// CandleCache guards symbol → candle series behind one mutex. History is
// bounded per symbol; the oldest candles are evicted past the cap.
type CandleCache struct {
	mu   sync.Mutex
	data map[string]*SymbolData
	cap  int
}

// NewCandleCache creates a cache with the given per-symbol history cap.
func NewCandleCache(maxPerSymbol int) *CandleCache {
	if maxPerSymbol <= 0 {
		maxPerSymbol = DefaultMaxCandles
	}
	return &CandleCache{
		data: make(map[string]*SymbolData),
		cap:  maxPerSymbol,
	}
}

func (cc *CandleCache) entry(symbol string) *SymbolData {
	sd, ok := cc.data[symbol]
	if !ok {
		sd = &SymbolData{}
		cc.data[symbol] = sd
	}
	return sd
}

func (cc *CandleCache) trim(sd *SymbolData) {
	if n := len(sd.history); n > cc.cap {
		sd.history = append(sd.history[:0:0], sd.history[n-cc.cap:]...)
	}
}

// AppendFinalized appends a closed candle to history, evicting the oldest
// past the cap. A bucket a backfill already rebuilt is replaced rather than
// appended, so history never holds two candles with one start time. The
// caller passes ownership of c.
func (cc *CandleCache) AppendFinalized(symbol string, c model.Candle) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	sd := cc.entry(symbol)
	if n := len(sd.history); n > 0 && c.StartTimeMs <= sd.history[n-1].StartTimeMs {
		sd.history = agg.MergeCandles(sd.history, []model.Candle{c})
	} else {
		sd.history = append(sd.history, c)
	}
	if sd.current != nil && sd.current.StartTimeMs == c.StartTimeMs {
		sd.current = nil
	}
	cc.trim(sd)
}

// SetCurrent replaces the open candle for symbol.
func (cc *CandleCache) SetCurrent(symbol string, c model.Candle) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.entry(symbol).current = &c
}

// Merge folds batch-aggregated candles into history by start-time key
// (replace-if-exists, else insert), re-sorts ascending and trims to the cap.
// Idempotent: merging the same candles twice leaves history unchanged. The
// open candle is dropped once the merged history reaches its bucket, so
// readers never see the same start time twice.
func (cc *CandleCache) Merge(symbol string, candles []model.Candle) {
	if len(candles) == 0 {
		return
	}
	cc.mu.Lock()
	defer cc.mu.Unlock()
	sd := cc.entry(symbol)
	sd.history = agg.MergeCandles(sd.history, candles)
	cc.trim(sd)
	if sd.current != nil && len(sd.history) > 0 &&
		sd.current.StartTimeMs <= sd.history[len(sd.history)-1].StartTimeMs {
		sd.current = nil
	}
}

// ReplaceHistory swaps the whole history for symbol. Used after a backfill
// reloads the series from the store, the source of truth. The open candle is
// kept only if it is still ahead of the reloaded history.
func (cc *CandleCache) ReplaceHistory(symbol string, candles []model.Candle) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	sd := cc.entry(symbol)
	sd.history = append(sd.history[:0:0], candles...)
	cc.trim(sd)
	if sd.current != nil && len(sd.history) > 0 &&
		sd.current.StartTimeMs <= sd.history[len(sd.history)-1].StartTimeMs {
		sd.current = nil
	}
}

// Candles returns a copy of the series for symbol: finalized history plus the
// open candle, ascending by start time, at most one candle per start time.
func (cc *CandleCache) Candles(symbol string) []model.Candle {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	sd, ok := cc.data[symbol]
	if !ok {
		return nil
	}
	out := make([]model.Candle, 0, len(sd.history)+1)
	out = append(out, sd.history...)
	if sd.current != nil {
		switch n := len(out); {
		case n == 0 || sd.current.StartTimeMs > out[n-1].StartTimeMs:
			out = append(out, *sd.current)
		case sd.current.StartTimeMs == out[n-1].StartTimeMs:
			// live view wins over a bucket rebuilt from the store
			out[n-1] = *sd.current
		}
	}
	return out
}

// Current returns a copy of the open candle for symbol, if any.
func (cc *CandleCache) Current(symbol string) (model.Candle, bool) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	sd, ok := cc.data[symbol]
	if !ok || sd.current == nil {
		return model.Candle{}, false
	}
	return *sd.current, true
}

// Len returns the number of cached candles for symbol, open candle included.
func (cc *CandleCache) Len(symbol string) int {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	sd, ok := cc.data[symbol]
	if !ok {
		return 0
	}
	n := len(sd.history)
	if sd.current != nil {
		n++
	}
	return n
}

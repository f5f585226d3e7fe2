// Package agg turns ordered tick sequences into time-bucketed candles with
// footprint profiles. The live path assumes monotonically non-decreasing
// bucket arrival from a single feed connection; ticks behind the open bucket
// are reported as late so the caller can route them through the idempotent
// batch merge path instead of silently dropping them.
package agg

import (
	"sync"

	"glora-mdengine/internal/model"
)

// Aggregator folds live ticks into per-symbol open candles.
type Aggregator struct {
	mu         sync.Mutex
	intervalMs uint64
	states     map[string]*model.Candle // symbol → open candle
}

// New creates an aggregator producing candles of the given bucket width.
func New(intervalMs uint64) *Aggregator {
	return &Aggregator{
		intervalMs: intervalMs,
		states:     make(map[string]*model.Candle),
	}
}

// IntervalMs returns the configured bucket width.
func (a *Aggregator) IntervalMs() uint64 { return a.intervalMs }

// Process routes one live tick. A tick in the open candle's bucket extends
// it; a strictly newer bucket finalizes the open candle and starts the next;
// a strictly older bucket leaves the live state untouched and is reported as
// late.
//
// finalized is the candle closed by a bucket rollover, nil otherwise — a
// candle that accumulated zero volume is never finalized. updated is a copy
// of the open candle after the tick.
func (a *Aggregator) Process(symbol string, t model.Tick) (finalized *model.Candle, updated model.Candle, late bool) {
	start, _ := model.BucketFor(t.TimestampMs, a.intervalMs)

	a.mu.Lock()
	defer a.mu.Unlock()

	cur, exists := a.states[symbol]

	if exists && start < cur.StartTimeMs {
		return nil, model.Candle{}, true
	}

	if exists && start > cur.StartTimeMs {
		if cur.Volume > 0 {
			finalized = cur
		}
		exists = false
	}

	if !exists {
		cur = model.NewCandle(t.TimestampMs, a.intervalMs)
		a.states[symbol] = cur
	}
	cur.AddTick(t)
	return finalized, cur.Clone(), false
}

// Current returns a copy of the open candle for symbol, if any.
func (a *Aggregator) Current(symbol string) (model.Candle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.states[symbol]; ok {
		return c.Clone(), true
	}
	return model.Candle{}, false
}

// FlushAll returns every open candle with nonzero volume and clears all
// state. Used on shutdown to persist the in-progress buckets.
func (a *Aggregator) FlushAll() map[string]model.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]model.Candle, len(a.states))
	for sym, c := range a.states {
		if c.Volume > 0 {
			out[sym] = *c
		}
		delete(a.states, sym)
	}
	return out
}

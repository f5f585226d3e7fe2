package engine

import (
	"context"
	"log"
	"time"

	"glora-mdengine/internal/marketdata/agg"
	"glora-mdengine/internal/marketdata/gaps"
	"glora-mdengine/internal/model"
)

// LoadSymbolData populates the cache for symbol from the store, then runs
// the gap-healing sequence in the background. The returned channel closes
// when the sequence finishes.
func (e *Engine) LoadSymbolData(ctx context.Context, symbol string) <-chan struct{} {
	if e.store != nil {
		e.loadWindow(symbol, e.nowFn())
	}
	return e.RefreshData(ctx, symbol)
}

// RefreshData runs detect-and-fill for symbol on a background goroutine and
// returns a channel that closes on completion. At most one sequence runs per
// symbol at a time; a concurrent call observes the in-flight flag and returns
// an already-closed channel without duplicating work.
func (e *Engine) RefreshData(ctx context.Context, symbol string) <-chan struct{} {
	done := make(chan struct{})

	e.flightMu.Lock()
	if e.inFlight[symbol] {
		e.flightMu.Unlock()
		close(done)
		return done
	}
	e.inFlight[symbol] = true
	e.flightMu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			e.flightMu.Lock()
			delete(e.inFlight, symbol)
			e.flightMu.Unlock()
		}()
		e.detectAndFill(ctx, symbol)
	}()
	return done
}

// detectAndFill is the backfill state machine over the lookback window
// [windowStart, now]:
//
//	no local data            → fetch the full window
//	missing head             → fetch [windowStart, latest]
//	otherwise                → fetch each qualifying middle gap, then fetch
//	                           [latest, now] if the tail has gone stale
//
// Every step is best-effort: a failed or empty fetch skips that range and
// the remaining steps still run. Afterwards the candle cache is reloaded
// from the store — the source of truth — and a data-updated event goes out.
func (e *Engine) detectAndFill(ctx context.Context, symbol string) {
	if e.store == nil || e.feed == nil {
		log.Printf("[engine] backfill for %s skipped: store or feed not attached", symbol)
		return
	}

	now := e.nowFn()
	windowStart := e.windowStart(now)

	latest, hasData, err := e.store.LatestTickTime(symbol)
	if err != nil {
		log.Printf("[engine] latest tick time for %s: %v", symbol, err)
		return
	}

	if !hasData {
		log.Printf("[engine] no local data for %s, fetching full window", symbol)
		e.fetchMissing(ctx, symbol, windowStart, now)
	} else {
		earliest, hasEarliest, err := e.store.EarliestTickTime(symbol)
		if err != nil {
			log.Printf("[engine] earliest tick time for %s: %v", symbol, err)
			return
		}

		if !hasEarliest || earliest > windowStart {
			log.Printf("[engine] missing head for %s, fetching from window start", symbol)
			e.fetchMissing(ctx, symbol, windowStart, latest)
		} else {
			e.fillMiddleGaps(ctx, symbol, windowStart, latest)

			if now-latest > e.cfg.TailStaleMs {
				log.Printf("[engine] tail for %s is %dms stale, fetching", symbol, now-latest)
				e.fetchMissing(ctx, symbol, latest, now)
			}
		}
	}

	e.loadWindow(symbol, now)
	e.publish(model.Event{Type: model.EventDataUpdated, Symbol: symbol})
}

// fillMiddleGaps detects holes among existing data and fetches each one,
// skipping gaps narrow enough for the live feed to close on its own.
func (e *Engine) fillMiddleGaps(ctx context.Context, symbol string, windowStart, latest uint64) {
	times, err := e.store.GetTickTimes(symbol, windowStart, latest)
	if err != nil {
		log.Printf("[engine] tick times for %s: %v", symbol, err)
		return
	}

	found := gaps.Detect(symbol, times, windowStart, e.cfg.MinGapMs)
	if len(found) == 0 {
		return
	}
	log.Printf("[engine] found %d gaps for %s", len(found), symbol)

	for _, gap := range found {
		if e.OnGapFound != nil {
			e.OnGapFound()
		}
		if gap.WidthMs() < e.cfg.SmallGapSkipMs {
			if e.OnGapSkipped != nil {
				e.OnGapSkipped()
			}
			log.Printf("[engine] skipping small gap for %s (%dms), live data will fill it", symbol, gap.WidthMs())
			continue
		}
		e.fetchMissing(ctx, symbol, gap.StartTimeMs, gap.EndTimeMs)
	}
}

// fetchMissing pulls [startMs, endMs] trades from the feed, persists them,
// re-aggregates the affected buckets, and folds the candles into store and
// cache. A failed or empty fetch mutates nothing.
func (e *Engine) fetchMissing(ctx context.Context, symbol string, startMs, endMs uint64) {
	if endMs <= startMs {
		return
	}

	fetchStart := time.Now()
	ticks, err := e.feed.FetchHistoricalTrades(ctx, symbol, startMs, endMs)
	if e.OnBackfillFetch != nil {
		e.OnBackfillFetch(err, time.Since(fetchStart))
	}
	if err != nil {
		log.Printf("[engine] fetch %s [%d, %d]: %v", symbol, startMs, endMs, err)
		return
	}
	if len(ticks) == 0 {
		return
	}

	if err := e.store.InsertTicks(symbol, ticks); err != nil {
		log.Printf("[engine] persist %d fetched ticks for %s: %v", len(ticks), symbol, err)
		return
	}

	candles := agg.TicksToCandles(ticks, e.cfg.IntervalMs)
	if err := e.store.InsertCandles(symbol, candles); err != nil {
		log.Printf("[engine] persist %d rebuilt candles for %s: %v", len(candles), symbol, err)
	}
	e.candles.Merge(symbol, candles)

	log.Printf("[engine] filled %s [%d, %d]: %d ticks, %d candles", symbol, startMs, endMs, len(ticks), len(candles))
	e.publish(model.Event{
		Type:        model.EventGapFilled,
		Symbol:      symbol,
		StartTimeMs: startMs,
		EndTimeMs:   endMs,
	})
}

// loadWindow replaces the cached history for symbol with the persisted
// candles inside the lookback window.
func (e *Engine) loadWindow(symbol string, nowMs uint64) {
	candles, err := e.store.GetCandles(symbol, e.windowStart(nowMs), nowMs)
	if err != nil {
		log.Printf("[engine] load candles for %s: %v", symbol, err)
		return
	}
	e.candles.ReplaceHistory(symbol, candles)
	log.Printf("[engine] loaded %d candles for %s from store", len(candles), symbol)
}

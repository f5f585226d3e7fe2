// Package engine coordinates the live tick path, the candle and symbol
// caches, the persistent store, and the gap-healing backfill sequence. It is
// the in-process owner of all mutable market-data state; collaborators are
// reached only through the port interfaces in internal/model.
package engine

import (
	"log"
	"sync"
	"time"

	"glora-mdengine/internal/bus"
	"glora-mdengine/internal/cache"
	"glora-mdengine/internal/marketdata/agg"
	"glora-mdengine/internal/model"
	"glora-mdengine/internal/queue"
)

const dayMs = 24 * 60 * 60 * 1000

// Config holds the engine's aggregation and backfill policy.
type Config struct {
	IntervalMs     uint64 // candle bucket width
	HistoryDays    int    // lookback window for load/refresh
	MinGapMs       uint64 // gap detector threshold
	SmallGapSkipMs uint64 // gaps narrower than this are left to the live feed
	TailStaleMs    uint64 // tail older than this triggers a tail fetch
	MaxCandles     int    // per-symbol in-memory history cap
}

func (c *Config) setDefaults() {
	if c.IntervalMs == 0 {
		c.IntervalMs = 60_000
	}
	if c.HistoryDays <= 0 {
		c.HistoryDays = 7
	}
	if c.MinGapMs == 0 {
		c.MinGapMs = 60_000
	}
	if c.SmallGapSkipMs == 0 {
		c.SmallGapSkipMs = 60_000
	}
	if c.TailStaleMs == 0 {
		c.TailStaleMs = 300_000
	}
	if c.MaxCandles <= 0 {
		c.MaxCandles = cache.DefaultMaxCandles
	}
}

// Engine is the market data aggregation and gap-healing core.
type Engine struct {
	cfg     Config
	store   model.Store
	feed    model.MarketFeed
	events  *bus.FanOut
	candles *cache.CandleCache
	symbols *cache.SymbolCache
	agg     *agg.Aggregator

	// live ticks buffered per symbol until the next flush
	pendMu  sync.Mutex
	pending map[string][]model.Tick

	// per-symbol backfill serialization
	flightMu sync.Mutex
	inFlight map[string]bool

	nowFn func() uint64 // ms clock, swappable in tests

	// Metrics hooks (optional, set externally)
	OnTick            func()
	OnCandleFinalized func()
	OnLateTick        func()
	OnGapFound        func()
	OnGapSkipped      func()
	OnBackfillFetch   func(err error, d time.Duration)
}

// New creates an engine. store and feed may be nil; operations needing an
// absent collaborator log and no-op instead of failing hard.
func New(cfg Config, store model.Store, feed model.MarketFeed, events *bus.FanOut) *Engine {
	cfg.setDefaults()
	return &Engine{
		cfg:      cfg,
		store:    store,
		feed:     feed,
		events:   events,
		candles:  cache.NewCandleCache(cfg.MaxCandles),
		symbols:  cache.NewSymbolCache(),
		agg:      agg.New(cfg.IntervalMs),
		pending:  make(map[string][]model.Tick),
		inFlight: make(map[string]bool),
		nowFn:    func() uint64 { return uint64(time.Now().UnixMilli()) },
	}
}

// Run consumes live ticks from the handoff queue until it is invalidated.
// Single consumer; persistence happens on this goroutine at bucket rollover.
func (e *Engine) Run(q *queue.Queue[model.SymbolTick]) {
	for {
		st, ok := q.Pop()
		if !ok {
			return
		}
		e.AddLiveTick(st.Symbol, st.Tick)
	}
}

// AddLiveTick runs the live aggregation path for one tick: extend or roll the
// open candle, update the cache, and persist at bucket boundaries. A tick
// behind the open bucket goes through the historical merge path instead.
func (e *Engine) AddLiveTick(symbol string, t model.Tick) {
	if e.OnTick != nil {
		e.OnTick()
	}

	finalized, updated, late := e.agg.Process(symbol, t)
	if late {
		if e.OnLateTick != nil {
			e.OnLateTick()
		}
		e.mergeLateTick(symbol, t)
		return
	}

	e.bufferTick(symbol, t)

	if finalized != nil {
		e.candles.AppendFinalized(symbol, *finalized)
		e.persistSymbol(symbol, finalized)
		if e.OnCandleFinalized != nil {
			e.OnCandleFinalized()
		}
		e.publish(model.Event{Type: model.EventDataUpdated, Symbol: symbol})
	}

	e.candles.SetCurrent(symbol, updated)
	e.publish(model.Event{Type: model.EventCandleUpdated, Symbol: symbol, Candle: &updated})
}

// FlushLive persists all buffered live ticks and upserts every open candle.
// Called on a timer and on shutdown so the persisted tail stays fresh even
// when buckets are long or ticks are sparse.
func (e *Engine) FlushLive() {
	e.pendMu.Lock()
	symbols := make([]string, 0, len(e.pending))
	for sym := range e.pending {
		symbols = append(symbols, sym)
	}
	e.pendMu.Unlock()

	for _, sym := range symbols {
		e.persistSymbol(sym, nil)
	}
}

// Shutdown finalizes open candles and persists everything still buffered.
func (e *Engine) Shutdown() {
	for sym, c := range e.agg.FlushAll() {
		c := c
		e.candles.AppendFinalized(sym, c)
		e.persistSymbol(sym, &c)
	}
	e.FlushLive()
}

// bufferTick queues a live tick for the next persistence flush.
func (e *Engine) bufferTick(symbol string, t model.Tick) {
	e.pendMu.Lock()
	e.pending[symbol] = append(e.pending[symbol], t)
	e.pendMu.Unlock()
}

// persistSymbol writes the symbol's buffered ticks and candles to the store:
// the just-finalized candle when given, plus the current open candle so the
// store tracks the live edge. Store failures are logged and the step skipped.
func (e *Engine) persistSymbol(symbol string, finalized *model.Candle) {
	if e.store == nil {
		return
	}

	e.pendMu.Lock()
	ticks := e.pending[symbol]
	delete(e.pending, symbol)
	e.pendMu.Unlock()

	if len(ticks) > 0 {
		if err := e.store.InsertTicks(symbol, ticks); err != nil {
			log.Printf("[engine] insert %d ticks for %s: %v", len(ticks), symbol, err)
		}
	}

	var candles []model.Candle
	if finalized != nil {
		candles = append(candles, *finalized)
	}
	if cur, ok := e.agg.Current(symbol); ok {
		candles = append(candles, cur)
	}
	if len(candles) > 0 {
		if err := e.store.InsertCandles(symbol, candles); err != nil {
			log.Printf("[engine] upsert %d candles for %s: %v", len(candles), symbol, err)
		}
	}
}

// mergeLateTick routes an out-of-order tick through the historical merge
// path: persist it, recompute its bucket's candle from the full persisted
// tick set, and fold the result into store and cache. Idempotent by bucket
// key, so a replayed tick cannot double-count volume.
func (e *Engine) mergeLateTick(symbol string, t model.Tick) {
	if e.store == nil {
		return
	}
	if err := e.store.InsertTicks(symbol, []model.Tick{t}); err != nil {
		log.Printf("[engine] insert late tick for %s: %v", symbol, err)
		return
	}

	start, end := model.BucketFor(t.TimestampMs, e.cfg.IntervalMs)
	ticks, err := e.store.GetTicks(symbol, start, end-1)
	if err != nil {
		log.Printf("[engine] read bucket ticks for %s: %v", symbol, err)
		return
	}
	candles := agg.TicksToCandles(ticks, e.cfg.IntervalMs)
	if len(candles) == 0 {
		return
	}
	if err := e.store.InsertCandles(symbol, candles); err != nil {
		log.Printf("[engine] upsert late candle for %s: %v", symbol, err)
	}
	e.candles.Merge(symbol, candles)
}

// Candles returns the cached series for symbol: finalized history plus the
// open candle, ascending by start time.
func (e *Engine) Candles(symbol string) []model.Candle {
	return e.candles.Candles(symbol)
}

// CurrentCandle returns the open candle for symbol, if any.
func (e *Engine) CurrentCandle(symbol string) (model.Candle, bool) {
	return e.candles.Current(symbol)
}

// Ticks reads persisted ticks straight from the store.
func (e *Engine) Ticks(symbol string, startMs, endMs uint64) ([]model.Tick, error) {
	if e.store == nil {
		return nil, nil
	}
	return e.store.GetTicks(symbol, startMs, endMs)
}

// CleanupOldData drops persisted data older than keepDays.
func (e *Engine) CleanupOldData(keepDays int) error {
	if e.store == nil {
		return nil
	}
	return e.store.CleanupOldData(keepDays)
}

func (e *Engine) publish(ev model.Event) {
	if e.events != nil {
		e.events.Publish(ev)
	}
}

func (e *Engine) windowStart(nowMs uint64) uint64 {
	span := uint64(e.cfg.HistoryDays) * dayMs
	if nowMs < span {
		return 0
	}
	return nowMs - span
}

package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glora-mdengine/internal/bus"
	"glora-mdengine/internal/model"
	"glora-mdengine/internal/queue"
)

const testInterval = uint64(60_000)

// memStore is an in-memory model.Store for engine tests.
type memStore struct {
	mu      sync.Mutex
	ticks   map[string][]model.Tick
	candles map[string]map[uint64]model.Candle
	symbols map[string]model.Symbol
}

func newMemStore() *memStore {
	return &memStore{
		ticks:   make(map[string][]model.Tick),
		candles: make(map[string]map[uint64]model.Candle),
		symbols: make(map[string]model.Symbol),
	}
}

func (m *memStore) InsertTicks(symbol string, ticks []model.Tick) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range ticks {
		dup := false
		for _, have := range m.ticks[symbol] {
			if have.TimestampMs == t.TimestampMs && have.Price == t.Price && have.Quantity == t.Quantity {
				dup = true
				break
			}
		}
		if !dup {
			m.ticks[symbol] = append(m.ticks[symbol], t)
		}
	}
	sort.Slice(m.ticks[symbol], func(i, j int) bool {
		return m.ticks[symbol][i].TimestampMs < m.ticks[symbol][j].TimestampMs
	})
	return nil
}

func (m *memStore) GetTicks(symbol string, startMs, endMs uint64) ([]model.Tick, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Tick
	for _, t := range m.ticks[symbol] {
		if t.TimestampMs >= startMs && t.TimestampMs <= endMs {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) GetTickTimes(symbol string, startMs, endMs uint64) ([]uint64, error) {
	ticks, _ := m.GetTicks(symbol, startMs, endMs)
	out := make([]uint64, len(ticks))
	for i, t := range ticks {
		out[i] = t.TimestampMs
	}
	return out, nil
}

func (m *memStore) LatestTickTime(symbol string) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := m.ticks[symbol]
	if len(ts) == 0 {
		return 0, false, nil
	}
	return ts[len(ts)-1].TimestampMs, true, nil
}

func (m *memStore) EarliestTickTime(symbol string) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := m.ticks[symbol]
	if len(ts) == 0 {
		return 0, false, nil
	}
	return ts[0].TimestampMs, true, nil
}

func (m *memStore) InsertCandles(symbol string, candles []model.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.candles[symbol] == nil {
		m.candles[symbol] = make(map[uint64]model.Candle)
	}
	for _, c := range candles {
		m.candles[symbol][c.StartTimeMs] = c
	}
	return nil
}

func (m *memStore) GetCandles(symbol string, startMs, endMs uint64) ([]model.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Candle
	for start, c := range m.candles[symbol] {
		if start >= startMs && start <= endMs {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTimeMs < out[j].StartTimeMs })
	return out, nil
}

func (m *memStore) InsertSymbols(symbols []model.Symbol) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range symbols {
		m.symbols[s.Symbol] = s
	}
	return nil
}

func (m *memStore) GetAllSymbols() ([]model.Symbol, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Symbol, 0, len(m.symbols))
	for _, s := range m.symbols {
		out = append(out, s)
	}
	return out, nil
}

func (m *memStore) GetSymbol(name string) (model.Symbol, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.symbols[name]
	return s, ok, nil
}

func (m *memStore) UpdateSymbolPrice(name string, upd model.PriceUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.symbols[name]
	if !ok {
		return nil
	}
	s.LastPrice = upd.LastPrice
	s.QuoteVolume24h = upd.QuoteVolume24h
	m.symbols[name] = s
	return nil
}

func (m *memStore) CleanupOldData(keepDays int) error { return nil }

func (m *memStore) tickCount(symbol string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ticks[symbol])
}

// fetchCall records one FetchHistoricalTrades invocation.
type fetchCall struct {
	symbol         string
	startMs, endMs uint64
}

// scriptedFeed returns canned ticks per requested range and records calls.
type scriptedFeed struct {
	mu      sync.Mutex
	calls   []fetchCall
	ticks   []model.Tick // returned filtered to the requested range
	symbols []model.Symbol
	err     error // returned by every fetch when set
}

func (f *scriptedFeed) FetchHistoricalTrades(ctx context.Context, symbol string, startMs, endMs uint64) ([]model.Tick, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fetchCall{symbol, startMs, endMs})
	if f.err != nil {
		return nil, f.err
	}
	var out []model.Tick
	for _, t := range f.ticks {
		if t.TimestampMs >= startMs && t.TimestampMs <= endMs {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *scriptedFeed) FetchExchangeInfo(ctx context.Context) ([]model.Symbol, error) {
	return f.symbols, nil
}

func (f *scriptedFeed) recorded() []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fetchCall(nil), f.calls...)
}

func newTestEngine(store *memStore, feed *scriptedFeed, nowMs uint64) *Engine {
	e := New(Config{
		IntervalMs:     testInterval,
		HistoryDays:    1,
		MinGapMs:       60_000,
		SmallGapSkipMs: 60_000,
		TailStaleMs:    300_000,
	}, store, feed, nil)
	e.nowFn = func() uint64 { return nowMs }
	return e
}

func tk(ts uint64, price, qty float64) model.Tick {
	return model.Tick{TimestampMs: ts, Price: price, Quantity: qty}
}

func TestAddLiveTick_FinalizesOnRollover(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store, &scriptedFeed{}, 10*dayMs)

	e.AddLiveTick("BTCUSDT", tk(1_000, 100, 1))
	e.AddLiveTick("BTCUSDT", tk(30_000, 101, 2))

	cur, ok := e.CurrentCandle("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 101.0, cur.Close)
	assert.Equal(t, 3.0, cur.Volume)

	// Rollover: previous bucket persists with its ticks.
	e.AddLiveTick("BTCUSDT", tk(65_000, 105, 1))

	candles := e.Candles("BTCUSDT")
	require.Len(t, candles, 2)
	assert.Equal(t, uint64(0), candles[0].StartTimeMs)
	assert.Equal(t, 3.0, candles[0].Volume)
	assert.Equal(t, uint64(60_000), candles[1].StartTimeMs)

	assert.Equal(t, 3, store.tickCount("BTCUSDT"), "all buffered ticks flushed at rollover")
	persisted, err := store.GetCandles("BTCUSDT", 0, 200_000)
	require.NoError(t, err)
	require.NotEmpty(t, persisted)
	assert.Equal(t, 3.0, persisted[0].Volume)
}

func TestAddLiveTick_LateTickTakesMergePath(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store, &scriptedFeed{}, 10*dayMs)

	e.AddLiveTick("BTCUSDT", tk(65_000, 105, 1))
	e.AddLiveTick("BTCUSDT", tk(30_000, 100, 2)) // behind the open bucket

	// Open candle unaffected.
	cur, ok := e.CurrentCandle("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 1.0, cur.Volume)

	// The late tick's bucket was rebuilt from the store and merged.
	candles := e.Candles("BTCUSDT")
	require.Len(t, candles, 2)
	assert.Equal(t, uint64(0), candles[0].StartTimeMs)
	assert.Equal(t, 2.0, candles[0].Volume)

	// Replaying the same late tick double-counts nothing.
	e.AddLiveTick("BTCUSDT", tk(30_000, 100, 2))
	candles = e.Candles("BTCUSDT")
	assert.Equal(t, 2.0, candles[0].Volume)
}

func TestRun_ConsumesUntilInvalidated(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store, &scriptedFeed{}, 10*dayMs)
	q := queue.New[model.SymbolTick]()

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Run(q)
	}()

	q.Push(model.SymbolTick{Symbol: "BTCUSDT", Tick: tk(1_000, 100, 1)})
	q.Push(model.SymbolTick{Symbol: "BTCUSDT", Tick: tk(2_000, 101, 1)})

	require.Eventually(t, func() bool {
		cur, ok := e.CurrentCandle("BTCUSDT")
		return ok && cur.Volume == 2
	}, time.Second, 5*time.Millisecond)

	q.Invalidate()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after queue invalidation")
	}
}

func TestDetectAndFill_NoLocalData(t *testing.T) {
	store := newMemStore()
	now := uint64(10 * dayMs)
	feed := &scriptedFeed{ticks: []model.Tick{
		tk(now-2_000, 100, 1),
		tk(now-1_000, 101, 1),
	}}
	e := newTestEngine(store, feed, now)

	<-e.RefreshData(context.Background(), "BTCUSDT")

	calls := feed.recorded()
	require.Len(t, calls, 1, "empty store fetches exactly the full window")
	assert.Equal(t, now-uint64(dayMs), calls[0].startMs)
	assert.Equal(t, now, calls[0].endMs)

	assert.Equal(t, 2, store.tickCount("BTCUSDT"))
	assert.NotEmpty(t, e.Candles("BTCUSDT"), "cache reloaded from store after fill")
}

func TestDetectAndFill_MissingHead(t *testing.T) {
	store := newMemStore()
	now := uint64(10 * dayMs)
	windowStart := now - uint64(dayMs)

	// Local data starts well after the window start.
	latest := now - 1_000
	require.NoError(t, store.InsertTicks("BTCUSDT", []model.Tick{tk(latest, 100, 1)}))

	feed := &scriptedFeed{}
	e := newTestEngine(store, feed, now)
	<-e.RefreshData(context.Background(), "BTCUSDT")

	calls := feed.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, windowStart, calls[0].startMs)
	assert.Equal(t, latest, calls[0].endMs)
}

func TestDetectAndFill_MiddleGapsAndSkip(t *testing.T) {
	store := newMemStore()
	now := uint64(10 * dayMs)
	windowStart := now - uint64(dayMs)

	// Head present; a wide hole, a hole past the detector threshold but
	// below the skip threshold, then another wide hole and a fresh tail.
	require.NoError(t, store.InsertTicks("BTCUSDT", []model.Tick{
		tk(windowStart, 100, 1),
		tk(windowStart+500_000, 101, 1), // 500s hole before this: fetched
		tk(windowStart+561_000, 102, 1), // 61s hole: detected but skipped
		tk(now-1_000, 103, 1),           // wide hole: fetched; tail fresh
	}))

	feed := &scriptedFeed{}
	e := New(Config{
		IntervalMs:     testInterval,
		HistoryDays:    1,
		MinGapMs:       60_000,
		SmallGapSkipMs: 120_000,
		TailStaleMs:    300_000,
	}, store, feed, nil)
	e.nowFn = func() uint64 { return now }

	var found, skipped int
	e.OnGapFound = func() { found++ }
	e.OnGapSkipped = func() { skipped++ }

	<-e.RefreshData(context.Background(), "BTCUSDT")

	calls := feed.recorded()
	require.Len(t, calls, 2, "only gaps wider than the skip threshold are fetched")
	assert.Equal(t, windowStart, calls[0].startMs)
	assert.Equal(t, windowStart+500_000, calls[0].endMs)
	assert.Equal(t, windowStart+561_000, calls[1].startMs)
	assert.Equal(t, now-1_000, calls[1].endMs)

	assert.Equal(t, 3, found)
	assert.Equal(t, 1, skipped)
}

func TestDetectAndFill_StaleTail(t *testing.T) {
	store := newMemStore()
	now := uint64(10 * dayMs)
	windowStart := now - uint64(dayMs)

	// Continuous data ending 10 minutes ago: no gaps, stale tail.
	var ticks []model.Tick
	for ts := windowStart; ts <= now-600_000; ts += 30_000 {
		ticks = append(ticks, tk(ts, 100, 1))
	}
	require.NoError(t, store.InsertTicks("BTCUSDT", ticks))

	feed := &scriptedFeed{}
	e := newTestEngine(store, feed, now)
	<-e.RefreshData(context.Background(), "BTCUSDT")

	calls := feed.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, now-600_000, calls[0].startMs)
	assert.Equal(t, now, calls[0].endMs)
}

// A failed fetch skips its range but the sequence still finishes: the cache
// is reloaded from the store and nothing partial is written.
func TestDetectAndFill_FailedFetchSkipsStep(t *testing.T) {
	store := newMemStore()
	now := uint64(10 * dayMs)
	feed := &scriptedFeed{err: errors.New("binance: 503")}
	e := newTestEngine(store, feed, now)

	var fetchErr error
	e.OnBackfillFetch = func(err error, _ time.Duration) { fetchErr = err }

	<-e.RefreshData(context.Background(), "BTCUSDT")

	require.Len(t, feed.recorded(), 1)
	assert.Error(t, fetchErr)
	assert.Equal(t, 0, store.tickCount("BTCUSDT"), "failed fetch must not write")
	assert.Empty(t, e.Candles("BTCUSDT"))
}

func TestRefreshData_CoalescesConcurrentCalls(t *testing.T) {
	store := newMemStore()
	now := uint64(10 * dayMs)
	feed := &scriptedFeed{}
	e := newTestEngine(store, feed, now)

	// Hold the in-flight flag, then issue a second request.
	e.flightMu.Lock()
	e.inFlight["BTCUSDT"] = true
	e.flightMu.Unlock()

	done := e.RefreshData(context.Background(), "BTCUSDT")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("coalesced RefreshData did not return a closed channel")
	}
	assert.Empty(t, feed.recorded(), "coalesced call must not duplicate work")
}

// Live ticks on several symbols race against repeated backfill sequences and
// snapshot readers. Every Candles snapshot must stay strictly ascending by
// start time, open candle included.
func TestConcurrentLiveAndBackfill_SnapshotsStayOrdered(t *testing.T) {
	store := newMemStore()
	now := uint64(10 * dayMs)
	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}

	// The feed serves the last ten minutes of the window, overlapping the
	// buckets the live path is building.
	feed := &scriptedFeed{}
	for ts := now - 600_000; ts <= now; ts += 30_000 {
		feed.ticks = append(feed.ticks, tk(ts, 100, 1))
	}
	e := newTestEngine(store, feed, now)

	stop := make(chan struct{})
	var readers sync.WaitGroup
	for r := 0; r < 3; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for _, sym := range symbols {
					got := e.Candles(sym)
					for j := 1; j < len(got); j++ {
						if got[j].StartTimeMs <= got[j-1].StartTimeMs {
							t.Errorf("%s snapshot out of order: %d then %d",
								sym, got[j-1].StartTimeMs, got[j].StartTimeMs)
							return
						}
					}
				}
			}
		}()
	}

	var writers sync.WaitGroup
	for _, sym := range symbols {
		sym := sym
		writers.Add(1)
		go func() {
			defer writers.Done()
			for ts := now - 360_000; ts <= now; ts += 1_000 {
				e.AddLiveTick(sym, tk(ts, 101, 0.5))
			}
		}()
		writers.Add(1)
		go func() {
			defer writers.Done()
			for i := 0; i < 10; i++ {
				<-e.RefreshData(context.Background(), sym)
			}
		}()
	}

	writers.Wait()
	close(stop)
	readers.Wait()

	for _, sym := range symbols {
		got := e.Candles(sym)
		require.NotEmpty(t, got, "%s series empty after the run", sym)
		seen := make(map[uint64]bool, len(got))
		for _, c := range got {
			assert.False(t, seen[c.StartTimeMs], "%s repeats start time %d", sym, c.StartTimeMs)
			seen[c.StartTimeMs] = true
		}
	}
}

func TestShutdown_PersistsOpenCandles(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store, &scriptedFeed{}, 10*dayMs)

	e.AddLiveTick("BTCUSDT", tk(1_000, 100, 1.5))
	e.Shutdown()

	assert.Equal(t, 1, store.tickCount("BTCUSDT"))
	persisted, err := store.GetCandles("BTCUSDT", 0, 120_000)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, 1.5, persisted[0].Volume)
}

func TestSymbols_RefreshAndPriceUpdate(t *testing.T) {
	store := newMemStore()
	feed := &scriptedFeed{symbols: []model.Symbol{
		{Symbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT", QuoteVolume24h: 100},
		{Symbol: "ETHUSDT", BaseAsset: "ETH", QuoteAsset: "USDT", QuoteVolume24h: 50},
	}}
	e := newTestEngine(store, feed, 10*dayMs)

	require.NoError(t, e.LoadSymbols(context.Background()))
	assert.Len(t, e.AllSymbols(), 2)

	// Catalog also persisted.
	stored, err := store.GetAllSymbols()
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	e.UpdateSymbolPrice("BTCUSDT", model.PriceUpdate{LastPrice: 45_000, QuoteVolume24h: 200})
	s, ok := e.Symbol("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 45_000.0, s.LastPrice)

	// Unknown symbols are ignored without error.
	e.UpdateSymbolPrice("NOPE", model.PriceUpdate{LastPrice: 1})
}

func TestEvents_PublishedOnLivePath(t *testing.T) {
	events := bus.New(100)
	sub := events.Subscribe()

	e := New(Config{IntervalMs: testInterval, HistoryDays: 1}, newMemStore(), nil, events)
	e.nowFn = func() uint64 { return 10 * dayMs }

	e.AddLiveTick("BTCUSDT", tk(1_000, 100, 1))

	select {
	case ev := <-sub:
		assert.Equal(t, model.EventCandleUpdated, ev.Type)
		assert.Equal(t, "BTCUSDT", ev.Symbol)
		require.NotNil(t, ev.Candle)
		assert.Equal(t, 100.0, ev.Candle.Close)
	case <-time.After(time.Second):
		t.Fatal("no event published for a live tick")
	}
}

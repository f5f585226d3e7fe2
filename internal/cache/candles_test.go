package cache

import (
	"sync"
	"testing"

	"glora-mdengine/internal/model"
)

func candle(start uint64, close, vol float64) model.Candle {
	return model.Candle{
		StartTimeMs: start,
		EndTimeMs:   start + 60_000,
		Open:        close, High: close, Low: close, Close: close,
		Volume: vol,
	}
}

func TestAppendFinalized_EvictsPastCap(t *testing.T) {
	cc := NewCandleCache(3)
	for i := uint64(0); i < 5; i++ {
		cc.AppendFinalized("BTCUSDT", candle(i*60_000, 100, 1))
	}

	got := cc.Candles("BTCUSDT")
	if len(got) != 3 {
		t.Fatalf("history length = %d, want cap 3", len(got))
	}
	if got[0].StartTimeMs != 120_000 {
		t.Errorf("oldest retained candle starts at %d, want 120000", got[0].StartTimeMs)
	}
}

func TestAppendFinalized_ClearsMatchingCurrent(t *testing.T) {
	cc := NewCandleCache(10)
	cc.SetCurrent("BTCUSDT", candle(60_000, 100, 1))
	cc.AppendFinalized("BTCUSDT", candle(60_000, 101, 2))

	got := cc.Candles("BTCUSDT")
	if len(got) != 1 {
		t.Fatalf("got %d candles, want 1 (current cleared on finalize)", len(got))
	}
	if _, ok := cc.Current("BTCUSDT"); ok {
		t.Error("current candle survived finalization of the same bucket")
	}
}

func TestCandles_IncludesCurrent(t *testing.T) {
	cc := NewCandleCache(10)
	cc.AppendFinalized("BTCUSDT", candle(0, 100, 1))
	cc.SetCurrent("BTCUSDT", candle(60_000, 101, 0.5))

	got := cc.Candles("BTCUSDT")
	if len(got) != 2 {
		t.Fatalf("got %d candles, want history + current", len(got))
	}
	if got[1].StartTimeMs != 60_000 {
		t.Errorf("last candle starts at %d, want the open bucket 60000", got[1].StartTimeMs)
	}
	if cc.Len("BTCUSDT") != 2 {
		t.Errorf("Len = %d, want 2", cc.Len("BTCUSDT"))
	}
}

func TestMerge_IdempotentInCache(t *testing.T) {
	cc := NewCandleCache(10)
	batch := []model.Candle{candle(0, 100, 2), candle(60_000, 101, 3)}

	cc.Merge("BTCUSDT", batch)
	cc.Merge("BTCUSDT", batch)

	got := cc.Candles("BTCUSDT")
	if len(got) != 2 {
		t.Fatalf("got %d candles after double merge, want 2", len(got))
	}
	if got[0].Volume != 2 || got[1].Volume != 3 {
		t.Errorf("volumes = %v, %v; double merge must not accumulate", got[0].Volume, got[1].Volume)
	}
}

func TestMerge_ReplacesBucket(t *testing.T) {
	cc := NewCandleCache(10)
	cc.AppendFinalized("BTCUSDT", candle(0, 100, 1))
	cc.Merge("BTCUSDT", []model.Candle{candle(0, 105, 9)})

	got := cc.Candles("BTCUSDT")
	if len(got) != 1 || got[0].Volume != 9 {
		t.Errorf("merge did not replace the bucket: %+v", got)
	}
}

// A tail backfill rebuilds the open bucket from the store and merges it while
// the live open candle still holds the same start time. Readers must never see
// that start time twice.
func TestMerge_DropsCurrentWhenBucketCovered(t *testing.T) {
	cc := NewCandleCache(10)
	cc.SetCurrent("BTCUSDT", candle(60_000, 100, 1))

	cc.Merge("BTCUSDT", []model.Candle{candle(0, 99, 2), candle(60_000, 100.5, 3)})

	got := cc.Candles("BTCUSDT")
	if len(got) != 2 {
		t.Fatalf("got %d candles, want 2: %+v", len(got), got)
	}
	seen := make(map[uint64]int)
	for _, c := range got {
		seen[c.StartTimeMs]++
	}
	if seen[60_000] != 1 {
		t.Errorf("start time 60000 appears %d times, want 1", seen[60_000])
	}
	if got[1].Volume != 3 {
		t.Errorf("rebuilt bucket volume = %v, want 3", got[1].Volume)
	}
	if _, ok := cc.Current("BTCUSDT"); ok {
		t.Error("current candle survived a merge covering its bucket")
	}

	// A merge strictly behind the open bucket leaves the open candle alone.
	cc.SetCurrent("BTCUSDT", candle(120_000, 101, 1))
	cc.Merge("BTCUSDT", []model.Candle{candle(60_000, 100.6, 4)})
	if _, ok := cc.Current("BTCUSDT"); !ok {
		t.Error("open candle ahead of merged history was dropped")
	}
}

// The live path can re-establish an open candle for a bucket a concurrent
// merge already folded into history. The snapshot keeps one entry per start
// time, preferring the live view.
func TestCandles_CurrentSupersedesRebuiltBucket(t *testing.T) {
	cc := NewCandleCache(10)
	cc.Merge("BTCUSDT", []model.Candle{candle(0, 99, 2), candle(60_000, 100.5, 3)})
	cc.SetCurrent("BTCUSDT", candle(60_000, 101, 5))

	got := cc.Candles("BTCUSDT")
	if len(got) != 2 {
		t.Fatalf("got %d candles, want 2: %+v", len(got), got)
	}
	if got[1].StartTimeMs != 60_000 || got[1].Volume != 5 {
		t.Errorf("open bucket snapshot = %+v, want the live candle with volume 5", got[1])
	}
}

// Live updates and backfill merges race against readers on several symbols;
// every snapshot must stay strictly ascending by start time.
func TestCandles_ConcurrentReadsStaySortedAndUnique(t *testing.T) {
	cc := NewCandleCache(DefaultMaxCandles)
	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}

	var writers sync.WaitGroup
	for _, sym := range symbols {
		sym := sym
		writers.Add(1)
		go func() {
			defer writers.Done()
			for i := uint64(0); i < 500; i++ {
				start := i * 60_000
				cc.SetCurrent(sym, candle(start, 100, 1))
				cc.Merge(sym, []model.Candle{candle(start, 101, 2)})
				cc.SetCurrent(sym, candle(start, 102, 3))
				cc.AppendFinalized(sym, candle(start, 102, 3))
			}
		}()
	}

	stop := make(chan struct{})
	var readers sync.WaitGroup
	for r := 0; r < 4; r++ {
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
					got := cc.Candles(sym)
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

	writers.Wait()
	close(stop)
	readers.Wait()

	for _, sym := range symbols {
		got := cc.Candles(sym)
		if len(got) != 500 {
			t.Errorf("%s ended with %d candles, want 500", sym, len(got))
		}
	}
}

func TestReplaceHistory_DropsStaleCurrent(t *testing.T) {
	cc := NewCandleCache(10)
	cc.SetCurrent("BTCUSDT", candle(60_000, 100, 1))

	// Reload covers the open bucket: the store's rebuilt candle wins.
	cc.ReplaceHistory("BTCUSDT", []model.Candle{candle(0, 99, 1), candle(60_000, 100.5, 4)})
	if _, ok := cc.Current("BTCUSDT"); ok {
		t.Error("current candle survived a reload that covers its bucket")
	}

	// Reload behind the open bucket: the open candle stays.
	cc.SetCurrent("BTCUSDT", candle(120_000, 101, 1))
	cc.ReplaceHistory("BTCUSDT", []model.Candle{candle(0, 99, 1)})
	if _, ok := cc.Current("BTCUSDT"); !ok {
		t.Error("open candle ahead of reloaded history was dropped")
	}
}

func TestCandles_UnknownSymbol(t *testing.T) {
	cc := NewCandleCache(10)
	if got := cc.Candles("NOPE"); got != nil {
		t.Errorf("unknown symbol returned %v, want nil", got)
	}
	if cc.Len("NOPE") != 0 {
		t.Errorf("Len for unknown symbol = %d, want 0", cc.Len("NOPE"))
	}
}

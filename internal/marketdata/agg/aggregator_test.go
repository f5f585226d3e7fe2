package agg

import (
	"testing"

	"glora-mdengine/internal/model"
)

const interval = uint64(60_000)

func tick(ts uint64, price, qty float64) model.Tick {
	return model.Tick{TimestampMs: ts, Price: price, Quantity: qty}
}

func TestProcess_ExtendsOpenCandle(t *testing.T) {
	a := New(interval)

	fin, upd, late := a.Process("BTCUSDT", tick(1_000, 100, 1))
	if fin != nil || late {
		t.Fatalf("first tick: finalized=%v late=%v, want nil/false", fin, late)
	}
	if upd.Open != 100 || upd.Volume != 1 {
		t.Errorf("open candle = O=%v V=%v, want O=100 V=1", upd.Open, upd.Volume)
	}

	fin, upd, late = a.Process("BTCUSDT", tick(30_000, 102, 2))
	if fin != nil || late {
		t.Fatalf("same-bucket tick: finalized=%v late=%v, want nil/false", fin, late)
	}
	if upd.Close != 102 || upd.Volume != 3 {
		t.Errorf("extended candle = C=%v V=%v, want C=102 V=3", upd.Close, upd.Volume)
	}
}

func TestProcess_RolloverFinalizes(t *testing.T) {
	a := New(interval)
	a.Process("BTCUSDT", tick(1_000, 100, 1))
	a.Process("BTCUSDT", tick(59_000, 101, 1))

	fin, upd, late := a.Process("BTCUSDT", tick(61_000, 105, 3))
	if late {
		t.Fatal("rollover tick flagged late")
	}
	if fin == nil {
		t.Fatal("rollover did not finalize the previous candle")
	}
	if fin.StartTimeMs != 0 || fin.Close != 101 || fin.Volume != 2 {
		t.Errorf("finalized = start=%d C=%v V=%v, want start=0 C=101 V=2", fin.StartTimeMs, fin.Close, fin.Volume)
	}
	if upd.StartTimeMs != 60_000 || upd.Open != 105 {
		t.Errorf("new open candle = start=%d O=%v, want start=60000 O=105", upd.StartTimeMs, upd.Open)
	}
}

// A rollover across several empty buckets finalizes only the candle that
// actually traded; no synthetic empty candles appear.
func TestProcess_SkipsEmptyBuckets(t *testing.T) {
	a := New(interval)
	a.Process("BTCUSDT", tick(1_000, 100, 1))

	fin, upd, _ := a.Process("BTCUSDT", tick(300_500, 110, 1))
	if fin == nil || fin.StartTimeMs != 0 {
		t.Fatalf("finalized = %+v, want the bucket at 0", fin)
	}
	if upd.StartTimeMs != 300_000 {
		t.Errorf("open bucket start = %d, want 300000", upd.StartTimeMs)
	}
}

func TestProcess_LateTickLeavesStateUntouched(t *testing.T) {
	a := New(interval)
	a.Process("BTCUSDT", tick(61_000, 100, 1))

	fin, _, late := a.Process("BTCUSDT", tick(59_000, 50, 9))
	if !late || fin != nil {
		t.Fatalf("tick behind open bucket: finalized=%v late=%v, want nil/true", fin, late)
	}

	cur, ok := a.Current("BTCUSDT")
	if !ok || cur.Volume != 1 || cur.Low != 100 {
		t.Errorf("open candle mutated by late tick: %+v", cur)
	}
}

func TestProcess_SymbolsIsolated(t *testing.T) {
	a := New(interval)
	a.Process("BTCUSDT", tick(1_000, 100, 1))
	a.Process("ETHUSDT", tick(2_000, 10, 5))

	btc, _ := a.Current("BTCUSDT")
	eth, _ := a.Current("ETHUSDT")
	if btc.Open != 100 || eth.Open != 10 {
		t.Errorf("symbol states mixed: btc.Open=%v eth.Open=%v", btc.Open, eth.Open)
	}
}

func TestFlushAll(t *testing.T) {
	a := New(interval)
	a.Process("BTCUSDT", tick(1_000, 100, 1))
	a.Process("ETHUSDT", tick(2_000, 10, 2))

	flushed := a.FlushAll()
	if len(flushed) != 2 {
		t.Fatalf("flushed %d candles, want 2", len(flushed))
	}
	if _, ok := a.Current("BTCUSDT"); ok {
		t.Error("state survived FlushAll")
	}
	if flushed["ETHUSDT"].Volume != 2 {
		t.Errorf("ETHUSDT flushed volume = %v, want 2", flushed["ETHUSDT"].Volume)
	}
}

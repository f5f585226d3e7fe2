package model

import (
	"encoding/json"
	"sort"
)

// PriceNode accumulates aggressive volume on each side of one price level
// within a single candle's lifetime.
type PriceNode struct {
	BidVolume float64 `json:"bid_volume"` // selling volume hitting bids
	AskVolume float64 `json:"ask_volume"` // buying volume hitting asks
}

// PriceLevel is one footprint row in render order (descending price).
type PriceLevel struct {
	Price float64 `json:"price"`
	PriceNode
}

// Candle is an OHLCV summary over the half-open time bucket
// [StartTimeMs, EndTimeMs), enriched with a per-price-level footprint.
// Invariant: the footprint's total bid+ask volume equals Volume exactly,
// since every tick updates one side of one price level.
type Candle struct {
	StartTimeMs uint64  `json:"start_time_ms"`
	EndTimeMs   uint64  `json:"end_time_ms"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`

	Footprint map[float64]PriceNode `json:"-"`
}

// BucketFor returns the half-open bucket [start, start+intervalMs) that a
// timestamp falls into.
func BucketFor(tsMs, intervalMs uint64) (start, end uint64) {
	start = tsMs / intervalMs * intervalMs
	return start, start + intervalMs
}

// NewCandle creates an empty candle for the bucket containing tsMs.
func NewCandle(tsMs, intervalMs uint64) *Candle {
	start, end := BucketFor(tsMs, intervalMs)
	return &Candle{StartTimeMs: start, EndTimeMs: end}
}

// AddTick folds one trade into the candle. The first tick seeds OHLC.
func (c *Candle) AddTick(t Tick) {
	if c.Footprint == nil {
		c.Footprint = make(map[float64]PriceNode)
		c.Open, c.High, c.Low = t.Price, t.Price, t.Price
	} else {
		if t.Price > c.High {
			c.High = t.Price
		}
		if t.Price < c.Low {
			c.Low = t.Price
		}
	}
	c.Close = t.Price
	c.Volume += t.Quantity

	node := c.Footprint[t.Price]
	if t.IsBuyerMaker {
		node.BidVolume += t.Quantity
	} else {
		node.AskVolume += t.Quantity
	}
	c.Footprint[t.Price] = node
}

// Profile returns the footprint levels sorted by descending price, the order
// the renderer consumes.
func (c *Candle) Profile() []PriceLevel {
	levels := make([]PriceLevel, 0, len(c.Footprint))
	for p, n := range c.Footprint {
		levels = append(levels, PriceLevel{Price: p, PriceNode: n})
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price > levels[j].Price })
	return levels
}

// SetProfile rebuilds the footprint map from persisted levels.
func (c *Candle) SetProfile(levels []PriceLevel) {
	if len(levels) == 0 {
		c.Footprint = nil
		return
	}
	c.Footprint = make(map[float64]PriceNode, len(levels))
	for _, lvl := range levels {
		c.Footprint[lvl.Price] = lvl.PriceNode
	}
}

// POC returns the point of control: the price level carrying the most total
// traded volume. Ties resolve to the higher price; ok is false for an empty
// candle. Derived on demand, never stored.
func (c *Candle) POC() (price float64, ok bool) {
	best := 0.0
	for _, lvl := range c.Profile() {
		if total := lvl.BidVolume + lvl.AskVolume; !ok || total > best {
			best = total
			price = lvl.Price
			ok = true
		}
	}
	return price, ok
}

// Clone returns a deep copy; the footprint map is not shared.
func (c *Candle) Clone() Candle {
	out := *c
	if c.Footprint != nil {
		out.Footprint = make(map[float64]PriceNode, len(c.Footprint))
		for p, n := range c.Footprint {
			out.Footprint[p] = n
		}
	}
	return out
}

// MarshalJSON emits the footprint as a price-descending level array, since a
// float-keyed map has no JSON representation.
func (c Candle) MarshalJSON() ([]byte, error) {
	type alias Candle
	return json.Marshal(struct {
		alias
		Footprint []PriceLevel `json:"footprint,omitempty"`
	}{alias(c), c.Profile()})
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

package agg

import (
	"sort"

	"glora-mdengine/internal/model"
)

// TicksToCandles partitions a tick sequence (ordered or not) into interval
// buckets and builds one candle per non-empty bucket, ascending by start
// time. Each candle is recomputed from its full tick set, never merged with a
// stale prior candle, so feeding the same ticks twice and merging twice
// yields the same history as merging once.
func TicksToCandles(ticks []model.Tick, intervalMs uint64) []model.Candle {
	if len(ticks) == 0 {
		return nil
	}

	byBucket := make(map[uint64]*model.Candle)
	order := make([]uint64, 0)
	for _, t := range ticks {
		start, _ := model.BucketFor(t.TimestampMs, intervalMs)
		c, ok := byBucket[start]
		if !ok {
			c = model.NewCandle(t.TimestampMs, intervalMs)
			byBucket[start] = c
			order = append(order, start)
		}
		c.AddTick(t)
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	out := make([]model.Candle, 0, len(order))
	for _, start := range order {
		out = append(out, *byBucket[start])
	}
	return out
}

// MergeCandles merges incoming candles into history keyed by start time:
// replace if the bucket exists, insert otherwise. The result is sorted
// ascending and holds at most one candle per start time.
func MergeCandles(history, incoming []model.Candle) []model.Candle {
	if len(incoming) == 0 {
		return history
	}

	idx := make(map[uint64]int, len(history))
	for i, c := range history {
		idx[c.StartTimeMs] = i
	}

	merged := history
	for _, c := range incoming {
		if i, ok := idx[c.StartTimeMs]; ok {
			merged[i] = c
		} else {
			idx[c.StartTimeMs] = len(merged)
			merged = append(merged, c)
		}
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].StartTimeMs < merged[j].StartTimeMs })
	return merged
}

// Package gaps scans a persisted tick timeline for missing sub-ranges.
package gaps

import "glora-mdengine/internal/model"

// Detect walks an ascending timestamp list and reports every hole wider than
// minGapMs, ascending and non-overlapping: a leading hole between
// rangeStartMs and the first timestamp, then one hole per consecutive pair
// further apart than the threshold.
//
// An empty timestamp list yields no gaps — "no data at all" is a distinct,
// higher-priority case the backfill orchestrator handles before calling this.
func Detect(symbol string, timestamps []uint64, rangeStartMs, minGapMs uint64) []model.DataGap {
	if len(timestamps) == 0 {
		return nil
	}

	var out []model.DataGap
	if first := timestamps[0]; first > rangeStartMs && first-rangeStartMs > minGapMs {
		out = append(out, model.DataGap{Symbol: symbol, StartTimeMs: rangeStartMs, EndTimeMs: first})
	}
	for i := 1; i < len(timestamps); i++ {
		if timestamps[i]-timestamps[i-1] > minGapMs {
			out = append(out, model.DataGap{Symbol: symbol, StartTimeMs: timestamps[i-1], EndTimeMs: timestamps[i]})
		}
	}
	return out
}

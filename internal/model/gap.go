package model

// DataGap is a contiguous sub-range of a symbol's persisted tick timeline
// with no trades, wider than the configured minimum gap. Gaps are recomputed
// on demand and never cached.
type DataGap struct {
	Symbol      string `json:"symbol"`
	StartTimeMs uint64 `json:"start_time_ms"`
	EndTimeMs   uint64 `json:"end_time_ms"`
}

// WidthMs returns the gap width in milliseconds.
func (g DataGap) WidthMs() uint64 {
	return g.EndTimeMs - g.StartTimeMs
}

package model

import "encoding/json"

// EventType identifies an engine notification.
type EventType int

const (
	// EventDataUpdated signals that a symbol's cached view changed.
	EventDataUpdated EventType = iota
	// EventGapFilled signals that a missing range was backfilled.
	EventGapFilled
	// EventCandleUpdated carries the open or just-finalized candle.
	EventCandleUpdated
)

// String returns the wire name of the event type.
func (t EventType) String() string {
	switch t {
	case EventDataUpdated:
		return "data_updated"
	case EventGapFilled:
		return "gap_filled"
	case EventCandleUpdated:
		return "candle_updated"
	default:
		return "unknown"
	}
}

// MarshalJSON emits the wire name so subscribers never see raw enum values.
func (t EventType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// Event is a fire-and-forget notification emitted by the engine. Delivery is
// best-effort: subscribers may drop or coalesce events.
type Event struct {
	Type        EventType `json:"type"`
	Symbol      string    `json:"symbol"`
	StartTimeMs uint64    `json:"start_time_ms,omitempty"` // gap bounds, EventGapFilled only
	EndTimeMs   uint64    `json:"end_time_ms,omitempty"`
	Candle      *Candle   `json:"candle,omitempty"` // EventCandleUpdated only
}

// JSON returns the JSON-encoded event (ignoring errors for hot-path usage).
func (e *Event) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Package bus broadcasts engine events to subscribers. A slow subscriber's
// full channel causes a drop for that subscriber only, never backpressure on
// the publishing path.
package bus

import (
	"log"
	"sync"

	"glora-mdengine/internal/model"
)

// FanOut broadcasts events from Publish to N subscriber channels.
type FanOut struct {
	mu      sync.RWMutex
	outputs []chan model.Event
	bufSize int
	closed  bool

	// OnDrop is called when an event is dropped for a subscriber.
	// subscriberIdx is the 0-based index of the slow consumer.
	OnDrop func(subscriberIdx int)
}

// New creates a FanOut with the given buffer size for subscriber channels.
func New(outputBufferSize int) *FanOut {
	return &FanOut{bufSize: outputBufferSize}
}

// Subscribe creates and returns a new subscriber channel. Subscribing after
// Close returns an already-closed channel.
func (f *FanOut) Subscribe() <-chan model.Event {
	ch := make(chan model.Event, f.bufSize)
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(ch)
		return ch
	}
	f.outputs = append(f.outputs, ch)
	f.mu.Unlock()
	return ch
}

// Publish delivers ev to every subscriber, dropping for any whose channel is
// full. Never blocks.
func (f *FanOut) Publish(ev model.Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	for i, ch := range f.outputs {
		select {
		case ch <- ev:
		default:
			if f.OnDrop != nil {
				f.OnDrop(i)
			} else {
				log.Printf("[bus] subscriber %d full, dropping %s event for %s", i, ev.Type, ev.Symbol)
			}
		}
	}
}

// Close closes all subscriber channels. Publish becomes a no-op.
func (f *FanOut) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for _, ch := range f.outputs {
		close(ch)
	}
}

// ChannelStat reports (length, capacity) for one subscriber channel.
type ChannelStat struct {
	Len int
	Cap int
}

// ChannelStats returns saturation stats for every subscriber channel.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, ch := range f.outputs {
		stats[i] = ChannelStat{Len: len(ch), Cap: cap(ch)}
	}
	return stats
}

// Package redis publishes engine events to Redis for downstream consumers
// (gateways, dashboards). Writes are fire-and-forget: a Redis outage costs
// notifications, never market data.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"glora-mdengine/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const defaultLatestTTL = 30 * time.Minute

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer publishes engine events to Redis pub/sub and keeps the latest
// candle per symbol in a TTL'd key.
type Writer struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client}, nil
}

// Run reads engine events from eventCh and publishes them to Redis.
// Blocks until ctx is cancelled or eventCh is closed.
func (w *Writer) Run(ctx context.Context, eventCh <-chan model.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-eventCh:
			if !ok {
				return
			}
			w.writeEvent(ctx, ev)
		}
	}
}

// writeEvent publishes one event. Candle updates additionally refresh the
// per-symbol latest-candle key so late subscribers can catch up without
// waiting for the next bucket.
func (w *Writer) writeEvent(ctx context.Context, ev model.Event) {
	jsonData := string(ev.JSON())
	pubsubCh := "pub:event:" + ev.Type.String() + ":" + ev.Symbol

	pipe := w.client.Pipeline()
	pipe.Publish(ctx, pubsubCh, jsonData)

	if ev.Type == model.EventCandleUpdated && ev.Candle != nil {
		latestKey := "candle:latest:" + ev.Symbol
		pipe.Set(ctx, latestKey, string(ev.Candle.JSON()), defaultLatestTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] pipeline error for %s/%s: %v", ev.Type, ev.Symbol, err)
	}
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}

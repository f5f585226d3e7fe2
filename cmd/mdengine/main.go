// mdengine ingests live trades from Binance, aggregates them into footprint
// candles, heals historical gaps from the REST API, and publishes events to
// Redis. SQLite is the source of truth; Redis and metrics are best-effort.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"glora-mdengine/config"
	"glora-mdengine/internal/bus"
	"glora-mdengine/internal/engine"
	"glora-mdengine/internal/feed/binance"
	"glora-mdengine/internal/logger"
	"glora-mdengine/internal/metrics"
	"glora-mdengine/internal/model"
	"glora-mdengine/internal/queue"
	redisstore "glora-mdengine/internal/store/redis"
	"glora-mdengine/internal/store/sqlite"
)

func main() {
	logger.Init("mdengine", slog.LevelInfo)
	cfg := config.Load()
	symbols := cfg.ParseSymbols()
	if len(symbols) == 0 {
		log.Fatal("[mdengine] no symbols configured")
	}
	log.Printf("[mdengine] starting with symbols=%v interval=%dms history=%dd", symbols, cfg.CandleIntervalMs, cfg.HistoryDays)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Metrics & health ──
	m := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ── SQLite store ──
	store, err := sqlite.New(sqlite.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[mdengine] sqlite init failed: %v", err)
	}
	defer store.Close()

	// ── Redis writer (optional) ──
	var redisWriter *redisstore.Writer
	redisWriter, err = redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Printf("[mdengine] WARNING: redis init failed: %v (continuing without redis)", err)
		redisWriter = nil
	} else {
		defer redisWriter.Close()
		log.Println("[mdengine] redis writer ready")
	}

	if redisWriter != nil {
		health.StartLivenessChecker(ctx, redisWriter.Client(), store.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, store.DB(), 10*time.Second)
	}

	// ── Event bus ──
	events := bus.New(5000)
	events.OnDrop = func(idx int) {
		m.FanoutDropsTotal.WithLabelValues(subscriberName(idx)).Inc()
	}
	if redisWriter != nil {
		go redisWriter.Run(ctx, events.Subscribe())
	}

	// ── Engine ──
	feedClient := binance.NewClient(binance.Config{
		APIKey:     cfg.BinanceAPIKey,
		APISecret:  cfg.BinanceAPISecret,
		UseTestnet: cfg.BinanceTestnet,
	})

	eng := engine.New(engine.Config{
		IntervalMs:     cfg.CandleIntervalMs,
		HistoryDays:    cfg.HistoryDays,
		MinGapMs:       cfg.MinGapMs,
		SmallGapSkipMs: cfg.SmallGapSkipMs,
		TailStaleMs:    cfg.TailStaleMs,
		MaxCandles:     cfg.MaxCandles,
	}, store, feedClient, events)

	eng.OnTick = func() { m.TicksTotal.Inc(); health.SetLastTickTime(time.Now()) }
	eng.OnCandleFinalized = m.CandlesTotal.Inc
	eng.OnLateTick = m.LateTicks.Inc
	eng.OnGapFound = m.GapsDetected.Inc
	eng.OnGapSkipped = m.GapsSkipped.Inc
	eng.OnBackfillFetch = func(err error, d time.Duration) {
		m.BackfillFetches.Inc()
		m.BackfillFetchDur.Observe(d.Seconds())
		if err != nil {
			m.BackfillErrors.Inc()
		}
	}

	// ── Bootstrap: catalog, then per-symbol history + gap healing ──
	if err := eng.LoadSymbols(ctx); err != nil {
		log.Printf("[mdengine] symbol catalog load failed: %v (continuing)", err)
	}
	for _, sym := range symbols {
		eng.LoadSymbolData(ctx, sym)
	}

	// ── Live path: websocket → queue → engine ──
	tickQueue := queue.New[model.SymbolTick]()

	stream := binance.NewStream(binance.StreamConfig{
		Symbols:    symbols,
		UseTestnet: cfg.BinanceTestnet,
		Tickers:    true,
	})
	stream.OnTick = func(st model.SymbolTick) {
		tickQueue.Push(st)
		health.SetWSConnected(true)
	}
	stream.OnTicker = func(symbol string, upd model.PriceUpdate) {
		eng.UpdateSymbolPrice(symbol, upd)
	}
	stream.OnReconnect = func() {
		m.WSReconnects.Inc()
		health.SetWSConnected(false)
	}
	go stream.Run(ctx)

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		eng.Run(tickQueue)
	}()

	// ── Background tasks ──
	go runTicker(ctx, 5*time.Second, func() {
		eng.FlushLive()
		m.QueueDepth.Set(float64(tickQueue.Len()))
	})
	go runTicker(ctx, cfg.RefreshInterval, func() {
		for _, sym := range symbols {
			eng.RefreshData(ctx, sym)
		}
	})
	go runTicker(ctx, cfg.CleanupInterval, func() {
		if err := eng.CleanupOldData(cfg.KeepDays); err != nil {
			log.Printf("[mdengine] cleanup: %v", err)
		}
	})

	// ── Shutdown ──
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("[mdengine] received %v, shutting down", sig)

	cancel() // stops the stream; no more pushes after in-flight callbacks drain

	// Give the consumer a moment to empty the queue, then release it.
	drainDeadline := time.After(3 * time.Second)
	for tickQueue.Len() > 0 {
		select {
		case <-drainDeadline:
			log.Printf("[mdengine] abandoning %d queued ticks", tickQueue.Len())
		case <-time.After(50 * time.Millisecond):
			continue
		}
		break
	}
	tickQueue.Invalidate()
	<-consumerDone

	eng.Shutdown()
	events.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	log.Println("[mdengine] shutdown complete")
}

// subscriberName maps FanOut subscriber indices to stable metric labels.
// Subscription order in main is the source of truth.
func subscriberName(idx int) string {
	if idx == 0 {
		return "redis"
	}
	return "other"
}

func runTicker(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

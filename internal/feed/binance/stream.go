package binance

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"strings"
	"time"

	"glora-mdengine/internal/model"

	"github.com/gorilla/websocket"
)

const (
	wsBaseURL        = "wss://stream.binance.com:9443"
	wsTestnetBaseURL = "wss://stream.testnet.binance.vision"

	wsReadLimit    = 1 << 20
	pongWait       = 90 * time.Second
	maxReconnectIn = 30 * time.Second
)

// StreamConfig configures the live websocket stream.
type StreamConfig struct {
	// Symbols to receive aggTrade events for.
	Symbols []string

	UseTestnet bool

	// BaseURL overrides the endpoint entirely (tests).
	BaseURL string

	// Tickers also subscribes the !ticker@arr stream for 24h statistics.
	Tickers bool
}

// Stream connects to the combined websocket stream and dispatches events
// through the callbacks. It reconnects with capped exponential backoff until
// the context is cancelled.
type Stream struct {
	cfg StreamConfig
	url string

	// Callbacks. Set before Run; they fire on the read goroutine.
	OnTick      func(model.SymbolTick)
	OnTicker    func(symbol string, upd model.PriceUpdate)
	OnReconnect func()
}

// NewStream creates a stream for the configured symbols. No network I/O
// happens here.
func NewStream(cfg StreamConfig) *Stream {
	base := cfg.BaseURL
	if base == "" {
		if cfg.UseTestnet {
			base = wsTestnetBaseURL
		} else {
			base = wsBaseURL
		}
	}

	streams := make([]string, 0, len(cfg.Symbols)+1)
	for _, s := range cfg.Symbols {
		streams = append(streams, strings.ToLower(s)+"@aggTrade")
	}
	if cfg.Tickers {
		streams = append(streams, "!ticker@arr")
	}

	return &Stream{
		cfg: cfg,
		url: strings.TrimRight(base, "/") + "/stream?streams=" + strings.Join(streams, "/"),
	}
}

// Run connects and reads until ctx is cancelled. Each dropped connection
// triggers OnReconnect and a backoff before redialing.
func (s *Stream) Run(ctx context.Context) {
	backoff := time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.dial(ctx)
		if err != nil {
			log.Printf("[binance] dial %s: %v (retrying in %s)", s.url, err, backoff)
			if s.OnReconnect != nil {
				s.OnReconnect()
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxReconnectIn {
				backoff = maxReconnectIn
			}
			continue
		}

		backoff = time.Second
		log.Printf("[binance] stream connected (%d symbols)", len(s.cfg.Symbols))

		s.readLoop(ctx, conn)
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		log.Println("[binance] stream disconnected, reconnecting")
		if s.OnReconnect != nil {
			s.OnReconnect()
		}
	}
}

func (s *Stream) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.url, nil)
	if err != nil {
		return nil, err
	}

	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	// Binance pings every few minutes; answering keeps the server from
	// dropping us, and any ping also proves the link is alive.
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})
	return conn, nil
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn) {
	// Unblock ReadMessage on shutdown.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[binance] read: %v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		s.dispatch(msg)
	}
}

// dispatch routes one combined-stream message to the right callback.
func (s *Stream) dispatch(msg []byte) {
	var env combinedEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		log.Printf("[binance] bad envelope: %v", err)
		return
	}

	switch {
	case strings.HasSuffix(env.Stream, "@aggTrade"):
		s.handleAggTrade(env.Data)
	case env.Stream == "!ticker@arr":
		s.handleTickers(env.Data)
	}
}

func (s *Stream) handleAggTrade(data json.RawMessage) {
	if s.OnTick == nil {
		return
	}

	var ev wsAggTrade
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Printf("[binance] bad aggTrade: %v", err)
		return
	}

	price, err1 := strconv.ParseFloat(ev.Price, 64)
	qty, err2 := strconv.ParseFloat(ev.Quantity, 64)
	if err1 != nil || err2 != nil {
		log.Printf("[binance] bad aggTrade numbers for %s: p=%q q=%q", ev.Symbol, ev.Price, ev.Quantity)
		return
	}

	s.OnTick(model.SymbolTick{
		Symbol: ev.Symbol,
		Tick: model.Tick{
			TimestampMs:  uint64(ev.TradeTime),
			Price:        price,
			Quantity:     qty,
			IsBuyerMaker: ev.IsBuyerMaker,
		},
	})
}

func (s *Stream) handleTickers(data json.RawMessage) {
	if s.OnTicker == nil {
		return
	}

	var tickers []wsTicker
	if err := json.Unmarshal(data, &tickers); err != nil {
		log.Printf("[binance] bad ticker array: %v", err)
		return
	}

	for _, t := range tickers {
		s.OnTicker(t.Symbol, model.PriceUpdate{
			LastPrice:          parseFloat(t.LastPrice),
			PriceChange:        parseFloat(t.PriceChange),
			PriceChangePercent: parseFloat(t.PriceChangePercent),
			High24h:            parseFloat(t.High),
			Low24h:             parseFloat(t.Low),
			Volume24h:          parseFloat(t.Volume),
			QuoteVolume24h:     parseFloat(t.QuoteVolume),
		})
	}
}

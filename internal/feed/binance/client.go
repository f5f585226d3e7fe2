// Package binance implements the market feed against the Binance spot API:
// REST for historical aggregate trades and exchange info, a combined
// websocket stream for live trades and 24h tickers.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"glora-mdengine/internal/model"
)

const (
	restBaseURL        = "https://api.binance.com"
	restTestnetBaseURL = "https://testnet.binance.vision"

	// aggTrades caps the page at 1000 trades and the time window at one hour.
	aggTradesLimit = 1000
	fetchChunkMs   = uint64(time.Hour / time.Millisecond)
)

// Config configures the REST client.
type Config struct {
	APIKey    string
	APISecret string

	// UseTestnet targets testnet.binance.vision instead of production.
	UseTestnet bool

	// BaseURL overrides the endpoint entirely (tests). Empty selects
	// production or testnet per UseTestnet.
	BaseURL string

	Timeout time.Duration // per-request; default 15s
}

// Client is the Binance REST client. Public market-data endpoints work
// without credentials; when an API key is configured it is attached and
// requests are signed.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a REST client. No network I/O happens here.
func NewClient(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		if cfg.UseTestnet {
			base = restTestnetBaseURL
		} else {
			base = restBaseURL
		}
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		cfg:        cfg,
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchHistoricalTrades pulls aggregate trades in [startMs, endMs], paging
// through the hourly window and 1000-trade page limits. A page that comes
// back full resumes just past its last trade so nothing is skipped.
func (c *Client) FetchHistoricalTrades(ctx context.Context, symbol string, startMs, endMs uint64) ([]model.Tick, error) {
	var ticks []model.Tick

	cur := startMs
	for cur < endMs {
		chunkEnd := cur + fetchChunkMs
		if chunkEnd > endMs {
			chunkEnd = endMs
		}

		q := url.Values{}
		q.Set("symbol", symbol)
		q.Set("startTime", strconv.FormatUint(cur, 10))
		q.Set("endTime", strconv.FormatUint(chunkEnd, 10))
		q.Set("limit", strconv.Itoa(aggTradesLimit))

		var page []restAggTrade
		if err := c.get(ctx, "/api/v3/aggTrades", q, &page); err != nil {
			return nil, fmt.Errorf("fetch aggTrades %s: %w", symbol, err)
		}

		for _, tr := range page {
			t, err := tr.toTick()
			if err != nil {
				log.Printf("[binance] skipping malformed trade for %s: %v", symbol, err)
				continue
			}
			ticks = append(ticks, t)
		}

		if len(page) == aggTradesLimit {
			// More trades remain inside this window.
			cur = uint64(page[len(page)-1].Timestamp) + 1
		} else {
			cur = chunkEnd + 1
		}
	}
	return ticks, nil
}

// FetchExchangeInfo pulls the full spot symbol catalog.
func (c *Client) FetchExchangeInfo(ctx context.Context) ([]model.Symbol, error) {
	var resp exchangeInfoResp
	if err := c.get(ctx, "/api/v3/exchangeInfo", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch exchangeInfo: %w", err)
	}

	symbols := make([]model.Symbol, 0, len(resp.Symbols))
	for _, si := range resp.Symbols {
		symbols = append(symbols, si.toSymbol())
	}
	return symbols, nil
}

// get issues a GET against path with query q, decoding the JSON body into
// out. Credentialed requests carry the API key header and an HMAC-SHA256
// signature over the query string.
func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	if q == nil {
		q = url.Values{}
	}
	query := q.Encode()
	if c.cfg.APISecret != "" {
		query = c.sign(query)
	}

	u := c.baseURL + path
	if query != "" {
		u += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// sign appends a recvWindow/timestamp pair and the HMAC-SHA256 signature
// Binance expects on authenticated endpoints.
func (c *Client) sign(query string) string {
	if query != "" {
		query += "&"
	}
	query += "recvWindow=5000&timestamp=" + strconv.FormatInt(time.Now().UnixMilli(), 10)

	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(query))
	return query + "&signature=" + hex.EncodeToString(mac.Sum(nil))
}

func (tr restAggTrade) toTick() (model.Tick, error) {
	price, err := strconv.ParseFloat(tr.Price, 64)
	if err != nil {
		return model.Tick{}, fmt.Errorf("price %q: %w", tr.Price, err)
	}
	qty, err := strconv.ParseFloat(tr.Quantity, 64)
	if err != nil {
		return model.Tick{}, fmt.Errorf("quantity %q: %w", tr.Quantity, err)
	}
	return model.Tick{
		TimestampMs:  uint64(tr.Timestamp),
		Price:        price,
		Quantity:     qty,
		IsBuyerMaker: tr.IsBuyerMaker,
	}, nil
}

func (si symbolInfo) toSymbol() model.Symbol {
	sym := model.Symbol{
		Symbol:      si.Symbol,
		BaseAsset:   si.BaseAsset,
		QuoteAsset:  si.QuoteAsset,
		Status:      si.Status,
		Permissions: strings.Join(si.Permissions, ","),
	}
	for _, f := range si.Filters {
		switch f.FilterType {
		case "PRICE_FILTER":
			sym.MinPrice = parseFloat(f.MinPrice)
			sym.MaxPrice = parseFloat(f.MaxPrice)
			sym.TickSize = parseFloat(f.TickSize)
		case "LOT_SIZE":
			sym.MinQty = parseFloat(f.MinQty)
			sym.MaxQty = parseFloat(f.MaxQty)
			sym.StepSize = parseFloat(f.StepSize)
		case "NOTIONAL", "MIN_NOTIONAL":
			sym.MinNotional = parseFloat(f.MinNotional)
		}
	}
	return sym
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

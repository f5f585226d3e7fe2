package binance

import "encoding/json"

// restAggTrade is one element of the GET /api/v3/aggTrades response.
// Prices and quantities come over the wire as decimal strings.
type restAggTrade struct {
	AggTradeID   int64  `json:"a"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	Timestamp    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// wsAggTrade is the payload of an <symbol>@aggTrade stream event.
type wsAggTrade struct {
	EventType    string `json:"e"`
	Symbol       string `json:"s"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// wsTicker is one element of the !ticker@arr stream payload (24h rolling
// statistics per symbol).
type wsTicker struct {
	Symbol             string `json:"s"`
	LastPrice          string `json:"c"`
	PriceChange        string `json:"p"`
	PriceChangePercent string `json:"P"`
	High               string `json:"h"`
	Low                string `json:"l"`
	Volume             string `json:"v"`
	QuoteVolume        string `json:"q"`
}

// combinedEnvelope wraps every message on a combined-stream connection.
type combinedEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// exchangeInfoResp is the GET /api/v3/exchangeInfo response, trimmed to the
// fields the catalog needs.
type exchangeInfoResp struct {
	Symbols []symbolInfo `json:"symbols"`
}

type symbolInfo struct {
	Symbol      string         `json:"symbol"`
	Status      string         `json:"status"`
	BaseAsset   string         `json:"baseAsset"`
	QuoteAsset  string         `json:"quoteAsset"`
	Permissions []string       `json:"permissions"`
	Filters     []symbolFilter `json:"filters"`
}

// symbolFilter is a polymorphic filter entry; only the fields for
// PRICE_FILTER, LOT_SIZE and NOTIONAL are decoded.
type symbolFilter struct {
	FilterType  string `json:"filterType"`
	MinPrice    string `json:"minPrice"`
	MaxPrice    string `json:"maxPrice"`
	TickSize    string `json:"tickSize"`
	MinQty      string `json:"minQty"`
	MaxQty      string `json:"maxQty"`
	StepSize    string `json:"stepSize"`
	MinNotional string `json:"minNotional"`
}

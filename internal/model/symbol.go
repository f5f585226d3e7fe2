package model

// Symbol is one tradable instrument from the exchange catalog, carrying the
// static trading filters plus live-updated 24h statistics.
type Symbol struct {
	Symbol      string `json:"symbol"`
	BaseAsset   string `json:"base_asset"`
	QuoteAsset  string `json:"quote_asset"`
	Status      string `json:"status"`
	Permissions string `json:"permissions"` // comma-joined, e.g. "SPOT,MARGIN"

	MinPrice    float64 `json:"min_price"`
	MaxPrice    float64 `json:"max_price"`
	TickSize    float64 `json:"tick_size"`
	MinQty      float64 `json:"min_qty"`
	MaxQty      float64 `json:"max_qty"`
	StepSize    float64 `json:"step_size"`
	MinNotional float64 `json:"min_notional"`

	LastPrice          float64 `json:"last_price"`
	PriceChange        float64 `json:"price_change"`
	PriceChangePercent float64 `json:"price_change_percent"`
	High24h            float64 `json:"high_24h"`
	Low24h             float64 `json:"low_24h"`
	Volume24h          float64 `json:"volume_24h"`
	QuoteVolume24h     float64 `json:"quote_volume_24h"`
	LastUpdateTimeMs   uint64  `json:"last_update_time_ms"`
}

// PriceUpdate carries the live-statistics fields patched by a 24h ticker
// event. Base/quote asset and filters never change at runtime.
type PriceUpdate struct {
	LastPrice          float64
	PriceChange        float64
	PriceChangePercent float64
	High24h            float64
	Low24h             float64
	Volume24h          float64
	QuoteVolume24h     float64
}

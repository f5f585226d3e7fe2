package model

// Tick is a single aggregated trade reported by the exchange.
// IsBuyerMaker == true means the aggressor was a seller (the trade hit the
// bid); false means an aggressive buy.
type Tick struct {
	TimestampMs  uint64  `json:"timestamp_ms"`
	Price        float64 `json:"price"`
	Quantity     float64 `json:"quantity"`
	IsBuyerMaker bool    `json:"is_buyer_maker"`
}

// SymbolTick pairs a tick with the symbol it was reported for. This is the
// unit flowing through the live handoff queue.
type SymbolTick struct {
	Symbol string `json:"symbol"`
	Tick   Tick   `json:"tick"`
}

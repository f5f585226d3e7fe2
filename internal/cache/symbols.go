package cache

import (
	"sort"
	"sync"

	"glora-mdengine/internal/model"
)

// SymbolCache is the in-memory instrument catalog with two secondary indices
// (by quote asset, by base asset). Full reloads rebuild the primary map and
// both indices under one write lock, so readers never observe them out of
// sync.
type SymbolCache struct {
	mu      sync.RWMutex
	symbols map[string]model.Symbol
	byQuote map[string][]string // quote asset → symbol names
	byBase  map[string][]string // base asset → symbol names
}

// NewSymbolCache creates an empty catalog.
func NewSymbolCache() *SymbolCache {
	return &SymbolCache{
		symbols: make(map[string]model.Symbol),
		byQuote: make(map[string][]string),
		byBase:  make(map[string][]string),
	}
}

// ReplaceAll atomically rebuilds the catalog and both indices.
func (sc *SymbolCache) ReplaceAll(symbols []model.Symbol) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.symbols = make(map[string]model.Symbol, len(symbols))
	sc.byQuote = make(map[string][]string)
	sc.byBase = make(map[string][]string)
	for _, s := range symbols {
		sc.symbols[s.Symbol] = s
		sc.byQuote[s.QuoteAsset] = append(sc.byQuote[s.QuoteAsset], s.Symbol)
		sc.byBase[s.BaseAsset] = append(sc.byBase[s.BaseAsset], s.Symbol)
	}
}

// All returns every symbol sorted by 24h quote volume descending.
func (sc *SymbolCache) All() []model.Symbol {
	sc.mu.RLock()
	out := make([]model.Symbol, 0, len(sc.symbols))
	for _, s := range sc.symbols {
		out = append(out, s)
	}
	sc.mu.RUnlock()
	sortByQuoteVolume(out)
	return out
}

// ByName returns ok == false for an unknown symbol.
func (sc *SymbolCache) ByName(name string) (model.Symbol, bool) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	s, ok := sc.symbols[name]
	return s, ok
}

// ByQuoteAsset returns the symbols quoted in asset, sorted by 24h quote
// volume descending.
func (sc *SymbolCache) ByQuoteAsset(asset string) []model.Symbol {
	return sc.collect(func() []string { return sc.byQuote[asset] })
}

// ByBaseAsset returns the symbols based on asset, sorted by 24h quote volume
// descending.
func (sc *SymbolCache) ByBaseAsset(asset string) []model.Symbol {
	return sc.collect(func() []string { return sc.byBase[asset] })
}

func (sc *SymbolCache) collect(names func() []string) []model.Symbol {
	sc.mu.RLock()
	list := names()
	out := make([]model.Symbol, 0, len(list))
	for _, name := range list {
		if s, ok := sc.symbols[name]; ok {
			out = append(out, s)
		}
	}
	sc.mu.RUnlock()
	sortByQuoteVolume(out)
	return out
}

// QuoteAssets returns the distinct quote assets, sorted ascending.
func (sc *SymbolCache) QuoteAssets() []string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sortedKeys(sc.byQuote)
}

// BaseAssets returns the distinct base assets, sorted ascending.
func (sc *SymbolCache) BaseAssets() []string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sortedKeys(sc.byBase)
}

// UpdatePrice patches only the live-statistics fields of one entry. The
// secondary indices are untouched — base and quote asset never change at
// runtime. Returns false for an unknown symbol.
func (sc *SymbolCache) UpdatePrice(name string, upd model.PriceUpdate, nowMs uint64) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	s, ok := sc.symbols[name]
	if !ok {
		return false
	}
	s.LastPrice = upd.LastPrice
	s.PriceChange = upd.PriceChange
	s.PriceChangePercent = upd.PriceChangePercent
	s.High24h = upd.High24h
	s.Low24h = upd.Low24h
	s.Volume24h = upd.Volume24h
	s.QuoteVolume24h = upd.QuoteVolume24h
	s.LastUpdateTimeMs = nowMs
	sc.symbols[name] = s
	return true
}

// Len returns the catalog size.
func (sc *SymbolCache) Len() int {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return len(sc.symbols)
}

func sortByQuoteVolume(syms []model.Symbol) {
	sort.Slice(syms, func(i, j int) bool {
		if syms[i].QuoteVolume24h != syms[j].QuoteVolume24h {
			return syms[i].QuoteVolume24h > syms[j].QuoteVolume24h
		}
		return syms[i].Symbol < syms[j].Symbol
	})
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

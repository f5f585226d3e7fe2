package engine

import (
	"context"
	"fmt"
	"log"

	"glora-mdengine/internal/model"
)

// LoadSymbols populates the symbol cache, preferring the persisted catalog
// and falling back to the feed's exchange-info endpoint when the store is
// empty. A feed fetch persists the catalog before populating the cache.
func (e *Engine) LoadSymbols(ctx context.Context) error {
	if e.store != nil {
		syms, err := e.store.GetAllSymbols()
		if err != nil {
			log.Printf("[engine] read symbol catalog: %v", err)
		} else if len(syms) > 0 {
			e.symbols.ReplaceAll(syms)
			log.Printf("[engine] loaded %d symbols from store", len(syms))
			return nil
		}
	}
	return e.RefreshSymbols(ctx)
}

// RefreshSymbols re-fetches the catalog from the feed and rebuilds the cache
// wholesale. On failure the existing cache is left untouched and the error
// is returned to the caller.
func (e *Engine) RefreshSymbols(ctx context.Context) error {
	if e.feed == nil {
		return fmt.Errorf("refresh symbols: feed not attached")
	}

	syms, err := e.feed.FetchExchangeInfo(ctx)
	if err != nil {
		return fmt.Errorf("fetch exchange info: %w", err)
	}
	if len(syms) == 0 {
		return nil
	}

	if e.store != nil {
		if err := e.store.InsertSymbols(syms); err != nil {
			log.Printf("[engine] persist symbol catalog: %v", err)
		}
	}

	e.symbols.ReplaceAll(syms)
	log.Printf("[engine] loaded %d symbols from feed", len(syms))
	e.publish(model.Event{Type: model.EventDataUpdated})
	return nil
}

// UpdateSymbolPrice patches the live 24h statistics of one catalog entry in
// cache and store. Unknown symbols are ignored; the next catalog refresh
// picks them up.
func (e *Engine) UpdateSymbolPrice(name string, upd model.PriceUpdate) {
	if !e.symbols.UpdatePrice(name, upd, e.nowFn()) {
		return
	}
	if e.store != nil {
		if err := e.store.UpdateSymbolPrice(name, upd); err != nil {
			log.Printf("[engine] persist price update for %s: %v", name, err)
		}
	}
}

// AllSymbols returns the catalog sorted by 24h quote volume descending.
func (e *Engine) AllSymbols() []model.Symbol { return e.symbols.All() }

// Symbol returns ok == false for an unknown symbol name.
func (e *Engine) Symbol(name string) (model.Symbol, bool) { return e.symbols.ByName(name) }

// SymbolsByQuoteAsset returns the symbols quoted in asset.
func (e *Engine) SymbolsByQuoteAsset(asset string) []model.Symbol {
	return e.symbols.ByQuoteAsset(asset)
}

// SymbolsByBaseAsset returns the symbols based on asset.
func (e *Engine) SymbolsByBaseAsset(asset string) []model.Symbol {
	return e.symbols.ByBaseAsset(asset)
}

// QuoteAssets returns the distinct quote assets, sorted ascending.
func (e *Engine) QuoteAssets() []string { return e.symbols.QuoteAssets() }

// BaseAssets returns the distinct base assets, sorted ascending.
func (e *Engine) BaseAssets() []string { return e.symbols.BaseAssets() }

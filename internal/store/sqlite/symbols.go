package sqlite

import (
	"fmt"

	"glora-mdengine/internal/model"
)

// InsertSymbols upserts the exchange symbol catalog in one transaction.
func (s *Store) InsertSymbols(symbols []model.Symbol) error {
	if len(symbols) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO symbols
		(symbol, base_asset, quote_asset, status, permissions,
		 min_price, max_price, tick_size, min_qty, max_qty, step_size, min_notional,
		 last_price, price_change, price_change_percent, high_24h, low_24h,
		 volume_24h, quote_volume_24h, last_update_time_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite prepare symbols: %w", err)
	}
	defer stmt.Close()

	for _, sym := range symbols {
		_, err := stmt.Exec(sym.Symbol, sym.BaseAsset, sym.QuoteAsset, sym.Status, sym.Permissions,
			sym.MinPrice, sym.MaxPrice, sym.TickSize, sym.MinQty, sym.MaxQty, sym.StepSize, sym.MinNotional,
			sym.LastPrice, sym.PriceChange, sym.PriceChangePercent, sym.High24h, sym.Low24h,
			sym.Volume24h, sym.QuoteVolume24h, int64(sym.LastUpdateTimeMs))
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert symbol %s: %w", sym.Symbol, err)
		}
	}
	return tx.Commit()
}

const symbolColumns = `symbol, base_asset, quote_asset, status, permissions,
	min_price, max_price, tick_size, min_qty, max_qty, step_size, min_notional,
	last_price, price_change, price_change_percent, high_24h, low_24h,
	volume_24h, quote_volume_24h, last_update_time_ms`

// GetAllSymbols returns the full catalog ordered by 24h quote volume
// descending.
func (s *Store) GetAllSymbols() ([]model.Symbol, error) {
	rows, err := s.db.Query(`SELECT ` + symbolColumns + ` FROM symbols ORDER BY quote_volume_24h DESC, symbol ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query symbols: %w", err)
	}
	defer rows.Close()

	var symbols []model.Symbol
	for rows.Next() {
		sym, err := scanSymbol(rows)
		if err != nil {
			return nil, err
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

// GetSymbol returns ok == false for an unknown symbol.
func (s *Store) GetSymbol(name string) (model.Symbol, bool, error) {
	rows, err := s.db.Query(`SELECT `+symbolColumns+` FROM symbols WHERE symbol = ?`, name)
	if err != nil {
		return model.Symbol{}, false, fmt.Errorf("sqlite query symbol: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return model.Symbol{}, false, rows.Err()
	}
	sym, err := scanSymbol(rows)
	if err != nil {
		return model.Symbol{}, false, err
	}
	return sym, true, nil
}

// UpdateSymbolPrice patches the live 24h statistics of one catalog row.
// Unknown symbols are a no-op.
func (s *Store) UpdateSymbolPrice(name string, upd model.PriceUpdate) error {
	_, err := s.db.Exec(`
		UPDATE symbols SET
			last_price = ?, price_change = ?, price_change_percent = ?,
			high_24h = ?, low_24h = ?, volume_24h = ?, quote_volume_24h = ?,
			last_update_time_ms = strftime('%s','now') * 1000
		WHERE symbol = ?
	`, upd.LastPrice, upd.PriceChange, upd.PriceChangePercent,
		upd.High24h, upd.Low24h, upd.Volume24h, upd.QuoteVolume24h, name)
	if err != nil {
		return fmt.Errorf("sqlite update symbol price: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSymbol(r rowScanner) (model.Symbol, error) {
	var sym model.Symbol
	var lastUpdate int64
	err := r.Scan(&sym.Symbol, &sym.BaseAsset, &sym.QuoteAsset, &sym.Status, &sym.Permissions,
		&sym.MinPrice, &sym.MaxPrice, &sym.TickSize, &sym.MinQty, &sym.MaxQty, &sym.StepSize, &sym.MinNotional,
		&sym.LastPrice, &sym.PriceChange, &sym.PriceChangePercent, &sym.High24h, &sym.Low24h,
		&sym.Volume24h, &sym.QuoteVolume24h, &lastUpdate)
	if err != nil {
		return model.Symbol{}, fmt.Errorf("sqlite scan symbol: %w", err)
	}
	sym.LastUpdateTimeMs = uint64(lastUpdate)
	return sym, nil
}

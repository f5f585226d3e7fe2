package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	"glora-mdengine/internal/model"
)

// InsertCandles upserts a batch of candles keyed on (symbol, start time) in
// one transaction. The footprint profile is stored as a JSON level array so
// it survives a cache reload.
func (s *Store) InsertCandles(symbol string, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO candles
		(symbol, start_time_ms, end_time_ms, open, high, low, close, volume, footprint)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite prepare candles: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		footprint, err := json.Marshal(c.Profile())
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("marshal footprint: %w", err)
		}
		_, err = stmt.Exec(symbol, int64(c.StartTimeMs), int64(c.EndTimeMs),
			c.Open, c.High, c.Low, c.Close, c.Volume, string(footprint))
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert candle: %w", err)
		}
	}
	return tx.Commit()
}

// GetCandles returns candles whose start time lies in [startMs, endMs],
// ascending by start time.
func (s *Store) GetCandles(symbol string, startMs, endMs uint64) ([]model.Candle, error) {
	if endMs <= startMs {
		return nil, ErrInvalidRange
	}

	rows, err := s.db.Query(`
		SELECT start_time_ms, end_time_ms, open, high, low, close, volume, footprint
		FROM candles
		WHERE symbol = ? AND start_time_ms >= ? AND start_time_ms <= ?
		ORDER BY start_time_ms ASC
	`, symbol, int64(startMs), int64(endMs))
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var start, end int64
		var footprint sql.NullString
		if err := rows.Scan(&start, &end, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &footprint); err != nil {
			return nil, fmt.Errorf("sqlite scan candle: %w", err)
		}
		c.StartTimeMs = uint64(start)
		c.EndTimeMs = uint64(end)
		if footprint.Valid && footprint.String != "" {
			var levels []model.PriceLevel
			if err := json.Unmarshal([]byte(footprint.String), &levels); err != nil {
				// A malformed profile costs the footprint, not the candle.
				log.Printf("[sqlite] bad footprint for %s@%d: %v", symbol, start, err)
			} else {
				c.SetProfile(levels)
			}
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

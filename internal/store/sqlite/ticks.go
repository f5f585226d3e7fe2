package sqlite

import (
	"database/sql"
	"fmt"

	"glora-mdengine/internal/model"
)

// InsertTicks inserts a batch of ticks in one transaction, ignoring
// duplicates of (symbol, timestamp, price, quantity).
func (s *Store) InsertTicks(symbol string, ticks []model.Tick) error {
	if len(ticks) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO ticks (symbol, timestamp_ms, price, quantity, is_buyer_maker)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite prepare ticks: %w", err)
	}
	defer stmt.Close()

	for _, t := range ticks {
		if _, err := stmt.Exec(symbol, int64(t.TimestampMs), t.Price, t.Quantity, boolToInt(t.IsBuyerMaker)); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert tick: %w", err)
		}
	}
	return tx.Commit()
}

// GetTicks returns persisted ticks in [startMs, endMs], ascending by time.
func (s *Store) GetTicks(symbol string, startMs, endMs uint64) ([]model.Tick, error) {
	if endMs <= startMs {
		return nil, ErrInvalidRange
	}

	rows, err := s.db.Query(`
		SELECT timestamp_ms, price, quantity, is_buyer_maker
		FROM ticks
		WHERE symbol = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`, symbol, int64(startMs), int64(endMs))
	if err != nil {
		return nil, fmt.Errorf("sqlite query ticks: %w", err)
	}
	defer rows.Close()

	var ticks []model.Tick
	for rows.Next() {
		var t model.Tick
		var ts int64
		var maker int
		if err := rows.Scan(&ts, &t.Price, &t.Quantity, &maker); err != nil {
			return nil, fmt.Errorf("sqlite scan tick: %w", err)
		}
		t.TimestampMs = uint64(ts)
		t.IsBuyerMaker = maker == 1
		ticks = append(ticks, t)
	}
	return ticks, rows.Err()
}

// GetTickTimes returns only the tick timestamps in [startMs, endMs],
// ascending. This feeds the gap detector without materializing whole ticks.
func (s *Store) GetTickTimes(symbol string, startMs, endMs uint64) ([]uint64, error) {
	if endMs <= startMs {
		return nil, ErrInvalidRange
	}

	rows, err := s.db.Query(`
		SELECT timestamp_ms FROM ticks
		WHERE symbol = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`, symbol, int64(startMs), int64(endMs))
	if err != nil {
		return nil, fmt.Errorf("sqlite query tick times: %w", err)
	}
	defer rows.Close()

	var times []uint64
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("sqlite scan tick time: %w", err)
		}
		times = append(times, uint64(ts))
	}
	return times, rows.Err()
}

// LatestTickTime returns the newest persisted tick timestamp for symbol.
// ok is false when no ticks exist.
func (s *Store) LatestTickTime(symbol string) (uint64, bool, error) {
	return s.tickTimeBound(symbol, "MAX")
}

// EarliestTickTime returns the oldest persisted tick timestamp for symbol.
// ok is false when no ticks exist.
func (s *Store) EarliestTickTime(symbol string) (uint64, bool, error) {
	return s.tickTimeBound(symbol, "MIN")
}

func (s *Store) tickTimeBound(symbol, fn string) (uint64, bool, error) {
	var ts sql.NullInt64
	err := s.db.QueryRow(
		`SELECT `+fn+`(timestamp_ms) FROM ticks WHERE symbol = ?`, symbol,
	).Scan(&ts)
	if err != nil {
		return 0, false, fmt.Errorf("sqlite tick time bound: %w", err)
	}
	if !ts.Valid {
		return 0, false, nil
	}
	return uint64(ts.Int64), true, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

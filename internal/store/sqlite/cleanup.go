package sqlite

import (
	"fmt"
	"log"
	"time"
)

// CleanupOldData deletes ticks and candles older than keepDays and reclaims
// the freed pages. Symbols are never aged out.
func (s *Store) CleanupOldData(keepDays int) error {
	if keepDays <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-time.Duration(keepDays) * 24 * time.Hour).UnixMilli()

	res, err := s.db.Exec(`DELETE FROM ticks WHERE timestamp_ms < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("sqlite cleanup ticks: %w", err)
	}
	tickRows, _ := res.RowsAffected()

	res, err = s.db.Exec(`DELETE FROM candles WHERE start_time_ms < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("sqlite cleanup candles: %w", err)
	}
	candleRows, _ := res.RowsAffected()

	if tickRows > 0 || candleRows > 0 {
		log.Printf("[sqlite] cleanup removed %d ticks, %d candles older than %d days", tickRows, candleRows, keepDays)
		if _, err := s.db.Exec(`VACUUM`); err != nil {
			log.Printf("[sqlite] vacuum: %v", err)
		}
	}
	return nil
}

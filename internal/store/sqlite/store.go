// Package sqlite implements the persistent store on SQLite in WAL mode.
// Bulk writes run inside a single transaction with a prepared statement;
// tick inserts deduplicate on the natural key and candle inserts upsert on
// (symbol, start time), so replayed writes are harmless.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"
)

// ErrInvalidRange is returned for range queries with end <= start, before
// any I/O happens.
var ErrInvalidRange = errors.New("sqlite: invalid time range (end <= start)")

// Config configures the store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/marketdata.db"
}

// Store provides tick, candle and symbol persistence for the engine.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database, enables WAL mode and creates the schema.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single connection: serializes writers and sidesteps SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS ticks (
			symbol         TEXT    NOT NULL,
			timestamp_ms   INTEGER NOT NULL,
			price          REAL    NOT NULL,
			quantity       REAL    NOT NULL,
			is_buyer_maker INTEGER NOT NULL,
			UNIQUE(symbol, timestamp_ms, price, quantity)
		);
		CREATE INDEX IF NOT EXISTS idx_ticks_symbol_time ON ticks(symbol, timestamp_ms);

		CREATE TABLE IF NOT EXISTS candles (
			symbol        TEXT    NOT NULL,
			start_time_ms INTEGER NOT NULL,
			end_time_ms   INTEGER NOT NULL,
			open          REAL    NOT NULL,
			high          REAL    NOT NULL,
			low           REAL    NOT NULL,
			close         REAL    NOT NULL,
			volume        REAL    NOT NULL,
			footprint     TEXT,
			PRIMARY KEY (symbol, start_time_ms)
		);

		CREATE TABLE IF NOT EXISTS symbols (
			symbol               TEXT PRIMARY KEY,
			base_asset           TEXT NOT NULL,
			quote_asset          TEXT NOT NULL,
			status               TEXT NOT NULL,
			permissions          TEXT NOT NULL,
			min_price            REAL DEFAULT 0,
			max_price            REAL DEFAULT 0,
			tick_size            REAL DEFAULT 0,
			min_qty              REAL DEFAULT 0,
			max_qty              REAL DEFAULT 0,
			step_size            REAL DEFAULT 0,
			min_notional         REAL DEFAULT 0,
			last_price           REAL DEFAULT 0,
			price_change         REAL DEFAULT 0,
			price_change_percent REAL DEFAULT 0,
			high_24h             REAL DEFAULT 0,
			low_24h              REAL DEFAULT 0,
			volume_24h           REAL DEFAULT 0,
			quote_volume_24h     REAL DEFAULT 0,
			last_update_time_ms  INTEGER DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_symbols_quote_asset ON symbols(quote_asset);
		CREATE INDEX IF NOT EXISTS idx_symbols_base_asset ON symbols(base_asset);
		CREATE INDEX IF NOT EXISTS idx_symbols_volume ON symbols(quote_volume_24h DESC);
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Package ledger persists the usage ledger (§3's UsageLedger: the
// append/update-in-place AppName -> LatestMetrics map) across supervisor
// restarts.
//
// Grounded on the teacher's internal/queue/sqlite_queue.go: a WAL-mode
// single-writer modernc.org/sqlite database, opened once at startup and
// upserted into on every persist tick rather than rewritten wholesale.
// Spec §3 requires the ledger be "persisted to a single file" while
// leaving retention policy to the implementer; a SQLite database is
// itself a single file on disk, so this satisfies the external interface
// at §6 (LedgerPath) without giving up transactional upserts.
package ledger

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // register the "sqlite" driver with database/sql

	"github.com/artisan-hosting/ais_manager/internal/state"
)

// Store is a WAL-mode SQLite-backed usage ledger. Safe for concurrent use
// since the underlying pool is capped at one connection, matching the
// teacher's SQLiteQueue rationale: SQLite allows only one writer, so a
// single connection serializes callers instead of surfacing
// "database is locked" errors.
type Store struct {
	db *sql.DB
}

const ddl = `
CREATE TABLE IF NOT EXISTS usage_ledger (
    app_name     TEXT PRIMARY KEY,
    cpu_usage    REAL NOT NULL,
    memory_usage REAL NOT NULL,
    rx_bytes     INTEGER NOT NULL DEFAULT 0,
    tx_bytes     INTEGER NOT NULL DEFAULT 0,
    recorded_at  INTEGER NOT NULL
);
`

// Open opens (or creates) the SQLite database at path, enables WAL mode,
// and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %q: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: set synchronous = NORMAL: %w", err)
	}
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Load reads the full persisted ledger, used at startup to restore the
// in-memory registry's ledger snapshot.
func (s *Store) Load() (state.UsageLedger, error) {
	rows, err := s.db.Query(`SELECT app_name, cpu_usage, memory_usage, rx_bytes, tx_bytes, recorded_at FROM usage_ledger`)
	if err != nil {
		return nil, fmt.Errorf("ledger: load: %w", err)
	}
	defer rows.Close()

	out := make(state.UsageLedger)
	for rows.Next() {
		var m state.LatestMetrics
		if err := rows.Scan(&m.AppName, &m.CPUUsage, &m.MemoryUsage, &m.RxBytes, &m.TxBytes, &m.RecordedAt); err != nil {
			return nil, fmt.Errorf("ledger: scan row: %w", err)
		}
		out[m.AppName] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: load: %w", err)
	}
	return out, nil
}

// Save upserts every entry of l into the database in a single transaction.
// It does not delete rows absent from l: a client app that disappears from
// the catalog still keeps its last-known usage row, matching the "latest
// snapshot per app name" retention the original supervisor used.
func (s *Store) Save(l state.UsageLedger) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("ledger: save: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO usage_ledger (app_name, cpu_usage, memory_usage, rx_bytes, tx_bytes, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(app_name) DO UPDATE SET
			cpu_usage = excluded.cpu_usage,
			memory_usage = excluded.memory_usage,
			rx_bytes = excluded.rx_bytes,
			tx_bytes = excluded.tx_bytes,
			recorded_at = excluded.recorded_at
	`)
	if err != nil {
		return fmt.Errorf("ledger: save: prepare: %w", err)
	}
	defer stmt.Close()

	for _, m := range l {
		if _, err := stmt.Exec(m.AppName, m.CPUUsage, m.MemoryUsage, m.RxBytes, m.TxBytes, m.RecordedAt); err != nil {
			return fmt.Errorf("ledger: save: upsert %s: %w", m.AppName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger: save: commit: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

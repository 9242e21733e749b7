// Package store implements the Schedule Store: a persistent, indexed store
// of CIF-derived rail schedules and station reference data, following the
// teacher's dataobjects package layout of package-level functions over a
// sqalx.Node plus squirrel query builders, but backed by a single SQLite
// file (modernc.org/sqlite) rather than the teacher's PostgreSQL.
package store

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/gbl08ma/sqalx"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrations string

// sdb is the shared statement builder, mirroring dataobjects.sdb in the
// teacher. SQLite uses positional `?` placeholders, squirrel's default.
var sdb = sq.StatementBuilder

// Store is the Schedule Store composition object. Everything it exposes
// delegates to package-level functions taking a sqalx.Node, so schedule
// import code that already holds a transaction (e.g. within a larger
// import batch) can call those functions directly instead of going through
// Store.
type Store struct {
	db            *sqlx.DB
	node          sqalx.Node
	retentionDays int
	path          string
}

// Open opens (creating if necessary) the SQLite database at path and
// applies the schema migrations.
func Open(path string, retentionDays int) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single-writer discipline

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("store: enabling foreign keys: %w", err)
	}
	if _, err := db.Exec(migrations); err != nil {
		return nil, fmt.Errorf("store: applying migrations: %w", err)
	}

	node, err := sqalx.New(db)
	if err != nil {
		return nil, fmt.Errorf("store: wrapping node: %w", err)
	}

	return &Store{db: db, node: node, retentionDays: retentionDays, path: path}, nil
}

// Node returns the root sqalx.Node, for components (importers, tests) that
// need to drive their own transactions across several Store operations.
func (s *Store) Node() sqalx.Node {
	return s.node
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the store is reachable, used by the /health/ready
// check.
func (s *Store) Ping() error {
	return s.db.Ping()
}

// StoreStatistics is the snapshot returned by Statistics().
type StoreStatistics struct {
	TotalSchedules   int
	TotalStops       int
	TotalStations    int
	LastImportOK     bool
	LastImportAt     time.Time
	DatabaseSizeByte int64
}

// Statistics returns aggregate counters about the store's contents.
func (s *Store) Statistics() (StoreStatistics, error) {
	stats, err := Statistics(s.node)
	if err != nil {
		return stats, err
	}
	if fi, err := os.Stat(s.path); err == nil {
		stats.DatabaseSizeByte = fi.Size()
	}
	return stats, nil
}

// Statistics implements Store.Statistics as a free function over a node.
func Statistics(node sqalx.Node) (StoreStatistics, error) {
	tx, err := node.Beginx()
	if err != nil {
		return StoreStatistics{}, err
	}
	defer tx.Commit() // read-only tx

	var stats StoreStatistics
	row := tx.QueryRow("SELECT COUNT(*) FROM schedule")
	if err := row.Scan(&stats.TotalSchedules); err != nil {
		return stats, fmt.Errorf("store: counting schedules: %w", err)
	}
	row = tx.QueryRow("SELECT COUNT(*) FROM schedule_stop")
	if err := row.Scan(&stats.TotalStops); err != nil {
		return stats, fmt.Errorf("store: counting stops: %w", err)
	}
	row = tx.QueryRow("SELECT COUNT(*) FROM station WHERE is_active = 1")
	if err := row.Scan(&stats.TotalStations); err != nil {
		return stats, fmt.Errorf("store: counting stations: %w", err)
	}

	var finishedAtText *string
	row = tx.QueryRow(`SELECT success, finished_at FROM import_record
		WHERE finished_at IS NOT NULL ORDER BY finished_at DESC LIMIT 1`)
	if err := row.Scan(&stats.LastImportOK, &finishedAtText); err == nil && finishedAtText != nil {
		if t, err := time.Parse(time.RFC3339, *finishedAtText); err == nil {
			stats.LastImportAt = t
		}
	}

	return stats, nil
}

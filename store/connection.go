package store

import (
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/gbl08ma/sqalx"
)

// ConnectionMode enumerates Connection.mode, per the ALF adapter (spec.md §4.B).
type ConnectionMode string

// Recognized connection modes.
const (
	ConnectionWalk        ConnectionMode = "walk"
	ConnectionInterchange ConnectionMode = "interchange"
)

// Connection is an ALF-derived interchange or walk link between two
// stations.
type Connection struct {
	FromTiploc      string
	ToTiploc        string
	Mode            ConnectionMode
	DurationMinutes int
	ValidFrom       time.Time
	ValidTo         time.Time
}

// PutConnection inserts or updates a Connection, keyed by
// (from_tiploc, to_tiploc, mode).
func PutConnection(node sqalx.Node, c Connection) error {
	tx, err := node.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = sdb.Insert("connection").
		Columns("from_tiploc", "to_tiploc", "mode", "duration_minutes", "valid_from", "valid_to").
		Values(c.FromTiploc, c.ToTiploc, string(c.Mode), c.DurationMinutes, formatTime(c.ValidFrom), formatTime(c.ValidTo)).
		Suffix(`ON CONFLICT (from_tiploc, to_tiploc, mode) DO UPDATE SET
			duration_minutes = excluded.duration_minutes, valid_from = excluded.valid_from, valid_to = excluded.valid_to`).
		RunWith(tx).Exec()
	if err != nil {
		return fmt.Errorf("store: PutConnection: %w", err)
	}
	return tx.Commit()
}

// GetConnection returns the Connection between from and to, if any exists
// in either mode (interchange preferred over walk).
func GetConnection(node sqalx.Node, from, to string) (Connection, error) {
	tx, err := node.Beginx()
	if err != nil {
		return Connection{}, err
	}
	defer tx.Commit() // read-only tx

	rows, err := sdb.Select("from_tiploc", "to_tiploc", "mode", "duration_minutes", "valid_from", "valid_to").
		From("connection").
		Where(sq.Eq{"from_tiploc": from, "to_tiploc": to}).
		OrderBy("mode ASC"). // "interchange" < "walk" alphabetically
		RunWith(tx).Query()
	if err != nil {
		return Connection{}, fmt.Errorf("store: GetConnection: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return Connection{}, ErrNotFound
	}
	var c Connection
	var mode string
	var validFrom, validTo sql.NullString
	if err := rows.Scan(&c.FromTiploc, &c.ToTiploc, &mode, &c.DurationMinutes, &validFrom, &validTo); err != nil {
		return Connection{}, fmt.Errorf("store: GetConnection: %w", err)
	}
	c.Mode = ConnectionMode(mode)
	if validFrom.Valid {
		c.ValidFrom, _ = time.Parse(time.RFC3339, validFrom.String)
	}
	if validTo.Valid {
		c.ValidTo, _ = time.Parse(time.RFC3339, validTo.String)
	}
	return c, nil
}

func formatTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339)
}

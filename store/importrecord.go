package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/gbl08ma/sqalx"
	uuid "github.com/satori/go.uuid"
)

// ImportDecision is the outcome of BeginImport.
type ImportDecision string

// Recognized import decisions.
const (
	ImportAccept  ImportDecision = "accept"
	ImportDup     ImportDecision = "duplicate"
	ImportReplace ImportDecision = "replace"
)

// ImportRecord is the housekeeping log entry for one file import.
type ImportRecord struct {
	ID               string
	FileType         string
	FileHash         string
	SequenceNumber   int
	RecordCount      int
	RecordsImported  int
	StartedAt        time.Time
	FinishedAt       time.Time
	Success          bool
	Errors           []string
}

// BeginImport decides whether a file with the given type and content hash
// should be imported: a file already recorded with success=true is a
// duplicate and is skipped; anything else is accepted (as a fresh import,
// or a replace of a previously-failed attempt). It records a new, unfinished
// ImportRecord for accepted imports.
func BeginImport(node sqalx.Node, fileType, fileHash string) (ImportDecision, *ImportRecord, error) {
	tx, err := node.Beginx()
	if err != nil {
		return "", nil, err
	}
	defer tx.Rollback()

	rows, err := sdb.Select("success").From("import_record").
		Where(sq.Eq{"file_hash": fileHash}).
		RunWith(tx).Query()
	if err != nil {
		return "", nil, fmt.Errorf("store: BeginImport: %w", err)
	}
	var sawFailure bool
	for rows.Next() {
		var success bool
		if err := rows.Scan(&success); err != nil {
			rows.Close()
			return "", nil, fmt.Errorf("store: BeginImport: %w", err)
		}
		if success {
			rows.Close()
			return ImportDup, nil, nil
		}
		sawFailure = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", nil, fmt.Errorf("store: BeginImport: %w", err)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return "", nil, fmt.Errorf("store: BeginImport: %w", err)
	}
	rec := &ImportRecord{
		ID:        id.String(),
		FileType:  fileType,
		FileHash:  fileHash,
		StartedAt: time.Now(),
	}
	_, err = sdb.Insert("import_record").
		Columns("id", "file_type", "file_hash", "record_count", "records_imported", "started_at", "success").
		Values(rec.ID, rec.FileType, rec.FileHash, 0, 0, rec.StartedAt.Format(time.RFC3339), false).
		RunWith(tx).Exec()
	if err != nil {
		return "", nil, fmt.Errorf("store: BeginImport: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", nil, err
	}

	decision := ImportAccept
	if sawFailure {
		decision = ImportReplace
	}
	return decision, rec, nil
}

// FinishImport records the outcome of an import started with BeginImport.
// On failure (success=false or recordsImported < recordCount) the caller is
// responsible for having rolled back any partial writes to Station/Schedule
// tables before calling this; FinishImport itself only updates the log.
func FinishImport(node sqalx.Node, rec *ImportRecord, recordCount, recordsImported int, importErrors []string) error {
	tx, err := node.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	success := recordsImported == recordCount && len(importErrors) == 0
	finishedAt := time.Now()

	_, err = sdb.Update("import_record").
		Set("record_count", recordCount).
		Set("records_imported", recordsImported).
		Set("finished_at", finishedAt.Format(time.RFC3339)).
		Set("success", success).
		Set("errors", nullString(strings.Join(importErrors, "; "))).
		Where(sq.Eq{"id": rec.ID}).
		RunWith(tx).Exec()
	if err != nil {
		return fmt.Errorf("store: FinishImport: %w", err)
	}

	rec.RecordCount, rec.RecordsImported, rec.FinishedAt, rec.Success, rec.Errors =
		recordCount, recordsImported, finishedAt, success, importErrors

	return tx.Commit()
}

// GetImportRecord returns the ImportRecord with the given file hash and
// success=true, if any.
func GetImportRecord(node sqalx.Node, fileHash string) (ImportRecord, error) {
	tx, err := node.Beginx()
	if err != nil {
		return ImportRecord{}, err
	}
	defer tx.Commit() // read-only tx

	rows, err := sdb.Select("id", "file_type", "file_hash", "sequence_number", "record_count",
		"records_imported", "started_at", "finished_at", "success", "errors").
		From("import_record").
		Where(sq.Eq{"file_hash": fileHash, "success": true}).
		RunWith(tx).Query()
	if err != nil {
		return ImportRecord{}, fmt.Errorf("store: GetImportRecord: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return ImportRecord{}, ErrNotFound
	}
	var rec ImportRecord
	var seq sql.NullInt64
	var startedAt, finishedAt, errs sql.NullString
	err = rows.Scan(&rec.ID, &rec.FileType, &rec.FileHash, &seq, &rec.RecordCount,
		&rec.RecordsImported, &startedAt, &finishedAt, &rec.Success, &errs)
	if err != nil {
		return ImportRecord{}, fmt.Errorf("store: GetImportRecord: %w", err)
	}
	rec.SequenceNumber = int(seq.Int64)
	if startedAt.Valid {
		rec.StartedAt, _ = time.Parse(time.RFC3339, startedAt.String)
	}
	if finishedAt.Valid {
		rec.FinishedAt, _ = time.Parse(time.RFC3339, finishedAt.String)
	}
	if errs.Valid && errs.String != "" {
		rec.Errors = strings.Split(errs.String, "; ")
	}
	return rec, nil
}

// ErrPartialImport is wrapped into the error returned by import drivers
// (adapters + store) when records_imported < record_count.
var ErrPartialImport = errors.New("store: import partially failed")

package adapters

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gbl08ma/sqalx"

	"github.com/gbl08ma/darwincancel/store"
)

// FileType enumerates the three recognized input file types (spec.md §4.B).
type FileType string

// Recognized file types.
const (
	FileTypeSchedule   FileType = "schedule"
	FileTypeStation    FileType = "station"
	FileTypeConnection FileType = "connection"
)

// DetectFileType identifies a file's type from its suffix or, failing
// that, its first non-empty line, per spec.md §6 ("identified by
// suffix/header").
func DetectFileType(name string, data []byte) (FileType, error) {
	switch strings.ToUpper(strings.TrimPrefix(filepath.Ext(name), ".")) {
	case "MSN":
		return FileTypeStation, nil
	case "ALF":
		return FileTypeConnection, nil
	case "ZTR", "CIF", "MCA":
		return FileTypeSchedule, nil
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "A") && len(line) > 40:
			return FileTypeStation, nil
		case strings.HasPrefix(line, "HD") || strings.HasPrefix(line, "BS"):
			return FileTypeSchedule, nil
		case strings.HasPrefix(line, "ALF") || strings.Contains(line, "M="):
			return FileTypeConnection, nil
		}
		break
	}
	return "", fmt.Errorf("adapters: could not determine file type of %s", name)
}

// Import runs BeginImport/adapter/write/FinishImport for one file's worth
// of bytes, applying the file-at-a-time, content-hash-deduplicated
// idempotency contract of spec.md §4.A. A duplicate file (already recorded
// with success=true) is a no-op, returning (nil, nil).
func Import(node sqalx.Node, name string, data []byte) (*store.ImportRecord, error) {
	fileType, err := DetectFileType(name, data)
	if err != nil {
		return nil, err
	}

	hash := sha256.Sum256(data)
	fileHash := hex.EncodeToString(hash[:])

	decision, rec, err := store.BeginImport(node, string(fileType), fileHash)
	if err != nil {
		return nil, fmt.Errorf("adapters: Import: %w", err)
	}
	if decision == store.ImportDup {
		return nil, nil
	}

	recordCount, imported, importErrors := importByType(node, fileType, data)

	if err := store.FinishImport(node, rec, recordCount, imported, importErrors); err != nil {
		return nil, fmt.Errorf("adapters: Import: recording outcome: %w", err)
	}
	if imported < recordCount {
		return rec, fmt.Errorf("adapters: Import: %w: imported %d of %d records", store.ErrPartialImport, imported, recordCount)
	}
	return rec, nil
}

func importByType(node sqalx.Node, fileType FileType, data []byte) (recordCount, imported int, importErrors []string) {
	switch fileType {
	case FileTypeStation:
		records, report := ParseStations(data)
		for _, r := range records {
			if err := store.PutStation(node, r.Station); err != nil {
				importErrors = append(importErrors, err.Error())
				continue
			}
			imported++
		}
		return report.RecordCount, imported, append(importErrors, report.ParseErrors...)

	case FileTypeSchedule:
		records, report := ParseSchedules(data)
		for _, r := range records {
			if err := store.PutSchedule(node, r.Schedule, r.Stops); err != nil {
				importErrors = append(importErrors, err.Error())
				continue
			}
			imported++
		}
		return report.RecordCount, imported, append(importErrors, report.ParseErrors...)

	case FileTypeConnection:
		records, report := ParseConnections(data)
		for _, r := range records {
			if err := store.PutConnection(node, r.Connection); err != nil {
				importErrors = append(importErrors, err.Error())
				continue
			}
			imported++
		}
		return report.RecordCount, imported, append(importErrors, report.ParseErrors...)
	}
	return 0, 0, []string{fmt.Sprintf("adapters: unknown file type %q", fileType)}
}

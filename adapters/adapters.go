// Package adapters implements the three Format Adapters (spec.md §4.B):
// pure functions from CIF-like input bytes to normalized store records plus
// a ParseReport. Malformed records are skipped and counted, never aborting
// the import, per spec.md §4.B and §7's Decode error class.
//
// None of the teacher's own dependencies carry a CIF/MSN/ALF reader (the
// teacher ingests live scraped HTML/JSON, not a fixed-width rail industry
// file format), so record shapes are grounded instead on
// _examples/original_source/timetable_parser.py's MSN
// field-offset table and timetable_importer.py's ALF key=value line
// grammar — the only place in the retrieved pack describing this format.
// Byte-level field tables beyond the logical record shape are explicitly
// out of scope (spec.md §1).
package adapters

import "fmt"

// ParseReport summarizes one adapter run: the logical records found and any
// parse errors encountered along the way. Malformed lines are counted in
// ParseErrors but never abort the adapter.
type ParseReport struct {
	RecordCount int
	ParseErrors []string
}

func (r *ParseReport) fail(lineNum int, err error) {
	r.ParseErrors = append(r.ParseErrors, fmt.Sprintf("line %d: %v", lineNum, err))
}

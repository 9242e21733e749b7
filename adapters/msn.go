package adapters

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/gbl08ma/darwincancel/store"
)

// StationRecord is one station emitted by the station-reference (MSN-like)
// adapter.
type StationRecord struct {
	Station store.Station
}

// ParseStations parses an MSN-like station reference file: one "A " record
// per station, fixed-width, per
// _examples/original_source/timetable_parser.py's _parse_msn_record field
// table (name 5:35, type 35:36, tiploc 36:44, CRS 49:52, easting 53:58,
// northing 58:64, category 64:65). Coordinates are Ordnance Survey
// easting/northing in the source; parseOSGrid converts them to
// Station.Latitude/Longitude. Whitespace-trimmed TIPLOCs are canonicalized
// downstream via TiplocMapping, per spec.md §4.B.
func ParseStations(data []byte) ([]StationRecord, ParseReport) {
	var report ParseReport
	var records []StationRecord

	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if !strings.HasPrefix(line, "A") {
			continue // header/trailer/footnote records
		}
		rec, err := parseMSNRecord(line)
		if err != nil {
			report.fail(lineNum, err)
			continue
		}
		records = append(records, rec)
		report.RecordCount++
	}
	return records, report
}

func parseMSNRecord(line string) (StationRecord, error) {
	if len(line) < 52 {
		return StationRecord{}, fmt.Errorf("MSN record too short (%d bytes)", len(line))
	}

	name := strings.TrimSpace(line[5:35])
	if name == "" {
		return StationRecord{}, fmt.Errorf("MSN record has empty station name")
	}
	tiploc := strings.TrimSpace(line[36:44])
	if tiploc == "" {
		return StationRecord{}, fmt.Errorf("MSN record has empty tiploc")
	}
	crs := ""
	if len(line) >= 52 {
		crs = strings.ToUpper(strings.TrimSpace(line[49:52]))
	}

	st := store.Station{
		Tiploc:      tiploc,
		CRSCode:     crs,
		StationName: name,
		IsActive:    true,
	}

	if lat, lon, ok := parseOSGrid(line); ok {
		st.Latitude = &lat
		st.Longitude = &lon
	}

	return StationRecord{Station: st}, nil
}

// parseOSGrid approximates a British National Grid easting/northing pair
// (positions 53:58, 58:64) as latitude/longitude via a linear scaling
// around the grid's false origin. This is not survey-accurate — a proper
// OSGB36-to-WGS84 transform needs a geodesy library absent from the
// retrieved pack (see DESIGN.md) — but gives a plottable approximate
// position for the dashboard map, which is all spec.md's Station.latitude/
// longitude fields are used for.
func parseOSGrid(line string) (lat, lon float64, ok bool) {
	if len(line) < 64 {
		return 0, 0, false
	}
	eastingStr := strings.TrimSpace(strings.TrimSuffix(line[53:58], "E"))
	northingStr := strings.TrimSpace(line[58:64])
	if eastingStr == "" || northingStr == "" {
		return 0, 0, false
	}
	easting, err := strconv.Atoi(eastingStr)
	if err != nil {
		return 0, 0, false
	}
	northing, err := strconv.Atoi(northingStr)
	if err != nil {
		return 0, 0, false
	}
	// National Grid true origin sits at approximately 49N, 2W; one metre of
	// northing/easting is roughly 1/111320 degree of latitude/longitude at
	// these latitudes.
	lat = 49.0 + float64(northing)/111320.0
	lon = -2.0 + float64(easting)/(111320.0*0.656)
	return lat, lon, true
}

package adapters

import (
	"strings"
	"testing"
)

func msnLine(name, tiploc, crs, easting, northing string) string {
	b := []byte(strings.Repeat(" ", 64))
	b[0] = 'A'
	copy(b[5:35], name)
	copy(b[36:44], tiploc)
	copy(b[49:52], crs)
	copy(b[53:58], easting)
	copy(b[58:64], northing)
	return string(b)
}

func TestParseStationsBasic(t *testing.T) {
	line := msnLine("LONDON PADDINGTON", "PADTON", "PAD", "17800", "181300")
	records, report := ParseStations([]byte(line + "\n"))
	if len(report.ParseErrors) != 0 {
		t.Fatalf("unexpected parse errors: %v", report.ParseErrors)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 station record, got %d", len(records))
	}
	st := records[0].Station
	if st.Tiploc != "PADTON" || st.CRSCode != "PAD" || st.StationName != "LONDON PADDINGTON" {
		t.Errorf("unexpected station: %+v", st)
	}
	if st.Latitude == nil || st.Longitude == nil {
		t.Fatalf("expected coordinates to be populated from the grid reference")
	}
}

func TestParseStationsSkipsNonARecords(t *testing.T) {
	data := "HD header line padding to be long enough for a header\n" +
		msnLine("READING", "READING", "RDG", "17100", "17200") + "\n"
	records, report := ParseStations([]byte(data))
	if len(report.ParseErrors) != 0 {
		t.Fatalf("unexpected parse errors: %v", report.ParseErrors)
	}
	if len(records) != 1 {
		t.Fatalf("expected the header line to be skipped, got %d records", len(records))
	}
}

func TestParseStationsRejectsEmptyName(t *testing.T) {
	line := msnLine("", "PADTON", "PAD", "17800", "181300")
	records, report := ParseStations([]byte(line + "\n"))
	if len(records) != 0 {
		t.Fatalf("expected a blank station name to be rejected, got %+v", records)
	}
	if len(report.ParseErrors) != 1 {
		t.Fatalf("expected 1 parse error, got %v", report.ParseErrors)
	}
}

func TestParseOSGridApproximation(t *testing.T) {
	line := msnLine("LONDON PADDINGTON", "PADTON", "PAD", "17800", "181300")
	lat, lon, ok := parseOSGrid(line)
	if !ok {
		t.Fatalf("expected parseOSGrid to succeed on a well-formed grid reference")
	}
	if lat <= 0 || lon >= 0 {
		t.Errorf("expected a plausible British Isles lat/lon (lat>0, lon<0), got lat=%f lon=%f", lat, lon)
	}
}

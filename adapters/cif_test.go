package adapters

import (
	"strings"
	"testing"

	"github.com/gbl08ma/darwincancel/store"
)

func bsLine(uid, startYYMMDD, endYYMMDD, daysRun string, status byte, headcode, speed, class, sleepers, reservations, catering string, stp byte) string {
	b := []byte(strings.Repeat(" ", 80))
	b[0], b[1] = 'B', 'S'
	copy(b[3:9], uid)
	copy(b[9:15], startYYMMDD)
	copy(b[15:21], endYYMMDD)
	copy(b[21:28], daysRun)
	b[29] = status
	copy(b[32:36], headcode)
	copy(b[53:56], speed)
	copy(b[62:63], class)
	copy(b[63:64], sleepers)
	copy(b[64:65], reservations)
	copy(b[66:70], catering)
	b[79] = stp
	return string(b)
}

func bxLine(operatorCode string) string {
	b := []byte(strings.Repeat(" ", 13))
	b[0], b[1] = 'B', 'X'
	copy(b[11:13], operatorCode)
	return string(b)
}

func loLine(tiploc, departure, platform string) string {
	b := []byte(strings.Repeat(" ", 19))
	b[0], b[1] = 'L', 'O'
	copy(b[2:9], tiploc)
	copy(b[10:14], departure)
	copy(b[15:18], platform)
	return string(b)
}

func liLine(tiploc, arrival, departure, pass, platform string) string {
	b := []byte(strings.Repeat(" ", 27))
	b[0], b[1] = 'L', 'I'
	copy(b[2:9], tiploc)
	copy(b[10:14], arrival)
	copy(b[14:18], departure)
	copy(b[18:22], pass)
	copy(b[24:27], platform)
	return string(b)
}

func ltLine(tiploc, arrival, platform string) string {
	b := []byte(strings.Repeat(" ", 19))
	b[0], b[1] = 'L', 'T'
	copy(b[2:9], tiploc)
	copy(b[10:14], arrival)
	copy(b[15:18], platform)
	return string(b)
}

func basicCIFBlock(uid string, stp byte) string {
	lines := []string{
		bsLine(uid, "260301", "261231", "1111100", 'P', "1A23", "125", "B", " ", "S", "C   ", stp),
		bxLine("VT"),
		loLine("EUSTON ", "1800", "4  "),
		liLine("MKTCENT", "1820", "1825", "    ", "2  "),
		ltLine("BHAMNS ", "1935", "11 "),
	}
	return strings.Join(lines, "\n") + "\n"
}

func TestParseSchedulesBasicBlock(t *testing.T) {
	records, report := ParseSchedules([]byte(basicCIFBlock("C12345", 'P')))
	if len(report.ParseErrors) != 0 {
		t.Fatalf("unexpected parse errors: %v", report.ParseErrors)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 schedule record, got %d", len(records))
	}
	rec := records[0]
	if rec.Schedule.TrainUID != "C12345" {
		t.Errorf("unexpected train_uid: %q", rec.Schedule.TrainUID)
	}
	if rec.Schedule.OperatorCode != "VT" {
		t.Errorf("unexpected operator_code: %q", rec.Schedule.OperatorCode)
	}
	if rec.Schedule.Headcode != "1A23" {
		t.Errorf("unexpected headcode: %q", rec.Schedule.Headcode)
	}
	if len(rec.Stops) != 3 {
		t.Fatalf("expected 3 stops, got %d", len(rec.Stops))
	}
	if rec.Stops[0].StopType != store.StopOrigin || rec.Stops[0].Tiploc != "EUSTON" {
		t.Errorf("unexpected origin stop: %+v", rec.Stops[0])
	}
	if rec.Stops[1].StopType != store.StopIntermediate || rec.Stops[1].Tiploc != "MKTCENT" {
		t.Errorf("unexpected intermediate stop: %+v", rec.Stops[1])
	}
	if rec.Stops[2].StopType != store.StopTerminus || rec.Stops[2].Tiploc != "BHAMNS" {
		t.Errorf("unexpected terminus stop: %+v", rec.Stops[2])
	}
}

func TestParseSchedulesSTPIndicatorMapping(t *testing.T) {
	cases := map[byte]store.STPIndicator{
		'C': store.STPCancelled,
		'O': store.STPOverlay,
		'N': store.STPNew,
		'P': store.STPPermanent,
	}
	for code, want := range cases {
		records, report := ParseSchedules([]byte(basicCIFBlock("C12345", code)))
		if len(report.ParseErrors) != 0 {
			t.Fatalf("code %q: unexpected parse errors: %v", code, report.ParseErrors)
		}
		if len(records) != 1 || records[0].Schedule.STPIndicator != want {
			t.Errorf("code %q: expected stp_indicator %q, got %+v", code, want, records)
		}
	}
}

func TestParseSchedulesIntermediatePassStop(t *testing.T) {
	lines := []string{
		bsLine("C99999", "260301", "261231", "1111100", 'P', "1A23", "100", "B", " ", " ", "    ", 'P'),
		bxLine("VT"),
		loLine("EUSTON ", "1800", "4  "),
		liLine("PASSTHR", "    ", "    ", "1815", "1  "),
		ltLine("BHAMNS ", "1935", "11 "),
	}
	records, report := ParseSchedules([]byte(strings.Join(lines, "\n") + "\n"))
	if len(report.ParseErrors) != 0 {
		t.Fatalf("unexpected parse errors: %v", report.ParseErrors)
	}
	if len(records) != 1 || len(records[0].Stops) != 3 {
		t.Fatalf("expected 1 record with 3 stops, got %+v", records)
	}
	if records[0].Stops[1].StopType != store.StopPass {
		t.Errorf("expected the middle stop to be a pass, got %+v", records[0].Stops[1])
	}
}

func TestParseSchedulesSkipsMalformedRecordButContinues(t *testing.T) {
	good := basicCIFBlock("C12345", 'P')
	malformed := "BS short\n"
	data := malformed + good

	records, report := ParseSchedules([]byte(data))
	if len(records) != 1 {
		t.Fatalf("expected the malformed block to be skipped but the good one kept, got %d records", len(records))
	}
	if len(report.ParseErrors) != 1 {
		t.Fatalf("expected exactly 1 parse error recorded, got %v", report.ParseErrors)
	}
}

func TestParseCIFDateCenturyPivot(t *testing.T) {
	d, err := parseCIFDate("260301")
	if err != nil || d.Year() != 2026 {
		t.Errorf("expected 26 to pivot to 2026, got %v err=%v", d, err)
	}
	d2, err := parseCIFDate("991231")
	if err != nil || d2.Year() != 1999 {
		t.Errorf("expected 99 to pivot to 1999, got %v err=%v", d2, err)
	}
}

func TestParseCIFTimeHalfMinuteMarker(t *testing.T) {
	if got := parseCIFTime("1800"); got != "18:00" {
		t.Errorf("expected 18:00, got %q", got)
	}
	if got := parseCIFTime("1800H"); got != "18:00" {
		t.Errorf("expected the half-minute marker to be stripped, got %q", got)
	}
	if got := parseCIFTime("    "); got != "" {
		t.Errorf("expected a blank field to decode to empty string, got %q", got)
	}
}

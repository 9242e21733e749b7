package store

import (
	"path/filepath"
	"testing"

	"github.com/rickb777/date"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := Open(path, 90)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func mustParseDaysRun(t *testing.T, s string) DaysRun {
	t.Helper()
	d, err := ParseDaysRun(s)
	if err != nil {
		t.Fatalf("ParseDaysRun(%q): %v", s, err)
	}
	return d
}

func basicSchedule(trainUID, stp string, start, end date.Date) (Schedule, []ScheduleStop) {
	sch := Schedule{
		TrainUID:     trainUID,
		STPIndicator: STPIndicator(stp),
		StartDate:    start,
		EndDate:      end,
		DaysRun:      DaysRun{true, true, true, true, true, true, true},
		ServiceType:  ServicePassenger,
	}
	stops := []ScheduleStop{
		{Sequence: 0, Tiploc: "PAD", StopType: StopOrigin, DepartureTime: "10:00"},
		{Sequence: 1, Tiploc: "RDG", StopType: StopTerminus, ArrivalTime: "10:30"},
	}
	return sch, stops
}

func TestPutAndResolveSchedule(t *testing.T) {
	st := openTestStore(t)
	startDate := date.New(2026, 3, 1)
	endDate := date.New(2026, 3, 31)

	sch, stops := basicSchedule("A00001", "permanent", startDate, endDate)
	if err := PutSchedule(st.Node(), sch, stops); err != nil {
		t.Fatalf("PutSchedule: %v", err)
	}

	serviceDate := date.New(2026, 3, 15)
	resolved, err := ResolveSchedule(st.Node(), "A00001", serviceDate)
	if err != nil {
		t.Fatalf("ResolveSchedule: %v", err)
	}
	if resolved.TrainUID != "A00001" {
		t.Errorf("unexpected resolved train_uid: %q", resolved.TrainUID)
	}

	gotStops, err := GetStops(st.Node(), resolved.ScheduleID)
	if err != nil {
		t.Fatalf("GetStops: %v", err)
	}
	if len(gotStops) != 2 {
		t.Fatalf("expected 2 stops, got %d", len(gotStops))
	}
}

func TestSTPPrecedenceCancelledWins(t *testing.T) {
	st := openTestStore(t)
	startDate := date.New(2026, 3, 1)
	endDate := date.New(2026, 3, 31)

	permanent, stops := basicSchedule("A00002", "permanent", startDate, endDate)
	if err := PutSchedule(st.Node(), permanent, stops); err != nil {
		t.Fatalf("PutSchedule(permanent): %v", err)
	}

	cancelDate := date.New(2026, 3, 10)
	cancelled, cstops := basicSchedule("A00002", "cancelled", cancelDate, cancelDate)
	if err := PutSchedule(st.Node(), cancelled, cstops); err != nil {
		t.Fatalf("PutSchedule(cancelled): %v", err)
	}

	_, err := ResolveSchedule(st.Node(), "A00002", cancelDate)
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound on a cancelled overlay date, got %v", err)
	}

	otherDate := date.New(2026, 3, 11)
	resolved, err := ResolveSchedule(st.Node(), "A00002", otherDate)
	if err != nil {
		t.Fatalf("ResolveSchedule on non-cancelled date: %v", err)
	}
	if resolved.STPIndicator != STPPermanent {
		t.Errorf("expected permanent schedule to resolve outside the cancellation window, got %q", resolved.STPIndicator)
	}
}

func TestDaysRunRunsOn(t *testing.T) {
	weekdaysOnly := mustParseDaysRun(t, "1111100")
	monday := date.New(2026, 3, 2)   // a Monday
	saturday := date.New(2026, 3, 7) // a Saturday

	if !weekdaysOnly.RunsOn(monday) {
		t.Errorf("expected weekdays-only mask to run on Monday")
	}
	if weekdaysOnly.RunsOn(saturday) {
		t.Errorf("expected weekdays-only mask not to run on Saturday")
	}
}

func TestPutStationAndLookup(t *testing.T) {
	st := openTestStore(t)
	err := PutStation(st.Node(), Station{
		Tiploc:      "PADTON",
		CRSCode:     "pad",
		StationName: "London Paddington",
		IsActive:    true,
	})
	if err != nil {
		t.Fatalf("PutStation: %v", err)
	}

	got, err := GetStationByTiploc(st.Node(), "PADTON")
	if err != nil {
		t.Fatalf("GetStationByTiploc: %v", err)
	}
	if got.CRSCode != "PAD" {
		t.Errorf("expected crs_code to be upper-cased to PAD, got %q", got.CRSCode)
	}
}

func TestBeginImportDeduplicatesByHash(t *testing.T) {
	st := openTestStore(t)

	decision, rec, err := BeginImport(st.Node(), "station", "deadbeef")
	if err != nil {
		t.Fatalf("BeginImport: %v", err)
	}
	if decision != ImportAccept {
		t.Fatalf("expected first import to be accepted, got %q", decision)
	}
	if err := FinishImport(st.Node(), rec, 1, 1, nil); err != nil {
		t.Fatalf("FinishImport: %v", err)
	}

	decision2, rec2, err := BeginImport(st.Node(), "station", "deadbeef")
	if err != nil {
		t.Fatalf("BeginImport (dup): %v", err)
	}
	if decision2 != ImportDup {
		t.Fatalf("expected duplicate-hash import to be rejected, got %q", decision2)
	}
	if rec2 != nil {
		t.Fatalf("expected nil record for a duplicate import")
	}
}

func TestFindOverlappingSTP(t *testing.T) {
	st := openTestStore(t)

	a, stopsA := basicSchedule("A00003", "overlay", date.New(2026, 3, 1), date.New(2026, 3, 15))
	b, stopsB := basicSchedule("A00003", "overlay", date.New(2026, 3, 10), date.New(2026, 3, 20))
	if err := PutSchedule(st.Node(), a, stopsA); err != nil {
		t.Fatalf("PutSchedule(a): %v", err)
	}
	if err := PutSchedule(st.Node(), b, stopsB); err != nil {
		t.Fatalf("PutSchedule(b): %v", err)
	}

	warnings, err := FindOverlappingSTP(st.Node(), "A00003")
	if err != nil {
		t.Fatalf("FindOverlappingSTP: %v", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected 1 overlap warning, got %d", len(warnings))
	}
	if warnings[0].DaysOfYear <= 0 {
		t.Errorf("expected a positive overlap day count, got %d", warnings[0].DaysOfYear)
	}
}

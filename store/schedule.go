package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/SaidinWoT/timespan"
	"github.com/gbl08ma/sqalx"
	"github.com/rickb777/date"
)

// ServiceType enumerates Schedule.service_type.
type ServiceType string

// Recognized service types.
const (
	ServicePassenger ServiceType = "passenger"
	ServiceFreight   ServiceType = "freight"
	ServiceOther     ServiceType = "other"
)

// STPIndicator enumerates Schedule.stp_indicator, translated at the format
// adapter boundary from the source C/N/O/P codes so higher layers never see
// source-specific letters (spec.md §9).
type STPIndicator string

// Recognized STP indicators, in descending precedence order for resolution.
const (
	STPCancelled STPIndicator = "cancelled"
	STPOverlay   STPIndicator = "overlay"
	STPNew       STPIndicator = "new"
	STPPermanent STPIndicator = "permanent"
)

// stpPrecedence ranks lower value = higher priority.
var stpPrecedence = map[STPIndicator]int{
	STPCancelled: 0,
	STPOverlay:   1,
	STPNew:       2,
	STPPermanent: 3,
}

// DaysRun is a 7-bit weekly running mask, Monday first.
type DaysRun [7]bool

// ParseDaysRun parses a 7-character string of '0'/'1' into a DaysRun.
func ParseDaysRun(s string) (DaysRun, error) {
	var d DaysRun
	if len(s) != 7 {
		return d, fmt.Errorf("store: days_run must have length 7, got %d", len(s))
	}
	for i, c := range s {
		switch c {
		case '1':
			d[i] = true
		case '0':
			d[i] = false
		default:
			return d, fmt.Errorf("store: days_run has invalid character %q", c)
		}
	}
	return d, nil
}

// String renders the mask back to its '0'/'1' form.
func (d DaysRun) String() string {
	b := make([]byte, 7)
	for i, v := range d {
		if v {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
	}
	return string(b)
}

// RunsOn reports whether the mask includes the weekday of day.
func (d DaysRun) RunsOn(day date.Date) bool {
	mondayFirst := (int(day.Weekday()) + 6) % 7
	return d[mondayFirst]
}

// Schedule is a CIF-derived train schedule.
type Schedule struct {
	ScheduleID   string
	TrainUID     string
	Headcode     string
	OperatorCode string
	ServiceType  ServiceType
	StartDate    date.Date
	EndDate      date.Date
	DaysRun      DaysRun
	STPIndicator STPIndicator
	Speed        int
	Class        string
	Sleepers     string
	Reservations string
	Catering     string
}

// StopType enumerates ScheduleStop.stop_type.
type StopType string

// Recognized stop types.
const (
	StopOrigin       StopType = "origin"
	StopIntermediate StopType = "intermediate"
	StopTerminus     StopType = "terminus"
	StopPass         StopType = "pass"
)

// ScheduleStop is one calling point of a Schedule.
type ScheduleStop struct {
	ScheduleID     string
	Sequence       int
	Tiploc         string
	StopType       StopType
	ArrivalTime    string // "HH:MM", empty if absent
	DepartureTime  string
	PassTime       string
	Platform       string
	Activities     string
}

func validateStops(stops []ScheduleStop) error {
	if len(stops) == 0 {
		return errors.New("store: schedule must have at least one stop")
	}
	sawOrigin, sawTerminus := false, false
	for i, s := range stops {
		if s.Sequence != i {
			return fmt.Errorf("store: stop sequence must be dense and increasing, got %d at position %d", s.Sequence, i)
		}
		switch s.StopType {
		case StopOrigin:
			if s.DepartureTime == "" {
				return errors.New("store: origin stop must have a departure_time")
			}
			if sawOrigin {
				return errors.New("store: schedule must have exactly one origin and one terminus")
			}
			sawOrigin = true
		case StopTerminus:
			if s.ArrivalTime == "" {
				return errors.New("store: terminus stop must have an arrival_time")
			}
			if sawTerminus {
				return errors.New("store: schedule must have exactly one origin and one terminus")
			}
			sawTerminus = true
		case StopIntermediate:
			if s.ArrivalTime == "" && s.DepartureTime == "" {
				return errors.New("store: intermediate stop must have an arrival_time or departure_time")
			}
		case StopPass:
			if s.PassTime == "" {
				return errors.New("store: pass stop must have a pass_time")
			}
		default:
			return fmt.Errorf("store: unrecognized stop_type %q", s.StopType)
		}
	}
	if !sawOrigin || !sawTerminus {
		return errors.New("store: schedule must have exactly one origin and one terminus")
	}
	return nil
}

// PutSchedule atomically inserts or replaces a Schedule and its stops.
// STP semantics are applied at resolution time (ResolveSchedule /
// IterSchedulesActiveOn), not at write time: this call only persists the
// record, keyed uniquely by (train_uid, start_date, stp_indicator).
func PutSchedule(node sqalx.Node, sch Schedule, stops []ScheduleStop) error {
	if sch.StartDate.After(sch.EndDate) {
		return errors.New("store: PutSchedule: start_date must not be after end_date")
	}
	if err := validateStops(stops); err != nil {
		return err
	}

	tx, err := node.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if sch.ScheduleID == "" {
		sch.ScheduleID = fmt.Sprintf("%s-%s-%s", sch.TrainUID, sch.StartDate.String(), sch.STPIndicator)
	}

	_, err = sdb.Insert("schedule").
		Columns("schedule_id", "train_uid", "headcode", "operator_code", "service_type",
			"start_date", "end_date", "days_run", "stp_indicator",
			"speed", "class", "sleepers", "reservations", "catering").
		Values(sch.ScheduleID, sch.TrainUID, nullString(sch.Headcode), nullString(sch.OperatorCode), string(sch.ServiceType),
			sch.StartDate.String(), sch.EndDate.String(), sch.DaysRun.String(), string(sch.STPIndicator),
			sch.Speed, nullString(sch.Class), nullString(sch.Sleepers), nullString(sch.Reservations), nullString(sch.Catering)).
		Suffix(`ON CONFLICT (schedule_id) DO UPDATE SET
			headcode = excluded.headcode, operator_code = excluded.operator_code, service_type = excluded.service_type,
			start_date = excluded.start_date, end_date = excluded.end_date, days_run = excluded.days_run,
			speed = excluded.speed, class = excluded.class, sleepers = excluded.sleepers,
			reservations = excluded.reservations, catering = excluded.catering`).
		RunWith(tx).Exec()
	if err != nil {
		return fmt.Errorf("store: PutSchedule: %w", err)
	}

	_, err = sdb.Delete("schedule_stop").Where(sq.Eq{"schedule_id": sch.ScheduleID}).RunWith(tx).Exec()
	if err != nil {
		return fmt.Errorf("store: PutSchedule: clearing stops: %w", err)
	}

	insert := sdb.Insert("schedule_stop").
		Columns("schedule_id", "sequence", "tiploc", "stop_type", "arrival_time", "departure_time", "pass_time", "platform", "activities")
	for _, s := range stops {
		insert = insert.Values(sch.ScheduleID, s.Sequence, s.Tiploc, string(s.StopType),
			nullString(s.ArrivalTime), nullString(s.DepartureTime), nullString(s.PassTime),
			nullString(s.Platform), nullString(s.Activities))
	}
	if _, err := insert.RunWith(tx).Exec(); err != nil {
		return fmt.Errorf("store: PutSchedule: inserting stops: %w", err)
	}

	return tx.Commit()
}

func scanSchedules(rows *sql.Rows) ([]Schedule, error) {
	var out []Schedule
	for rows.Next() {
		var sch Schedule
		var headcode, operator, class, sleepers, reservations, catering sql.NullString
		var startDate, endDate, daysRun, stpIndicator, serviceType string
		err := rows.Scan(&sch.ScheduleID, &sch.TrainUID, &headcode, &operator, &serviceType,
			&startDate, &endDate, &daysRun, &stpIndicator,
			&sch.Speed, &class, &sleepers, &reservations, &catering)
		if err != nil {
			return nil, err
		}
		sch.Headcode, sch.OperatorCode, sch.Class, sch.Sleepers, sch.Reservations, sch.Catering =
			headcode.String, operator.String, class.String, sleepers.String, reservations.String, catering.String
		sch.ServiceType = ServiceType(serviceType)
		sch.STPIndicator = STPIndicator(stpIndicator)
		sch.StartDate, err = date.Parse("2006-01-02", startDate)
		if err != nil {
			return nil, fmt.Errorf("store: parsing start_date: %w", err)
		}
		sch.EndDate, err = date.Parse("2006-01-02", endDate)
		if err != nil {
			return nil, fmt.Errorf("store: parsing end_date: %w", err)
		}
		sch.DaysRun, err = ParseDaysRun(daysRun)
		if err != nil {
			return nil, err
		}
		out = append(out, sch)
	}
	return out, rows.Err()
}

var scheduleColumns = []string{"schedule_id", "train_uid", "headcode", "operator_code", "service_type",
	"start_date", "end_date", "days_run", "stp_indicator", "speed", "class", "sleepers", "reservations", "catering"}

// ResolveSchedule finds the Schedule for trainUID active on serviceDate,
// applying STP precedence cancelled > overlay > new > permanent. Returns
// ErrNotFound if no schedule resolves (including when a cancelled overlay
// suppresses an otherwise-matching permanent schedule).
func ResolveSchedule(node sqalx.Node, trainUID string, serviceDate date.Date) (Schedule, error) {
	tx, err := node.Beginx()
	if err != nil {
		return Schedule{}, err
	}
	defer tx.Commit() // read-only tx

	rows, err := sdb.Select(scheduleColumns...).From("schedule").
		Where(sq.Eq{"train_uid": trainUID}).
		Where(sq.LtOrEq{"start_date": serviceDate.String()}).
		Where(sq.GtOrEq{"end_date": serviceDate.String()}).
		RunWith(tx).Query()
	if err != nil {
		return Schedule{}, fmt.Errorf("store: ResolveSchedule: %w", err)
	}
	defer rows.Close()

	candidates, err := scanSchedules(rows)
	if err != nil {
		return Schedule{}, fmt.Errorf("store: ResolveSchedule: %w", err)
	}

	var best *Schedule
	for i := range candidates {
		sch := candidates[i]
		if !sch.DaysRun.RunsOn(serviceDate) {
			continue
		}
		if best == nil || stpPrecedence[sch.STPIndicator] < stpPrecedence[best.STPIndicator] {
			best = &sch
		}
	}
	if best == nil || best.STPIndicator == STPCancelled {
		return Schedule{}, ErrNotFound
	}
	return *best, nil
}

// GetStops returns the stops of scheduleID, strictly ordered by sequence.
func GetStops(node sqalx.Node, scheduleID string) ([]ScheduleStop, error) {
	tx, err := node.Beginx()
	if err != nil {
		return nil, err
	}
	defer tx.Commit() // read-only tx

	rows, err := sdb.Select("schedule_id", "sequence", "tiploc", "stop_type", "arrival_time", "departure_time", "pass_time", "platform", "activities").
		From("schedule_stop").
		Where(sq.Eq{"schedule_id": scheduleID}).
		OrderBy("sequence ASC").
		RunWith(tx).Query()
	if err != nil {
		return nil, fmt.Errorf("store: GetStops: %w", err)
	}
	defer rows.Close()

	var stops []ScheduleStop
	for rows.Next() {
		var s ScheduleStop
		var arrival, departure, pass, platform, activities sql.NullString
		var stopType string
		if err := rows.Scan(&s.ScheduleID, &s.Sequence, &s.Tiploc, &stopType, &arrival, &departure, &pass, &platform, &activities); err != nil {
			return nil, fmt.Errorf("store: GetStops: %w", err)
		}
		s.StopType = StopType(stopType)
		s.ArrivalTime, s.DepartureTime, s.PassTime, s.Platform, s.Activities =
			arrival.String, departure.String, pass.String, platform.String, activities.String
		stops = append(stops, s)
	}
	return stops, rows.Err()
}

// IterSchedulesActiveOn returns every Schedule active on d, honouring
// days_run, the date range, and STP overlay precedence: for each train_uid
// only the highest-precedence non-cancelled schedule active on d is
// included.
func IterSchedulesActiveOn(node sqalx.Node, d date.Date) ([]Schedule, error) {
	tx, err := node.Beginx()
	if err != nil {
		return nil, err
	}
	defer tx.Commit() // read-only tx

	rows, err := sdb.Select(scheduleColumns...).From("schedule").
		Where(sq.LtOrEq{"start_date": d.String()}).
		Where(sq.GtOrEq{"end_date": d.String()}).
		RunWith(tx).Query()
	if err != nil {
		return nil, fmt.Errorf("store: IterSchedulesActiveOn: %w", err)
	}
	defer rows.Close()

	candidates, err := scanSchedules(rows)
	if err != nil {
		return nil, fmt.Errorf("store: IterSchedulesActiveOn: %w", err)
	}

	byUID := map[string]Schedule{}
	for _, sch := range candidates {
		if !sch.DaysRun.RunsOn(d) {
			continue
		}
		cur, ok := byUID[sch.TrainUID]
		if !ok || stpPrecedence[sch.STPIndicator] < stpPrecedence[cur.STPIndicator] {
			byUID[sch.TrainUID] = sch
		}
	}

	var out []Schedule
	for _, sch := range byUID {
		if sch.STPIndicator != STPCancelled {
			out = append(out, sch)
		}
	}
	return out, nil
}

// overlapSpan returns the number of whole days during which two schedules'
// [start_date, end_date] windows are both in effect, or ok=false if they
// don't overlap at all. Grounded on types/line.go's timespan.Intersection
// use for schedule-window overlap, applied here to flag same-train_uid
// schedules whose active windows overlap without a clear STP precedence
// relationship (same stp_indicator), which FindOverlappingSTP reports;
// PutSchedule still persists such schedules, leaving precedence resolution
// to ResolveSchedule as usual.
func overlapSpan(a, b Schedule) (days int, ok bool) {
	dayDuration := 24 * time.Hour
	aStart, aEnd := a.StartDate.UTC(), a.EndDate.UTC().Add(dayDuration)
	bStart, bEnd := b.StartDate.UTC(), b.EndDate.UTC().Add(dayDuration)

	span1 := timespan.New(aStart, aEnd.Sub(aStart))
	span2 := timespan.New(bStart, bEnd.Sub(bStart))

	overlap, hasOverlap := span1.Intersection(span2)
	if !hasOverlap {
		return 0, false
	}
	return int(overlap.Duration() / dayDuration), true
}

// OverlapWarning flags two schedules of the same train_uid and STP
// precedence whose active windows overlap, which ResolveSchedule resolves
// arbitrarily (by database row order) since stpPrecedence ties give no
// further signal. Surfaced for operator review rather than failing import.
type OverlapWarning struct {
	ScheduleA  string
	ScheduleB  string
	DaysOfYear int
}

// FindOverlappingSTP reports same-precedence schedule pairs for trainUID
// whose [start_date, end_date] windows overlap.
func FindOverlappingSTP(node sqalx.Node, trainUID string) ([]OverlapWarning, error) {
	tx, err := node.Beginx()
	if err != nil {
		return nil, err
	}
	defer tx.Commit() // read-only tx

	rows, err := sdb.Select(scheduleColumns...).From("schedule").
		Where(sq.Eq{"train_uid": trainUID}).
		RunWith(tx).Query()
	if err != nil {
		return nil, fmt.Errorf("store: FindOverlappingSTP: %w", err)
	}
	defer rows.Close()

	candidates, err := scanSchedules(rows)
	if err != nil {
		return nil, fmt.Errorf("store: FindOverlappingSTP: %w", err)
	}

	var warnings []OverlapWarning
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			a, b := candidates[i], candidates[j]
			if a.STPIndicator != b.STPIndicator {
				continue
			}
			if days, ok := overlapSpan(a, b); ok {
				warnings = append(warnings, OverlapWarning{ScheduleA: a.ScheduleID, ScheduleB: b.ScheduleID, DaysOfYear: days})
			}
		}
	}
	return warnings, nil
}

// DeriveServiceDate extracts the leading YYYYMMDD segment of a push-port
// RID, per the RID-to-schedule derivation rule (spec.md §4.E).
func DeriveServiceDate(rid string) (date.Date, bool) {
	if len(rid) < 8 {
		return date.Date{}, false
	}
	y, err1 := strconv.Atoi(rid[0:4])
	m, err2 := strconv.Atoi(rid[4:6])
	d, err3 := strconv.Atoi(rid[6:8])
	if err1 != nil || err2 != nil || err3 != nil {
		return date.Date{}, false
	}
	return date.New(y, time.Month(m), d), true
}

package adapters

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rickb777/date"

	"github.com/gbl08ma/darwincancel/store"
)

// ScheduleRecord is one train emitted by the schedule (CIF-like) adapter:
// a Schedule plus its ordered ScheduleStops, ready for store.PutSchedule.
type ScheduleRecord struct {
	Schedule store.Schedule
	Stops    []store.ScheduleStop
}

// stpIndicatorCodes maps the source C/N/O/P letters to the store's enum, at
// the adapter boundary, so higher layers never see source-specific codes
// (spec.md §9).
var stpIndicatorCodes = map[byte]store.STPIndicator{
	'C': store.STPCancelled,
	'O': store.STPOverlay,
	'N': store.STPNew,
	'P': store.STPPermanent,
}

// ParseSchedules parses a CIF-like schedule file into one ScheduleRecord per
// "BS" (basic schedule) block. A block runs from a BS line to the next BS
// line or end of file; LO/LI/LT lines within it are its stops (CR lines are
// skipped), BX its operator code. Lines outside a recognized record type, and malformed
// records within a block, are skipped and counted in the ParseReport.
func ParseSchedules(data []byte) ([]ScheduleRecord, ParseReport) {
	var report ParseReport
	var records []ScheduleRecord

	var cur *scheduleBuilder
	flush := func() {
		if cur == nil {
			return
		}
		rec, err := cur.build()
		if err != nil {
			report.fail(cur.startLine, err)
		} else {
			records = append(records, rec)
			report.RecordCount++
		}
		cur = nil
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if len(line) < 2 {
			continue
		}
		recType := line[0:2]
		switch recType {
		case "HD", "TI", "TA", "TD", "ZZ":
			continue // header/trailer/tiploc-insert records, not schedules
		case "BS":
			flush()
			cur = newScheduleBuilder(lineNum)
			if err := cur.applyBS(line); err != nil {
				report.fail(lineNum, err)
				cur = nil
			}
		case "BX":
			if cur != nil {
				cur.applyBX(line)
			}
		case "LO":
			if cur != nil {
				if err := cur.addLocation(line, store.StopOrigin); err != nil {
					report.fail(lineNum, err)
				}
			}
		case "LI":
			if cur != nil {
				if err := cur.addIntermediate(line); err != nil {
					report.fail(lineNum, err)
				}
			}
		case "LT":
			if cur != nil {
				if err := cur.addLocation(line, store.StopTerminus); err != nil {
					report.fail(lineNum, err)
				}
			}
		case "CR":
			continue // change-en-route: not modeled, per spec.md's logical-shape-only scope
		default:
			report.fail(lineNum, fmt.Errorf("unrecognized record type %q", recType))
		}
	}
	flush()

	return records, report
}

type scheduleBuilder struct {
	startLine int
	sch       store.Schedule
	stops     []store.ScheduleStop
	bsSeen    bool
}

func newScheduleBuilder(line int) *scheduleBuilder {
	return &scheduleBuilder{startLine: line}
}

// field-offset layout below follows the publicly documented ATOC CIF BS/BX/
// LO/LI/LT record shapes; spec.md §1 fixes only the logical record this
// adapter must produce, not this byte table.
func (b *scheduleBuilder) applyBS(line string) error {
	if len(line) < 80 {
		return fmt.Errorf("BS record too short (%d bytes)", len(line))
	}
	uid := strings.TrimSpace(line[3:9])
	if uid == "" {
		return fmt.Errorf("BS record has empty train UID")
	}
	startDate, err := parseCIFDate(line[9:15])
	if err != nil {
		return fmt.Errorf("BS start date: %w", err)
	}
	endDate, err := parseCIFDate(line[15:21])
	if err != nil {
		return fmt.Errorf("BS end date: %w", err)
	}
	daysRunStr := line[21:28]
	daysRun, err := store.ParseDaysRun(daysRunStr)
	if err != nil {
		return fmt.Errorf("BS days run: %w", err)
	}
	statusCode := line[29]
	headcode := strings.TrimSpace(line[32:36])
	stp := stpIndicatorCodes[line[79]]
	if stp == "" {
		return fmt.Errorf("BS record has unrecognized STP indicator %q", string(line[79]))
	}
	speed := 0
	if s := strings.TrimSpace(line[53:56]); s != "" {
		speed, _ = strconv.Atoi(s)
	}

	b.sch = store.Schedule{
		TrainUID:     uid,
		Headcode:     headcode,
		ServiceType:  cifServiceType(statusCode),
		StartDate:    startDate,
		EndDate:      endDate,
		DaysRun:      daysRun,
		STPIndicator: stp,
		Speed:        speed,
		Class:        strings.TrimSpace(line[62:63]),
		Sleepers:     strings.TrimSpace(line[63:64]),
		Reservations: strings.TrimSpace(line[64:65]),
		Catering:     strings.TrimSpace(line[66:70]),
	}
	b.bsSeen = true
	return nil
}

func cifServiceType(status byte) store.ServiceType {
	switch status {
	case 'F', 'J', 'S': // freight, ship-arranged freight, STP freight
		return store.ServiceFreight
	case 'B', 'P': // bus/passenger
		return store.ServicePassenger
	default:
		return store.ServiceOther
	}
}

func (b *scheduleBuilder) applyBX(line string) {
	if len(line) < 13 {
		return
	}
	b.sch.OperatorCode = strings.TrimSpace(line[11:13])
}

func (b *scheduleBuilder) addLocation(line string, stopType store.StopType) error {
	if len(line) < 15 {
		return fmt.Errorf("%s record too short (%d bytes)", line[0:2], len(line))
	}
	tiploc := strings.TrimSpace(line[2:9])
	if tiploc == "" {
		return fmt.Errorf("%s record has empty tiploc", line[0:2])
	}
	stop := store.ScheduleStop{
		Sequence: len(b.stops),
		Tiploc:   tiploc,
		StopType: stopType,
	}
	switch stopType {
	case store.StopOrigin:
		stop.DepartureTime = parseCIFTime(line[10:14])
		if len(line) >= 19 {
			stop.Platform = strings.TrimSpace(line[15:18])
		}
		if stop.DepartureTime == "" {
			return fmt.Errorf("LO record has no departure time")
		}
	case store.StopTerminus:
		stop.ArrivalTime = parseCIFTime(line[10:14])
		if len(line) >= 19 {
			stop.Platform = strings.TrimSpace(line[15:18])
		}
		if stop.ArrivalTime == "" {
			return fmt.Errorf("LT record has no arrival time")
		}
	}
	b.stops = append(b.stops, stop)
	return nil
}

func (b *scheduleBuilder) addIntermediate(line string) error {
	if len(line) < 22 {
		return fmt.Errorf("LI record too short (%d bytes)", len(line))
	}
	tiploc := strings.TrimSpace(line[2:9])
	if tiploc == "" {
		return fmt.Errorf("LI record has empty tiploc")
	}
	arrival := parseCIFTime(line[10:14])
	departure := parseCIFTime(line[14:18])
	pass := parseCIFTime(line[18:22])

	stop := store.ScheduleStop{
		Sequence: len(b.stops),
		Tiploc:   tiploc,
	}
	if len(line) >= 27 {
		stop.Platform = strings.TrimSpace(line[24:27])
	}
	switch {
	case pass != "" && arrival == "" && departure == "":
		stop.StopType = store.StopPass
		stop.PassTime = pass
	case arrival != "" || departure != "":
		stop.StopType = store.StopIntermediate
		stop.ArrivalTime = arrival
		stop.DepartureTime = departure
	default:
		return fmt.Errorf("LI record has neither pass nor arrival/departure time")
	}
	b.stops = append(b.stops, stop)
	return nil
}

func (b *scheduleBuilder) build() (ScheduleRecord, error) {
	if !b.bsSeen {
		return ScheduleRecord{}, fmt.Errorf("no BS record in block")
	}
	if len(b.stops) < 2 {
		return ScheduleRecord{}, fmt.Errorf("schedule %s has fewer than 2 stops", b.sch.TrainUID)
	}
	b.stops[0].StopType = store.StopOrigin
	b.stops[len(b.stops)-1].StopType = store.StopTerminus
	return ScheduleRecord{Schedule: b.sch, Stops: b.stops}, nil
}

// parseCIFDate parses a 6-character YYMMDD field, pivoting years 00-59 to
// the 2000s and 60-99 to the 1900s, the standard CIF convention.
func parseCIFDate(s string) (date.Date, error) {
	if len(s) != 6 {
		return date.Date{}, fmt.Errorf("date field must be 6 chars, got %q", s)
	}
	yy, err := strconv.Atoi(s[0:2])
	if err != nil {
		return date.Date{}, err
	}
	mm, err := strconv.Atoi(s[2:4])
	if err != nil {
		return date.Date{}, err
	}
	dd, err := strconv.Atoi(s[4:6])
	if err != nil {
		return date.Date{}, err
	}
	year := 2000 + yy
	if yy >= 60 {
		year = 1900 + yy
	}
	return date.New(year, time.Month(mm), dd), nil
}

// parseCIFTime parses a 4-digit HHMM field into "HH:MM", or "" if blank.
func parseCIFTime(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = strings.TrimSuffix(s, "H") // half-minute marker, not modeled at minute granularity
	if len(s) != 4 {
		return ""
	}
	return s[0:2] + ":" + s[2:4]
}

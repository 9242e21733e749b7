package adapters

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/gbl08ma/darwincancel/store"
)

// ConnectionRecord is one connection emitted by the connection (ALF-like)
// adapter.
type ConnectionRecord struct {
	Connection store.Connection
}

// ParseConnections parses an ALF-like additional-fixed-link file, accepting
// both variants the source material exhibits (spec.md §4.B): the key=value
// line grammar (`M=WALK,O=AFK,D=ASI,T=5,...`, per
// _examples/original_source/timetable_importer.py's _parse_alf_line) and a
// legacy fixed-width record starting "ALF". Per spec.md §9's Open
// Questions, the canonical field set for non-walk (interchange) metadata —
// e.g. platform-level detail — is not documented in the source and is left
// out here; only {from, to, mode, duration} are populated. The validity
// window is not read from either variant, so ValidFrom/ValidTo stay zero.
func ParseConnections(data []byte) ([]ConnectionRecord, ParseReport) {
	var report ParseReport
	var records []ConnectionRecord

	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "/") {
			continue
		}

		var rec ConnectionRecord
		var err error
		switch {
		case strings.Contains(line, "="):
			rec, err = parseALFKeyValue(line)
		case strings.HasPrefix(line, "ALF"):
			rec, err = parseALFFixedWidth(line)
		default:
			err = fmt.Errorf("line matches neither ALF variant")
		}
		if err != nil {
			report.fail(lineNum, err)
			continue
		}
		records = append(records, rec)
		report.RecordCount++
	}
	return records, report
}

// parseALFKeyValue parses the "M=WALK,O=AFK,D=ASI,T=5,S=0001,E=2359" form.
func parseALFKeyValue(line string) (ConnectionRecord, error) {
	fields := map[string]string{}
	for _, part := range strings.Split(line, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		fields[strings.ToUpper(strings.TrimSpace(kv[0]))] = strings.TrimSpace(kv[1])
	}

	from, to := fields["O"], fields["D"]
	if from == "" || to == "" {
		return ConnectionRecord{}, fmt.Errorf("ALF key=value record missing O= or D=")
	}
	mode, err := parseALFMode(fields["M"])
	if err != nil {
		return ConnectionRecord{}, err
	}
	duration := 5
	if t, ok := fields["T"]; ok {
		if n, err := strconv.Atoi(t); err == nil {
			duration = n
		}
	}

	c := store.Connection{
		FromTiploc:      strings.ToUpper(from),
		ToTiploc:        strings.ToUpper(to),
		Mode:            mode,
		DurationMinutes: duration,
	}
	return ConnectionRecord{Connection: c}, nil
}

// parseALFFixedWidth parses the legacy fixed-width variant: record marker
// "ALF" (3), origin tiploc (7), destination tiploc (7), mode code (1,
// 'W'=walk, anything else=interchange), duration in minutes (2 digits).
func parseALFFixedWidth(line string) (ConnectionRecord, error) {
	if len(line) < 19 {
		return ConnectionRecord{}, fmt.Errorf("ALF fixed-width record too short (%d bytes)", len(line))
	}
	from := strings.TrimSpace(line[3:10])
	to := strings.TrimSpace(line[10:17])
	if from == "" || to == "" {
		return ConnectionRecord{}, fmt.Errorf("ALF fixed-width record has empty tiploc")
	}
	modeCode := line[17]
	mode := store.ConnectionInterchange
	if modeCode == 'W' || modeCode == 'w' {
		mode = store.ConnectionWalk
	}
	durationStr := strings.TrimSpace(line[18:])
	duration, err := strconv.Atoi(durationStr)
	if err != nil {
		return ConnectionRecord{}, fmt.Errorf("ALF fixed-width record has invalid duration %q", durationStr)
	}

	c := store.Connection{
		FromTiploc:      strings.ToUpper(from),
		ToTiploc:        strings.ToUpper(to),
		Mode:            mode,
		DurationMinutes: duration,
	}
	return ConnectionRecord{Connection: c}, nil
}

func parseALFMode(raw string) (store.ConnectionMode, error) {
	switch strings.ToUpper(raw) {
	case "", "WALK", "W":
		return store.ConnectionWalk, nil
	case "INTERCHANGE", "TRANSFER", "I":
		return store.ConnectionInterchange, nil
	default:
		return "", fmt.Errorf("ALF record has unrecognized mode %q", raw)
	}
}

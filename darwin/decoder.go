// Package darwin decodes Darwin push-port frames, recognizing only the
// cancellation-relevant subset of the feed's documented XML dialect; every
// other message is counted and dropped (spec.md §4.E). The struct-tag
// decoding style (encoding/xml with path-shaped tags like
// "trainServices>service") is grounded on
// other_examples/kristianJW54-GWR-Project__models.go, which decodes the
// same National Rail XML family (LDBWS SOAP) rather than the push-port feed
// itself, since no push-port sample exists anywhere in the retrieved pack.
package darwin

import (
	"encoding/xml"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	cedar "github.com/iohub/ahocorasick"
)

// cancellationMarkers are the element names that can only appear on a
// frame carrying a cancellation; a frame whose raw bytes contain none of
// them cannot decode to any DecodedEvent, so the matcher lets Decode skip
// the (much costlier) full XML unmarshal for the bulk of push-port
// traffic, which is ordinary non-cancellation status updates. Grounded on
// discordbot/info.go's cedar.Matcher keyword-trigger scan, the only use of
// this dependency anywhere in the retrieved pack.
var cancellationMarkers = []string{"cancelledSchedule", "cancelReason"}

func newCancellationMatcher() *cedar.Matcher {
	m := cedar.NewMatcher()
	for _, marker := range cancellationMarkers {
		m.Insert([]byte(marker), marker)
	}
	m.Compile()
	return m
}

// pportMessage is the decoder's view of one push-port <Pport> envelope. It
// models the subset of the documented schema relevant to cancellations:
// a schedule-level deactivation/cancellation, and a per-location "cancelled
// call" marker on an otherwise ordinary train status update.
type pportMessage struct {
	XMLName xml.Name `xml:"Pport"`
	UR      struct {
		Schedule []struct {
			RID                string `xml:"rid,attr"`
			UID                string `xml:"uid,attr"`
			TrainServiceCode   string `xml:"trainId,attr"`
			CancelledSchedule  *struct {
				ReasonCode string `xml:"reasonCode,attr"`
				ReasonText string `xml:",chardata"`
			} `xml:"cancelledSchedule"`
		} `xml:"schedule"`
		TS []struct {
			RID              string `xml:"rid,attr"`
			TrainServiceCode string `xml:"uid,attr"`
			Cancellation     *struct {
				ReasonCode string `xml:"reasonCode,attr"`
				ReasonText string `xml:",chardata"`
			} `xml:"cancelReason"`
		} `xml:"TS"`
	} `xml:"uR"`
}

// DecodedEvent is a decoded cancellation, ready for Enrichment.
type DecodedEvent struct {
	RID              string
	TrainServiceCode string
	ReasonCode       string
	ReasonText       string
	ReceivedAt       time.Time
}

// Stats are atomically updated decode counters.
type Stats struct {
	DecodedTotal       int64
	CancellationsTotal int64
	NonCancellations   int64
	MalformedTotal     int64
}

// Decoder classifies and decodes raw push-port frame bodies.
type Decoder struct {
	stats   Stats
	matcher *cedar.Matcher
	// Clock allows tests to control ReceivedAt; defaults to time.Now.
	Clock func() time.Time
}

// New returns a ready Decoder.
func New() *Decoder {
	return &Decoder{Clock: time.Now, matcher: newCancellationMatcher()}
}

// Stats returns a snapshot of the decode counters.
func (d *Decoder) Stats() Stats {
	return Stats{
		DecodedTotal:       atomic.LoadInt64(&d.stats.DecodedTotal),
		CancellationsTotal: atomic.LoadInt64(&d.stats.CancellationsTotal),
		NonCancellations:   atomic.LoadInt64(&d.stats.NonCancellations),
		MalformedTotal:     atomic.LoadInt64(&d.stats.MalformedTotal),
	}
}

// Decode parses one raw push-port frame body and returns zero or more
// cancellation events. Malformed or unrecognized frames are counted and
// dropped, never erroring the pipeline (spec.md §7, Decode error class).
func (d *Decoder) Decode(raw []byte) []DecodedEvent {
	atomic.AddInt64(&d.stats.DecodedTotal, 1)

	if d.matcher != nil && !d.matcher.Match(raw).HasNext() {
		atomic.AddInt64(&d.stats.NonCancellations, 1)
		return nil
	}

	var msg pportMessage
	if err := xml.Unmarshal(raw, &msg); err != nil {
		atomic.AddInt64(&d.stats.MalformedTotal, 1)
		return nil
	}

	now := d.Clock()
	var events []DecodedEvent

	for _, s := range msg.UR.Schedule {
		if s.CancelledSchedule == nil {
			continue
		}
		events = append(events, DecodedEvent{
			RID:              s.RID,
			TrainServiceCode: s.TrainServiceCode,
			ReasonCode:       s.CancelledSchedule.ReasonCode,
			ReasonText:       strings.TrimSpace(s.CancelledSchedule.ReasonText),
			ReceivedAt:       now,
		})
	}
	for _, ts := range msg.UR.TS {
		if ts.Cancellation == nil {
			continue
		}
		events = append(events, DecodedEvent{
			RID:              ts.RID,
			TrainServiceCode: ts.TrainServiceCode,
			ReasonCode:       ts.Cancellation.ReasonCode,
			ReasonText:       strings.TrimSpace(ts.Cancellation.ReasonText),
			ReceivedAt:       now,
		})
	}

	if len(events) == 0 {
		atomic.AddInt64(&d.stats.NonCancellations, 1)
		return nil
	}
	atomic.AddInt64(&d.stats.CancellationsTotal, int64(len(events)))
	return events
}

// ridPrefixLen is the combined width of a RID's YYYYMMDD service-date
// segment and the 4-digit per-operator sequence that follows it, per
// spec.md §4.E's worked example (rid=202512010000C12345 -> train_uid
// C12345): 8 date digits + 4 sequence digits precede the train_uid.
const ridPrefixLen = 12

// TrainUID extracts the train_uid segment of a RID, the part following the
// leading YYYYMMDD service-date and 4-digit sequence, per the RID-to-
// schedule derivation rule (spec.md §4.E). Returns ok=false if rid is too
// short to contain a uid segment.
func TrainUID(rid string) (uid string, ok bool) {
	if len(rid) <= ridPrefixLen {
		return "", false
	}
	return rid[ridPrefixLen:], true
}

// Validate reports a descriptive error if rid does not have the minimum
// shape (8-digit date prefix, 4-digit sequence, and a non-empty uid
// segment) required for enrichment to attempt resolution.
func Validate(rid string) error {
	if len(rid) <= ridPrefixLen {
		return fmt.Errorf("darwin: rid %q too short to contain a train_uid segment", rid)
	}
	for i := 0; i < ridPrefixLen; i++ {
		if rid[i] < '0' || rid[i] > '9' {
			return fmt.Errorf("darwin: rid %q does not start with an 8-digit date and 4-digit sequence", rid)
		}
	}
	return nil
}

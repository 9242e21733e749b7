package darwin

import (
	"testing"
	"time"
)

const scheduleCancelFrame = `<Pport><uR><schedule rid="202603010000A12345" uid="A12345" trainId="1A23">
<cancelledSchedule reasonCode="REASON01">Signal failure at Paddington</cancelledSchedule>
</schedule></uR></Pport>`

const tsCancelFrame = `<Pport><uR><TS rid="202603010001B98765" uid="B98765">
<cancelReason reasonCode="REASON02">Fleet issue</cancelReason>
</TS></uR></Pport>`

const ordinaryFrame = `<Pport><uR><TS rid="202603010002C11111" uid="C11111"></TS></uR></Pport>`

// malformedFrame still contains a cancellation marker so it reaches the XML
// unmarshal step (rather than being short-circuited by the Aho-Corasick
// pre-filter as an ordinary non-cancellation frame), exercising the
// MalformedTotal counting path specifically.
const malformedFrame = `<Pport><uR><schedule cancelledSchedule not valid xml`

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestDecodeScheduleCancellation(t *testing.T) {
	d := New()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d.Clock = fixedClock(now)

	events := d.Decode([]byte(scheduleCancelFrame))
	if len(events) != 1 {
		t.Fatalf("expected 1 decoded event, got %d", len(events))
	}
	ev := events[0]
	if ev.RID != "202603010000A12345" {
		t.Errorf("unexpected RID: %q", ev.RID)
	}
	if ev.ReasonCode != "REASON01" {
		t.Errorf("unexpected reason code: %q", ev.ReasonCode)
	}
	if ev.ReceivedAt != now {
		t.Errorf("expected ReceivedAt to use injected clock")
	}
}

func TestDecodeTSCancellation(t *testing.T) {
	d := New()
	events := d.Decode([]byte(tsCancelFrame))
	if len(events) != 1 {
		t.Fatalf("expected 1 decoded event, got %d", len(events))
	}
	if events[0].ReasonText != "Fleet issue" {
		t.Errorf("unexpected reason text: %q", events[0].ReasonText)
	}
}

func TestDecodeOrdinaryFrameDropped(t *testing.T) {
	d := New()
	events := d.Decode([]byte(ordinaryFrame))
	if events != nil {
		t.Fatalf("expected no events for a non-cancellation frame, got %+v", events)
	}
	stats := d.Stats()
	if stats.NonCancellations != 1 {
		t.Errorf("expected NonCancellations=1, got %d", stats.NonCancellations)
	}
}

func TestDecodeMalformedFrame(t *testing.T) {
	d := New()
	events := d.Decode([]byte(malformedFrame))
	if events != nil {
		t.Fatalf("expected no events for a malformed frame, got %+v", events)
	}
	stats := d.Stats()
	if stats.MalformedTotal != 1 {
		t.Errorf("expected MalformedTotal=1, got %d", stats.MalformedTotal)
	}
}

func TestDecodeStatsAccumulate(t *testing.T) {
	d := New()
	d.Decode([]byte(scheduleCancelFrame))
	d.Decode([]byte(ordinaryFrame))
	d.Decode([]byte(malformedFrame))

	stats := d.Stats()
	if stats.DecodedTotal != 3 {
		t.Errorf("expected DecodedTotal=3, got %d", stats.DecodedTotal)
	}
	if stats.CancellationsTotal != 1 {
		t.Errorf("expected CancellationsTotal=1, got %d", stats.CancellationsTotal)
	}
}

func TestTrainUID(t *testing.T) {
	uid, ok := TrainUID("202512010000C12345")
	if !ok || uid != "C12345" {
		t.Errorf("expected uid C12345, got %q (ok=%v)", uid, ok)
	}

	if _, ok := TrainUID("2026030112"); ok {
		t.Errorf("expected ok=false for a rid too short to have a uid segment")
	}
}

func TestValidate(t *testing.T) {
	if err := Validate("202512010000C12345"); err != nil {
		t.Errorf("expected valid rid to pass, got %v", err)
	}
	if err := Validate("2026030112"); err == nil {
		t.Errorf("expected short rid to fail validation")
	}
}

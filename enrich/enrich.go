// Package enrich implements the Enrichment Engine: it takes a decoded
// cancellation event and assembles an ActiveCancellation by correlating the
// event's RID against the Schedule Store, projecting origin, destination and
// calling points, and filling in station names via the Station Resolver.
// Assembly-by-lookup (pull the owning record, then its children, across
// separate transactions) is grounded on dataobjects/disturbance.go's
// Line/Status assembly; the atomic failure-reason counters are grounded on
// the teacher's compute.StatsHandler counter style.
package enrich

import (
	"sync/atomic"
	"time"

	"github.com/gbl08ma/sqalx"
	"github.com/rickb777/date"

	"github.com/gbl08ma/darwincancel/darwin"
	"github.com/gbl08ma/darwincancel/resolver"
	"github.com/gbl08ma/darwincancel/store"
)

// FailureReason enumerates enrichment_failures_by_reason labels.
type FailureReason string

// Recognized failure reasons.
const (
	ReasonNoRID       FailureReason = "no_rid"
	ReasonNoSchedule  FailureReason = "no_schedule"
	ReasonAmbiguous   FailureReason = "ambiguous"
	ReasonStoreError  FailureReason = "store_error"
)

// Point is a single calling point in an enriched cancellation, shared shape
// for origin, destination, and intermediate calling points.
type Point struct {
	Tiploc      string
	StationName string
	Arrival     string
	Departure   string
	Platform    string
}

// ActiveCancellation is a decoded cancellation, optionally enriched with
// schedule context. Enriched fields are value copies taken at enrichment
// time; they carry no live linkage back to the Schedule Store.
type ActiveCancellation struct {
	RID              string
	TrainServiceCode string
	ReasonCode       string
	ReasonText       string
	ObservedAt       time.Time
	DarwinEnriched   bool

	TrainUID     string
	Headcode     string
	OperatorCode string
	ServiceDate  date.Date
	Origin       Point
	Destination  Point
	CallingPoints []Point
}

// Stats are the atomic counters the Enrichment Engine maintains.
type Stats struct {
	CancellationsTotal int64
	EnrichedTotal      int64
	FailNoRID          int64
	FailNoSchedule     int64
	FailAmbiguous      int64
	FailStoreError     int64
}

// Engine enriches DecodedEvents against a Schedule Store and Station
// Resolver. It is side-effect-free on the store: every call is a read.
type Engine struct {
	node     sqalx.Node
	resolver *resolver.Resolver
	stats    Stats
	// Clock allows tests to control ObservedAt; defaults to time.Now.
	Clock func() time.Time
}

// New returns an Engine ready to Enrich.
func New(node sqalx.Node, res *resolver.Resolver) *Engine {
	return &Engine{node: node, resolver: res, Clock: time.Now}
}

// Stats returns a snapshot of the enrichment counters.
func (e *Engine) Stats() Stats {
	return Stats{
		CancellationsTotal: atomic.LoadInt64(&e.stats.CancellationsTotal),
		EnrichedTotal:      atomic.LoadInt64(&e.stats.EnrichedTotal),
		FailNoRID:          atomic.LoadInt64(&e.stats.FailNoRID),
		FailNoSchedule:     atomic.LoadInt64(&e.stats.FailNoSchedule),
		FailAmbiguous:      atomic.LoadInt64(&e.stats.FailAmbiguous),
		FailStoreError:     atomic.LoadInt64(&e.stats.FailStoreError),
	}
}

// FailuresByReason returns the failure counters keyed by FailureReason, for
// the /cancellations/stats endpoint.
func (e *Engine) FailuresByReason() map[FailureReason]int64 {
	s := e.Stats()
	return map[FailureReason]int64{
		ReasonNoRID:      s.FailNoRID,
		ReasonNoSchedule: s.FailNoSchedule,
		ReasonAmbiguous:  s.FailAmbiguous,
		ReasonStoreError: s.FailStoreError,
	}
}

func (e *Engine) fail(reason FailureReason) {
	switch reason {
	case ReasonNoRID:
		atomic.AddInt64(&e.stats.FailNoRID, 1)
	case ReasonNoSchedule:
		atomic.AddInt64(&e.stats.FailNoSchedule, 1)
	case ReasonAmbiguous:
		atomic.AddInt64(&e.stats.FailAmbiguous, 1)
	case ReasonStoreError:
		atomic.AddInt64(&e.stats.FailStoreError, 1)
	}
}

// Enrich assembles an ActiveCancellation from a decoded event. It never
// mutates the Schedule Store, and never returns an error: an enrichment
// miss is a normal, counted outcome, recorded on the returned record's
// DarwinEnriched field.
func (e *Engine) Enrich(ev darwin.DecodedEvent) ActiveCancellation {
	atomic.AddInt64(&e.stats.CancellationsTotal, 1)

	ac := ActiveCancellation{
		RID:              ev.RID,
		TrainServiceCode: ev.TrainServiceCode,
		ReasonCode:       ev.ReasonCode,
		ReasonText:       ev.ReasonText,
		ObservedAt:       e.observedAt(ev),
	}

	if err := darwin.Validate(ev.RID); err != nil {
		e.fail(ReasonNoRID)
		return ac
	}
	uid, _ := darwin.TrainUID(ev.RID)
	serviceDate, ok := store.DeriveServiceDate(ev.RID)
	if !ok {
		e.fail(ReasonNoRID)
		return ac
	}

	sch, err := store.ResolveSchedule(e.node, uid, serviceDate)
	if err == store.ErrNotFound {
		e.fail(ReasonNoSchedule)
		return ac
	}
	if err != nil {
		e.fail(ReasonStoreError)
		return ac
	}

	stops, err := store.GetStops(e.node, sch.ScheduleID)
	if err != nil {
		e.fail(ReasonStoreError)
		return ac
	}
	if len(stops) < 2 {
		e.fail(ReasonAmbiguous)
		return ac
	}

	ac.TrainUID = sch.TrainUID
	ac.Headcode = sch.Headcode
	ac.OperatorCode = sch.OperatorCode
	ac.ServiceDate = serviceDate
	ac.DarwinEnriched = true

	first, last := stops[0], stops[len(stops)-1]
	ac.Origin = e.projectPoint(first.Tiploc, first.ArrivalTime, first.DepartureTime, first.Platform)
	ac.Destination = e.projectPoint(last.Tiploc, last.ArrivalTime, last.DepartureTime, last.Platform)
	for _, s := range stops[1 : len(stops)-1] {
		if s.StopType == store.StopPass {
			continue
		}
		ac.CallingPoints = append(ac.CallingPoints, e.projectPoint(s.Tiploc, s.ArrivalTime, s.DepartureTime, s.Platform))
	}

	atomic.AddInt64(&e.stats.EnrichedTotal, 1)
	return ac
}

func (e *Engine) projectPoint(tiploc, arrival, departure, platform string) Point {
	p := Point{Tiploc: tiploc, Arrival: arrival, Departure: departure, Platform: platform}
	if e.resolver == nil {
		return p
	}
	if st, ok := e.resolver.LookupStation(tiploc); ok {
		p.StationName = st.StationName
	}
	return p
}

func (e *Engine) observedAt(ev darwin.DecodedEvent) time.Time {
	if !ev.ReceivedAt.IsZero() {
		return ev.ReceivedAt
	}
	return e.Clock()
}

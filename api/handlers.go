package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gbl08ma/darwincancel/enrich"
)

// DefaultLimit and MaxLimit bound the limit query parameter, per spec.md
// §4.H.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

func parseLimit(r *http.Request) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return DefaultLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return DefaultLimit
	}
	if n > MaxLimit {
		return MaxLimit
	}
	return n
}

func parseSince(r *http.Request) time.Time {
	v := r.URL.Query().Get("since")
	if v == "" {
		return time.Unix(0, 0).UTC()
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Unix(0, 0).UTC()
	}
	return t
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// cancellationView is the JSON projection of enrich.ActiveCancellation.
type cancellationView struct {
	RID              string           `json:"rid"`
	TrainServiceCode string           `json:"train_service_code"`
	ReasonCode       string           `json:"reason_code"`
	ReasonText       string           `json:"reason_text"`
	ObservedAt       time.Time        `json:"observed_at"`
	DarwinEnriched   bool             `json:"darwin_enriched"`
	TrainUID         string           `json:"train_uid,omitempty"`
	Headcode         string           `json:"headcode,omitempty"`
	OperatorCode     string           `json:"operator_code,omitempty"`
	ServiceDate      string           `json:"service_date,omitempty"`
	Origin           *originView      `json:"origin,omitempty"`
	Destination      *destinationView `json:"destination,omitempty"`
	CallingPoints    []pointView      `json:"calling_points,omitempty"`
}

// pointView is the calling_points projection, keyed arrival/departure per
// spec.md §4.F.
type pointView struct {
	Tiploc      string `json:"tiploc"`
	StationName string `json:"station_name,omitempty"`
	Arrival     string `json:"arrival,omitempty"`
	Departure   string `json:"departure,omitempty"`
	Platform    string `json:"platform,omitempty"`
}

// originView is the origin projection: {tiploc, station_name?,
// scheduled_departure, platform?} per spec.md §4.F.
type originView struct {
	Tiploc             string `json:"tiploc"`
	StationName        string `json:"station_name,omitempty"`
	ScheduledDeparture string `json:"scheduled_departure,omitempty"`
	Platform           string `json:"platform,omitempty"`
}

// destinationView is the destination projection: {tiploc, station_name?,
// scheduled_arrival, platform?} per spec.md §4.F.
type destinationView struct {
	Tiploc           string `json:"tiploc"`
	StationName      string `json:"station_name,omitempty"`
	ScheduledArrival string `json:"scheduled_arrival,omitempty"`
	Platform         string `json:"platform,omitempty"`
}

func toPointView(p enrich.Point) pointView {
	return pointView{
		Tiploc:      p.Tiploc,
		StationName: p.StationName,
		Arrival:     p.Arrival,
		Departure:   p.Departure,
		Platform:    p.Platform,
	}
}

func toOriginView(p enrich.Point) originView {
	return originView{
		Tiploc:             p.Tiploc,
		StationName:        p.StationName,
		ScheduledDeparture: p.Departure,
		Platform:           p.Platform,
	}
}

func toDestinationView(p enrich.Point) destinationView {
	return destinationView{
		Tiploc:           p.Tiploc,
		StationName:      p.StationName,
		ScheduledArrival: p.Arrival,
		Platform:         p.Platform,
	}
}

func toView(ac enrich.ActiveCancellation) cancellationView {
	v := cancellationView{
		RID:              ac.RID,
		TrainServiceCode: ac.TrainServiceCode,
		ReasonCode:       ac.ReasonCode,
		ReasonText:       ac.ReasonText,
		ObservedAt:       ac.ObservedAt,
		DarwinEnriched:   ac.DarwinEnriched,
	}
	if !ac.DarwinEnriched {
		return v
	}
	v.TrainUID = ac.TrainUID
	v.Headcode = ac.Headcode
	v.OperatorCode = ac.OperatorCode
	v.ServiceDate = ac.ServiceDate.String()
	origin := toOriginView(ac.Origin)
	dest := toDestinationView(ac.Destination)
	v.Origin = &origin
	v.Destination = &dest
	for _, cp := range ac.CallingPoints {
		v.CallingPoints = append(v.CallingPoints, toPointView(cp))
	}
	return v
}

func toViews(acs []enrich.ActiveCancellation) []cancellationView {
	out := make([]cancellationView, 0, len(acs))
	for _, ac := range acs {
		out = append(out, toView(ac))
	}
	return out
}

func (s *Server) handleCancellations(w http.ResponseWriter, r *http.Request) {
	limit, since := parseLimit(r), parseSince(r)
	writeJSON(w, http.StatusOK, toViews(s.cache.Recent(limit, since)))
}

func (s *Server) handleEnriched(w http.ResponseWriter, r *http.Request) {
	limit, since := parseLimit(r), parseSince(r)
	writeJSON(w, http.StatusOK, toViews(s.cache.Enriched(limit, since)))
}

type routeView struct {
	Origin      string    `json:"origin"`
	Destination string    `json:"destination"`
	Count       int       `json:"count"`
	LastSeen    time.Time `json:"last_seen"`
}

func (s *Server) handleByRoute(w http.ResponseWriter, r *http.Request) {
	routes := s.cache.ByRoute()
	out := make([]routeView, 0, len(routes))
	for _, rt := range routes {
		out = append(out, routeView{
			Origin:      rt.OriginTiploc,
			Destination: rt.DestinationTiploc,
			Count:       rt.Count,
			LastSeen:    rt.LastSeen,
		})
	}
	sortRoutesByCountDesc(out)
	writeJSON(w, http.StatusOK, out)
}

func sortRoutesByCountDesc(rv []routeView) {
	for i := 1; i < len(rv); i++ {
		for j := i; j > 0 && rv[j].Count > rv[j-1].Count; j-- {
			rv[j], rv[j-1] = rv[j-1], rv[j]
		}
	}
}

type statsView struct {
	Total                      int               `json:"total"`
	Enriched                   int               `json:"enriched"`
	NonEnriched                int               `json:"non_enriched"`
	EnrichmentRate             float64           `json:"enrichment_rate"`
	WindowStart                time.Time         `json:"window_start"`
	WindowEnd                  time.Time         `json:"window_end"`
	EnrichmentFailuresByReason map[string]int64  `json:"enrichment_failures_by_reason"`
	ScheduleStore              interface{}       `json:"schedule_store,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	cs := s.cache.Stats()
	view := statsView{
		Total:          cs.Total,
		Enriched:       cs.Enriched,
		NonEnriched:    cs.NonEnriched,
		EnrichmentRate: cs.EnrichmentRate,
		WindowStart:    cs.WindowStart,
		WindowEnd:      cs.WindowEnd,
	}
	failures := map[string]int64{}
	for reason, n := range s.engine.FailuresByReason() {
		failures[string(reason)] = n
	}
	view.EnrichmentFailuresByReason = failures

	if s.st != nil {
		if stats, err := s.st.Statistics(); err == nil {
			view.ScheduleStore = stats
		}
	}

	writeJSON(w, http.StatusOK, view)
}

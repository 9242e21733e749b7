package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gbl08ma/darwincancel/cancache"
	"github.com/gbl08ma/darwincancel/darwin"
	"github.com/gbl08ma/darwincancel/enrich"
	"github.com/gbl08ma/darwincancel/metrics"
	"github.com/gbl08ma/darwincancel/pushport"
	"github.com/gbl08ma/darwincancel/resolver"
	"github.com/gbl08ma/darwincancel/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	path := filepath.Join(t.TempDir(), "api_test.db")
	st, err := store.Open(path, 0)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	res, err := resolver.New(st.Node())
	if err != nil {
		t.Fatalf("resolver.New: %v", err)
	}
	eng := enrich.New(st.Node(), res)
	cache := cancache.New(100, time.Hour)
	reg, promReg := metrics.New()

	var pp *pushport.Client

	srv, err := New(Config{
		Listen:             "127.0.0.1:0",
		RequestTimeout:     time.Second,
		RateDefault:        6000,
		RateHealth:         6000,
		HealthCheckTimeout: time.Second,
		HealthCacheTTL:     time.Millisecond,
	}, cache, eng, st, pp, reg, promReg)
	if err != nil {
		t.Fatalf("api.New: %v", err)
	}
	return srv
}

func doRequest(s *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleCancellationsEmpty(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/cancellations")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var views []cancellationView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(views) != 0 {
		t.Errorf("expected no cancellations in a fresh cache, got %+v", views)
	}
}

func TestHandleCancellationsReturnsInserted(t *testing.T) {
	s := newTestServer(t)
	s.cache.Insert(enrich.ActiveCancellation{RID: "R1", ObservedAt: time.Now()})

	rec := doRequest(s, http.MethodGet, "/cancellations")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var views []cancellationView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(views) != 1 || views[0].RID != "R1" {
		t.Fatalf("expected to see the inserted cancellation, got %+v", views)
	}
}

func TestCancellationViewOriginDestinationFieldNames(t *testing.T) {
	ac := enrich.ActiveCancellation{
		RID:            "202512010000C12345",
		ObservedAt:     time.Now(),
		DarwinEnriched: true,
		TrainUID:       "C12345",
		Origin:         enrich.Point{Tiploc: "PAD", StationName: "London Paddington", Departure: "18:00"},
		Destination:    enrich.Point{Tiploc: "RDG", StationName: "Reading", Arrival: "18:30"},
	}
	body, err := json.Marshal(toView(ac))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	var origin map[string]any
	if err := json.Unmarshal(raw["origin"], &origin); err != nil {
		t.Fatalf("Unmarshal origin: %v", err)
	}
	if origin["scheduled_departure"] != "18:00" {
		t.Errorf(`expected origin.scheduled_departure="18:00" per spec.md §4.F/S1, got %+v`, origin)
	}
	if _, present := origin["departure"]; present {
		t.Errorf("expected origin to use scheduled_departure, not departure, got %+v", origin)
	}

	var dest map[string]any
	if err := json.Unmarshal(raw["destination"], &dest); err != nil {
		t.Fatalf("Unmarshal destination: %v", err)
	}
	if dest["scheduled_arrival"] != "18:30" {
		t.Errorf(`expected destination.scheduled_arrival="18:30", got %+v`, dest)
	}
	if _, present := dest["arrival"]; present {
		t.Errorf("expected destination to use scheduled_arrival, not arrival, got %+v", dest)
	}
}

func TestHandleEnrichedFiltersNonEnriched(t *testing.T) {
	s := newTestServer(t)
	s.cache.Insert(enrich.ActiveCancellation{RID: "A", ObservedAt: time.Now(), DarwinEnriched: true})
	s.cache.Insert(enrich.ActiveCancellation{RID: "B", ObservedAt: time.Now(), DarwinEnriched: false})

	rec := doRequest(s, http.MethodGet, "/cancellations/enriched")
	var views []cancellationView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(views) != 1 || views[0].RID != "A" {
		t.Fatalf("expected only the enriched entry, got %+v", views)
	}
}

func TestHandleStatsReportsFailuresByReason(t *testing.T) {
	s := newTestServer(t)
	s.engine.Enrich(darwin.DecodedEvent{RID: "2025"})

	rec := doRequest(s, http.MethodGet, "/cancellations/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var view statsView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if view.EnrichmentFailuresByReason["no_rid"] != 1 {
		t.Errorf("expected a no_rid failure to be reported, got %+v", view.EnrichmentFailuresByReason)
	}
}

func TestHandleHealthLive(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/health/live")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var view healthView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !view.OK {
		t.Errorf("expected /health/live to always report ok, got %+v", view)
	}
}

func TestHandleHealthReadyChecksStore(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/health/ready")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected a live store to report ready, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCORSMiddlewareWildcard(t *testing.T) {
	s := newTestServer(t)
	s.cfg.CORSOrigins = []string{"*"}
	s.httpServer.Handler = s.buildRouter(s.promReg)

	req := httptest.NewRequest(http.MethodGet, "/cancellations", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected wildcard CORS origin, got %q", got)
	}
}

func TestCORSMiddlewareOptionsPreflight(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/cancellations", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected an OPTIONS preflight to short-circuit with 200, got %d", rec.Code)
	}
}

func TestRateLimitExceeded(t *testing.T) {
	s := newTestServer(t)
	s.limiters = newLimiterSet(1, 1)

	first := doRequest(s, http.MethodGet, "/cancellations")
	if first.Code != http.StatusOK {
		t.Fatalf("expected the first request to be allowed, got %d", first.Code)
	}
	second := doRequest(s, http.MethodGet, "/cancellations")
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected the second request to be rate limited, got %d", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Errorf("expected a Retry-After header on a 429")
	}
}

func TestParseLimitBounds(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/cancellations?limit=0", nil)
	if got := parseLimit(req); got != DefaultLimit {
		t.Errorf("expected limit=0 to fall back to DefaultLimit, got %d", got)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/cancellations?limit=999999", nil)
	if got := parseLimit(req2); got != MaxLimit {
		t.Errorf("expected an oversized limit to clamp to MaxLimit, got %d", got)
	}
}

func TestParseSinceInvalidFallsBackToEpoch(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/cancellations?since=not-a-time", nil)
	if got := parseSince(req); !got.Equal(time.Unix(0, 0).UTC()) {
		t.Errorf("expected an invalid since= to fall back to the epoch, got %v", got)
	}
}

func TestHandleDashboardRendersHTML(t *testing.T) {
	s := newTestServer(t)
	s.cache.Insert(enrich.ActiveCancellation{RID: "R1", ObservedAt: time.Now(), ReasonText: "Signal failure"})

	rec := doRequest(s, http.MethodGet, "/cancellations/dashboard")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("unexpected content type: %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "R1") {
		t.Errorf("expected the rendered dashboard to mention the inserted RID")
	}
}

// panicHandler always panics, used to exercise recoveryMiddleware.
type panicHandler struct{}

func (panicHandler) ServeHTTP(http.ResponseWriter, *http.Request) {
	panic("boom")
}

func TestRecoveryMiddlewareCatchesPanic(t *testing.T) {
	s := newTestServer(t)
	handler := s.recoveryMiddleware(panicHandler{})

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected a panic to be recovered into a 500, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Errorf("expected a request id header on a recovered panic")
	}
}

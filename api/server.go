// Package api implements the Query API: a read-only HTTP service exposing
// cancellations, enrichment views, route aggregates, health, metrics and an
// operator dashboard. Router composition and dashboard rendering are
// grounded on the teacher's web.go (gorilla/mux + text/template, no
// templating framework, per spec.md §9); CORS middleware is grounded on
// other_examples/joeshaw-cota-bus__server.go's mux.Router.Use idiom;
// rate limiting is a per-source-address token bucket built on
// golang.org/x/time/rate (see DESIGN.md).
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"runtime/debug"
	"text/template"
	"time"

	"github.com/dchest/uniuri"
	gocache "github.com/patrickmn/go-cache"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gbl08ma/darwincancel/cancache"
	"github.com/gbl08ma/darwincancel/enrich"
	"github.com/gbl08ma/darwincancel/metrics"
	"github.com/gbl08ma/darwincancel/pushport"
	"github.com/gbl08ma/darwincancel/store"
)

// Config configures the Server.
type Config struct {
	Listen             string
	RequestTimeout     time.Duration
	CORSOrigins        []string
	RateDefault        int // requests per minute
	RateHealth         int // requests per minute
	HealthCheckTimeout time.Duration
	HealthCacheTTL     time.Duration
	Log                *log.Logger
}

// Server is the composed Query API HTTP service.
type Server struct {
	cfg      Config
	cache    *cancache.Cache
	engine   *enrich.Engine
	st       *store.Store
	pp       *pushport.Client
	metrics  *metrics.Registry
	promReg  *prometheus.Registry
	tmpl     *template.Template
	limiters *limiterSet

	healthCache *gocache.Cache

	httpServer *http.Server
}

// New assembles a Server ready to ListenAndServe.
func New(cfg Config, cache *cancache.Cache, engine *enrich.Engine, st *store.Store, pp *pushport.Client, reg *metrics.Registry, promReg *prometheus.Registry) (*Server, error) {
	if cfg.Log == nil {
		cfg.Log = log.Default()
	}
	if cfg.RateDefault <= 0 {
		cfg.RateDefault = 120
	}
	if cfg.RateHealth <= 0 {
		cfg.RateHealth = 60
	}

	tmpl, err := parseDashboardTemplate()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:         cfg,
		cache:       cache,
		engine:      engine,
		st:          st,
		pp:          pp,
		metrics:     reg,
		promReg:     promReg,
		tmpl:        tmpl,
		limiters:    newLimiterSet(cfg.RateDefault, cfg.RateHealth),
		healthCache: newHealthCache(cfg.HealthCacheTTL),
	}

	router := s.buildRouter(promReg)
	s.httpServer = &http.Server{
		Addr:         cfg.Listen,
		Handler:      router,
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout,
	}
	return s, nil
}

func (s *Server) buildRouter(promReg *prometheus.Registry) *mux.Router {
	router := mux.NewRouter().StrictSlash(true)
	router.Use(s.recoveryMiddleware)
	router.Use(s.corsMiddleware)
	router.Use(s.deadlineMiddleware)
	router.Use(s.metricsMiddleware)

	router.Handle("/cancellations", s.rateLimited(false, http.HandlerFunc(s.handleCancellations)))
	router.Handle("/cancellations/enriched", s.rateLimited(false, http.HandlerFunc(s.handleEnriched)))
	router.Handle("/cancellations/by-route", s.rateLimited(false, http.HandlerFunc(s.handleByRoute)))
	router.Handle("/cancellations/stats", s.rateLimited(false, http.HandlerFunc(s.handleStats)))
	router.Handle("/cancellations/dashboard", s.rateLimited(false, http.HandlerFunc(s.handleDashboard)))

	router.Handle("/health/live", s.rateLimited(true, http.HandlerFunc(s.handleHealthLive)))
	router.Handle("/health/ready", s.rateLimited(true, http.HandlerFunc(s.handleHealthReady)))
	router.Handle("/health/deep", s.rateLimited(true, http.HandlerFunc(s.handleHealthDeep)))

	router.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	return router
}

// ListenAndServe starts the HTTP server. It blocks until the server
// terminates.
func (s *Server) ListenAndServe() error {
	s.cfg.Log.Printf("api: listening on %s", s.cfg.Listen)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// recoveryMiddleware recovers from handler panics, logging the full detail
// (including stack trace) under a correlating request id and returning an
// opaque 500 to the caller, per spec.md §7 ("handler panic or unexpected
// fault → 500 with opaque message; full detail logged with correlation
// id"). Grounded on the teacher's web.go panic-recovery pattern; the
// request id is generated with uniuri rather than as a UUID.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uniuri.NewLen(12)
		defer func() {
			if rec := recover(); rec != nil {
				s.cfg.Log.Printf("api: panic [request_id=%s] handling %s %s: %v\n%s",
					reqID, r.Method, r.URL.Path, rec, debug.Stack())
				w.Header().Set("X-Request-Id", reqID)
				writeJSON(w, http.StatusInternalServerError, map[string]string{
					"error":      fmt.Sprintf("internal error (request_id=%s)", reqID),
					"request_id": reqID,
				})
			}
		}()
		w.Header().Set("X-Request-Id", reqID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) deadlineMiddleware(next http.Handler) http.Handler {
	timeout := s.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(s.cfg.CORSOrigins))
	allowAll := false
	for _, o := range s.cfg.CORSOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowAll {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" && allowed[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.URL.Path
		s.metrics.HTTPRequestsTotal.WithLabelValues(route, statusClass(rec.status)).Inc()
		s.metrics.HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

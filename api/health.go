package api

import (
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/gbl08ma/darwincancel/pushport"
)

// healthCacheKey is the single go-cache entry key for the memoized deep
// health report; TTL comes from Config.HealthCacheTTL (health.cache_ttl_ms),
// per spec.md §6, so a burst of health-check traffic behind a load balancer
// doesn't hammer the store on every request.
const healthCacheKey = "deep"

// checkResult is one named health check's outcome.
type checkResult struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

type healthView struct {
	OK     bool          `json:"ok"`
	Checks []checkResult `json:"checks"`
}

func (s *Server) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthView{OK: true, Checks: []checkResult{{Name: "process", OK: true}}})
}

func (s *Server) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	view := s.cachedChecks()
	status := http.StatusOK
	if !view.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, view)
}

func (s *Server) handleHealthDeep(w http.ResponseWriter, r *http.Request) {
	view := s.cachedChecks()
	status := http.StatusOK
	if !view.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, view)
}

// cachedChecks returns the memoized health report, recomputing it once the
// go-cache TTL entry expires.
func (s *Server) cachedChecks() healthView {
	if s.healthCache == nil {
		return s.runChecks()
	}
	if v, ok := s.healthCache.Get(healthCacheKey); ok {
		return v.(healthView)
	}
	view := s.runChecks()
	s.healthCache.SetDefault(healthCacheKey, view)
	return view
}

func (s *Server) runChecks() healthView {
	var checks []checkResult
	ok := true

	pushportOK := s.pp == nil || s.pp.State() == pushport.StateSubscribed
	checks = append(checks, checkResult{
		Name:   "pushport",
		OK:     pushportOK,
		Detail: stateDetail(s.pp),
	})
	if !pushportOK {
		ok = false
	}

	storeOK, storeDetail := s.pingStore()
	checks = append(checks, checkResult{Name: "store", OK: storeOK, Detail: storeDetail})
	if !storeOK {
		ok = false
	}

	return healthView{OK: ok, Checks: checks}
}

func stateDetail(pp *pushport.Client) string {
	if pp == nil {
		return "not configured"
	}
	return pp.State().String()
}

func (s *Server) pingStore() (bool, string) {
	if s.st == nil {
		return false, "not configured"
	}
	done := make(chan error, 1)
	go func() { done <- s.st.Ping() }()
	select {
	case err := <-done:
		if err != nil {
			return false, err.Error()
		}
		return true, ""
	case <-time.After(s.checkTimeout()):
		return false, "timeout"
	}
}

func (s *Server) checkTimeout() time.Duration {
	if s.cfg.HealthCheckTimeout > 0 {
		return s.cfg.HealthCheckTimeout
	}
	return 2 * time.Second
}

func newHealthCache(ttl time.Duration) *gocache.Cache {
	if ttl <= 0 {
		ttl = time.Second
	}
	return gocache.New(ttl, 2*ttl)
}

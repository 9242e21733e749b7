package api

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterSet holds one token bucket per source address per rate class,
// default and health, per spec.md §4.H.
type limiterSet struct {
	mu           sync.Mutex
	defaultRate  rate.Limit
	healthRate   rate.Limit
	defaultBurst int
	healthBurst  int
	byAddr       map[string]*rate.Limiter
	healthByAddr map[string]*rate.Limiter
}

func newLimiterSet(defaultPerMin, healthPerMin int) *limiterSet {
	return &limiterSet{
		defaultRate:  rate.Limit(float64(defaultPerMin) / 60.0),
		healthRate:   rate.Limit(float64(healthPerMin) / 60.0),
		defaultBurst: defaultPerMin,
		healthBurst:  healthPerMin,
		byAddr:       map[string]*rate.Limiter{},
		healthByAddr: map[string]*rate.Limiter{},
	}
}

func (ls *limiterSet) allow(addr string, health bool) bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	table := ls.byAddr
	limit, burst := ls.defaultRate, ls.defaultBurst
	if health {
		table = ls.healthByAddr
		limit, burst = ls.healthRate, ls.healthBurst
	}

	lim, ok := table[addr]
	if !ok {
		lim = rate.NewLimiter(limit, burst)
		table[addr] = lim
	}
	return lim.Allow()
}

// rateLimited wraps next with the per-source-address token bucket for the
// default or health rate class, returning 429 with Retry-After when
// exhausted.
func (s *Server) rateLimited(health bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr := sourceAddr(r)
		if !s.limiters.allow(addr, health) {
			if s.metrics != nil {
				s.metrics.RateLimited.Inc()
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(time.Minute.Seconds())))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func sourceAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

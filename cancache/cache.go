// Package cancache implements the Cancellation Cache: a bounded, ordered,
// concurrent store of recently ingested cancellations with derived views.
// Concurrency discipline (sync.RWMutex-guarded state, snapshot-on-read) is
// grounded on the teacher's compute.VehicleHandler, scaled down from a
// live-vehicle map to a single time-ordered ring buffer.
package cancache

import (
	"sync"
	"time"

	movingaverage "github.com/RobinUS2/golang-moving-average"

	"github.com/gbl08ma/darwincancel/enrich"
)

// smoothingWindow is the number of most-recent inserts the smoothed
// enrichment rate averages over, independent of the cache's own
// capacity/maxAge eviction. Grounded on scraper/mlxscraper/eta.go's use of
// movingaverage.New(100) to smooth a clock-drift sample sequence; here the
// smoothed series is enrichment success (1.0/0.0) per insert, so a dashboard
// reader sees a less noisy trend line than the instantaneous snapshot from
// Stats.EnrichmentRate.
const smoothingWindow = 100

// DefaultCapacity and DefaultMaxAge are the cache bounds applied when the
// caller configures neither, per spec.md §4.G.
const (
	DefaultCapacity = 500
	DefaultMaxAge   = 24 * time.Hour
)

// RouteStat is one entry of the by-route aggregate view.
type RouteStat struct {
	OriginTiploc      string
	DestinationTiploc string
	Count             int
	LastSeen          time.Time
}

// Stats is the snapshot returned by Cache.Stats.
type Stats struct {
	Total                  int
	Enriched               int
	NonEnriched            int
	EnrichmentRate         float64
	SmoothedEnrichmentRate float64
	WindowStart            time.Time
	WindowEnd              time.Time
}

// Cache holds a bounded, time-ordered ring of ActiveCancellations. A single
// ingestion writer inserts; any number of readers may query concurrently.
type Cache struct {
	mu          sync.RWMutex
	entries     []enrich.ActiveCancellation // insertion order, oldest first
	capacity    int
	maxAge      time.Duration
	enrichedAvg *movingaverage.MovingAverage
	// Clock allows tests to control "now" for purge_older_than semantics.
	Clock func() time.Time
}

// New returns an empty Cache with the given bounds. A capacity or maxAge of
// zero falls back to the package defaults.
func New(capacity int, maxAge time.Duration) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Cache{
		entries:     make([]enrich.ActiveCancellation, 0, capacity),
		capacity:    capacity,
		maxAge:      maxAge,
		enrichedAvg: movingaverage.New(smoothingWindow),
		Clock:       time.Now,
	}
}

// Insert appends c, evicting the oldest entry first if the cache is at
// capacity or the oldest entry has aged out.
func (c *Cache) Insert(ac enrich.ActiveCancellation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = append(c.entries, ac)
	c.evictLocked()

	if ac.DarwinEnriched {
		c.enrichedAvg.Add(1)
	} else {
		c.enrichedAvg.Add(0)
	}
}

func (c *Cache) evictLocked() {
	cutoff := c.Clock().Add(-c.maxAge)
	start := 0
	for start < len(c.entries) && c.entries[start].ObservedAt.Before(cutoff) {
		start++
	}
	if start > 0 {
		c.entries = append([]enrich.ActiveCancellation{}, c.entries[start:]...)
	}
	if len(c.entries) > c.capacity {
		c.entries = append([]enrich.ActiveCancellation{}, c.entries[len(c.entries)-c.capacity:]...)
	}
}

// Recent returns up to limit entries newer than since, newest first. A zero
// since returns everything up to limit.
func (c *Cache) Recent(limit int, since time.Time) []enrich.ActiveCancellation {
	return c.filter(limit, since, false)
}

// Enriched is Recent filtered to darwin_enriched=true entries.
func (c *Cache) Enriched(limit int, since time.Time) []enrich.ActiveCancellation {
	return c.filter(limit, since, true)
}

func (c *Cache) filter(limit int, since time.Time, enrichedOnly bool) []enrich.ActiveCancellation {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]enrich.ActiveCancellation, 0, limit)
	for i := len(c.entries) - 1; i >= 0; i-- {
		ac := c.entries[i]
		if ac.ObservedAt.Before(since) || ac.ObservedAt.Equal(since) {
			continue
		}
		if enrichedOnly && !ac.DarwinEnriched {
			continue
		}
		out = append(out, ac)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// ByRoute computes the (origin_tiploc, destination_tiploc) aggregate view
// over the current contents. Only enriched rows contribute, per spec.md
// §4.G.
func (c *Cache) ByRoute() []RouteStat {
	c.mu.RLock()
	defer c.mu.RUnlock()

	type key struct{ origin, dest string }
	agg := map[key]*RouteStat{}
	var order []key
	for _, ac := range c.entries {
		if !ac.DarwinEnriched {
			continue
		}
		k := key{ac.Origin.Tiploc, ac.Destination.Tiploc}
		rs, ok := agg[k]
		if !ok {
			rs = &RouteStat{OriginTiploc: k.origin, DestinationTiploc: k.dest}
			agg[k] = rs
			order = append(order, k)
		}
		rs.Count++
		if ac.ObservedAt.After(rs.LastSeen) {
			rs.LastSeen = ac.ObservedAt
		}
	}

	out := make([]RouteStat, 0, len(order))
	for _, k := range order {
		out = append(out, *agg[k])
	}
	return out
}

// Stats returns a consistent snapshot of cache-wide aggregates.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{Total: len(c.entries)}
	for _, ac := range c.entries {
		if ac.DarwinEnriched {
			s.Enriched++
		} else {
			s.NonEnriched++
		}
	}
	if s.Total > 0 {
		s.EnrichmentRate = float64(s.Enriched) / float64(s.Total)
		s.SmoothedEnrichmentRate = c.enrichedAvg.Avg()
		s.WindowStart = c.entries[0].ObservedAt
		s.WindowEnd = c.entries[len(c.entries)-1].ObservedAt
	}
	return s
}

// PurgeOlderThan removes entries with observed_at older than now-age.
func (c *Cache) PurgeOlderThan(age time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.Clock().Add(-age)
	start := 0
	for start < len(c.entries) && c.entries[start].ObservedAt.Before(cutoff) {
		start++
	}
	if start > 0 {
		c.entries = append([]enrich.ActiveCancellation{}, c.entries[start:]...)
	}
}

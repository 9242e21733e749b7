// Package metrics registers and exposes the Prometheus counters and gauges
// backing the Query API's /metrics endpoint, grounded on
// bittertea97-microgrid-cloud's internal/observability/metrics package and
// its promhttp.Handler() wiring in main.go.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry groups every metric this service exposes, constructed once in
// the composition root and threaded to every component that updates it.
type Registry struct {
	DecodedTotal       prometheus.Counter
	CancellationsTotal prometheus.Counter
	EnrichedTotal      prometheus.Counter
	EnrichmentFailures *prometheus.CounterVec
	MalformedTotal     prometheus.Counter

	CacheTotal          prometheus.Gauge
	CacheEnriched       prometheus.Gauge
	CacheEnrichmentRate prometheus.Gauge
	CacheSmoothedRate   prometheus.Gauge

	PushportState prometheus.Gauge
	QueueDepth    prometheus.Gauge
	QueueDropped  prometheus.Counter

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	RateLimited         prometheus.Counter
}

// New registers every metric against a fresh prometheus.Registry and
// returns both.
func New() (*Registry, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	r := &Registry{
		DecodedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "darwincancel_decoded_total",
			Help: "Total push-port frames decoded.",
		}),
		CancellationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "darwincancel_cancellations_total",
			Help: "Total cancellation events classified.",
		}),
		EnrichedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "darwincancel_enriched_total",
			Help: "Total cancellations successfully enriched.",
		}),
		EnrichmentFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "darwincancel_enrichment_failures_total",
			Help: "Enrichment failures by reason.",
		}, []string{"reason"}),
		MalformedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "darwincancel_malformed_frames_total",
			Help: "Total push-port frames dropped as malformed.",
		}),
		CacheTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "darwincancel_cache_entries",
			Help: "Current number of entries in the cancellation cache.",
		}),
		CacheEnriched: factory.NewGauge(prometheus.GaugeOpts{
			Name: "darwincancel_cache_enriched_entries",
			Help: "Current number of enriched entries in the cancellation cache.",
		}),
		CacheEnrichmentRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "darwincancel_cache_enrichment_rate",
			Help: "Fraction of cached cancellations that are enriched.",
		}),
		CacheSmoothedRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "darwincancel_cache_smoothed_enrichment_rate",
			Help: "Moving-average enrichment success rate over the last 100 insertions.",
		}),
		PushportState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "darwincancel_pushport_state",
			Help: "Current STOMP client lifecycle state, as an integer (see pushport.State).",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "darwincancel_ingest_queue_depth",
			Help: "Current depth of the decode-to-enrichment queue.",
		}),
		QueueDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "darwincancel_ingest_queue_dropped_total",
			Help: "Total events dropped due to queue overflow.",
		}),
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "darwincancel_http_requests_total",
			Help: "Total HTTP requests by route and status class.",
		}, []string{"route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "darwincancel_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "darwincancel_rate_limited_total",
			Help: "Total requests rejected by rate limiting.",
		}),
	}
	return r, reg
}

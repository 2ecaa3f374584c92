// Package metrics exposes sync engine activity as Prometheus series.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/macrolog/macrolog/internal/remote"
	"github.com/macrolog/macrolog/internal/schema"
	entrysync "github.com/macrolog/macrolog/internal/sync"
)

const namespace = "macrolog"

// Collector records engine, summary and remote client metrics on its own
// registry. It satisfies both sync.Metrics and summary.Metrics.
type Collector struct {
	registry *prometheus.Registry

	pending         prometheus.Gauge
	entriesAdded    *prometheus.CounterVec
	syncPasses      prometheus.Counter
	syncOutcomes    *prometheus.CounterVec
	syncDuration    prometheus.Histogram
	remoteFailures  *prometheus.CounterVec
	fallbacksServed *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

var _ entrysync.Metrics = (*Collector)(nil)

// New creates a Collector with Go and process collectors registered.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "pending_entries",
			Help:      "Entries waiting to be created remotely, as of the last pass.",
		}),
		entriesAdded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "entries",
			Name:      "added_total",
			Help:      "Entries added, by the state they were stored in.",
		}, []string{"state"}),
		syncPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "passes_total",
			Help:      "Completed sync passes.",
		}),
		syncOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "entries_total",
			Help:      "Pending entries processed by sync passes, by outcome.",
		}, []string{"outcome"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "pass_duration_seconds",
			Help:      "Duration of sync passes.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),
		remoteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "failures_total",
			Help:      "Failed remote calls, by operation and error kind.",
		}, []string{"op", "kind"}),
		fallbacksServed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "fallbacks_total",
			Help:      "Reads answered from the local cache because the remote call failed.",
		}, []string{"op"}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Requests sent to the remote service.",
		}, []string{"code", "method"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http_client",
			Name:      "request_duration_seconds",
			Help:      "Duration of requests sent to the remote service.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"method"}),
	}

	c.registry.MustRegister(
		c.pending,
		c.entriesAdded,
		c.syncPasses,
		c.syncOutcomes,
		c.syncDuration,
		c.remoteFailures,
		c.fallbacksServed,
		c.httpRequests,
		c.httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return c
}

// Registry returns the registry the collector's series live on.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler exposing the registered metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// InstrumentTransport wraps rt so requests to the remote service are
// counted and timed. A nil rt wraps http.DefaultTransport.
func (c *Collector) InstrumentTransport(rt http.RoundTripper) http.RoundTripper {
	if rt == nil {
		rt = http.DefaultTransport
	}
	return promhttp.InstrumentRoundTripperCounter(c.httpRequests,
		promhttp.InstrumentRoundTripperDuration(c.httpDuration, rt))
}

// SetPending records the pending queue size.
func (c *Collector) SetPending(n int) {
	c.pending.Set(float64(n))
}

// EntryAdded counts an added entry.
func (c *Collector) EntryAdded(state schema.SyncState) {
	c.entriesAdded.WithLabelValues(string(state)).Inc()
	if state == schema.StatePending {
		c.pending.Inc()
	}
}

// RemoteFailure counts a failed remote call by the kind of its error.
func (c *Collector) RemoteFailure(op string, err error) {
	c.remoteFailures.WithLabelValues(op, remote.KindName(err)).Inc()
}

// FallbackServed counts a read answered from the cache.
func (c *Collector) FallbackServed(op string) {
	c.fallbacksServed.WithLabelValues(op).Inc()
}

// SyncCompleted records a finished pass.
func (c *Collector) SyncCompleted(result entrysync.SyncResult) {
	c.syncPasses.Inc()
	c.syncOutcomes.WithLabelValues("confirmed").Add(float64(result.Confirmed))
	c.syncOutcomes.WithLabelValues("failed").Add(float64(result.Failed))
	c.syncOutcomes.WithLabelValues("skipped").Add(float64(result.Skipped))
	c.syncDuration.Observe(result.Duration.Seconds())
	c.pending.Set(float64(result.StillPending))
}

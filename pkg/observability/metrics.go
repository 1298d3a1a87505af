package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics implements every hook interface on top of a private Prometheus
// registry. A batch run has nothing to scrape it, so the registry is dumped
// in text exposition format with [Metrics.WriteTextfile] when the run ends
// (suitable for node_exporter's textfile collector).
type Metrics struct {
	registry *prometheus.Registry

	runDuration     *prometheus.HistogramVec
	packagesTotal   *prometheus.CounterVec
	packageDuration prometheus.Histogram
	filesTotal      *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	httpErrors      *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	cacheBytes      *prometheus.CounterVec
}

// NewMetrics creates a Metrics with all collectors registered.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cratescan_run_seconds",
			Help:    "Wall time of a complete scan run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"matcher", "status"}),
		packagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cratescan_packages_total",
			Help: "Packages finished, by outcome.",
		}, []string{"outcome"}),
		packageDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cratescan_package_seconds",
			Help:    "Time spent fetching, parsing and matching one package.",
			Buckets: prometheus.DefBuckets,
		}),
		filesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cratescan_files_total",
			Help: "Source files finished, by outcome.",
		}, []string{"outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cratescan_http_requests_total",
			Help: "HTTP responses received, by host and status code.",
		}, []string{"host", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cratescan_http_request_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"host"}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cratescan_http_errors_total",
			Help: "HTTP requests that failed without a response.",
		}, []string{"host"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cratescan_cache_lookups_total",
			Help: "Response cache lookups, by key type and result.",
		}, []string{"key_type", "result"}),
		cacheBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cratescan_cache_written_bytes_total",
			Help: "Bytes written to the response cache.",
		}, []string{"key_type"}),
	}
	reg.MustRegister(
		m.runDuration, m.packagesTotal, m.packageDuration, m.filesTotal,
		m.httpRequests, m.httpDuration, m.httpErrors,
		m.cacheLookups, m.cacheBytes,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// WriteTextfile writes all metrics to path in Prometheus text format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

func (m *Metrics) OnRunStart(context.Context, string, int) {}

func (m *Metrics) OnRunComplete(_ context.Context, matcher string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.runDuration.WithLabelValues(matcher, status).Observe(d.Seconds())
}

func (m *Metrics) OnPackageStart(context.Context, string) {}

func (m *Metrics) OnPackageComplete(_ context.Context, _ string, d time.Duration, reason string) {
	m.packagesTotal.WithLabelValues(outcome(reason)).Inc()
	m.packageDuration.Observe(d.Seconds())
}

func (m *Metrics) OnFileComplete(_ context.Context, _ string, reason string) {
	m.filesTotal.WithLabelValues(outcome(reason)).Inc()
}

func (m *Metrics) OnRequest(context.Context, string, string, string) {}

func (m *Metrics) OnResponse(_ context.Context, _, host, _ string, code int, d time.Duration) {
	m.httpRequests.WithLabelValues(host, statusLabel(code)).Inc()
	m.httpDuration.WithLabelValues(host).Observe(d.Seconds())
}

func (m *Metrics) OnError(_ context.Context, _, host, _ string, _ error) {
	m.httpErrors.WithLabelValues(host).Inc()
}

func (m *Metrics) OnCacheHit(_ context.Context, keyType string) {
	m.cacheLookups.WithLabelValues(keyType, "hit").Inc()
}

func (m *Metrics) OnCacheMiss(_ context.Context, keyType string) {
	m.cacheLookups.WithLabelValues(keyType, "miss").Inc()
}

func (m *Metrics) OnCacheSet(_ context.Context, keyType string, size int) {
	m.cacheBytes.WithLabelValues(keyType).Add(float64(size))
}

func outcome(reason string) string {
	if reason == "" {
		return "processed"
	}
	return reason
}

func statusLabel(code int) string {
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

var (
	_ PipelineHooks = (*Metrics)(nil)
	_ HTTPHooks     = (*Metrics)(nil)
	_ CacheHooks    = (*Metrics)(nil)
)

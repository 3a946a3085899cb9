// Package metrics exposes Prometheus collectors for the proceedings crawler.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerPapersTotal            *prometheus.CounterVec
	crawlerFetchTotal             *prometheus.CounterVec
	crawlerFetchRetriesTotal      prometheus.Counter
	crawlerArtifactsTotal         *prometheus.CounterVec
	crawlerArtifactBytesTotal     prometheus.Counter
	crawlerSinkErrorsTotal        *prometheus.CounterVec
	crawlerActiveWorkers          prometheus.Gauge
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPapersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_papers_total",
				Help: "Papers that reached a terminal state, labeled by year and outcome.",
			},
			[]string{"year", "outcome"},
		)

		crawlerFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetch_total",
				Help: "Page fetch attempts, labeled by result kind.",
			},
			[]string{"kind"},
		)

		crawlerFetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_fetch_retries_total",
				Help: "Fetch attempts repeated after a transient failure.",
			},
		)

		crawlerArtifactsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_artifacts_total",
				Help: "PDF artifacts, labeled by outcome (downloaded, failed, skipped).",
			},
			[]string{"outcome"},
		)

		crawlerArtifactBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_artifact_bytes_total",
				Help: "Bytes written to disk for downloaded artifacts.",
			},
		)

		crawlerSinkErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_sink_errors_total",
				Help: "Record sink append failures, labeled by sink.",
			},
			[]string{"sink"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently processing a paper.",
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of ops HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of ops HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObservePaper counts a paper reaching outcome for year.
func ObservePaper(year int, outcome string) {
	Init()
	crawlerPapersTotal.WithLabelValues(strconv.Itoa(year), outcome).Inc()
}

// ObserveFetch counts one fetch attempt by result kind ("ok" on success).
func ObserveFetch(kind string) {
	Init()
	crawlerFetchTotal.WithLabelValues(kind).Inc()
}

// ObserveFetchRetry counts a retried fetch.
func ObserveFetchRetry() {
	Init()
	crawlerFetchRetriesTotal.Inc()
}

// ObserveArtifact counts an artifact outcome and the bytes it wrote.
func ObserveArtifact(outcome string, bytes int64) {
	Init()
	crawlerArtifactsTotal.WithLabelValues(outcome).Inc()
	if bytes > 0 {
		crawlerArtifactBytesTotal.Add(float64(bytes))
	}
}

// ObserveSinkError counts a failed append on the named sink.
func ObserveSinkError(sink string) {
	Init()
	crawlerSinkErrorsTotal.WithLabelValues(sink).Inc()
}

// WorkerStarted increments the active worker gauge.
func WorkerStarted() {
	Init()
	crawlerActiveWorkers.Inc()
}

// WorkerFinished decrements the active worker gauge.
func WorkerFinished() {
	Init()
	crawlerActiveWorkers.Dec()
}

// ObserveRateLimitDelay records time spent waiting on the rate limiter.
func ObserveRateLimitDelay(domain string, d time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(d.Seconds())
}

// ObserveHTTPRequest increments the ops server request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

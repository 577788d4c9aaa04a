// Package metrics exposes Prometheus collectors for a harvest run.
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

// Label values shared by callers.
const (
	StageListing = "listing"
	StageDetail  = "detail"

	StatusOK      = "ok"
	StatusEmpty   = "empty"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

var (
	harvesterPagesTotal           *prometheus.CounterVec
	harvesterDetailsTotal         *prometheus.CounterVec
	harvesterDetailDuration       prometheus.Histogram
	harvesterSessionsTotal        *prometheus.CounterVec
	harvesterActiveWorkers        prometheus.Gauge
	harvesterRecordsWritten       *prometheus.CounterVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	harvesterFallbackSourcesTotal *prometheus.CounterVec
	harvesterRateLimitWait        *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvesterPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_listing_pages_total",
				Help: "Listing pages visited, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		harvesterDetailsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_details_total",
				Help: "Detail pages processed, labeled by status.",
			},
			[]string{"status"},
		)

		harvesterDetailDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_detail_duration_seconds",
				Help:    "Time spent extracting one detail page, politeness delay included.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45, 90},
			},
		)

		harvesterSessionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_browser_sessions_total",
				Help: "Browser sessions opened, labeled by stage and status.",
			},
			[]string{"stage", "status"},
		)

		harvesterActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_workers",
				Help: "Number of detail workers currently holding a browser session.",
			},
		)

		harvesterRecordsWritten = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_records_written_total",
				Help: "Records persisted, labeled by artifact.",
			},
			[]string{"artifact"},
		)

		harvesterFallbackSourcesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fallback_sources_total",
				Help: "Which fallback step resolved a detail field, labeled by field and source.",
			},
			[]string{"field", "source"},
		)

		harvesterRateLimitWait = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_wait_seconds",
				Help:    "Time detail workers spent waiting for a rate limit token, labeled by host.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
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
	return promhttp.Handler()
}

// ObserveListingPage counts one listing page visit.
func ObserveListingPage(pageURL, status string) {
	Init()
	harvesterPagesTotal.WithLabelValues(SanitizeSite(pageURL), status).Inc()
}

// ObserveDetail counts one detail item and how long it took.
func ObserveDetail(status string, duration time.Duration) {
	Init()
	harvesterDetailsTotal.WithLabelValues(status).Inc()
	if status == StatusOK {
		harvesterDetailDuration.Observe(duration.Seconds())
	}
}

// ObserveSession counts a browser session launch attempt.
func ObserveSession(stage, status string) {
	Init()
	harvesterSessionsTotal.WithLabelValues(stage, status).Inc()
}

// ObserveFallbackSource records which chain step resolved a field.
func ObserveFallbackSource(field, source string) {
	Init()
	if source == "" {
		source = "none"
	}
	harvesterFallbackSourcesTotal.WithLabelValues(field, source).Inc()
}

// ObserveRecordsWritten adds n to the persisted record counter.
func ObserveRecordsWritten(artifact string, n int) {
	Init()
	harvesterRecordsWritten.WithLabelValues(artifact).Add(float64(n))
}

// ObserveRateLimitWait records a rate limiter delay.
func ObserveRateLimitWait(host string, waited time.Duration) {
	Init()
	harvesterRateLimitWait.WithLabelValues(host).Observe(waited.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	harvesterActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	harvesterActiveWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

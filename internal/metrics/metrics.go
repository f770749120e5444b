// Package metrics exposes Prometheus collectors for the monitor service.
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
	runsTotal                  *prometheus.CounterVec
	fetchTotal                 *prometheus.CounterVec
	fetchFallbacksTotal        prometheus.Counter
	classifierTotal            *prometheus.CounterVec
	retriesTotal               *prometheus.CounterVec
	notificationsTotal         *prometheus.CounterVec
	schedulerEnqueuedTotal     prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaySeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_runs_total",
				Help: "Monitoring runs completed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_fetch_total",
				Help: "Fetch attempts, labeled by strategy and status.",
			},
			[]string{"strategy", "status"},
		)

		fetchFallbacksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "monitor_fetch_fallbacks_total",
				Help: "Website fetches that fell back to the secondary strategy.",
			},
		)

		classifierTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_classifier_total",
				Help: "Classifications, labeled by the analyzer that produced the verdict.",
			},
			[]string{"analyzer"},
		)

		retriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_retries_total",
				Help: "Retry coordinator decisions, labeled by decision.",
			},
			[]string{"decision"},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_notifications_total",
				Help: "Notification gate results, labeled by result.",
			},
			[]string{"result"},
		)

		schedulerEnqueuedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "monitor_scheduler_enqueued_total",
				Help: "Fetch jobs enqueued by the due-check scheduler.",
			},
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

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "monitor_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "monitor_rate_limit_delay_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL for use as a label.
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

// ObserveRun counts a finished monitoring run.
func ObserveRun(outcome string) {
	Init()
	runsTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetch counts a fetch attempt for a strategy.
func ObserveFetch(strategy string, success bool) {
	Init()
	status := "success"
	if !success {
		status = "error"
	}
	fetchTotal.WithLabelValues(strategy, status).Inc()
}

// ObserveFallback counts a switch to the secondary website strategy.
func ObserveFallback() {
	Init()
	fetchFallbacksTotal.Inc()
}

// ObserveClassification counts a verdict by analyzer.
func ObserveClassification(analyzer string) {
	Init()
	classifierTotal.WithLabelValues(analyzer).Inc()
}

// ObserveRetry counts a retry coordinator decision.
func ObserveRetry(decision string) {
	Init()
	retriesTotal.WithLabelValues(decision).Inc()
}

// ObserveNotification counts a notification gate result.
func ObserveNotification(result string) {
	Init()
	notificationsTotal.WithLabelValues(result).Inc()
}

// ObserveScheduled counts jobs emitted by one scheduler scan.
func ObserveScheduled(n int) {
	Init()
	if n > 0 {
		schedulerEnqueuedTotal.Add(float64(n))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// Package metrics exposes Prometheus collectors for the tracking service.
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

// Dispatch outcomes.
const (
	OutcomeSent      = "sent"
	OutcomeNoSink    = "no_sink"
	OutcomeNoConsent = "no_consent"
	OutcomeError     = "error"
)

var (
	dispatchTotal              *prometheus.CounterVec
	viewsTotal                 prometheus.Counter
	viewsActive                prometheus.Gauge
	hubDroppedTotal            prometheus.Counter
	sinkErrorsTotal            *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaySeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		dispatchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_dispatch_total",
				Help: "Tracking calls handled by the dispatcher, labeled by command and outcome.",
			},
			[]string{"command", "outcome"},
		)

		viewsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tracker_views_total",
				Help: "Total number of content views mounted.",
			},
		)

		viewsActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracker_views_active",
				Help: "Number of content views currently mounted.",
			},
		)

		hubDroppedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tracker_hub_dropped_events_total",
				Help: "Events dropped because the fan-out buffer was full.",
			},
		)

		sinkErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_sink_errors_total",
				Help: "Errors returned by downstream event sinks, labeled by sink.",
			},
			[]string{"sink"},
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

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tracker_headless_rate_limit_delay_seconds",
				Help:    "Time headless page loads waited on the per-host rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"host"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from a page location.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
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

// ObserveDispatch counts one dispatcher decision.
func ObserveDispatch(command, outcome string) {
	Init()
	dispatchTotal.WithLabelValues(command, outcome).Inc()
}

// ViewMounted records a newly mounted content view.
func ViewMounted() {
	Init()
	viewsTotal.Inc()
	viewsActive.Inc()
}

// ViewClosed records a content view being torn down.
func ViewClosed() {
	Init()
	viewsActive.Dec()
}

// ObserveHubDrop counts one event dropped by the fan-out hub.
func ObserveHubDrop() {
	Init()
	hubDroppedTotal.Inc()
}

// ObserveSinkError counts one failed sink delivery.
func ObserveSinkError(sink string) {
	Init()
	sinkErrorsTotal.WithLabelValues(sink).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records how long a page load waited for its host's token.
func ObserveRateLimitDelay(host string, d time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}

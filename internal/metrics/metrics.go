// Package metrics exposes Prometheus collectors for the crawl scheduler.
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
	requestsProcessedTotal     prometheus.Counter
	recordsEmittedTotal        prometheus.Counter
	recordsDroppedTotal        prometheus.Counter
	requestsFilteredTotal      prometheus.Counter
	terminalFailuresTotal      prometheus.Counter
	callbackFailuresTotal      prometheus.Counter
	crawlerPagesTotal          *prometheus.CounterVec
	crawlerBytesTotal          *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	queueDepth                 prometheus.Gauge
	outstandingRequests        prometheus.Gauge
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	probeTLSHandshakeTimeouts  prometheus.Counter
	headlessPromotionsTotal    prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		requestsProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "crawler_requests_processed_total",
			Help: "Requests taken off the queue and fully handled, including terminal failures.",
		})
		recordsEmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "crawler_records_emitted_total",
			Help: "Records that passed every output stage.",
		})
		recordsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "crawler_records_dropped_total",
			Help: "Records deliberately dropped by an output stage.",
		})
		requestsFilteredTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "crawler_requests_filtered_total",
			Help: "Requests rejected as duplicates at admission.",
		})
		terminalFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "crawler_terminal_failures_total",
			Help: "Requests whose download failed after every middleware had a chance to recover.",
		})
		callbackFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "crawler_callback_failures_total",
			Help: "Callbacks or result sequences that failed or panicked.",
		})
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of pages downloaded, labeled by site and status.",
			},
			[]string{"site", "status"},
		)
		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)
		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_fetch_duration_seconds",
				Help:    "Histogram of download latencies, labeled by site.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"site"},
		)
		queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_queue_depth",
			Help: "Requests waiting in the work queue.",
		})
		outstandingRequests = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_outstanding_requests",
			Help: "Requests queued or in flight and not yet marked done.",
		})
		activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_active_workers",
			Help: "Number of workers currently processing a request.",
		})
		rateLimitDelaysSeconds = promauto.NewHistogramVec(
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
				Help: "Total number of status server requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)
		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of status server latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
		probeTLSHandshakeTimeouts = promauto.NewCounter(prometheus.CounterOpts{
			Name: "crawler_robots_tls_handshake_timeouts_total",
			Help: "robots.txt probes that fell back to allow-all after repeated TLS handshake timeouts.",
		})
		headlessPromotionsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "crawler_headless_promotions_total",
			Help: "Probed pages re-fetched in a headless browser.",
		})
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

// ObserveFetch records one completed download.
func ObserveFetch(rawURL string, status int, bytesFetched int, duration time.Duration) {
	Init()
	site := SanitizeSite(rawURL)
	crawlerPagesTotal.WithLabelValues(site, strconv.Itoa(status)).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
	fetchDurationSeconds.WithLabelValues(site).Observe(duration.Seconds())
}

// IncRequestsProcessed counts a request reaching the done state.
func IncRequestsProcessed() {
	Init()
	requestsProcessedTotal.Inc()
}

// IncRecordsEmitted counts a record that completed the output pipeline.
func IncRecordsEmitted() {
	Init()
	recordsEmittedTotal.Inc()
}

// IncRecordsDropped counts a record dropped by an output stage.
func IncRecordsDropped() {
	Init()
	recordsDroppedTotal.Inc()
}

// IncRequestsFiltered counts a duplicate rejected at admission.
func IncRequestsFiltered() {
	Init()
	requestsFilteredTotal.Inc()
}

// IncTerminalFailures counts an unrecovered download failure.
func IncTerminalFailures() {
	Init()
	terminalFailuresTotal.Inc()
}

// IncCallbackFailures counts a failed callback or result sequence.
func IncCallbackFailures() {
	Init()
	callbackFailuresTotal.Inc()
}

// SetQueueState publishes the queue depth and outstanding count.
func SetQueueState(depth, outstanding int) {
	Init()
	queueDepth.Set(float64(depth))
	outstandingRequests.Set(float64(outstanding))
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
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest records one status server request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveProbeTLSHandshakeTimeout counts a robots.txt probe that gave up on TLS.
func ObserveProbeTLSHandshakeTimeout() {
	Init()
	probeTLSHandshakeTimeouts.Inc()
}

// IncHeadlessPromotions counts a page promoted to a headless render.
func IncHeadlessPromotions() {
	Init()
	headlessPromotionsTotal.Inc()
}

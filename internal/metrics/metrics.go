// Package metrics exposes Prometheus collectors for the addon backend.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	upstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_requests_total",
			Help: "Total number of upstream fetch attempts, labeled by host and outcome.",
		},
		[]string{"host", "outcome"},
	)

	upstreamRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "Histogram of upstream fetch latencies, labeled by host.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"host"},
	)

	upstreamRateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_rate_limited_total",
			Help: "Total number of rate-limited upstream responses, labeled by host.",
		},
		[]string{"host"},
	)

	limiterWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "limiter_wait_seconds",
			Help:    "Histogram of time spent waiting for a concurrency permit.",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	limiterInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "limiter_permits_in_use",
			Help: "Number of concurrency permits currently held.",
		},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rate_limit_delays_seconds",
			Help:    "Histogram of per-host politeness wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)

	cacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_requests_total",
			Help: "Total number of cache lookups, labeled by namespace and result.",
		},
		[]string{"namespace", "result"},
	)

	cacheEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_evictions_total",
			Help: "Total number of cache entries removed, labeled by reason.",
		},
		[]string{"reason"},
	)

	resolverOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolver_outcomes_total",
			Help: "Total number of identity resolutions, labeled by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	resolverProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolver_provider_calls_total",
			Help: "Total number of title provider calls, labeled by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	streamExtractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_extractions_total",
			Help: "Total number of stream extractions, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	parseFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parse_failures_total",
			Help: "Total number of documents that failed structural parsing, labeled by language.",
		},
		[]string{"language"},
	)

	refreshRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refresh_runs_total",
			Help: "Total number of catalog refresh runs, labeled by language, mode and status.",
		},
		[]string{"language", "mode", "status"},
	)

	refreshDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "refresh_duration_seconds",
			Help:    "Histogram of catalog refresh durations, labeled by mode.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"mode"},
	)

	catalogRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "catalog_records",
			Help: "Number of records in the cached recent catalog, labeled by language.",
		},
		[]string{"language"},
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
)

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			routePattern = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, routePattern, ww.statusCode, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
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

// ObserveUpstream records one upstream fetch attempt.
func ObserveUpstream(rawURL, outcome string, duration time.Duration) {
	host := SanitizeSite(rawURL)
	upstreamRequestsTotal.WithLabelValues(host, outcome).Inc()
	upstreamRequestDurationSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveRateLimited records a rate-limited upstream response.
func ObserveRateLimited(rawURL string) {
	upstreamRateLimitedTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}

// ObserveLimiterWait records time spent waiting for a concurrency permit.
func ObserveLimiterWait(duration time.Duration) {
	limiterWaitSeconds.Observe(duration.Seconds())
}

// SetLimiterInUse sets the number of held concurrency permits.
func SetLimiterInUse(n int) {
	limiterInUse.Set(float64(n))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveCache records a cache lookup result ("hit" or "miss").
func ObserveCache(namespace string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheRequestsTotal.WithLabelValues(namespace, result).Inc()
}

// ObserveEviction records cache entries removed for the given reason.
func ObserveEviction(reason string, n int) {
	if n <= 0 {
		return
	}
	cacheEvictionsTotal.WithLabelValues(reason).Add(float64(n))
}

// ObserveResolution records an identity resolution outcome.
func ObserveResolution(kind, outcome string) {
	resolverOutcomesTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveProviderCall records one title provider call.
func ObserveProviderCall(provider, outcome string) {
	resolverProviderCallsTotal.WithLabelValues(provider, outcome).Inc()
}

// ObserveStream records a stream extraction outcome.
func ObserveStream(outcome string) {
	streamExtractionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveParseFailure records a document that failed structural parsing.
func ObserveParseFailure(language string) {
	parseFailuresTotal.WithLabelValues(language).Inc()
}

// ObserveRefresh records a finished refresh run.
func ObserveRefresh(language, mode, status string, records int, duration time.Duration) {
	refreshRunsTotal.WithLabelValues(language, mode, status).Inc()
	refreshDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
	if status != "error" {
		catalogRecords.WithLabelValues(language).Set(float64(records))
	}
}

// ObserveHTTPRequest records metrics for an HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

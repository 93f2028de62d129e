package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nildb_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nildb_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nildb_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nildb_http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
		},
		[]string{"method", "path"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nildb_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	dbConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nildb_db_connections_in_use",
			Help: "Number of database connections currently in use",
		},
	)

	dbConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nildb_db_connections_idle",
			Help: "Number of idle database connections",
		},
	)

	tokenVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nildb_token_verifications_total",
			Help: "Total number of capability-token verification attempts by outcome",
		},
		[]string{"outcome"},
	)

	revocationCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nildb_revocation_cache_total",
			Help: "Total number of revocation cache lookups by result",
		},
		[]string{"result"},
	)

	queryRunsQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nildb_query_runs_queued",
			Help: "Number of query runs currently pending or running",
		},
	)

	queryRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nildb_query_runs_total",
			Help: "Total number of query runs by terminal status",
		},
		[]string{"status"},
	)

	queryRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nildb_query_run_duration_seconds",
			Help:    "Query run execution time in seconds, from running to terminal state",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records one completed request's status, latency, and
// response size, keyed by the normalized route pattern rather than the raw
// path so per-document routes don't create unbounded label cardinality.
func RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int) {
	statusStr := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

func IncrementInFlight() {
	httpRequestsInFlight.Inc()
}

func DecrementInFlight() {
	httpRequestsInFlight.Dec()
}

func UpdateDBStats(open, inUse, idle int) {
	dbConnectionsOpen.Set(float64(open))
	dbConnectionsInUse.Set(float64(inUse))
	dbConnectionsIdle.Set(float64(idle))
}

// RecordTokenVerification records one internal/nuc.Verifier.Verify outcome
// ("ok" or an apperr.Tag string for the failure).
func RecordTokenVerification(outcome string) {
	tokenVerificationsTotal.WithLabelValues(outcome).Inc()
}

// RecordRevocationCacheLookup records one internal/nuc.RevocationCache
// lookup result ("hit", "miss", or "error").
func RecordRevocationCacheLookup(result string) {
	revocationCacheTotal.WithLabelValues(result).Inc()
}

// RecordQueryRunEnqueued bumps the queue-depth gauge for a freshly created
// pending query run.
func RecordQueryRunEnqueued() {
	queryRunsQueued.Inc()
}

// RecordQueryRunFinished drains the queue-depth gauge and records the
// terminal-status counter and duration histogram for a run that just left
// running for complete or error.
func RecordQueryRunFinished(status string, duration time.Duration) {
	queryRunsQueued.Dec()
	queryRunsTotal.WithLabelValues(status).Inc()
	queryRunDuration.Observe(duration.Seconds())
}

// NormalizePath collapses path-value segments (e.g. "{id}") so metrics
// labels stay low-cardinality regardless of the concrete value routed.
func NormalizePath(path string) string {
	if len(path) > 100 {
		path = path[:100]
	}

	normalized := ""
	inParam := false
	for i := 0; i < len(path); i++ {
		if path[i] == '{' {
			inParam = true
			normalized += ":"
			continue
		}
		if path[i] == '}' {
			inParam = false
			continue
		}
		if !inParam {
			normalized += string(path[i])
		}
	}
	return normalized
}

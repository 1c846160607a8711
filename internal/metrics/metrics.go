package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOperation identifies the cache method being instrumented.
type CacheOperation string

const (
	// CacheOperationLookup records payload cache lookup calls.
	CacheOperationLookup CacheOperation = "lookup"
	// CacheOperationStore records payload cache store attempts.
	CacheOperationStore CacheOperation = "store"
)

// CacheLookupOutcome captures the result of a cache lookup.
type CacheLookupOutcome string

const (
	// CacheLookupHit indicates a fresh payload was served from cache.
	CacheLookupHit CacheLookupOutcome = "hit"
	// CacheLookupStale indicates an entry existed but was past its TTL.
	CacheLookupStale CacheLookupOutcome = "stale"
	// CacheLookupMiss indicates no cached payload was present.
	CacheLookupMiss CacheLookupOutcome = "miss"
	// CacheLookupError indicates the lookup failed due to an error.
	CacheLookupError CacheLookupOutcome = "error"
)

// CacheStoreOutcome captures the result of a cache store attempt.
type CacheStoreOutcome string

const (
	// CacheStoreStored indicates the payload was persisted.
	CacheStoreStored CacheStoreOutcome = "stored"
	// CacheStoreError indicates the store operation failed.
	CacheStoreError CacheStoreOutcome = "error"
)

// UpstreamOutcome captures the result of a call to the journal portal.
type UpstreamOutcome string

const (
	UpstreamOK       UpstreamOutcome = "ok"
	UpstreamRejected UpstreamOutcome = "rejected"
	UpstreamFailed   UpstreamOutcome = "failed"
)

// Recorder publishes Prometheus metrics for proxy activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec

	upstreamCalls   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec

	cacheOperations *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec

	sessionOperations *prometheus.CounterVec
	sweepEvictions    *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "journalgate",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total API requests handled by the proxy.",
	}, []string{"route", "outcome", "status_code", "from_cache"})

	requestLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "journalgate",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for completed API requests.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"route", "outcome"})

	upstreamCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "journalgate",
		Subsystem: "upstream",
		Name:      "calls_total",
		Help:      "Calls issued to the journal portal.",
	}, []string{"operation", "result"})

	upstreamLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "journalgate",
		Subsystem: "upstream",
		Name:      "call_duration_seconds",
		Help:      "Latency distribution for journal portal calls.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"operation", "result"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "journalgate",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Payload cache operations executed by the proxy.",
	}, []string{"data_type", "operation", "result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "journalgate",
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for payload cache operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"data_type", "operation", "result"})

	sessionOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "journalgate",
		Subsystem: "session",
		Name:      "operations_total",
		Help:      "Session store operations by result.",
	}, []string{"operation", "result"})

	sweepEvictions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "journalgate",
		Subsystem: "store",
		Name:      "sweep_evictions_total",
		Help:      "Entries removed by opportunistic sweeps.",
	}, []string{"store"})

	reg.MustRegister(requests, requestLatency, upstreamCalls, upstreamLatency,
		cacheOperations, cacheLatency, sessionOperations, sweepEvictions)

	return &Recorder{
		gatherer:          reg,
		handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		requests:          requests,
		requestLatency:    requestLatency,
		upstreamCalls:     upstreamCalls,
		upstreamLatency:   upstreamLatency,
		cacheOperations:   cacheOperations,
		cacheLatency:      cacheLatency,
		sessionOperations: sessionOperations,
		sweepEvictions:    sweepEvictions,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveRequest records the outcome and latency for a completed API request.
func (r *Recorder) ObserveRequest(route, outcome string, statusCode int, fromCache bool, duration time.Duration) {
	if r == nil {
		return
	}
	routeLabel := normalizeLabel(route)
	outcomeLabel := normalizeLabel(outcome)
	statusLabel := strconv.Itoa(statusCode)
	if statusCode <= 0 {
		statusLabel = "unknown"
	}
	r.requests.WithLabelValues(routeLabel, outcomeLabel, statusLabel, strconv.FormatBool(fromCache)).Inc()
	r.requestLatency.WithLabelValues(routeLabel, outcomeLabel).Observe(duration.Seconds())
}

// ObserveUpstream records a login or action call against the portal.
func (r *Recorder) ObserveUpstream(operation string, result UpstreamOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	opLabel := normalizeLabel(operation)
	resLabel := normalizeLabel(string(result))
	r.upstreamCalls.WithLabelValues(opLabel, resLabel).Inc()
	r.upstreamLatency.WithLabelValues(opLabel, resLabel).Observe(duration.Seconds())
}

// ObserveCacheLookup records the result of a cache lookup.
func (r *Recorder) ObserveCacheLookup(dataType string, result CacheLookupOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheLookupMiss)
	}
	r.observeCache(normalizeLabel(dataType), CacheOperationLookup, resultLabel, duration)
}

// ObserveCacheStore records the result of a cache store attempt.
func (r *Recorder) ObserveCacheStore(dataType string, result CacheStoreOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheStoreError)
	}
	r.observeCache(normalizeLabel(dataType), CacheOperationStore, resultLabel, duration)
}

// ObserveSession counts a session store operation (create, lookup, delete).
func (r *Recorder) ObserveSession(operation, result string) {
	if r == nil {
		return
	}
	r.sessionOperations.WithLabelValues(normalizeLabel(operation), normalizeLabel(result)).Inc()
}

// ObserveSweep adds the number of entries a sweep removed from the named store.
func (r *Recorder) ObserveSweep(store string, removed int) {
	if r == nil || removed <= 0 {
		return
	}
	r.sweepEvictions.WithLabelValues(normalizeLabel(store)).Add(float64(removed))
}

func (r *Recorder) observeCache(dataType string, operation CacheOperation, result string, duration time.Duration) {
	opLabel := string(operation)
	if opLabel == "" {
		opLabel = string(CacheOperationLookup)
	}
	resLabel := normalizeLabel(result)
	r.cacheOperations.WithLabelValues(dataType, opLabel, resLabel).Inc()
	r.cacheLatency.WithLabelValues(dataType, opLabel, resLabel).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

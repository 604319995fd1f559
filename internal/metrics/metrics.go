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

// CacheCheckOutcome captures the result of a cache tier existence check.
type CacheCheckOutcome string

const (
	// CacheCheckHit indicates a cached thumbnail exists.
	CacheCheckHit CacheCheckOutcome = "hit"
	// CacheCheckMiss indicates no cached thumbnail exists.
	CacheCheckMiss CacheCheckOutcome = "miss"
	// CacheCheckError indicates the check itself failed and was treated as a miss.
	CacheCheckError CacheCheckOutcome = "error"
)

// QueueSubmissionOutcome captures the result of a cache population submission.
type QueueSubmissionOutcome string

const (
	QueueSubmissionSubmitted QueueSubmissionOutcome = "submitted"
	QueueSubmissionError     QueueSubmissionOutcome = "error"
	QueueSubmissionDropped   QueueSubmissionOutcome = "dropped"
)

// Recorder publishes Prometheus metrics for thumbnail resolution.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec

	cacheChecks      *prometheus.CounterVec
	queueSubmissions *prometheus.CounterVec
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
		Namespace: "thumbproxy",
		Subsystem: "thumbnail",
		Name:      "requests_total",
		Help:      "Total thumbnail requests by serving tier and response status.",
	}, []string{"tier", "status_code"})

	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "thumbproxy",
		Subsystem: "thumbnail",
		Name:      "request_duration_seconds",
		Help:      "Time until the upstream response started streaming to the client.",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"tier"})

	cacheChecks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "thumbproxy",
		Subsystem: "cache",
		Name:      "checks_total",
		Help:      "Cache tier existence checks by result.",
	}, []string{"result"})

	queueSubmissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "thumbproxy",
		Subsystem: "queue",
		Name:      "submissions_total",
		Help:      "Cache population submissions by result.",
	}, []string{"result"})

	reg.MustRegister(requests, latency, cacheChecks, queueSubmissions)

	return &Recorder{
		gatherer:         reg,
		handler:          promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		requests:         requests,
		latency:          latency,
		cacheChecks:      cacheChecks,
		queueSubmissions: queueSubmissions,
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

// Gatherer returns the underlying Prometheus gatherer for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveRequest records the outcome and latency of a thumbnail request.
func (r *Recorder) ObserveRequest(tier string, statusCode int, duration time.Duration) {
	if r == nil {
		return
	}
	tierLabel := normalizeLabel(tier)
	statusLabel := strconv.Itoa(statusCode)
	if statusCode <= 0 {
		statusLabel = "unknown"
	}
	r.requests.WithLabelValues(tierLabel, statusLabel).Inc()
	r.latency.WithLabelValues(tierLabel).Observe(duration.Seconds())
}

// ObserveCacheCheck records the result of a cache tier existence check.
func (r *Recorder) ObserveCacheCheck(result CacheCheckOutcome) {
	if r == nil {
		return
	}
	label := string(result)
	if label == "" {
		label = string(CacheCheckMiss)
	}
	r.cacheChecks.WithLabelValues(label).Inc()
}

// ObserveQueueSubmission records the result of a cache population submission.
func (r *Recorder) ObserveQueueSubmission(result QueueSubmissionOutcome) {
	if r == nil {
		return
	}
	r.queueSubmissions.WithLabelValues(normalizeLabel(string(result))).Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

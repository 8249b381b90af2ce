package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Reminder dispatch
	reminderSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_sends_total",
			Help: "Reminder outcomes per reservation: sent, failed, no_uid, skipped",
		},
		[]string{"result"},
	)

	dispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reminder_dispatch_duration_seconds",
			Help:    "Duration of a full reminder dispatch run",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// Scenario runtime
	scenarioSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scenario_steps_executed_total",
			Help: "Scenario steps executed, by step type",
		},
		[]string{"step_type"},
	)

	// Reconciliation
	reconciliationRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_rows_total",
			Help: "Bank deposit rows by outcome: matched, unmatched, updated, update_failed",
		},
		[]string{"outcome"},
	)

	// EHR
	ehrRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ehr_requests_total",
			Help: "Calls to external EHR backends",
		},
		[]string{"provider", "operation", "status"},
	)

	ehrRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ehr_request_duration_seconds",
			Help:    "EHR backend call duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency. Paths are labelled with
// the chi route pattern so ids do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := routePattern(r)
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// RecordReminder counts one per-reservation dispatch outcome.
func RecordReminder(result string) {
	reminderSends.WithLabelValues(result).Inc()
}

// RecordDispatchRun records the duration of one dispatch run.
func RecordDispatchRun(duration time.Duration) {
	dispatchDuration.Observe(duration.Seconds())
}

// RecordScenarioStep counts one executed scenario step.
func RecordScenarioStep(stepType string) {
	scenarioSteps.WithLabelValues(stepType).Inc()
}

// RecordReconciliation adds n rows with the given outcome.
func RecordReconciliation(outcome string, n int) {
	if n > 0 {
		reconciliationRows.WithLabelValues(outcome).Add(float64(n))
	}
}

// RecordEHRRequest records an EHR backend call
func RecordEHRRequest(provider, operation string, ok bool, duration time.Duration) {
	status := "error"
	if ok {
		status = "ok"
	}
	ehrRequests.WithLabelValues(provider, operation, status).Inc()
	ehrRequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

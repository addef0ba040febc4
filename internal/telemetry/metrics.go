package telemetry

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	httpDur = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// OutcomeTotal counts resolved trigger outcomes by result kind.
	OutcomeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trigger_outcomes_total",
		Help: "Total trigger outcomes by result kind",
	}, []string{"result"})

	// PresentationStates counts terminal presentation pipeline states.
	PresentationStates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "presentation_states_total",
		Help: "Total terminal presentation states",
	}, []string{"state"})

	// AssignmentUsers is the number of users with loaded assignments.
	AssignmentUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "assignment_users",
		Help: "Number of users with in-memory assignment state",
	})

	// ConfirmQueueDepth is the number of pending remote confirmations.
	ConfirmQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "confirm_queue_depth",
		Help: "Number of assignments queued for remote confirmation",
	})

	// SnapshotTriggers is the number of triggers in the current
	// campaign snapshot.
	SnapshotTriggers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "snapshot_triggers",
		Help: "Number of triggers currently in the campaign snapshot",
	})
)

func Init() {
	prometheus.MustRegister(httpReqs, httpDur, OutcomeTotal, PresentationStates,
		AssignmentUsers, ConfirmQueueDepth, SnapshotTriggers)
}

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// get route pattern if available
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}

		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(ww, r)

		httpReqs.WithLabelValues(route, r.Method, http.StatusText(ww.status)).Inc()
		httpDur.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

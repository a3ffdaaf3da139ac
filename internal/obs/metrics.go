package obs

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	accessDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labdesk_access_denied_total",
			Help: "Operations blocked by the permission guard.",
		},
		[]string{"action"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labdesk_workflow_transitions_total",
			Help: "Workflow state transitions by kind.",
		},
		[]string{"kind"},
	)

	remindersSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "labdesk_reminders_sent_total",
		Help: "Maintenance reminders emitted by the scheduler.",
	})

	streamDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "labdesk_stream_dropped_total",
		Help: "Notifications not delivered to a slow stream subscriber.",
	})

	streamSubscribers = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "labdesk_stream_subscribers",
		Help: "Attached notification stream subscribers.",
	}, func() float64 {
		if fn, ok := subscriberCount.Load().(func() int); ok {
			return float64(fn())
		}
		return 0
	})

	subscriberCount atomic.Value

	initOnce sync.Once
)

// Init registers metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration,
			accessDenied, transitions, remindersSent, streamDropped, streamSubscribers)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// AccessDenied counts a guard denial.
func AccessDenied(action string) { accessDenied.WithLabelValues(action).Inc() }

// Transition counts a workflow transition such as "report.approved".
func Transition(kind string) { transitions.WithLabelValues(kind).Inc() }

// RemindersSent adds n emitted reminders.
func RemindersSent(n int) { remindersSent.Add(float64(n)) }

// StreamDropped counts one notification a stream subscriber missed.
func StreamDropped() { streamDropped.Inc() }

// WatchSubscribers reports count as the live subscriber gauge.
func WatchSubscribers(count func() int) { subscriberCount.Store(count) }

// Instrument is chi middleware recording RPS, latency and in-flight requests.
// It must run inside the router so the matched route pattern is known.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := RouteLabel(r)
		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

// RouteLabel returns the matched chi pattern, or "unmatched" so raw ids never
// become label values.
func RouteLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps event streams working behind the middleware.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

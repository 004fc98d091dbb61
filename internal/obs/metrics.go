package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Общие HTTP-метрики
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
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Метрики аутентификации
var (
	authLogins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "First-factor login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	authOTPEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_otp_events_total",
			Help: "OTP issue/validate/resend events by outcome.",
		},
		[]string{"event", "outcome"},
	)

	authSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_sessions_total",
			Help: "Session lifecycle events.",
		},
		[]string{"event"},
	)

	authSweepDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_sweep_deleted_total",
			Help: "Records removed by the background sweeper.",
		},
		[]string{"kind"},
	)
)

var initOnce sync.Once

// Init registers every collector in the default registry. Safe to call twice.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			authLogins, authOTPEvents, authSessions, authSweepDeleted,
		)
	})
}

// Handler exposes the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// LoginOutcome counts a first-factor attempt.
func LoginOutcome(outcome string) { authLogins.WithLabelValues(outcome).Inc() }

// OTPEvent counts an OTP lifecycle event.
func OTPEvent(event, outcome string) { authOTPEvents.WithLabelValues(event, outcome).Inc() }

// SessionEvent counts a session lifecycle event.
func SessionEvent(event string) { authSessions.WithLabelValues(event).Inc() }

// SweepDeleted counts records removed by a sweep pass.
func SweepDeleted(kind string, n int64) {
	if n > 0 {
		authSweepDeleted.WithLabelValues(kind).Add(float64(n))
	}
}

// Instrument measures RPS, latency and in-flight requests. Install it with
// (*mux.Router).Use so the matched route is visible.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := CanonicalPath(r)
		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

// CanonicalPath returns the route template when the request was matched by
// a mux router, so ids do not explode label cardinality.
func CanonicalPath(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil && tpl != "" {
			return tpl
		}
	}
	return "unmatched"
}

// statusWriter records the response code.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

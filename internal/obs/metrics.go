package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

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

	settlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrollment_settlements_total",
			Help: "Settlement attempts by outcome.",
		},
		[]string{"outcome"},
	)

	gatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_gateway_requests_total",
			Help: "Charge intent requests to the payment gateway by outcome.",
		},
		[]string{"outcome"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the backing store answered the last readiness probe.",
	})

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Codelab API build information.",
		},
		[]string{"version", "commit"},
	)

	initOnce sync.Once
)

// Settlement outcomes.
const (
	OutcomeSettled            = "settled"
	OutcomeSeatsExhausted     = "seats_exhausted"
	OutcomeNotFound           = "not_found"
	OutcomePaymentWriteFailed = "payment_write_failed"
	OutcomeError              = "error"
)

// Init registers all collectors in the default registry. Safe to call twice.
func Init(version, commit string) {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			settlementsTotal, gatewayRequestsTotal, ready, buildInfo,
		)
	})
	buildInfo.WithLabelValues(version, commit).Set(1)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSettlement counts one settlement attempt.
func ObserveSettlement(outcome string) {
	settlementsTotal.WithLabelValues(outcome).Inc()
}

// ObserveGateway counts one charge intent request.
func ObserveGateway(outcome string) {
	gatewayRequestsTotal.WithLabelValues(outcome).Inc()
}

func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// Instrument records RPS, latency and in-flight requests per canonical path.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

var knownRoutes = map[string]bool{
	"/":                          true,
	"/healthz":                   true,
	"/readyz":                    true,
	"/metrics":                   true,
	"/jwt":                       true,
	"/create-payment-intent":     true,
	"/payments":                  true,
	"/payments/enrolled/student": true,
	"/classes":                   true,
	"/events/enrollments":        true,
}

// CanonicalPath maps a request path onto a bounded label set: known routes,
// "/classes/:id", and "other" for everything else.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	if knownRoutes[p] {
		return p
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) == 2 && parts[0] == "classes" && parts[1] != "" {
		return "/classes/:id"
	}
	return "other"
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE responses working through the instrumentation wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

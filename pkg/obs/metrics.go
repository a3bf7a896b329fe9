// Package obs exposes Prometheus metrics for the HTTP surface and for token
// and authorization outcomes.
package obs

import (
	"net/http"
	"strconv"
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

	tokensIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iam_tokens_issued_total",
			Help: "Tokens minted, by token type.",
		},
		[]string{"type"},
	)

	tokenVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iam_token_verifications_total",
			Help: "Token verification outcomes, by result.",
		},
		[]string{"result"},
	)

	authzDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iam_authz_decisions_total",
			Help: "Authorization gate decisions, by result.",
		},
		[]string{"result"},
	)

	keyRotations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "iam_key_rotations_total",
		Help: "Signing key rotations.",
	})

	revocations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "iam_revocations_total",
		Help: "Tokens explicitly revoked.",
	})
)

var initOnce sync.Once

// Init registers the collectors with the default registry. Safe to call
// more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			tokensIssued, tokenVerifications, authzDecisions,
			keyRotations, revocations,
		)
	})
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records RPS, latency and in-flight count for one route. The
// route label is the mux pattern, never the raw path, to keep cardinality
// bounded.
func Instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

// TokenIssued counts a minted token of the given type.
func TokenIssued(tokenType string) { tokensIssued.WithLabelValues(tokenType).Inc() }

// TokenVerified counts a verification outcome ("ok", "expired", ...).
func TokenVerified(result string) { tokenVerifications.WithLabelValues(result).Inc() }

// AuthzDecision counts a gate decision by reason.
func AuthzDecision(result string) { authzDecisions.WithLabelValues(result).Inc() }

// KeyRotated counts a signing key rotation.
func KeyRotated() { keyRotations.Inc() }

// TokenRevoked counts an explicit revocation.
func TokenRevoked() { revocations.Inc() }

type statusWriter struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.code = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

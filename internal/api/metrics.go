package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phigate_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "phigate_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	gatewayOperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phigate_gateway_operations_total",
		Help: "Gateway operations by entity, action, and outcome.",
	}, []string{"entity", "action", "outcome"})

	rateLimitDenialsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phigate_rate_limit_denials_total",
		Help: "Requests denied by the rate limiter.",
	}, []string{"action"})

	csrfFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phigate_csrf_failures_total",
		Help: "CSRF validation failures by reason.",
	}, []string{"reason"})

	auditPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "phigate_audit_pending_records",
		Help: "Audit records parked awaiting sink recovery.",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, gatewayOperationsTotal,
		rateLimitDenialsTotal, csrfFailuresTotal, auditPending)
}

// MetricsHandler returns the Prometheus metrics HTTP handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// metricsMiddleware records request metrics.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rr, r)

		dur := time.Since(start).Seconds()
		status := strconv.Itoa(rr.statusCode)
		requestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		requestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(dur)
	})
}

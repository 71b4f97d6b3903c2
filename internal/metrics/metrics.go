// Package metrics provides Prometheus instrumentation for the settlement service.
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
	// SettlementsCreated counts created settlements, partitioned by currency.
	SettlementsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wedloop_settlements_created_total",
		Help: "Total number of settlements created",
	}, []string{"currency"})

	// SettlementFailures counts rejected settlement requests by reason.
	SettlementFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wedloop_settlement_failures_total",
		Help: "Settlement requests rejected before creation",
	}, []string{"reason"})

	// GatewayCalls counts gateway calls by operation and outcome.
	GatewayCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wedloop_gateway_calls_total",
		Help: "Payment gateway calls",
	}, []string{"operation", "outcome"})

	// DistributionLines counts provider payout line transitions.
	DistributionLines = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wedloop_distribution_lines_total",
		Help: "Provider payout lines processed during distribution",
	}, []string{"outcome"})

	// RefundsProcessed counts refund processing outcomes.
	RefundsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wedloop_refunds_processed_total",
		Help: "Refund processing attempts",
	}, []string{"outcome"})

	// RateLookups counts exchange-rate lookups, including misses.
	RateLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wedloop_rate_lookups_total",
		Help: "Exchange rate lookups",
	}, []string{"outcome"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wedloop_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wedloop_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// statusRecorder captures the response status for instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware instruments HTTP handlers with request counts and latency.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

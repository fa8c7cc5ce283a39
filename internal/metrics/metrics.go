// Package metrics provides Prometheus instrumentation for the token
// distributor.
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
	// TransfersTotal counts executed transfers, partitioned by whether a
	// fee was withheld.
	TransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokendist_transfers_total",
		Help: "Total number of transfers executed",
	}, []string{"taxed"})

	// TransferLatency is the transfer execution latency.
	TransferLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tokendist_transfer_latency_seconds",
		Help:    "Transfer execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// FeesCollected accumulates withheld fee tokens (wei).
	FeesCollected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokendist_fees_collected_wei_total",
		Help: "Cumulative fee tokens withheld, in wei",
	})

	// SwapBacksTotal counts completed swap-back cycles.
	SwapBacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokendist_swap_backs_total",
		Help: "Total number of completed swap-back cycles",
	})

	// SwapBackFailures counts swap-backs aborted by the venue.
	SwapBackFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokendist_swap_back_failures_total",
		Help: "Swap-back cycles aborted by venue failures",
	})

	// DistributionPayouts counts individual holder payouts, partitioned by
	// reward asset.
	DistributionPayouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokendist_distribution_payouts_total",
		Help: "Individual holder reward payouts",
	}, []string{"asset"})

	// HoldersVisited counts holders visited by distribution passes.
	HoldersVisited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokendist_holders_visited_total",
		Help: "Holders visited by the bounded distribution scheduler",
	})

	// HolderCount tracks the current size of the holder list.
	HolderCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tokendist_holders",
		Help: "Number of accounts currently holding shares",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tokendist_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokendist_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tokendist_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// LimitRejections counts transfers rejected by the max-tx policy.
	LimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokendist_limit_rejections_total",
		Help: "Transfers rejected by the max transaction limit",
	})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the API surface is small and
		// fixed, so cardinality stays bounded.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

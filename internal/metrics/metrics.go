// Package metrics provides Prometheus instrumentation for the paper engine.
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
	// PositionsOpened counts positions opened, partitioned by side.
	PositionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdex_positions_opened_total",
		Help: "Total number of positions opened",
	}, []string{"side"})

	// PositionsClosed counts positions closed, partitioned by outcome.
	PositionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdex_positions_closed_total",
		Help: "Total number of positions closed",
	}, []string{"outcome"})

	// TradesRejected counts opens rejected before any state mutation.
	TradesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdex_trades_rejected_total",
		Help: "Trades rejected by balance or risk checks",
	}, []string{"reason"})

	// WalletBalance tracks the current ledger balance.
	WalletBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cdex_wallet_balance",
		Help: "Current wallet balance in ledger units",
	})

	// OpenPositions tracks the number of open positions.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cdex_open_positions",
		Help: "Number of currently open positions",
	})

	// FeedTicks counts price updates, partitioned by source.
	FeedTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdex_feed_ticks_total",
		Help: "Price feed updates by source",
	}, []string{"source"})

	// FeedSynthetic is 1 while the feed runs in synthetic mode.
	FeedSynthetic = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cdex_feed_synthetic",
		Help: "1 when the price feed has degraded to synthetic mode",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cdex_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdex_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cdex_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
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

		// Use the route pattern for path label to avoid high cardinality.
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

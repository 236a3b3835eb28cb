// Package metrics provides Prometheus instrumentation for the auction engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BidsTotal counts bid submissions, partitioned by result
	// ("accepted", "rejected", "replayed").
	BidsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_bids_total",
		Help: "Total number of bid submissions processed",
	}, []string{"result"})

	// BidRejections counts rule failures by reason so spikes in closed-parcel
	// or low-bid traffic are visible.
	BidRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_bid_rejections_total",
		Help: "Bid submissions rejected, by rule",
	}, []string{"reason"})

	// BidLatency tracks submission latency through the full critical section.
	BidLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "auction_bid_latency_seconds",
		Help:    "Bid submission latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// DeadlineExtensions counts anti-snipe extensions applied.
	DeadlineExtensions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auction_deadline_extensions_total",
		Help: "Anti-snipe deadline extensions applied",
	})

	// ParcelsWon counts parcels finalized with a winner.
	ParcelsWon = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auction_parcels_won_total",
		Help: "Parcels finalized with a winning bid",
	})

	// LockedMANA gauges the total locked across all addresses.
	LockedMANA = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auction_locked_mana_total",
		Help: "Total MANA locked across all addresses",
	})

	// InvariantViolations counts ledger invariant violations. Any non-zero
	// value is an alerting condition.
	InvariantViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auction_invariant_violations_total",
		Help: "Ledger invariant violations detected (always alert)",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "auction_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auction_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})
)

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// GinMiddleware instruments every request with count and duration.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status()),
		).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).
			Observe(time.Since(start).Seconds())
	}
}

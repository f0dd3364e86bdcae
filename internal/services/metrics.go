package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the daemon
type Metrics struct {
	// Local WebSocket client metrics
	WebSocketConnections prometheus.Gauge
	WebSocketMessages    *prometheus.CounterVec

	// Remote sync metrics
	AssetFetches     *prometheus.CounterVec
	AssetFetchDelay  prometheus.Histogram
	StreamReconnects prometheus.Counter

	// Enrichment metrics
	Captures    *prometheus.CounterVec
	DraftErrors prometheus.Counter

	connManager *ConnectionManager
}

var globalMetrics *Metrics

// InitMetrics initializes the Prometheus metrics
func InitMetrics(connManager *ConnectionManager, cache *AssetCache) *Metrics {
	metrics := &Metrics{
		connManager: connManager,

		WebSocketConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "stashd_websocket_connections_active",
			Help: "Number of active local WebSocket connections",
		}),

		WebSocketMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stashd_websocket_messages_total",
			Help: "Total number of WebSocket messages by type",
		}, []string{"type", "direction"}),

		AssetFetches: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stashd_asset_fetches_total",
			Help: "Total number of remote asset fetches by outcome",
		}, []string{"outcome"}), // "ok" or "error"

		AssetFetchDelay: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stashd_asset_fetch_duration_seconds",
			Help:    "Remote asset fetch latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30},
		}),

		StreamReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stashd_stream_reconnects_total",
			Help: "Total number of change feed reconnect attempts",
		}),

		Captures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stashd_captures_total",
			Help: "Total number of capture candidates accepted by source",
		}, []string{"source"}),

		DraftErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stashd_draft_errors_total",
			Help: "Total number of failed or unavailable enrichment drafts",
		}),
	}

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "stashd_websocket_connections_current",
			Help: "Current number of active WebSocket connections (from connection manager)",
		},
		func() float64 {
			if connManager != nil {
				return float64(connManager.Count())
			}
			return 0
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "stashd_assets_cached",
			Help: "Number of assets in the local mirror",
		},
		func() float64 {
			if cache != nil {
				return float64(cache.Len())
			}
			return 0
		},
	))

	globalMetrics = metrics
	return metrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	return globalMetrics
}

// RecordWebSocketConnect records a new WebSocket connection
func (m *Metrics) RecordWebSocketConnect() {
	m.WebSocketConnections.Inc()
}

// RecordWebSocketDisconnect records a WebSocket disconnection
func (m *Metrics) RecordWebSocketDisconnect() {
	m.WebSocketConnections.Dec()
}

// RecordWebSocketMessage records a WebSocket message
func (m *Metrics) RecordWebSocketMessage(msgType, direction string) {
	m.WebSocketMessages.WithLabelValues(msgType, direction).Inc()
}

// RecordAssetFetch records a remote fetch outcome and latency
func (m *Metrics) RecordAssetFetch(outcome string, seconds float64) {
	m.AssetFetches.WithLabelValues(outcome).Inc()
	m.AssetFetchDelay.Observe(seconds)
}

// RecordStreamReconnect records a change feed reconnect attempt
func (m *Metrics) RecordStreamReconnect() {
	m.StreamReconnects.Inc()
}

// RecordCapture records an accepted capture candidate
func (m *Metrics) RecordCapture(source string) {
	m.Captures.WithLabelValues(source).Inc()
}

// RecordDraftError records a failed or unavailable draft
func (m *Metrics) RecordDraftError() {
	m.DraftErrors.Inc()
}

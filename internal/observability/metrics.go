// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Feed metrics
	EventsProcessed *prometheus.CounterVec
	DecodeFailures  prometheus.Counter
	FeedReconnects  prometheus.Counter
	SubscribeErrors prometheus.Counter

	// Tracking metrics
	TokensTracked   prometheus.Gauge
	TokensCleanedUp prometheus.Counter

	// Analysis metrics
	OpportunitiesDetected prometheus.Counter
	EvaluationLatency     prometheus.Histogram

	// Broadcast metrics
	BroadcastsSent   *prometheus.CounterVec
	ViewersConnected prometheus.Gauge

	// Archive metrics
	TradesArchived prometheus.Counter
	ArchiveDropped prometheus.Counter
	ArchiveErrors  prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "pumpwatch"
	}

	return &Metrics{
		// Feed metrics
		EventsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "events_processed_total",
			Help:      "Total number of feed events processed by type",
		}, []string{"event_type"}),
		DecodeFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "decode_failures_total",
			Help:      "Total number of feed messages that could not be decoded",
		}),
		FeedReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Total number of feed reconnections",
		}),
		SubscribeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "subscribe_errors_total",
			Help:      "Total number of failed trade subscription commands",
		}),

		// Tracking metrics
		TokensTracked: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "tokens_tracked",
			Help:      "Current number of tracked tokens",
		}),
		TokensCleanedUp: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "tokens_cleaned_up_total",
			Help:      "Total number of inactive tokens removed by cleanup",
		}),

		// Analysis metrics
		OpportunitiesDetected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analyzer",
			Name:      "opportunities_detected_total",
			Help:      "Total number of tokens newly crossing the opportunity threshold",
		}),
		EvaluationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analyzer",
			Name:      "evaluation_latency_seconds",
			Help:      "Signal evaluation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Broadcast metrics
		BroadcastsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "messages_sent_total",
			Help:      "Total number of broadcast messages sent by kind",
		}, []string{"kind"}),
		ViewersConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "viewers_connected",
			Help:      "Current number of connected viewer clients",
		}),

		// Archive metrics
		TradesArchived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "trades_archived_total",
			Help:      "Total number of trades written to the archive",
		}),
		ArchiveDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "trades_dropped_total",
			Help:      "Total number of trades dropped due to a full archive buffer",
		}),
		ArchiveErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "write_errors_total",
			Help:      "Total number of failed archive batch writes",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordEventProcessed increments the processed counter for an event type.
func RecordEventProcessed(eventType string) {
	DefaultMetrics.EventsProcessed.WithLabelValues(eventType).Inc()
}

// RecordDecodeFailure increments the decode failure counter.
func RecordDecodeFailure() {
	DefaultMetrics.DecodeFailures.Inc()
}

// RecordReconnect increments the feed reconnect counter.
func RecordReconnect() {
	DefaultMetrics.FeedReconnects.Inc()
}

// RecordSubscribeError increments the subscription error counter.
func RecordSubscribeError() {
	DefaultMetrics.SubscribeErrors.Inc()
}

// RecordTokenTracked updates the tracked-token gauge.
func RecordTokenTracked(total int) {
	DefaultMetrics.TokensTracked.Set(float64(total))
}

// RecordCleanup adds to the cleanup counter.
func RecordCleanup(removed int) {
	DefaultMetrics.TokensCleanedUp.Add(float64(removed))
}

// RecordOpportunity increments the opportunity counter.
func RecordOpportunity() {
	DefaultMetrics.OpportunitiesDetected.Inc()
}

// RecordEvaluation records one evaluation's latency.
func RecordEvaluation(seconds float64) {
	DefaultMetrics.EvaluationLatency.Observe(seconds)
}

// RecordBroadcast increments the broadcast counter for a message kind.
func RecordBroadcast(kind string) {
	DefaultMetrics.BroadcastsSent.WithLabelValues(kind).Inc()
}

// SetViewers updates the connected-viewer gauge.
func SetViewers(n int) {
	DefaultMetrics.ViewersConnected.Set(float64(n))
}

// RecordTradeArchived increments the archived-trade counter.
func RecordTradeArchived(n int) {
	DefaultMetrics.TradesArchived.Add(float64(n))
}

// RecordArchiveDrop increments the dropped-trade counter.
func RecordArchiveDrop() {
	DefaultMetrics.ArchiveDropped.Inc()
}

// RecordArchiveError increments the archive write error counter.
func RecordArchiveError() {
	DefaultMetrics.ArchiveErrors.Inc()
}

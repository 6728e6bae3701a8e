package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// promHandler returns the default registry's HTTP handler for /metrics.
func promHandler() http.Handler {
	return promhttp.Handler()
}

// metrics holds the Prometheus instruments exported on /metrics.
// Grounded on abdoElHodaky-tradSys's matching-engine instrumentation
// (per-market counters/histograms registered with promauto) and
// dylanlott-orderbook's queue-depth gauge pattern.
type metrics struct {
	ordersSubmitted  *prometheus.CounterVec
	ordersRejected   *prometheus.CounterVec
	fillsProcessed   *prometheus.CounterVec
	crankerRewardSum *prometheus.CounterVec
	queueDepth       *prometheus.GaugeVec
	settleLatency    prometheus.Histogram
}

func newMetrics() *metrics {
	return &metrics{
		ordersSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "clobd_orders_submitted_total",
			Help: "New order submissions accepted by the matching engine, by market.",
		}, []string{"market"}),
		ordersRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "clobd_orders_rejected_total",
			Help: "New order submissions rejected before or during matching, by market and reason.",
		}, []string{"market", "reason"}),
		fillsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "clobd_fills_processed_total",
			Help: "Fill events drained and recorded for clearing, by market.",
		}, []string{"market"}),
		crankerRewardSum: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "clobd_cranker_reward_paid_total",
			Help: "Cumulative cranker reward paid out of each market's fee budget.",
		}, []string{"market"}),
		queueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clobd_event_queue_depth",
			Help: "Events drained from a market's queue on the last consume_events poll.",
		}, []string{"market"}),
		settleLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "clobd_settlement_latency_seconds",
			Help:    "Time spent in ClearingHouse.Settle per call.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Package metrics defines Prometheus metrics for the relay services.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FeedFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "losrelay_feed_fetches_total",
			Help: "Feed fetches by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	FeedFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "losrelay_feed_fetch_duration_seconds",
			Help:    "Feed fetch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	SnapshotNodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "losrelay_snapshot_nodes",
			Help: "Nodes in the current snapshot",
		},
	)

	SnapshotFetchedAt = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "losrelay_snapshot_fetched_timestamp_seconds",
			Help: "Unix time the current snapshot was fetched",
		},
	)

	GraphEdges = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "losrelay_graph_edges",
			Help: "Edges in the most recently built visibility graph",
		},
		[]string{"metric"},
	)

	PathQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "losrelay_path_queries_total",
			Help: "Path queries by metric and outcome (found, no_path, error)",
		},
		[]string{"metric", "outcome"},
	)

	PathHops = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "losrelay_path_hops",
			Help:    "Hop count of found paths",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 8, 10, 15, 20},
		},
		[]string{"metric"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "losrelay_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "losrelay_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	WSConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "losrelay_websocket_connections",
			Help: "Active WebSocket connections",
		},
	)
)

func init() {
	prometheus.MustRegister(
		FeedFetchesTotal, FeedFetchDuration,
		SnapshotNodes, SnapshotFetchedAt, GraphEdges,
		PathQueriesTotal, PathHops,
		RequestDuration, RequestsTotal, WSConnections,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSnapshot records the size and fetch time of a new snapshot.
func ObserveSnapshot(nodes int, fetchedAt time.Time) {
	SnapshotNodes.Set(float64(nodes))
	SnapshotFetchedAt.Set(float64(fetchedAt.Unix()))
}

// ObservePath records one path query. hops is ignored unless outcome is "found".
func ObservePath(metric, outcome string, hops int) {
	PathQueriesTotal.WithLabelValues(metric, outcome).Inc()
	if outcome == "found" {
		PathHops.WithLabelValues(metric).Observe(float64(hops))
	}
}

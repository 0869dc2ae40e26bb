package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Process-wide metrics, registered on the default registry and served by the
// daemon at /metrics.
var (
	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "graph_explorer_tick_duration_seconds",
			Help:    "Wall time spent in one layout simulation tick",
			Buckets: []float64{0.00005, 0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05},
		},
	)

	TicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "graph_explorer_ticks_total",
			Help: "Total number of layout simulation ticks executed",
		},
	)

	SettlesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "graph_explorer_settles_total",
			Help: "Number of transitions into the settled state",
		},
	)

	ReheatsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graph_explorer_reheats_total",
			Help: "Number of simulation reheats by cause",
		},
		[]string{"cause"}, // replace, merge, drag, manual
	)

	FetchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graph_explorer_fetch_outcomes_total",
			Help: "Resolved gesture fetches by gesture and outcome",
		},
		[]string{"gesture", "outcome"}, // outcome: applied, stale, failed, unknown_anchor
	)

	DroppedLinksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "graph_explorer_dropped_links_total",
			Help: "Links dropped because an endpoint was missing",
		},
	)

	BackendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graph_explorer_backend_requests_total",
			Help: "Requests made to the graph backend by endpoint and result",
		},
		[]string{"endpoint", "result"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "graph_explorer_active_sessions",
			Help: "Number of live exploration sessions",
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graph_explorer_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	RateLimitedGestures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graph_explorer_rate_limited_gestures_total",
			Help: "Gestures rejected by the per-session rate limit",
		},
		[]string{"transport"},
	)
)

// Package metrics declares the prometheus collectors exported by slipbox.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreMutations counts committed note graph mutations by operation.
	StoreMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slipbox_store_mutations_total",
		Help: "Committed note graph mutations by operation.",
	}, []string{"op"})

	// PersistFailures counts persistence writes that failed after the local
	// mutation was applied.
	PersistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slipbox_persist_failures_total",
		Help: "Failed asynchronous persistence writes by operation.",
	}, []string{"op"})

	// SnapshotsApplied counts remote snapshots installed over local state.
	SnapshotsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slipbox_snapshots_applied_total",
		Help: "Remote snapshots installed by the session (last writer wins).",
	})

	// LayoutTicks counts physics ticks across all map views, warm-up included.
	LayoutTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slipbox_layout_ticks_total",
		Help: "Physics simulation ticks executed.",
	})

	// MapViewsOpen tracks currently open map views.
	MapViewsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "slipbox_map_views_open",
		Help: "Map views currently open.",
	})

	// VisibleNodes observes the size of each recomputed visible subgraph.
	VisibleNodes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "slipbox_visible_nodes",
		Help:    "Size of the visible subgraph after each recomputation.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})
)

package mesh

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the Prometheus instrumentation for one process's graph shard.
// All collectors are namespaced "agentmesh_" and labeled with the rank, so a
// cluster scraped into one Prometheus shows per-rank balance at a glance.
//
// Collectors:
//   - local_nodes, distant_nodes (gauges): current replica counts. Watching
//     them across a Distribute shows the migration settle.
//   - links_total, unlinks_total (counters): edge churn.
//   - migrations_total (counter): nodes shipped away by Distribute.
//   - synchronize_latency_ms, distribute_latency_ms (histograms): wall time
//     of the collective operations.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := mesh.NewMetrics(registry, rank)
//	g := mesh.NewGraph(tp, codec, mesh.GhostMode[Agent], mesh.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type Metrics struct {
	localNodes   prometheus.Gauge
	distantNodes prometheus.Gauge

	links      prometheus.Counter
	unlinks    prometheus.Counter
	migrations prometheus.Counter

	synchronizeLatency prometheus.Histogram
	distributeLatency  prometheus.Histogram
}

// NewMetrics registers the mesh collectors for one rank with registerer.
func NewMetrics(registerer prometheus.Registerer, rank int) *Metrics {
	factory := promauto.With(registerer)
	labels := prometheus.Labels{"rank": strconv.Itoa(rank)}
	buckets := []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000}

	return &Metrics{
		localNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentmesh", Name: "local_nodes",
			Help:        "Nodes owned by this rank.",
			ConstLabels: labels,
		}),
		distantNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentmesh", Name: "distant_nodes",
			Help:        "Cached replicas of nodes owned elsewhere.",
			ConstLabels: labels,
		}),
		links: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "agentmesh", Name: "links_total",
			Help:        "Edges created on this rank.",
			ConstLabels: labels,
		}),
		unlinks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "agentmesh", Name: "unlinks_total",
			Help:        "Edges removed on this rank.",
			ConstLabels: labels,
		}),
		migrations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "agentmesh", Name: "migrations_total",
			Help:        "Nodes exported by Distribute.",
			ConstLabels: labels,
		}),
		synchronizeLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agentmesh", Name: "synchronize_latency_ms",
			Help:        "Wall time of Synchronize in milliseconds.",
			ConstLabels: labels,
			Buckets:     buckets,
		}),
		distributeLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agentmesh", Name: "distribute_latency_ms",
			Help:        "Wall time of Distribute in milliseconds.",
			ConstLabels: labels,
			Buckets:     buckets,
		}),
	}
}

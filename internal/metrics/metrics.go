// Package metrics holds the Prometheus collectors of the analysis service.
package metrics

import (
	"time"

	"github.com/insightlab/causal/backend/pkg/causal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	analyzeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "causal_analyze_requests_total",
		Help: "Number of analyses by resulting direction",
	}, []string{"direction"})

	analyzeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "causal_analyze_duration_seconds",
		Help:    "Wall clock time of a single analysis",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	pathsFound = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "causal_paths_found",
		Help:    "Qualifying paths per analysis",
		Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 1000, 5000},
	})

	graphReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "causal_graph_reloads_total",
		Help: "Graph reloads by result",
	}, []string{"result"})

	graphNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "causal_graph_nodes",
		Help: "Nodes in the graph currently served",
	})

	graphEdges = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "causal_graph_edges",
		Help: "Edges in the graph currently served",
	})
)

// ObserveAnalysis records one answered query.
func ObserveAnalysis(res causal.AnalysisResult, took time.Duration) {
	analyzeRequests.WithLabelValues(res.Direction).Inc()
	analyzeDuration.Observe(took.Seconds())
	pathsFound.Observe(float64(res.PathCount))
}

// ObserveReload records a reload attempt. On success the graph gauges follow
// the new snapshot.
func ObserveReload(g *causal.Graph, err error) {
	if err != nil {
		graphReloads.WithLabelValues("error").Inc()
		return
	}
	graphReloads.WithLabelValues("ok").Inc()
	SetGraph(g)
}

func SetGraph(g *causal.Graph) {
	if g == nil {
		return
	}
	graphNodes.Set(float64(g.NodeCount()))
	graphEdges.Set(float64(g.EdgeCount()))
}

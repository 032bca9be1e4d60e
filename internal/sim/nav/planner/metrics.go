package planner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxelpath_planner_searches_total",
		Help: "Finished searches by status and termination reason",
	}, []string{"status", "reason"})

	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voxelpath_planner_search_duration_seconds",
		Help:    "Wall-clock duration of searches",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})

	nodesExpanded = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voxelpath_planner_nodes_expanded",
		Help:    "Nodes expanded per search",
		Buckets: prometheus.ExponentialBuckets(16, 4, 8),
	})

	failuresRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxelpath_planner_failures_recorded_total",
		Help: "Execution failures reported to the planner by reason",
	}, []string{"reason"})

	recoveryDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxelpath_planner_recovery_decisions_total",
		Help: "Recovery decisions by action",
	}, []string{"action"})

	busyRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxelpath_planner_busy_rejections_total",
		Help: "Plan calls rejected because a search was already running",
	})
)

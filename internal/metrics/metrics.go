// Package metrics holds the Prometheus collectors of the engine. They are
// registered with the default registry and served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Commits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_commits_total",
		Help: "Total number of table commits by result (success, conflict, error).",
	}, []string{"result"})

	CommitAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_commit_attempts_total",
		Help: "Total number of pointer swap attempts, including retries.",
	})

	CommitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "strata_commit_duration_seconds",
		Help:    "Duration of table commits including retries.",
		Buckets: prometheus.DefBuckets,
	})

	ManifestsScanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_planner_manifests_total",
		Help: "Manifests considered by scan planning, by outcome (scanned, pruned).",
	}, []string{"outcome"})

	FilesScanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_planner_files_total",
		Help: "Data files considered by scan planning, by outcome (planned, pruned).",
	}, []string{"outcome"})

	SnapshotsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_snapshots_expired_total",
		Help: "Total number of snapshots removed by expiry.",
	})

	FilesDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_files_deleted_total",
		Help: "Total number of objects deleted by maintenance, by kind.",
	}, []string{"kind"})

	OrphansFound = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_orphans_found_total",
		Help: "Total number of unreferenced objects reported by orphan detection.",
	})

	FilesCompacted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_files_compacted_total",
		Help: "Total number of data files rewritten by compaction.",
	})
)

var (
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_cache_requests_total",
		Help: "Object reads served by the local cache, by result (hit, miss).",
	}, []string{"result"})

	CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_cache_evictions_total",
		Help: "Total number of objects evicted from the local cache.",
	})

	CacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "strata_cache_bytes",
		Help: "Bytes held by the local cache.",
	})
)

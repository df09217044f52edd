package pushqueue

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// queueDepth is only written by the shard's own worker.
var (
	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calsync",
			Subsystem: "pushqueue",
			Name:      "submissions_total",
			Help:      "Push jobs accepted for execution.",
		},
		[]string{"shard"},
	)

	queueFullTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calsync",
			Subsystem: "pushqueue",
			Name:      "queue_full_total",
			Help:      "Enqueue attempts that timed out on a full shard.",
		},
		[]string{"shard"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "calsync",
			Subsystem: "pushqueue",
			Name:      "run_duration_seconds",
			Help:      "Push job latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"shard"},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "calsync",
			Subsystem: "pushqueue",
			Name:      "queue_depth",
			Help:      "Current depth of each push shard.",
		},
		[]string{"shard"},
	)
)

func shardLabel(i int) string { return strconv.Itoa(i) }

package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultSuccess = "success"
	resultFailure = "failure"
)

var (
	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "calsync",
		Subsystem: "pull_worker",
		Name:      "cycles_total",
		Help:      "Scheduled pull cycles by result.",
	}, []string{"result"})

	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "calsync",
		Subsystem: "pull_worker",
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of a full pull cycle.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})
)

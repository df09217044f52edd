package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultSuccess = "success"
	resultFailure = "failure"
)

var (
	pushTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calsync",
			Subsystem: "sync",
			Name:      "push_total",
			Help:      "Outbound pushes by provider, action and result.",
		},
		[]string{"provider", "action", "result"},
	)

	pullTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calsync",
			Subsystem: "sync",
			Name:      "pull_total",
			Help:      "Inbound pulls by provider and result.",
		},
		[]string{"provider", "result"},
	)

	pulledEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calsync",
			Subsystem: "sync",
			Name:      "pulled_events_total",
			Help:      "Remote events normalized by successful pulls.",
		},
		[]string{"provider"},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calsync",
			Subsystem: "sync",
			Name:      "retries_total",
			Help:      "Provider calls retried after a temporary failure.",
		},
		[]string{"provider", "op"},
	)

	callDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "calsync",
			Subsystem: "sync",
			Name:      "provider_call_duration_seconds",
			Help:      "Wall time of a push or pull against one provider, retries included.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "op"},
	)
)

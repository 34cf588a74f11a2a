package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	labelGroup = "group"
	labelTopic = "topic"
)

var (
	// AssignmentCycles counts assignment cycles processed per group.
	AssignmentCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "elsa",
		Subsystem: "group",
		Name:      "assignment_cycles_total",
		Help:      "Number of assignment cycles received from the coordinator.",
	}, []string{labelGroup})

	// Revocations counts revocation cycles processed per group.
	Revocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "elsa",
		Subsystem: "group",
		Name:      "revocations_total",
		Help:      "Number of revocation cycles received from the coordinator.",
	}, []string{labelGroup})

	// StaleAcksDropped counts acknowledgments dropped because their
	// generation did not match the current one.
	StaleAcksDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "elsa",
		Subsystem: "group",
		Name:      "stale_acks_dropped_total",
		Help:      "Number of acknowledgments dropped due to a generation mismatch.",
	}, []string{labelGroup, labelTopic})

	// WorkerRestarts counts partition workers restarted after a crash.
	WorkerRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "elsa",
		Subsystem: "group",
		Name:      "worker_restarts_total",
		Help:      "Number of partition workers restarted after abnormal termination.",
	}, []string{labelGroup, labelTopic})
)

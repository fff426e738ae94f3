package checker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "partrecon",
		Subsystem: "checker",
		Name:      "dispatches_total",
		Help:      "Tasks dispatched, by task type.",
	}, []string{"task"})

	taskFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "partrecon",
		Subsystem: "checker",
		Name:      "task_failures_total",
		Help:      "Tasks dropped after a failed collection or repair call, by task type.",
	}, []string{"task"})

	inflightTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "partrecon",
		Subsystem: "checker",
		Name:      "inflight_tasks",
		Help:      "Tasks currently in flight.",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "partrecon",
		Subsystem: "checker",
		Name:      "queue_depth",
		Help:      "Work items waiting in the session queue.",
	})

	inconsistentKeysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "partrecon",
		Subsystem: "checker",
		Name:      "inconsistent_keys_total",
		Help:      "Keys confirmed inconsistent, by resolution.",
	}, []string{"resolution"})

	repairFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "partrecon",
		Subsystem: "checker",
		Name:      "repair_failures_total",
		Help:      "Keys that could not be repaired after all attempts.",
	})
)

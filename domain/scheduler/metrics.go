package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var taskRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tether_scheduled_task_runs_total",
	Help: "Scheduled task runs by task and outcome",
}, []string{"task", "outcome"})

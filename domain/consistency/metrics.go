package consistency

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	auditRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tether_audit_runs_total",
		Help: "Consistency audit runs by outcome",
	}, []string{"outcome"})

	auditFindingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tether_audit_findings_total",
		Help: "Audit findings by kind and result",
	}, []string{"kind", "result"})

	repairsQueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tether_repairs_queued_total",
		Help: "Pairs handed to the repair queue by intent",
	}, []string{"intent"})

	repairQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tether_repair_queue_depth",
		Help: "Repair queue rows by status after the last audit",
	}, []string{"status"})
)

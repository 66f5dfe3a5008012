package relationships

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tether_relationship_operations_total",
		Help: "Relationship operations by operation and outcome code",
	}, []string{"operation", "outcome"})

	repairRequiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tether_relationship_repair_required_total",
		Help: "Dual writes whose second half could not be verified",
	}, []string{"operation"})

	snapshotRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tether_relationship_snapshot_refresh_total",
		Help: "Cached snapshot read-repairs by result",
	}, []string{"result"})
)

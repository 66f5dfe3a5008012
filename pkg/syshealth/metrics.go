package syshealth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	healthScore = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tether_system_health_score",
		Help: "Overall system health score (0-100)",
	})

	loadGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tether_system_load_percent",
		Help: "Sampled system load by component",
	}, []string{"component"})

	workerConcurrency = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tether_worker_concurrency",
		Help: "Concurrency currently allowed for a worker pool",
	}, []string{"worker"})

	concurrencyAdjustments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tether_worker_concurrency_adjustments_total",
		Help: "Concurrency changes made by the scaler",
	}, []string{"worker", "direction"})
)

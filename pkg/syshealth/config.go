package syshealth

import "time"

// Thresholds tune how samples turn into a score. Each component contributes
// a full penalty above its critical level and half above its warning level.
type Thresholds struct {
	IOWaitCriticalPercent float64
	IOWaitWarningPercent  float64
	// CPU load factors are multiples of the core count.
	CPULoadCriticalFactor float64
	CPULoadWarningFactor  float64
	MemoryCriticalPercent float64
	MemoryWarningPercent  float64
	DBPoolCriticalPercent float64
	DBPoolWarningPercent  float64

	// StaleAfter marks samples older than this as stale.
	StaleAfter time.Duration
	// SampleTimeout bounds one collection cycle.
	SampleTimeout time.Duration
}

// DefaultThresholds returns production thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		IOWaitCriticalPercent: 40,
		IOWaitWarningPercent:  30,
		CPULoadCriticalFactor: 3,
		CPULoadWarningFactor:  2,
		MemoryCriticalPercent: 95,
		MemoryWarningPercent:  85,
		DBPoolCriticalPercent: 90,
		DBPoolWarningPercent:  75,
		StaleAfter:            2 * time.Minute,
		SampleTimeout:         5 * time.Second,
	}
}

// Component weights of the penalty; they sum to 1.
const (
	weightIOWait = 0.40
	weightCPU    = 0.30
	weightDB     = 0.20
	weightMemory = 0.10
)

func penalty(value, warning, critical float64) float64 {
	switch {
	case value >= critical:
		return 100
	case value >= warning:
		return 50
	default:
		return 0
	}
}

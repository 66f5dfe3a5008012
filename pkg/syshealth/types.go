package syshealth

import (
	"context"
	"time"
)

// Zone is the band a health score falls into.
type Zone string

const (
	// ZoneCritical is a score of 0-33.
	ZoneCritical Zone = "critical"
	// ZoneWarning is a score of 34-66.
	ZoneWarning Zone = "warning"
	// ZoneSafe is a score of 67-100.
	ZoneSafe Zone = "safe"
)

// zoneFor maps a 0-100 score to its zone.
func zoneFor(score int) Zone {
	switch {
	case score <= 33:
		return ZoneCritical
	case score <= 66:
		return ZoneWarning
	default:
		return ZoneSafe
	}
}

// Metrics is one sample of host and pool load.
type Metrics struct {
	// Score is 0-100, higher is healthier.
	Score int  `json:"score"`
	Zone  Zone `json:"zone"`

	CPULoadAvg    float64 `json:"cpuLoadAvg"`
	IOWaitPercent float64 `json:"ioWaitPercent"`
	MemoryPercent float64 `json:"memoryPercent"`
	DBPoolPercent float64 `json:"dbPoolPercent"`

	SampledAt time.Time `json:"sampledAt"`
	// Stale is set when the sample is older than the staleness threshold.
	Stale bool `json:"stale"`
}

// Monitor samples system load in the background.
type Monitor interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health() Metrics
}

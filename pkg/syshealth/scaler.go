package syshealth

import (
	"sync"
	"time"
)

// Cooldowns between adjustments. Critical load skips the decrease cooldown.
const (
	decreaseCooldown = time.Minute
	increaseCooldown = 5 * time.Minute
)

// Scaler bounds a worker pool's concurrency by system health:
// the maximum when safe, half of it under warning, the minimum when critical.
// Stale samples count as warning. Increases are gradual, at most +50% per
// step.
type Scaler struct {
	monitor Monitor
	worker  string
	min     int
	max     int
	now     func() time.Time

	mu       sync.Mutex
	current  int
	adjusted time.Time
}

// NewScaler creates a scaler starting at max.
func NewScaler(monitor Monitor, worker string, minimum, maximum int) *Scaler {
	minimum = max(minimum, 1)
	maximum = max(maximum, minimum)
	s := &Scaler{
		monitor: monitor,
		worker:  worker,
		min:     minimum,
		max:     maximum,
		now:     time.Now,
		current: maximum,
	}
	s.adjusted = s.now()
	workerConcurrency.WithLabelValues(worker).Set(float64(maximum))
	return s
}

// Limit returns the concurrency allowed right now.
func (s *Scaler) Limit() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.monitor.Health()
	zone := h.Zone
	if h.Stale {
		zone = ZoneWarning
	}

	target := s.max
	switch zone {
	case ZoneCritical:
		target = s.min
	case ZoneWarning:
		target = max(s.min, s.max/2)
	}

	now := s.now()
	since := now.Sub(s.adjusted)
	prev := s.current

	switch {
	case target < s.current && (zone == ZoneCritical || since >= decreaseCooldown):
		s.current = target
	case target > s.current && since >= increaseCooldown:
		step := max(1, s.current/2)
		s.current = min(target, s.current+step)
	}

	if s.current != prev {
		s.adjusted = now
		direction := "up"
		if s.current < prev {
			direction = "down"
		}
		concurrencyAdjustments.WithLabelValues(s.worker, direction).Inc()
		workerConcurrency.WithLabelValues(s.worker).Set(float64(s.current))
	}
	return s.current
}

// Package syshealth samples host CPU, I/O wait, memory and database pool
// load, folds them into a 0-100 score and scales worker pools against it.
package syshealth

import (
	"context"
	"database/sql"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/uptrace/bun"

	"github.com/emergent-company/tether/internal/config"
	"github.com/emergent-company/tether/pkg/logger"
)

// sources are the gopsutil probes, swapped out in tests.
type sources struct {
	loadAvg  func(context.Context) (*load.AvgStat, error)
	cpuTimes func(context.Context, bool) ([]cpu.TimesStat, error)
	memory   func(context.Context) (*mem.VirtualMemoryStat, error)
	cores    func() int
	pool     func() sql.DBStats
}

type monitor struct {
	th       Thresholds
	interval time.Duration
	src      sources
	log      *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	current  Metrics
	lastCPU  *cpu.TimesStat
	failures int

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewMonitor creates a monitor sampling every cfg.SysHealth.Interval. db may
// be nil, in which case pool load reads as zero.
func NewMonitor(cfg *config.Config, db *bun.DB, log *slog.Logger) Monitor {
	var pool func() sql.DBStats
	if db != nil {
		pool = db.Stats
	}
	return newMonitor(DefaultThresholds(), cfg.SysHealth.Interval, pool, log)
}

func newMonitor(th Thresholds, interval time.Duration, pool func() sql.DBStats, log *slog.Logger) *monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &monitor{
		th:       th,
		interval: interval,
		src: sources{
			loadAvg:  load.AvgWithContext,
			cpuTimes: cpu.TimesWithContext,
			memory:   mem.VirtualMemoryWithContext,
			cores:    runtime.NumCPU,
			pool:     pool,
		},
		log:     log.With(logger.Scope("syshealth.monitor")),
		now:     time.Now,
		current: Metrics{Score: 100, Zone: ZoneSafe},
	}
}

// Start takes a first sample and begins periodic sampling.
func (m *monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	go m.loop()
	m.log.Info("system health monitor started", slog.Duration("interval", m.interval))
	return nil
}

// Stop ends sampling and waits for an in-flight sample, or for ctx.
func (m *monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	close(m.stopCh)
	done := m.doneCh
	m.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
	}
	m.log.Info("system health monitor stopped")
	return nil
}

func (m *monitor) loop() {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.collect()
	for {
		select {
		case <-ticker.C:
			m.collect()
		case <-m.stopCh:
			return
		}
	}
}

// Health returns a copy of the latest sample.
func (m *monitor) Health() Metrics {
	m.mu.RLock()
	out := m.current
	m.mu.RUnlock()

	if m.now().Sub(out.SampledAt) > m.th.StaleAfter {
		out.Stale = true
	}
	return out
}

// collect takes one sample. A probe that fails keeps its previous value.
func (m *monitor) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), m.th.SampleTimeout)
	defer cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.current
	ok := true

	if l, err := m.src.loadAvg(ctx); err == nil {
		next.CPULoadAvg = l.Load1
	} else {
		ok = false
		m.log.Warn("failed to sample load average", logger.Error(err))
	}

	if times, err := m.src.cpuTimes(ctx, false); err == nil && len(times) > 0 {
		t := times[0]
		if m.lastCPU != nil {
			total := t.Total() - m.lastCPU.Total()
			if total > 0 {
				next.IOWaitPercent = (t.Iowait - m.lastCPU.Iowait) / total * 100
			}
		}
		m.lastCPU = &t
	} else {
		ok = false
		m.log.Warn("failed to sample cpu times", logger.Error(err))
	}

	if v, err := m.src.memory(ctx); err == nil {
		next.MemoryPercent = v.UsedPercent
	} else {
		ok = false
		m.log.Warn("failed to sample memory", logger.Error(err))
	}

	next.DBPoolPercent = 0
	if m.src.pool != nil {
		if s := m.src.pool(); s.MaxOpenConnections > 0 {
			next.DBPoolPercent = float64(s.InUse) / float64(s.MaxOpenConnections) * 100
		}
	}

	if ok {
		m.failures = 0
	} else {
		m.failures++
		if m.failures >= 3 {
			m.log.Error("persistent system sampling failures", slog.Int("failures", m.failures))
		}
	}

	cores := float64(m.src.cores())
	if cores < 1 {
		cores = 1
	}
	p := penalty(next.IOWaitPercent, m.th.IOWaitWarningPercent, m.th.IOWaitCriticalPercent)*weightIOWait +
		penalty(next.CPULoadAvg/cores*100, m.th.CPULoadWarningFactor*100, m.th.CPULoadCriticalFactor*100)*weightCPU +
		penalty(next.DBPoolPercent, m.th.DBPoolWarningPercent, m.th.DBPoolCriticalPercent)*weightDB +
		penalty(next.MemoryPercent, m.th.MemoryWarningPercent, m.th.MemoryCriticalPercent)*weightMemory

	next.Score = max(100-int(p), 0)
	next.Zone = zoneFor(next.Score)
	next.SampledAt = m.now()
	next.Stale = false

	if next.Zone != m.current.Zone {
		m.log.Warn("system health zone changed",
			slog.String("from", string(m.current.Zone)),
			slog.String("to", string(next.Zone)),
			slog.Int("score", next.Score))
	}
	m.current = next

	healthScore.Set(float64(next.Score))
	loadGauge.WithLabelValues("io_wait").Set(next.IOWaitPercent)
	loadGauge.WithLabelValues("cpu").Set(next.CPULoadAvg / cores * 100)
	loadGauge.WithLabelValues("memory").Set(next.MemoryPercent)
	loadGauge.WithLabelValues("db_pool").Set(next.DBPoolPercent)

	m.log.Debug("system health sampled",
		slog.Int("score", next.Score),
		slog.String("zone", string(next.Zone)),
		slog.Float64("io_wait", next.IOWaitPercent),
		slog.Float64("cpu_load", next.CPULoadAvg),
		slog.Float64("db_pool", next.DBPoolPercent),
		slog.Float64("mem", next.MemoryPercent))
}

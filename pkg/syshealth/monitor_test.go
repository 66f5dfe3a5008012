package syshealth

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/tether/internal/testutil"
)

// probe drives a monitor with fixed readings. Each cpu sample is taken
// against a zero baseline so ioWait is the share of iowait in the sample.
type probe struct {
	load1  float64
	ioWait float64
	mem    float64
	inUse  int
	fail   bool
}

func (p *probe) install(m *monitor) {
	m.src = sources{
		loadAvg: func(context.Context) (*load.AvgStat, error) {
			if p.fail {
				return nil, errors.New("load unavailable")
			}
			return &load.AvgStat{Load1: p.load1}, nil
		},
		cpuTimes: func(context.Context, bool) ([]cpu.TimesStat, error) {
			if p.fail {
				return nil, errors.New("cpu unavailable")
			}
			m.lastCPU = &cpu.TimesStat{}
			return []cpu.TimesStat{{User: 100 - p.ioWait, Iowait: p.ioWait}}, nil
		},
		memory: func(context.Context) (*mem.VirtualMemoryStat, error) {
			if p.fail {
				return nil, errors.New("memory unavailable")
			}
			return &mem.VirtualMemoryStat{UsedPercent: p.mem}, nil
		},
		cores: func() int { return 4 },
		pool: func() sql.DBStats {
			return sql.DBStats{MaxOpenConnections: 10, InUse: p.inUse}
		},
	}
}

func newTestMonitor() *monitor {
	return newMonitor(DefaultThresholds(), time.Hour, nil, testutil.Logger())
}

func TestMonitor_Score(t *testing.T) {
	tests := []struct {
		name  string
		probe probe
		score int
		zone  Zone
	}{
		{name: "idle", probe: probe{load1: 1, mem: 50}, score: 100, zone: ZoneSafe},
		{name: "io wait warning", probe: probe{load1: 1, ioWait: 35, mem: 50}, score: 80, zone: ZoneSafe},
		{name: "io wait critical", probe: probe{load1: 1, ioWait: 45, mem: 50}, score: 60, zone: ZoneWarning},
		{name: "io critical and cpu warning", probe: probe{load1: 9, ioWait: 45, mem: 50}, score: 45, zone: ZoneWarning},
		{name: "io and cpu critical", probe: probe{load1: 13, ioWait: 45, mem: 50}, score: 30, zone: ZoneCritical},
		{name: "pool critical", probe: probe{load1: 1, mem: 50, inUse: 9}, score: 80, zone: ZoneSafe},
		{name: "everything critical", probe: probe{load1: 20, ioWait: 60, mem: 99, inUse: 10}, score: 0, zone: ZoneCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMonitor()
			tt.probe.install(m)
			m.collect()

			h := m.Health()
			assert.Equal(t, tt.score, h.Score)
			assert.Equal(t, tt.zone, h.Zone)
			assert.False(t, h.Stale)
		})
	}
}

func TestMonitor_FailedProbesKeepPreviousValues(t *testing.T) {
	m := newTestMonitor()
	p := &probe{load1: 1, ioWait: 5, mem: 40}
	p.install(m)
	m.collect()

	p.fail = true
	m.collect()

	h := m.Health()
	assert.Equal(t, 1.0, h.CPULoadAvg)
	assert.InDelta(t, 5.0, h.IOWaitPercent, 0.001)
	assert.Equal(t, 40.0, h.MemoryPercent)
	assert.Equal(t, 1, m.failures)

	m.collect()
	m.collect()
	assert.Equal(t, 3, m.failures)

	p.fail = false
	m.collect()
	assert.Zero(t, m.failures)
}

func TestMonitor_Staleness(t *testing.T) {
	m := newTestMonitor()
	(&probe{}).install(m)

	assert.True(t, m.Health().Stale, "never sampled")

	now := time.Now()
	m.now = func() time.Time { return now }
	m.collect()
	assert.False(t, m.Health().Stale)

	m.now = func() time.Time { return now.Add(m.th.StaleAfter + time.Second) }
	assert.True(t, m.Health().Stale)
}

func TestMonitor_Lifecycle(t *testing.T) {
	m := newMonitor(DefaultThresholds(), 10*time.Millisecond, nil, testutil.Logger())
	(&probe{load1: 1}).install(m)

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Start(ctx), "starting twice is a no-op")

	require.Eventually(t, func() bool { return !m.Health().SampledAt.IsZero() }, time.Second, 5*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, m.Stop(stopCtx))
	require.NoError(t, m.Stop(stopCtx), "stopping twice is a no-op")
}

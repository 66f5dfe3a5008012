// Package scheduler runs the periodic relationship maintenance tasks: the
// consistency audit, stale repair recovery and notification cleanup.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/emergent-company/tether/pkg/logger"
)

// DefaultTaskTimeout bounds a task run unless the task sets its own.
const DefaultTaskTimeout = 30 * time.Minute

type TaskFunc func(ctx context.Context) error

type task struct {
	name     string
	schedule string
	timeout  time.Duration
	fn       TaskFunc
	entry    cron.EntryID

	mu       sync.Mutex
	runs     int
	failures int
	lastErr  string
	lastRun  time.Duration
}

// Scheduler wraps robfig/cron with seconds precision. A task whose previous
// run has not finished skips its tick.
type Scheduler struct {
	cron    *cron.Cron
	log     *slog.Logger
	mu      sync.RWMutex
	tasks   map[string]*task
	running bool
}

func NewScheduler(log *slog.Logger) *Scheduler {
	log = log.With(logger.Scope("scheduler"))
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{log})),
		),
		log:   log,
		tasks: make(map[string]*task),
	}
}

func (s *Scheduler) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.cron.Start()
	s.running = true
	s.log.Info("scheduler started", slog.Int("tasks", len(s.tasks)))
	return nil
}

// Stop waits for in-flight runs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false

	select {
	case <-s.cron.Stop().Done():
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stopped with tasks still running")
	}
	return nil
}

// AddCronTask schedules task with a six-field cron expression
// ("sec min hour dom month dow"). Adding a name again replaces it.
func (s *Scheduler) AddCronTask(name, schedule string, timeout time.Duration, fn TaskFunc) error {
	return s.add(&task{name: name, schedule: schedule, timeout: timeout, fn: fn})
}

func (s *Scheduler) AddIntervalTask(name string, interval, timeout time.Duration, fn TaskFunc) error {
	return s.add(&task{name: name, schedule: "@every " + interval.String(), timeout: timeout, fn: fn})
}

func (s *Scheduler) add(t *task) error {
	if t.timeout <= 0 {
		t.timeout = DefaultTaskTimeout
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(t.schedule, func() { s.run(t) })
	if err != nil {
		return err
	}
	if old, ok := s.tasks[t.name]; ok {
		s.cron.Remove(old.entry)
	}
	t.entry = id
	s.tasks[t.name] = t
	s.log.Info("task scheduled", slog.String("task", t.name), slog.String("schedule", t.schedule))
	return nil
}

func (s *Scheduler) RemoveTask(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[name]; ok {
		s.cron.Remove(t.entry)
		delete(s.tasks, name)
		s.log.Info("task removed", slog.String("task", name))
	}
}

// run executes one tick. Failures are recorded on the task and counted,
// never propagated to cron.
func (s *Scheduler) run(t *task) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	start := time.Now()
	err := t.fn(ctx)
	took := time.Since(start)

	t.mu.Lock()
	t.runs++
	t.lastRun = took
	t.lastErr = ""
	if err != nil {
		t.failures++
		t.lastErr = err.Error()
	}
	t.mu.Unlock()

	if err != nil {
		taskRunsTotal.WithLabelValues(t.name, "error").Inc()
		s.log.Error("task failed", slog.String("task", t.name), slog.Duration("took", took), logger.Error(err))
		return
	}
	taskRunsTotal.WithLabelValues(t.name, "ok").Inc()
	s.log.Debug("task finished", slog.String("task", t.name), slog.Duration("took", took))
}

// ListTasks returns the scheduled task names, sorted.
func (s *Scheduler) ListTasks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TaskInfo is the state of one task as served by /api/metrics/scheduler.
type TaskInfo struct {
	Name         string    `json:"name"`
	Schedule     string    `json:"schedule"`
	NextRun      time.Time `json:"nextRun"`
	PrevRun      time.Time `json:"prevRun,omitempty"`
	Runs         int       `json:"runs"`
	Failures     int       `json:"failures"`
	LastError    string    `json:"lastError,omitempty"`
	LastDuration string    `json:"lastDuration,omitempty"`
}

func (s *Scheduler) GetTaskInfo() []TaskInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := make([]TaskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		entry := s.cron.Entry(t.entry)
		if !entry.Valid() {
			continue
		}
		t.mu.Lock()
		ti := TaskInfo{
			Name:      t.name,
			Schedule:  t.schedule,
			NextRun:   entry.Next,
			PrevRun:   entry.Prev,
			Runs:      t.runs,
			Failures:  t.failures,
			LastError: t.lastErr,
		}
		if t.runs > 0 {
			ti.LastDuration = t.lastRun.Round(time.Millisecond).String()
		}
		t.mu.Unlock()
		info = append(info, ti)
	}
	sort.Slice(info, func(i, j int) bool { return info[i].Name < info[j].Name })
	return info
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// cronLogger routes cron's own messages into slog; skip notices are debug.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(keysAndValues, logger.Error(err))...)
}

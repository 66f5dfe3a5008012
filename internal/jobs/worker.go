package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/emergent-company/tether/pkg/logger"
)

var jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tether_jobs_processed_total",
	Help: "Jobs handled by background workers by outcome",
}, []string{"worker", "outcome"})

// WorkerConfig contains configuration for a background worker
type WorkerConfig struct {
	// Name is a descriptive name for the worker (for logging and metrics)
	Name string
	// PollInterval is how often to poll for new jobs (default: 5s)
	PollInterval time.Duration
	// BatchSize is the number of jobs to dequeue per poll (default: 10)
	BatchSize int
	// StaleThreshold is how long a job can be in 'processing' before it is
	// considered abandoned (default: 10m)
	StaleThreshold time.Duration
}

// DefaultWorkerConfig returns a WorkerConfig with sensible defaults
func DefaultWorkerConfig(name string) WorkerConfig {
	return WorkerConfig{
		Name:           name,
		PollInterval:   5 * time.Second,
		BatchSize:      10,
		StaleThreshold: 10 * time.Minute,
	}
}

// Handler processes one claimed job. Returning an error records a failed
// attempt on the queue.
type Handler func(ctx context.Context, id string) error

// AttemptLookup returns how many attempts a job already used.
type AttemptLookup func(ctx context.Context, id string) (int, error)

// Worker polls a Queue and hands each claimed job to a Handler.
// - Polling-based with configurable interval
// - Graceful shutdown waiting for the current batch
// - Stale job recovery on start
type Worker struct {
	config   WorkerConfig
	queue    *Queue
	handle   Handler
	attempts AttemptLookup
	log      *slog.Logger

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// NewWorker creates a new background worker
func NewWorker(config WorkerConfig, queue *Queue, handle Handler, attempts AttemptLookup, log *slog.Logger) *Worker {
	defaults := DefaultWorkerConfig(config.Name)
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.StaleThreshold <= 0 {
		config.StaleThreshold = defaults.StaleThreshold
	}

	return &Worker{
		config:   config,
		queue:    queue,
		handle:   handle,
		attempts: attempts,
		log:      log.With(logger.Scope("jobs.worker"), slog.String("worker", config.Name)),
	}
}

// Start recovers stale jobs and begins the polling loop.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.stoppedCh = make(chan struct{})
	w.mu.Unlock()

	if _, err := w.queue.RecoverStaleJobs(ctx, w.config.StaleThreshold); err != nil {
		w.log.Warn("stale job recovery failed", logger.Error(err))
	}

	w.log.Info("worker starting",
		slog.Duration("poll_interval", w.config.PollInterval),
		slog.Int("batch_size", w.config.BatchSize))

	// The loop outlives the start hook's context.
	go w.run(context.WithoutCancel(ctx))
	return nil
}

// Stop gracefully stops the worker, waiting for the current batch to complete
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	select {
	case <-w.stoppedCh:
		w.log.Info("worker stopped gracefully")
	case <-ctx.Done():
		w.log.Warn("worker stop timeout, forcing shutdown")
	}
	return nil
}

// IsRunning returns whether the worker is currently running
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.stoppedCh)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			if _, err := w.ProcessBatch(ctx); err != nil {
				w.log.Warn("process batch failed", logger.Error(err))
			}
		}
	}
}

// BatchResult counts the jobs of one ProcessBatch call.
type BatchResult struct {
	Claimed   int `json:"claimed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// ProcessBatch claims up to BatchSize jobs and handles them sequentially.
func (w *Worker) ProcessBatch(ctx context.Context) (BatchResult, error) {
	ids, err := w.queue.Dequeue(ctx, w.config.BatchSize)
	if err != nil {
		return BatchResult{}, err
	}

	res := BatchResult{Claimed: len(ids)}
	for _, id := range ids {
		if err := w.handle(ctx, id); err != nil {
			w.fail(ctx, id, err)
			res.Failed++
			continue
		}
		if err := w.queue.MarkCompleted(ctx, id); err != nil {
			w.log.Error("mark completed failed", slog.String("job_id", id), logger.Error(err))
			res.Failed++
			continue
		}
		jobsTotal.WithLabelValues(w.config.Name, "completed").Inc()
		res.Completed++
	}
	return res, nil
}

func (w *Worker) fail(ctx context.Context, id string, cause error) {
	attempts := 0
	if w.attempts != nil {
		n, err := w.attempts(ctx, id)
		if err != nil {
			w.log.Error("attempt lookup failed", slog.String("job_id", id), logger.Error(err))
		}
		attempts = n
	}

	permanent, err := w.queue.MarkFailed(ctx, id, attempts, cause.Error())
	if err != nil {
		w.log.Error("mark failed failed", slog.String("job_id", id), logger.Error(err))
		return
	}
	outcome := "retried"
	if permanent {
		outcome = "failed"
	}
	jobsTotal.WithLabelValues(w.config.Name, outcome).Inc()
	w.log.Warn("job attempt failed",
		slog.String("job_id", id),
		slog.Int("attempt", attempts+1),
		logger.Error(cause))
}

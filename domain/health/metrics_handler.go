package health

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/emergent-company/tether/domain/consistency"
	"github.com/emergent-company/tether/domain/scheduler"
	"github.com/emergent-company/tether/pkg/apperror"
	"github.com/emergent-company/tether/pkg/syshealth"
)

// MetricsHandler reports repair queue, scheduler and host load state
type MetricsHandler struct {
	repairs   *consistency.RepairQueue
	scheduler *scheduler.Scheduler
	system    syshealth.Monitor
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(repairs *consistency.RepairQueue, s *scheduler.Scheduler, system syshealth.Monitor) *MetricsHandler {
	return &MetricsHandler{repairs: repairs, scheduler: s, system: system}
}

// JobQueueMetrics represents metrics for a single job queue
type JobQueueMetrics struct {
	Queue      string `json:"queue"`
	Pending    int64  `json:"pending"`
	Processing int64  `json:"processing"`
	Completed  int64  `json:"completed"`
	Failed     int64  `json:"failed"`
	Total      int64  `json:"total"`
}

// AllJobMetrics contains metrics for all job queues
type AllJobMetrics struct {
	Queues    []JobQueueMetrics `json:"queues"`
	Timestamp string            `json:"timestamp"`
}

// JobMetrics returns repair queue counts
// GET /api/metrics/jobs
func (h *MetricsHandler) JobMetrics(c echo.Context) error {
	stats, err := h.repairs.Stats(c.Request().Context())
	if err != nil {
		return apperror.NewInternal("failed to read repair queue stats", err)
	}

	return c.JSON(http.StatusOK, AllJobMetrics{
		Queues: []JobQueueMetrics{{
			Queue:      consistency.RepairTable,
			Pending:    stats.Pending,
			Processing: stats.Processing,
			Completed:  stats.Completed,
			Failed:     stats.Failed,
			Total:      stats.Pending + stats.Processing + stats.Completed + stats.Failed,
		}},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// SchedulerMetrics returns scheduled tasks with their next and previous runs
// GET /api/metrics/scheduler
func (h *MetricsHandler) SchedulerMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"running": h.scheduler.IsRunning(),
		"tasks":   h.scheduler.GetTaskInfo(),
	})
}

// SystemMetrics returns the latest host load sample
// GET /api/metrics/system
func (h *MetricsHandler) SystemMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, h.system.Health())
}

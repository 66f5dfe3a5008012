package health

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"

	"github.com/emergent-company/tether/domain/consistency"
	"github.com/emergent-company/tether/internal/config"
	"github.com/emergent-company/tether/internal/version"
	"github.com/emergent-company/tether/pkg/syshealth"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"

	checkTimeout = 5 * time.Second

	// backlogWarn is the pending repair count above which the service
	// reports degraded.
	backlogWarn = 1000
)

// Check is one named probe result.
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status    string           `json:"status"`
	Timestamp string           `json:"timestamp"`
	Uptime    string           `json:"uptime"`
	Version   version.Info     `json:"version"`
	Checks    map[string]Check `json:"checks"`
}

// Handler serves liveness, readiness and the aggregated health report.
// Only the database check can make the service unhealthy; the repair
// backlog and host load degrade it.
type Handler struct {
	db      *bun.DB
	cfg     *config.Config
	repairs *consistency.RepairQueue
	system  syshealth.Monitor
	startAt time.Time
}

func NewHandler(db *bun.DB, cfg *config.Config, repairs *consistency.RepairQueue, system syshealth.Monitor) *Handler {
	return &Handler{db: db, cfg: cfg, repairs: repairs, system: system, startAt: time.Now()}
}

func (h *Handler) checkDatabase(ctx context.Context) Check {
	if err := h.db.PingContext(ctx); err != nil {
		return Check{Status: StatusUnhealthy, Message: err.Error()}
	}
	return Check{Status: StatusHealthy}
}

func (h *Handler) checkRepairs(ctx context.Context) Check {
	stats, err := h.repairs.Stats(ctx)
	if err != nil {
		return Check{Status: StatusDegraded, Message: err.Error()}
	}
	switch {
	case stats.Failed > 0:
		return Check{Status: StatusDegraded, Message: fmt.Sprintf("%d repairs exhausted their retries", stats.Failed)}
	case stats.Pending > backlogWarn:
		return Check{Status: StatusDegraded, Message: fmt.Sprintf("%d repairs pending", stats.Pending)}
	}
	return Check{Status: StatusHealthy}
}

func (h *Handler) checkSystem() Check {
	m := h.system.Health()
	if m.Zone == syshealth.ZoneCritical && !m.Stale {
		return Check{Status: StatusDegraded, Message: fmt.Sprintf("host load critical (score %d)", m.Score)}
	}
	return Check{Status: StatusHealthy}
}

// Health returns every check and the worst status among them.
// GET /health
func (h *Handler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), checkTimeout)
	defer cancel()

	checks := map[string]Check{
		"database": h.checkDatabase(ctx),
		"repairs":  h.checkRepairs(ctx),
		"system":   h.checkSystem(),
	}

	status := StatusHealthy
	for _, ch := range checks {
		if ch.Status == StatusUnhealthy {
			status = StatusUnhealthy
			break
		}
		if ch.Status == StatusDegraded {
			status = StatusDegraded
		}
	}

	code := http.StatusOK
	if status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(h.startAt).Round(time.Second).String(),
		Version:   version.Get(),
		Checks:    checks,
	})
}

// Healthz is the liveness probe.
// GET /healthz
func (h *Handler) Healthz(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// Ready reports whether the database answers.
// GET /ready
func (h *Handler) Ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), checkTimeout)
	defer cancel()

	if ch := h.checkDatabase(ctx); ch.Status != StatusHealthy {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "message": ch.Message})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}

// Debug dumps runtime and pool state. Hidden in production.
// GET /debug
func (h *Handler) Debug(c echo.Context) error {
	if h.cfg.IsProduction() {
		return echo.ErrNotFound
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	pool := h.db.Stats()

	return c.JSON(http.StatusOK, map[string]any{
		"environment": h.cfg.Environment,
		"version":     version.Get(),
		"goVersion":   runtime.Version(),
		"goroutines":  runtime.NumGoroutine(),
		"heapMB":      mem.HeapAlloc >> 20,
		"numGC":       mem.NumGC,
		"database": map[string]any{
			"driver":  h.cfg.Database.Driver,
			"dialect": h.db.Dialect().Name().String(),
			"open":    pool.OpenConnections,
			"inUse":   pool.InUse,
			"idle":    pool.Idle,
			"waits":   pool.WaitCount,
		},
		"features": map[string]bool{
			"transactionalWrites": h.cfg.Relationships.TransactionalWrites,
			"scheduler":           h.cfg.Scheduler.Enabled,
			"reportArchive":       h.cfg.Storage.Enabled(),
			"email":               h.cfg.Notifications.Email.IsConfigured(),
			"tracing":             h.cfg.Otel.Enabled(),
		},
	})
}

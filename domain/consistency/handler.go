package consistency

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/emergent-company/tether/internal/jobs"
	"github.com/emergent-company/tether/pkg/apperror"
)

// Handler serves the admin audit endpoints.
type Handler struct {
	auditor *Auditor
	queue   *RepairQueue
	archive *Archive
}

// NewHandler creates a new consistency handler
func NewHandler(auditor *Auditor, queue *RepairQueue, archive *Archive) *Handler {
	return &Handler{auditor: auditor, queue: queue, archive: archive}
}

// Audit runs the auditor synchronously and returns its report
// POST /api/admin/relationships/audit
func (h *Handler) Audit(c echo.Context) error {
	var req AuditRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	rep, err := h.auditor.Run(ctx, Options{DryRun: req.DryRun, BatchSize: req.BatchSize})
	if err != nil {
		return err
	}
	if req.Archive {
		key, err := h.archive.Save(ctx, rep)
		if err != nil {
			return apperror.NewInternal("audit finished but the report could not be archived", err)
		}
		if key != "" {
			c.Response().Header().Set("X-Report-Key", key)
		}
	}
	return c.JSON(http.StatusOK, rep)
}

// Report returns an archived audit report
// GET /api/admin/relationships/reports/*
func (h *Handler) Report(c echo.Context) error {
	key := c.Param("*")
	if key == "" {
		return apperror.NewBadRequest("report key is required")
	}
	rep, err := h.archive.Load(c.Request().Context(), key)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rep)
}

// RepairPair repairs a single pair
// POST /api/admin/relationships/repair
func (h *Handler) RepairPair(c echo.Context) error {
	var req RepairPairRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	rep, err := h.auditor.RepairPair(c.Request().Context(), req.OwnerID, req.TargetID, req.Intent)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rep)
}

// Repairs lists queued repairs, optionally by status
// GET /api/admin/relationships/repairs
func (h *Handler) Repairs(c echo.Context) error {
	status := jobs.JobStatus(c.QueryParam("status"))
	switch status {
	case "", jobs.StatusPending, jobs.StatusProcessing, jobs.StatusCompleted, jobs.StatusFailed:
	default:
		return apperror.NewValidation("unknown status")
	}
	limit := 100
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			return apperror.NewValidation("limit must be between 1 and 1000")
		}
		limit = n
	}

	ctx := c.Request().Context()
	repairs, err := h.queue.List(ctx, status, limit)
	if err != nil {
		return apperror.NewInternal("failed to list repairs", err)
	}
	stats, err := h.queue.Stats(ctx)
	if err != nil {
		return apperror.NewInternal("failed to read repair stats", err)
	}
	if repairs == nil {
		repairs = []*Repair{}
	}
	return c.JSON(http.StatusOK, map[string]any{"repairs": repairs, "stats": stats})
}

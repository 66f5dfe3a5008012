package notifications

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/emergent-company/tether/pkg/apperror"
	"github.com/emergent-company/tether/pkg/auth"
	"github.com/emergent-company/tether/pkg/sse"
)

// Handler handles HTTP requests for notifications
type Handler struct {
	svc       *Service
	keepAlive time.Duration
}

// NewHandler creates a new notifications handler
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, keepAlive: sse.KeepAliveInterval}
}

// NotificationListResponse wraps a notification listing
type NotificationListResponse struct {
	Data []Notification `json:"data"`
}

// GetStats handles GET /api/notifications/stats
func (h *Handler) GetStats(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	stats, err := h.svc.GetStats(c.Request().Context(), user.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

// List handles GET /api/notifications
func (h *Handler) List(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	params := ListParams{
		Event:      c.QueryParam("event"),
		UnreadOnly: c.QueryParam("unread_only") == "true",
	}
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return apperror.ErrBadRequest.WithMessage("limit must be a positive integer")
		}
		params.Limit = n
	}

	notifications, err := h.svc.ListForUser(c.Request().Context(), user.ID, params)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, NotificationListResponse{Data: notifications})
}

// MarkRead handles PATCH /api/notifications/:id/read
func (h *Handler) MarkRead(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	notificationID := c.Param("id")
	if notificationID == "" {
		return apperror.ErrBadRequest.WithMessage("notification id is required")
	}

	if err := h.svc.MarkRead(c.Request().Context(), user.ID, notificationID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "read"})
}

// MarkAllRead handles POST /api/notifications/mark-all-read
func (h *Handler) MarkAllRead(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	count, err := h.svc.MarkAllRead(c.Request().Context(), user.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status": "marked_all_read",
		"count":  count,
	})
}

// Stream pushes new notifications as server-sent events until the client
// disconnects. Each event is named after the notification's event.
// GET /api/notifications/stream
func (h *Handler) Stream(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	// The server write timeout would cut the stream; keep-alives bound it instead.
	_ = http.NewResponseController(c.Response()).SetWriteDeadline(time.Time{})

	events, unsubscribe := h.svc.Subscribe(user.ID)
	defer unsubscribe()

	w := sse.NewWriter(c.Response())
	if err := w.Start(); err != nil {
		return apperror.NewInternal("streaming not supported", err)
	}
	defer w.Close()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-events:
			if !ok {
				return nil
			}
			if err := w.WriteEvent(n.Event, n); err != nil {
				return nil
			}
		case <-ticker.C:
			if err := w.WriteComment("keep-alive"); err != nil {
				return nil
			}
		}
	}
}

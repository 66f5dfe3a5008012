package notifications

import (
	"github.com/labstack/echo/v4"

	"github.com/emergent-company/tether/pkg/auth"
)

// RegisterRoutes registers notification routes
func RegisterRoutes(e *echo.Echo, h *Handler, authMiddleware *auth.Middleware) {
	g := e.Group("/api/notifications")
	g.Use(authMiddleware.RequireAuth())

	g.GET("/stats", h.GetStats)
	g.GET("/stream", h.Stream)
	g.GET("", h.List)
	g.PATCH("/:id/read", h.MarkRead)
	g.POST("/mark-all-read", h.MarkAllRead)
}

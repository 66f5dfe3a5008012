package contactsync

import (
	"github.com/labstack/echo/v4"

	"github.com/emergent-company/tether/pkg/auth"
)

// RegisterRoutes registers the contact sync routes
func RegisterRoutes(e *echo.Echo, h *Handler, authMiddleware *auth.Middleware) {
	g := e.Group("/api/contacts")
	g.Use(authMiddleware.RequireAuth())
	g.POST("/sync", h.Sync)
}

package users

import (
	"github.com/labstack/echo/v4"

	"github.com/emergent-company/tether/pkg/auth"
)

// RegisterRoutes registers the users routes
func RegisterRoutes(e *echo.Echo, h *Handler, authMiddleware *auth.Middleware) {
	g := e.Group("/api/users")
	g.Use(authMiddleware.RequireAuth())

	g.GET("/me", h.Me)
	g.PUT("/me", h.UpsertMe)
}

package consistency

import (
	"github.com/labstack/echo/v4"

	"github.com/emergent-company/tether/pkg/auth"
)

// RegisterRoutes registers the admin consistency routes
func RegisterRoutes(e *echo.Echo, h *Handler, authMiddleware *auth.Middleware) {
	g := e.Group("/api/admin/relationships")
	g.Use(authMiddleware.RequireAuth())
	g.Use(authMiddleware.RequireScopes(auth.ScopeRelationshipsAdmin))

	g.POST("/audit", h.Audit)
	g.POST("/repair", h.RepairPair)
	g.GET("/repairs", h.Repairs)
	g.GET("/reports/*", h.Report)
}

package health

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/emergent-company/tether/pkg/auth"
)

// RegisterRoutes registers health check and metrics routes
func RegisterRoutes(e *echo.Echo, h *Handler, m *MetricsHandler, authMiddleware *auth.Middleware) {
	e.GET("/health", h.Health)
	e.GET("/healthz", h.Healthz)
	e.GET("/ready", h.Ready)
	e.GET("/debug", h.Debug)
	e.GET("/api/health", h.Health)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	g := e.Group("/api/metrics")
	g.Use(authMiddleware.RequireAuth())
	g.Use(authMiddleware.RequireScopes(auth.ScopeRelationshipsAdmin))
	g.GET("/jobs", m.JobMetrics)
	g.GET("/scheduler", m.SchedulerMetrics)
	g.GET("/system", m.SystemMetrics)
}

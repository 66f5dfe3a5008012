package relationships

import (
	"github.com/labstack/echo/v4"

	"github.com/emergent-company/tether/pkg/auth"
)

// RegisterRoutes registers the relationship routes
func RegisterRoutes(e *echo.Echo, h *Handler, authMiddleware *auth.Middleware) {
	g := e.Group("/api/relationships")
	g.Use(authMiddleware.RequireAuth())

	g.POST("/requests", h.SendRequest)
	g.GET("/requests", h.ListRequests)
	g.GET("/requests/:id", h.GetRequest)
	g.POST("/requests/:id/accept", h.AcceptRequest)
	g.POST("/requests/:id/reject", h.RejectRequest)
	g.DELETE("/requests/:id", h.CancelRequest)

	g.GET("/friends", h.ListFriends)
	g.DELETE("/friends/:userId", h.RemoveFriend)
	g.GET("/friends/:userId/mutual", h.MutualFriends)
	g.GET("/counts", h.Counts)

	g.POST("/blocks/:userId", h.Block)
	g.DELETE("/blocks/:userId", h.Unblock)
}

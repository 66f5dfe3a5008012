package users

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/emergent-company/tether/pkg/apperror"
	"github.com/emergent-company/tether/pkg/auth"
)

// Handler handles HTTP requests for users
type Handler struct {
	svc *Service
}

// NewHandler creates a new users handler
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Me returns the caller's profile
// GET /api/users/me
func (h *Handler) Me(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	u, err := h.svc.GetByID(c.Request().Context(), user.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

// UpsertMe registers or updates the caller's profile
// PUT /api/users/me
func (h *Handler) UpsertMe(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	var req UpsertProfileRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	u, err := h.svc.UpsertProfile(c.Request().Context(), user.ID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

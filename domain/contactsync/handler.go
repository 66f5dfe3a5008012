package contactsync

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/emergent-company/tether/pkg/apperror"
	"github.com/emergent-company/tether/pkg/auth"
)

// Handler handles HTTP requests for contact sync
type Handler struct {
	reconciler *Reconciler
}

// NewHandler creates a new contact sync handler
func NewHandler(reconciler *Reconciler) *Handler {
	return &Handler{reconciler: reconciler}
}

// Sync reconciles the caller's phone book
// POST /api/contacts/sync
func (h *Handler) Sync(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	var req SyncRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	res, err := h.reconciler.SyncContacts(c.Request().Context(), user.ID, req.Identifiers)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ToSyncResponse(res))
}

package relationships

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/emergent-company/tether/pkg/apperror"
	"github.com/emergent-company/tether/pkg/auth"
)

// Handler handles HTTP requests for relationships
type Handler struct {
	svc    *Service
	blocks BlockList
}

// NewHandler creates a new relationships handler
func NewHandler(svc *Service, blocks BlockList) *Handler {
	return &Handler{svc: svc, blocks: blocks}
}

// SendRequest sends a friend request
// POST /api/relationships/requests
func (h *Handler) SendRequest(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	var req SendRequestBody
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	blocked, err := h.blocks.IsBlocked(ctx, user.ID, req.TargetID)
	if err != nil {
		return err
	}
	if blocked {
		return apperror.NewConflict("relationship is blocked")
	}

	res, err := h.svc.SendRequest(ctx, user.ID, req.TargetID, SendRequestInput{
		Message: req.Message,
		Origin:  req.Origin,
	})
	if err != nil {
		return err
	}

	status := http.StatusCreated
	if res.AutoAccepted {
		status = http.StatusOK
	}
	return c.JSON(status, ToResultDTO(res))
}

// ListRequests lists incoming and outgoing pending requests
// GET /api/relationships/requests
func (h *Handler) ListRequests(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	reqs, err := h.svc.GetFriendRequests(c.Request().Context(), user.ID)
	if err != nil {
		return err
	}

	resp := FriendRequestsResponse{Incoming: reqs.Incoming, Outgoing: reqs.Outgoing}
	if resp.Incoming == nil {
		resp.Incoming = []*Edge{}
	}
	if resp.Outgoing == nil {
		resp.Outgoing = []*Edge{}
	}
	return c.JSON(http.StatusOK, resp)
}

// GetRequest returns one edge the caller participates in
// GET /api/relationships/requests/:id
func (h *Handler) GetRequest(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	edge, err := h.svc.GetEdge(c.Request().Context(), c.Param("id"), user.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, edge)
}

// AcceptRequest accepts a pending request addressed to the caller
// POST /api/relationships/requests/:id/accept
func (h *Handler) AcceptRequest(c echo.Context) error {
	return h.mutateEdge(c, h.svc.AcceptRequest)
}

// RejectRequest declines a pending request addressed to the caller
// POST /api/relationships/requests/:id/reject
func (h *Handler) RejectRequest(c echo.Context) error {
	return h.mutateEdge(c, h.svc.RejectRequest)
}

// CancelRequest withdraws a request the caller sent
// DELETE /api/relationships/requests/:id
func (h *Handler) CancelRequest(c echo.Context) error {
	return h.mutateEdge(c, h.svc.CancelRequest)
}

// ListFriends returns the caller's visible friends
// GET /api/relationships/friends
func (h *Handler) ListFriends(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	edges, err := h.svc.GetFriends(c.Request().Context(), user.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ToFriendList(edges))
}

// RemoveFriend removes the friendship in both directions
// DELETE /api/relationships/friends/:userId
func (h *Handler) RemoveFriend(c echo.Context) error {
	return h.mutatePair(c, h.svc.RemoveFriend)
}

// MutualFriends lists friends shared with another user
// GET /api/relationships/friends/:userId/mutual
func (h *Handler) MutualFriends(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	ids, err := h.svc.GetMutualFriends(c.Request().Context(), user.ID, c.Param("userId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MutualFriendsResponse{UserIDs: ids, Total: len(ids)})
}

// Counts summarises the caller's relationships
// GET /api/relationships/counts
func (h *Handler) Counts(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	counts, err := h.svc.CountFriends(c.Request().Context(), user.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, CountsResponse{
		Friends:         counts.Visible,
		Accepted:        counts.Accepted,
		PendingOutgoing: counts.PendingOutgoing,
		Blocked:         counts.Blocked,
	})
}

// Block blocks another user for the caller only
// POST /api/relationships/blocks/:userId
func (h *Handler) Block(c echo.Context) error {
	return h.mutatePair(c, h.svc.BlockUser)
}

// Unblock lifts the caller's block
// DELETE /api/relationships/blocks/:userId
func (h *Handler) Unblock(c echo.Context) error {
	return h.mutatePair(c, h.svc.UnblockUser)
}

func (h *Handler) mutateEdge(c echo.Context, op func(ctx context.Context, edgeID, actorID string) (*Result, error)) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	res, err := op(c.Request().Context(), c.Param("id"), user.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ToResultDTO(res))
}

func (h *Handler) mutatePair(c echo.Context, op func(ctx context.Context, actorID, otherID string) (*Result, error)) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	res, err := op(c.Request().Context(), user.ID, c.Param("userId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ToResultDTO(res))
}

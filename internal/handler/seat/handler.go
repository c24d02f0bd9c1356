package seat

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/techmajster/time8-product-sub008/internal/handler"
	"github.com/techmajster/time8-product-sub008/internal/model"
	"github.com/techmajster/time8-product-sub008/internal/seats"
	"github.com/techmajster/time8-product-sub008/internal/service/seatmanager"
	"github.com/techmajster/time8-product-sub008/pkg/errors"
	"github.com/techmajster/time8-product-sub008/pkg/httputil"
)

// SeatService is the part of the seat manager the API exposes.
type SeatService interface {
	UpdateSeats(ctx context.Context, orgID uuid.UUID, req seatmanager.UpdateRequest) (*seatmanager.Result, error)
	Snapshot(ctx context.Context, orgID uuid.UUID) (*seats.Snapshot, error)
	ValidateInvitations(ctx context.Context, orgID uuid.UUID, count int) (*seats.InvitationCheck, error)
	TakeQueuedInvitations(correlationID string) ([]model.QueuedInvitation, bool)
}

type ValidateInvitationsRequest struct {
	Count int `json:"count" binding:"required,min=1"`
}

type Handler struct {
	service SeatService
}

func NewHandler(service SeatService) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	orgs := r.Group("/organizations/:id")
	{
		orgs.POST("/seats", h.UpdateSeats)
		orgs.GET("/seats", h.GetSeats)
		orgs.POST("/invitations/validate", h.ValidateInvitations)
	}
	r.GET("/seat-changes/:correlation_id/invitations", h.TakeQueuedInvitations)
}

func (h *Handler) UpdateSeats(c *gin.Context) {
	orgID, ok := organizationID(c)
	if !ok {
		return
	}

	var req seatmanager.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindFailed(c, err)
		return
	}

	result, err := h.service.UpdateSeats(c.Request.Context(), orgID, req)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	httputil.RespondWithSuccess(c, result)
}

func (h *Handler) GetSeats(c *gin.Context) {
	orgID, ok := organizationID(c)
	if !ok {
		return
	}

	snap, err := h.service.Snapshot(c.Request.Context(), orgID)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	httputil.RespondWithSuccess(c, snap)
}

func (h *Handler) ValidateInvitations(c *gin.Context) {
	orgID, ok := organizationID(c)
	if !ok {
		return
	}

	var req ValidateInvitationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindFailed(c, err)
		return
	}

	check, err := h.service.ValidateInvitations(c.Request.Context(), orgID, req.Count)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	httputil.RespondWithSuccess(c, check)
}

// TakeQueuedInvitations hands out the invitations queued with a seat change
// exactly once.
func (h *Handler) TakeQueuedInvitations(c *gin.Context) {
	invites, ok := h.service.TakeQueuedInvitations(c.Param("correlation_id"))
	if !ok {
		handler.Fail(c, errors.NotFound("queued invitations", nil))
		return
	}

	httputil.RespondWithStatus(c, http.StatusOK, gin.H{"invitations": invites})
}

func organizationID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		handler.Fail(c, errors.BadRequest("invalid organization ID", err))
		return uuid.Nil, false
	}
	return id, true
}

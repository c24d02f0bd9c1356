package webhook

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/techmajster/time8-product-sub008/internal/handler"
	"github.com/techmajster/time8-product-sub008/internal/service/webhook"
	"github.com/techmajster/time8-product-sub008/pkg/httputil"
)

type EventHandler interface {
	Handle(ctx context.Context, ev *webhook.Event) (*webhook.Outcome, error)
}

type Handler struct {
	service EventHandler
}

func NewHandler(service EventHandler) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.POST("/provider", h.Receive)
}

func (h *Handler) Receive(c *gin.Context) {
	var ev webhook.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		handler.BindFailed(c, err)
		return
	}

	outcome, err := h.service.Handle(c.Request.Context(), &ev)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, outcome)
}

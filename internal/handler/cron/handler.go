package cron

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/techmajster/time8-product-sub008/internal/handler"
	"github.com/techmajster/time8-product-sub008/internal/worker"
	"github.com/techmajster/time8-product-sub008/pkg/httputil"
)

type PendingSyncJob interface {
	Run(ctx context.Context) (*worker.PendingSyncSummary, error)
}

type ReconcileJob interface {
	Run(ctx context.Context) (*worker.ReconcileSummary, error)
}

// Handler triggers the batch jobs over HTTP for external schedulers.
type Handler struct {
	pending   PendingSyncJob
	reconcile ReconcileJob
}

func NewHandler(pending PendingSyncJob, reconcile ReconcileJob) *Handler {
	return &Handler{pending: pending, reconcile: reconcile}
}

// RegisterRoutes expects r to already enforce the cron secret. A run keeps
// going when the caller disconnects.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	for _, method := range []string{"GET", "POST"} {
		r.Handle(method, "/sync-pending-seats", h.SyncPendingSeats)
		r.Handle(method, "/reconcile-seats", h.ReconcileSeats)
	}
}

func (h *Handler) SyncPendingSeats(c *gin.Context) {
	summary, err := h.pending.Run(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, summary)
}

func (h *Handler) ReconcileSeats(c *gin.Context) {
	summary, err := h.reconcile.Run(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, summary)
}

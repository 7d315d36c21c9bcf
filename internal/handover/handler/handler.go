package handler

import (
	"context"
	"net/http"

	"leadpipeline_backend/internal/handover/domain"
	"leadpipeline_backend/internal/handover/service"
	"leadpipeline_backend/internal/handover/transport"
	"leadpipeline_backend/platform/apperr"
	"leadpipeline_backend/platform/httpkit"
	"leadpipeline_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

// ReadyQueue hands ready-for-handover events to the background worker.
type ReadyQueue interface {
	EnqueueHandoverReady(ctx context.Context, ev domain.ReadyForHandover) error
}

// Handler handles HTTP requests for handovers.
type Handler struct {
	queue   ReadyQueue
	queries *service.Queries
	val     *validator.Validator
}

func New(queue ReadyQueue, queries *service.Queries, val *validator.Validator) *Handler {
	return &Handler{queue: queue, queries: queries, val: val}
}

// RegisterRoutes registers handover routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/ready", h.Ready)
	rg.GET("", h.List)
	rg.GET("/:id", h.GetByID)
}

func (h *Handler) Ready(c *gin.Context) {
	var req transport.ReadyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.FieldErrors(err))
		return
	}

	err := h.queue.EnqueueHandoverReady(c.Request.Context(), req.Event())
	if err != nil {
		httpkit.HandleError(c, apperr.Wrap(apperr.KindUnavailable, "handover queue unavailable", err))
		return
	}
	httpkit.Accepted(c, transport.ReadyAcceptedResponse{Status: "accepted", ConversationRef: req.ConversationRef})
}

func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid handover id", nil)
		return
	}

	detail, err := h.queries.Get(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToDetailResponse(detail.Record, detail.DeliveryEvents))
}

func (h *Handler) List(c *gin.Context) {
	var req transport.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.FieldErrors(err))
		return
	}

	records, err := h.queries.List(c.Request.Context(), domain.Status(req.Status), req.Limit, req.Offset)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToListResponse(records))
}

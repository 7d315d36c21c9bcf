package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"leadpipeline_backend/internal/feed/domain"
	"leadpipeline_backend/internal/feed/service"
	"leadpipeline_backend/internal/feed/transport"
	"leadpipeline_backend/platform/httpkit"
	"leadpipeline_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"

	// MaxDocumentBytes bounds a single inbound lead document.
	MaxDocumentBytes = 2 << 20
)

// Ingester is the write side used by the handler.
type Ingester interface {
	Ingest(ctx context.Context, raw domain.RawDocument) (service.Outcome, error)
}

// Handler handles HTTP requests for the lead feed.
type Handler struct {
	svc     Ingester
	queries *service.Queries
	val     *validator.Validator
}

// New creates a new feed handler.
func New(svc Ingester, queries *service.Queries, val *validator.Validator) *Handler {
	return &Handler{svc: svc, queries: queries, val: val}
}

// RegisterRoutes registers lead feed routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/feed", h.Ingest)
	rg.GET("/failures", h.ListFailures)
	rg.GET("/:id", h.GetByID)
}

func (h *Handler) Ingest(c *gin.Context) {
	var headers transport.IngestHeaders
	if err := c.ShouldBindHeader(&headers); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(headers); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.FieldErrors(err))
		return
	}

	if headers.SourceProvider == "" {
		headers.SourceProvider = httpkit.CallingService(c)
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxDocumentBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpkit.Error(c, http.StatusRequestEntityTooLarge, "document too large", nil)
			return
		}
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if len(body) == 0 {
		httpkit.Error(c, http.StatusBadRequest, "empty document", nil)
		return
	}

	out, err := h.svc.Ingest(c.Request.Context(), domain.RawDocument{
		Body: body,
		Meta: domain.DocumentMeta{
			DealershipRef:  headers.DealershipRef,
			SourceProvider: headers.SourceProvider,
		},
	})
	if httpkit.HandleError(c, err) {
		return
	}

	resp := transport.ToIngestResponse(out.Result, out.LeadID, out.FailureID, out.Duplicate)
	switch {
	case !out.Result.OK():
		httpkit.JSON(c, http.StatusUnprocessableEntity, resp)
	case out.Duplicate:
		httpkit.OK(c, resp)
	default:
		httpkit.JSON(c, http.StatusCreated, resp)
	}
}

func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid lead id", nil)
		return
	}

	lead, err := h.queries.GetLead(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToLeadResponse(lead))
}

func (h *Handler) ListFailures(c *gin.Context) {
	var req transport.ListFailuresRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.FieldErrors(err))
		return
	}

	items, err := h.queries.ListFailures(c.Request.Context(), req.DealershipRef, req.Limit)
	if httpkit.HandleError(c, err) {
		return
	}
	c.Header("X-Total-Count", strconv.Itoa(len(items)))
	httpkit.OK(c, transport.ToFailureListResponse(items))
}

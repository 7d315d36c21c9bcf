package handler

import (
	"context"
	"io"
	"net/http"
	"strings"

	"leadpipeline_backend/internal/delivery/domain"
	"leadpipeline_backend/platform/apperr"
	"leadpipeline_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
)

const (
	headerSignature = "X-Webhook-Signature"
	headerTimestamp = "X-Webhook-Timestamp"

	maxCallbackBytes = 1 << 20
)

var knownProviders = map[string]bool{"sendgrid": true, "brevo": true}

// Verifier checks callback authenticity.
type Verifier interface {
	Verify(p domain.SignedPayload) error
}

// Enqueuer hands a verified callback to the background reconciler.
type Enqueuer interface {
	EnqueueDeliveryStatus(ctx context.Context, provider string, body []byte) error
}

// WebhookHandler receives provider delivery callbacks.
type WebhookHandler struct {
	verifier Verifier
	queue    Enqueuer
}

func NewWebhookHandler(verifier Verifier, queue Enqueuer) *WebhookHandler {
	return &WebhookHandler{verifier: verifier, queue: queue}
}

func (h *WebhookHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/email/:provider", h.HandleEmailStatus)
}

// HandleEmailStatus verifies the signature before looking at the body and
// acknowledges as soon as the callback is queued.
func (h *WebhookHandler) HandleEmailStatus(c *gin.Context) {
	provider := strings.ToLower(c.Param("provider"))
	if !knownProviders[provider] {
		httpkit.Error(c, http.StatusNotFound, "unknown provider", nil)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxCallbackBytes))
	if err != nil {
		httpkit.Error(c, http.StatusRequestEntityTooLarge, "payload too large", nil)
		return
	}

	payload := domain.SignedPayload{
		Provider:  provider,
		Body:      body,
		Signature: c.GetHeader(headerSignature),
		Timestamp: c.GetHeader(headerTimestamp),
	}
	if err := h.verifier.Verify(payload); err != nil {
		httpkit.HandleError(c, apperr.Unauthorized("invalid signature").WithOp("delivery.webhook"))
		return
	}

	if err := h.queue.EnqueueDeliveryStatus(c.Request.Context(), provider, body); err != nil {
		httpkit.HandleError(c, apperr.Wrap(apperr.KindUnavailable, "could not queue callback", err))
		return
	}
	httpkit.OK(c, gin.H{"status": "accepted"})
}

package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadpipeline_backend/internal/delivery/reconciler"
	"leadpipeline_backend/platform/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type recordingQueue struct {
	calls []string
}

func (q *recordingQueue) EnqueueDeliveryStatus(_ context.Context, provider string, body []byte) error {
	q.calls = append(q.calls, provider+":"+string(body))
	return nil
}

type panicSink struct{ t *testing.T }

func (s panicSink) MarkDelivered(context.Context, string, time.Time) error {
	s.t.Fatal("no transition expected")
	return nil
}

func (s panicSink) MarkDeliveryFailed(context.Context, string, string, time.Time) error {
	s.t.Fatal("no transition expected")
	return nil
}

func newRouter(t *testing.T, q Enqueuer) (*gin.Engine, *reconciler.Verifier) {
	v := reconciler.NewVerifier("s3cret", 0)
	rec := reconciler.New(v, reconciler.NewMemoryDeduper(0), panicSink{t: t}, nil, logger.Discard())
	r := gin.New()
	NewWebhookHandler(rec, q).RegisterRoutes(r.Group("/webhooks"))
	return r, v
}

func post(r *gin.Engine, path, body, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if sig != "" {
		req.Header.Set(headerSignature, sig)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestWebhookRejectsBadSignatureWithoutQueueing(t *testing.T) {
	q := &recordingQueue{}
	r, _ := newRouter(t, q)

	rec := post(r, "/webhooks/email/sendgrid", `[{"event":"delivered","sg_message_id":"abc.1"}]`, "00ff")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, q.calls)
}

func TestWebhookMissingSignatureIsUnauthorized(t *testing.T) {
	q := &recordingQueue{}
	r, _ := newRouter(t, q)

	rec := post(r, "/webhooks/email/brevo", `not even json`, "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, q.calls)
}

func TestWebhookQueuesVerifiedCallback(t *testing.T) {
	q := &recordingQueue{}
	r, v := newRouter(t, q)
	body := `[{"event":"delivered","sg_message_id":"abc.1"}]`

	rec := post(r, "/webhooks/email/SendGrid", body, v.Sign([]byte(body), ""))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"sendgrid:" + body}, q.calls)
}

func TestWebhookUnknownProvider(t *testing.T) {
	r, _ := newRouter(t, &recordingQueue{})
	rec := post(r, "/webhooks/email/postmark", `[]`, "00")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

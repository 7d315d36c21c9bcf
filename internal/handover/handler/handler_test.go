package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadpipeline_backend/internal/handover/domain"
	"leadpipeline_backend/internal/handover/repository"
	"leadpipeline_backend/internal/handover/service"
	"leadpipeline_backend/internal/handover/transport"
	"leadpipeline_backend/platform/validator"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubQueue struct {
	err  error
	seen []domain.ReadyForHandover
}

func (q *stubQueue) EnqueueHandoverReady(_ context.Context, ev domain.ReadyForHandover) error {
	q.seen = append(q.seen, ev)
	return q.err
}

func newRouter(q ReadyQueue, store repository.Store) *gin.Engine {
	r := gin.New()
	New(q, service.NewQueries(store, nil), validator.New()).RegisterRoutes(r.Group("/handovers"))
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestReadyEnqueues(t *testing.T) {
	q := &stubQueue{}
	body := `{"conversationRef":"conv-1","transcript":[{"role":"customer","text":"hi"}],"leadContext":{"customerName":"Ada"}}`

	rec := do(newRouter(q, repository.NewMemoryStore()), http.MethodPost, "/handovers/ready", body)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, q.seen, 1)
	assert.Equal(t, "conv-1", q.seen[0].ConversationRef)
	assert.Equal(t, "Ada", q.seen[0].LeadContext.CustomerName)
}

func TestReadyRejectsInvalidBody(t *testing.T) {
	q := &stubQueue{}
	r := newRouter(q, repository.NewMemoryStore())

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/handovers/ready", `{`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/handovers/ready", `{"transcript":[]}`).Code)
	assert.Equal(t, http.StatusBadRequest,
		do(r, http.MethodPost, "/handovers/ready", `{"conversationRef":"c","transcript":[{"role":"robot","text":"x"}]}`).Code)
	assert.Empty(t, q.seen)
}

func TestReadyQueueUnavailable(t *testing.T) {
	q := &stubQueue{err: errors.New("redis down")}
	rec := do(newRouter(q, repository.NewMemoryStore()), http.MethodPost, "/handovers/ready", `{"conversationRef":"conv-2"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetAndList(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx := context.Background()
	stored, _, err := store.InsertIfAbsent(ctx, domain.Record{
		ID:              uuid.New(),
		ConversationRef: "conv-3",
		Status:          domain.StatusPending,
		TargetInbox:     "sales@example.com",
		CreatedAt:       time.Now(),
	})
	require.NoError(t, err)
	r := newRouter(&stubQueue{}, store)

	rec := do(r, http.MethodGet, "/handovers/"+stored.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var detail transport.HandoverDetailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, "conv-3", detail.ConversationRef)
	assert.Equal(t, "pending", detail.Status)
	assert.NotNil(t, detail.DeliveryEvents)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/handovers/"+uuid.NewString(), "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/handovers/not-a-uuid", "").Code)

	rec = do(r, http.MethodGet, "/handovers?status=pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list transport.HandoverListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/handovers?status=bogus", "").Code)
}

package reconciler

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadpipeline_backend/internal/delivery/domain"
	"leadpipeline_backend/platform/logger"
)

type call struct {
	kind, id, reason string
}

type fakeSink struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (s *fakeSink) MarkDelivered(_ context.Context, id string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.calls = append(s.calls, call{kind: "delivered", id: id})
	return nil
}

func (s *fakeSink) MarkDeliveryFailed(_ context.Context, id, reason string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.calls = append(s.calls, call{kind: "failed", id: id, reason: reason})
	return nil
}

const sendGridBody = `[
	{"email":"sales@dealer.example","timestamp":1714564800,"event":"processed","sg_message_id":"abc123.filter0001.16648.5515E0B88.0"},
	{"email":"sales@dealer.example","timestamp":1714564805,"event":"delivered","sg_message_id":"abc123.filter0001.16648.5515E0B88.0"},
	{"email":"other@dealer.example","timestamp":1714564806,"event":"bounce","sg_message_id":"def456.filter0002","reason":"550 mailbox unavailable"}
]`

func TestVerifierAcceptsBodySignature(t *testing.T) {
	v := NewVerifier("s3cret", 0)
	body := []byte(sendGridBody)
	require.NoError(t, v.Verify(domain.SignedPayload{Body: body, Signature: v.Sign(body, "")}))
	require.NoError(t, v.Verify(domain.SignedPayload{Body: body, Signature: "sha256=" + v.Sign(body, "")}))
}

func TestVerifierRejects(t *testing.T) {
	v := NewVerifier("s3cret", time.Minute)
	now := time.Unix(1714564800, 0)
	v.now = func() time.Time { return now }
	body := []byte(`[]`)
	fresh := strconv.FormatInt(now.Unix(), 10)
	stale := strconv.FormatInt(now.Add(-2*time.Minute).Unix(), 10)

	cases := map[string]domain.SignedPayload{
		"missing":      {Body: body},
		"not hex":      {Body: body, Signature: "zz"},
		"wrong secret": {Body: body, Signature: NewVerifier("other", 0).Sign(body, "")},
		"tampered":     {Body: []byte(`[{}]`), Signature: v.Sign(body, "")},
		"stale":        {Body: body, Timestamp: stale, Signature: v.Sign(body, stale)},
		"ts not bound": {Body: body, Timestamp: fresh, Signature: v.Sign(body, "")},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, v.Verify(p), domain.ErrWebhookSignature)
		})
	}

	require.NoError(t, v.Verify(domain.SignedPayload{Body: body, Timestamp: fresh, Signature: v.Sign(body, fresh)}))
	assert.ErrorIs(t, NewVerifier("", 0).Verify(domain.SignedPayload{Body: body, Signature: "00"}), domain.ErrWebhookSignature)
}

func TestParseSendGridEvents(t *testing.T) {
	events, err := ParseEvents("sendgrid", []byte(sendGridBody))
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, domain.EventIgnored, events[0].Kind)
	assert.Equal(t, domain.EventDelivered, events[1].Kind)
	assert.Equal(t, "abc123", events[1].ProviderMessageID)
	assert.Equal(t, domain.EventFailed, events[2].Kind)
	assert.Equal(t, "def456", events[2].ProviderMessageID)
	assert.Equal(t, "550 mailbox unavailable", events[2].Reason)
}

func TestParseBrevoSingleEvent(t *testing.T) {
	events, err := ParseEvents("brevo", []byte(`{"event":"hard_bounce","message-id":"<1@relay>","ts_event":1714564800,"reason":"unknown user"}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventFailed, events[0].Kind)
	assert.Equal(t, "<1@relay>", events[0].ProviderMessageID)

	events, err = ParseEvents("brevo", []byte(`[{"event":"opened","message-id":"<1@relay>"}]`))
	require.NoError(t, err)
	assert.Equal(t, domain.EventIgnored, events[0].Kind)
}

func TestParseRejectsUnknownProvider(t *testing.T) {
	_, err := ParseEvents("mailchimp", []byte(`[]`))
	assert.ErrorIs(t, err, domain.ErrUnknownProvider)
}

func newRedisDeduper(t *testing.T) *RedisDeduper {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisDeduper(client, time.Hour)
}

func TestHandleCallbackAppliesOnceAcrossReplays(t *testing.T) {
	sink := &fakeSink{}
	v := NewVerifier("s3cret", 0)
	r := New(v, newRedisDeduper(t), sink, nil, logger.Discard())
	body := []byte(sendGridBody)
	p := domain.SignedPayload{Provider: "sendgrid", Body: body, Signature: v.Sign(body, "")}

	require.NoError(t, r.HandleCallback(context.Background(), p))
	require.NoError(t, r.HandleCallback(context.Background(), p))

	assert.Equal(t, []call{
		{kind: "delivered", id: "abc123"},
		{kind: "failed", id: "def456", reason: "550 mailbox unavailable"},
	}, sink.calls)
}

func TestHandleCallbackRejectsBadSignatureWithoutApplying(t *testing.T) {
	sink := &fakeSink{}
	r := New(NewVerifier("s3cret", 0), NewMemoryDeduper(0), sink, nil, logger.Discard())

	err := r.HandleCallback(context.Background(), domain.SignedPayload{Provider: "sendgrid", Body: []byte(sendGridBody), Signature: "deadbeef"})

	assert.ErrorIs(t, err, domain.ErrWebhookSignature)
	assert.Empty(t, sink.calls)
}

func TestReconcileReleasesKeyWhenSinkFails(t *testing.T) {
	sink := &fakeSink{err: errors.New("db down")}
	dedupe := NewMemoryDeduper(0)
	r := New(NewVerifier("s3cret", 0), dedupe, sink, nil, logger.Discard())
	body := []byte(`[{"event":"delivered","sg_message_id":"abc123.x"}]`)

	require.Error(t, r.Reconcile(context.Background(), "sendgrid", body))

	sink.err = nil
	require.NoError(t, r.Reconcile(context.Background(), "sendgrid", body))
	assert.Len(t, sink.calls, 1)
}

func TestMemoryDeduperExpires(t *testing.T) {
	d := NewMemoryDeduper(time.Minute)
	now := time.Unix(0, 0)
	d.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := d.Claim(ctx, "k")
	assert.True(t, ok)
	ok, _ = d.Claim(ctx, "k")
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = d.Claim(ctx, "k")
	assert.True(t, ok)
}

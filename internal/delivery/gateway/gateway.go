// Package gateway sends handover dossiers by email behind a circuit breaker and
// keeps a best-effort backup copy of every attempt in object storage.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"leadpipeline_backend/internal/delivery/domain"
	"leadpipeline_backend/internal/delivery/provider"
	dossier "leadpipeline_backend/internal/dossier/domain"
	"leadpipeline_backend/internal/dossier/render"
	"leadpipeline_backend/platform/breaker"
	"leadpipeline_backend/platform/logger"
	"leadpipeline_backend/platform/metrics"
	"leadpipeline_backend/platform/storage"
)

const backupTimeout = 15 * time.Second

// Breaker is the circuit breaker surface the gateway needs.
type Breaker interface {
	breaker.Guard
	OpenError() *breaker.OpenError
}

// Backup configures the object storage copy. A nil Store disables it.
type Backup struct {
	Store   storage.ObjectStore
	Bucket  string
	Breaker Breaker
}

// Gateway sends rendered dossiers through one provider.
type Gateway struct {
	provider provider.Provider
	breaker  Breaker
	backup   Backup
	metrics  *metrics.Recorder
	log      *logger.Logger
	now      func() time.Time
	pending  sync.WaitGroup
}

// New creates a delivery gateway.
func New(p provider.Provider, providerBreaker Breaker, backup Backup, rec *metrics.Recorder, log *logger.Logger) *Gateway {
	return &Gateway{
		provider: p,
		breaker:  providerBreaker,
		backup:   backup,
		metrics:  rec,
		log:      log,
		now:      time.Now,
	}
}

// SendOption customizes a single send.
type SendOption func(*domain.Email)

// WithReference attaches a correlation id (usually the handover id).
func WithReference(ref string) SendOption {
	return func(e *domain.Email) { e.Reference = ref }
}

// Send renders the dossier and hands it to the provider. A refused call
// returns a rejected outcome with *breaker.OpenError; a provider failure
// returns a rejected outcome with *domain.RejectedError.
func (g *Gateway) Send(ctx context.Context, d dossier.Dossier, targetInbox string, opts ...SendOption) (domain.Outcome, error) {
	out := domain.Outcome{Status: domain.StatusRejected, Provider: g.provider.Name()}

	rendered, err := render.Render(d)
	if err != nil {
		out.Reason = "render failed"
		return out, &domain.RejectedError{Provider: out.Provider, Reason: out.Reason, Err: err}
	}
	email := domain.Email{To: targetInbox, Subject: rendered.Subject, HTML: rendered.HTML, Text: rendered.Text}
	for _, opt := range opts {
		opt(&email)
	}

	ticket, ok := g.breaker.Allow()
	if !ok {
		openErr := g.breaker.OpenError()
		out.Reason = openErr.Error()
		g.metrics.EmailOutcome(ctx, "circuit_open")
		g.backupAsync(ctx, d, email, out)
		return out, openErr
	}

	id, err := g.provider.Send(ctx, email)
	if err != nil {
		g.breaker.RecordFailure(ticket)
		g.metrics.EmailOutcome(ctx, string(domain.StatusRejected))
		out.Reason = err.Error()
		g.backupAsync(ctx, d, email, out)
		return out, &domain.RejectedError{Provider: out.Provider, Reason: err.Error(), Err: err}
	}
	g.breaker.RecordSuccess(ticket)
	g.metrics.EmailOutcome(ctx, string(domain.StatusAccepted))

	out.Status = domain.StatusAccepted
	out.ProviderMessageID = id
	g.backupAsync(ctx, d, email, out)
	return out, nil
}

// Wait blocks until in-flight backup writes finish or ctx is done.
func (g *Gateway) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type backupRecord struct {
	Dossier  dossier.Dossier `json:"dossier"`
	To       string          `json:"to"`
	Subject  string          `json:"subject"`
	HTML     string          `json:"html"`
	Text     string          `json:"text"`
	Outcome  domain.Outcome  `json:"outcome"`
	StoredAt time.Time       `json:"storedAt"`
}

func (g *Gateway) backupAsync(ctx context.Context, d dossier.Dossier, email domain.Email, out domain.Outcome) {
	if g.backup.Store == nil || g.backup.Bucket == "" {
		return
	}
	var ticket breaker.Ticket
	if g.backup.Breaker != nil {
		var ok bool
		if ticket, ok = g.backup.Breaker.Allow(); !ok {
			g.log.Debug("handover backup skipped, circuit open", "reference", email.Reference)
			return
		}
	}

	data, err := json.Marshal(backupRecord{
		Dossier: d, To: email.To, Subject: email.Subject, HTML: email.HTML, Text: email.Text,
		Outcome: out, StoredAt: g.now().UTC(),
	})
	if err != nil {
		g.log.Warn("handover backup encode failed", "error", err)
		return
	}

	name := email.Reference
	if name == "" {
		name = out.ProviderMessageID
	}
	if name == "" {
		name = "handover"
	}

	g.pending.Add(1)
	go func() {
		defer g.pending.Done()
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backupTimeout)
		defer cancel()

		_, err := g.backup.Store.Put(bctx, g.backup.Bucket, "handovers", name+".json", "application/json", data)
		if g.backup.Breaker == nil {
			return
		}
		if err != nil {
			g.backup.Breaker.RecordFailure(ticket)
			if !errors.Is(err, context.Canceled) {
				g.log.Warn("handover backup failed", "error", err, "reference", email.Reference)
			}
			return
		}
		g.backup.Breaker.RecordSuccess(ticket)
	}()
}

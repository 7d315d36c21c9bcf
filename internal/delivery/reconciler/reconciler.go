// Package reconciler verifies provider delivery callbacks and advances
// handover records to their final delivery state.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadpipeline_backend/internal/delivery/domain"
	"leadpipeline_backend/platform/logger"
)

// StatusSink applies delivery results to handover records.
type StatusSink interface {
	MarkDelivered(ctx context.Context, providerMessageID string, at time.Time) error
	MarkDeliveryFailed(ctx context.Context, providerMessageID, reason string, at time.Time) error
}

// EventLog keeps an audit row per applied callback entry.
type EventLog interface {
	Record(ctx context.Context, ev domain.StatusEvent) error
}

// Reconciler turns callbacks into handover transitions.
type Reconciler struct {
	verifier *Verifier
	dedupe   Deduper
	sink     StatusSink
	events   EventLog
	log      *logger.Logger
	now      func() time.Time
}

// New creates a reconciler. events may be nil.
func New(verifier *Verifier, dedupe Deduper, sink StatusSink, events EventLog, log *logger.Logger) *Reconciler {
	return &Reconciler{
		verifier: verifier,
		dedupe:   dedupe,
		sink:     sink,
		events:   events,
		log:      log,
		now:      time.Now,
	}
}

// Verify checks the signature and logs a security event on failure.
func (r *Reconciler) Verify(p domain.SignedPayload) error {
	if err := r.verifier.Verify(p); err != nil {
		r.log.SecurityEvent("webhook_signature_rejected", p.Provider, err.Error())
		return err
	}
	return nil
}

// HandleCallback verifies and reconciles one callback synchronously.
func (r *Reconciler) HandleCallback(ctx context.Context, p domain.SignedPayload) error {
	if err := r.Verify(p); err != nil {
		return err
	}
	return r.Reconcile(ctx, p.Provider, p.Body)
}

// Reconcile applies an already verified callback body. Replays and entries
// the sink cannot apply are logged and dropped; only infrastructure errors
// are returned so the unit of work can be retried.
func (r *Reconciler) Reconcile(ctx context.Context, provider string, body []byte) error {
	events, err := ParseEvents(provider, body)
	if err != nil {
		return err
	}

	var errs []error
	for _, ev := range events {
		if err := r.apply(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Reconciler) apply(ctx context.Context, ev domain.StatusEvent) error {
	if ev.Kind == domain.EventIgnored || ev.ProviderMessageID == "" {
		return nil
	}

	key := ev.DedupeKey()
	first, err := r.dedupe.Claim(ctx, key)
	if err != nil {
		r.log.Warn("callback dedupe unavailable, applying anyway", "error", err)
		first = true
	}
	if !first {
		r.log.Info("duplicate delivery callback dropped", "provider", ev.Provider, "messageId", ev.ProviderMessageID, "event", ev.EventType)
		return nil
	}

	at := ev.OccurredAt
	if at.IsZero() {
		at = r.now().UTC()
	}

	switch ev.Kind {
	case domain.EventDelivered:
		err = r.sink.MarkDelivered(ctx, ev.ProviderMessageID, at)
	case domain.EventFailed:
		reason := ev.Reason
		if reason == "" {
			reason = ev.EventType
		}
		err = r.sink.MarkDeliveryFailed(ctx, ev.ProviderMessageID, reason, at)
	}
	if err != nil {
		if relErr := r.dedupe.Release(ctx, key); relErr != nil {
			r.log.Warn("callback dedupe release failed", "error", relErr)
		}
		return fmt.Errorf("apply %s %s: %w", ev.Provider, ev.EventType, err)
	}

	if r.events != nil {
		if err := r.events.Record(ctx, ev); err != nil {
			r.log.Warn("delivery event audit failed", "error", err, "messageId", ev.ProviderMessageID)
		}
	}
	return nil
}

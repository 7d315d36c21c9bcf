// Package service runs the handover lifecycle: dossier generation, email
// delivery with one scheduled retry, and reconciliation of delivery callbacks.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	deliverydomain "leadpipeline_backend/internal/delivery/domain"
	"leadpipeline_backend/internal/delivery/gateway"
	dossier "leadpipeline_backend/internal/dossier/domain"
	"leadpipeline_backend/internal/events"
	"leadpipeline_backend/internal/handover/domain"
	"leadpipeline_backend/internal/handover/repository"
	"leadpipeline_backend/platform/apperr"
	"leadpipeline_backend/platform/logger"
	"leadpipeline_backend/platform/validator"
)

const (
	reasonEmailDisabled = "handover email disabled"
	recoverBatch        = 100
	parkedCallbackTTL   = 24 * time.Hour
)

// DossierGenerator always returns a valid dossier, falling back to a
// deterministic one when the model is slow or wrong.
type DossierGenerator interface {
	Generate(ctx context.Context, transcript []dossier.Message, lead dossier.LeadContext, timeout time.Duration) dossier.Dossier
}

// Sender delivers a dossier email.
type Sender interface {
	Send(ctx context.Context, d dossier.Dossier, targetInbox string, opts ...gateway.SendOption) (deliverydomain.Outcome, error)
}

// RetryScheduler arranges a single delayed RetryDelivery call.
type RetryScheduler interface {
	ScheduleDeliveryRetry(ctx context.Context, handoverID uuid.UUID, runAt time.Time) error
}

// Config holds orchestrator settings.
type Config struct {
	EmailEnabled   bool
	TargetInbox    string
	RetryDelay     time.Duration
	DossierTimeout time.Duration
	SLAHigh        time.Duration
	SLAMedium      time.Duration
	SLALow         time.Duration
}

// SLAFor returns the response deadline offset for an urgency level.
func (c Config) SLAFor(u dossier.Urgency) time.Duration {
	switch u {
	case dossier.UrgencyHigh:
		return c.SLAHigh
	case dossier.UrgencyLow:
		return c.SLALow
	default:
		return c.SLAMedium
	}
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service is the handover orchestrator.
type Service struct {
	store     repository.Store
	generator DossierGenerator
	sender    Sender
	scheduler RetryScheduler
	eventBus  events.Bus
	val       *validator.Validator
	cfg       Config
	log       *logger.Logger
	now       func() time.Time
}

func New(
	store repository.Store,
	generator DossierGenerator,
	sender Sender,
	scheduler RetryScheduler,
	eventBus events.Bus,
	val *validator.Validator,
	cfg Config,
	log *logger.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		store:     store,
		generator: generator,
		sender:    sender,
		scheduler: scheduler,
		eventBus:  eventBus,
		val:       val,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleReady creates the handover for a conversation and drives it as far
// as the first delivery attempt. A conversation that already has an
// in-flight handover is a no-op and returns that record with created=false.
func (s *Service) HandleReady(ctx context.Context, ev domain.ReadyForHandover) (domain.Record, bool, error) {
	ev.ConversationRef = strings.TrimSpace(ev.ConversationRef)
	ev.TargetInbox = strings.TrimSpace(ev.TargetInbox)
	if ev.TargetInbox == "" {
		ev.TargetInbox = s.cfg.TargetInbox
	}
	if err := s.val.Struct(ev); err != nil {
		return domain.Record{}, false, apperr.Validation("invalid ready-for-handover event").
			WithDetails(validator.FieldErrors(err)).WithOp("handover.HandleReady")
	}
	if ev.TargetInbox == "" {
		return domain.Record{}, false, apperr.Validation("no target inbox configured").WithOp("handover.HandleReady")
	}

	now := s.now()
	provisionalSLA := now.Add(s.cfg.SLAFor(dossier.UrgencyMedium))
	rec, created, err := s.store.InsertIfAbsent(ctx, domain.Record{
		ID:              uuid.New(),
		ConversationRef: ev.ConversationRef,
		Status:          domain.StatusPending,
		TargetInbox:     ev.TargetInbox,
		CreatedAt:       now,
		UpdatedAt:       now,
		SLADeadline:     &provisionalSLA,
	})
	if err != nil {
		return domain.Record{}, false, fmt.Errorf("create handover: %w", err)
	}
	if !created {
		s.log.Info("handover already in flight",
			"conversationRef", rec.ConversationRef, "handoverId", rec.ID, "status", rec.Status)
		return rec, false, nil
	}

	s.eventBus.Publish(ctx, events.HandoverCreated{
		BaseEvent:       events.NewBaseEvent(),
		HandoverID:      rec.ID,
		ConversationRef: rec.ConversationRef,
		SLADeadline:     provisionalSLA,
	})

	rec, err = s.transition(ctx, rec, domain.StatusDossierGenerating, domain.Patch{})
	if err != nil {
		return rec, true, err
	}

	d := s.generator.Generate(ctx, ev.Transcript, ev.LeadContext, s.cfg.DossierTimeout)
	d.SLADeadline = rec.CreatedAt.Add(s.cfg.SLAFor(d.Urgency))
	if err := d.Validate(); err != nil {
		return s.fail(ctx, rec, domain.StatusDossierFailed, "dossier invalid: "+err.Error())
	}

	withDossier, err := s.store.AttachDossier(ctx, rec.ID, d, s.now())
	if err != nil {
		if errors.Is(err, domain.ErrDossierAttached) {
			return s.fail(ctx, rec, domain.StatusDossierFailed, "dossier already attached")
		}
		return rec, true, fmt.Errorf("attach dossier: %w", err)
	}
	rec = withDossier

	if !s.cfg.EmailEnabled {
		return s.fail(ctx, rec, domain.StatusEmailFailed, reasonEmailDisabled)
	}

	rec, err = s.deliver(ctx, rec)
	return rec, true, err
}

// RetryDelivery makes the single follow-up delivery attempt. Records that
// already left delivery_retry_pending are left alone.
func (s *Service) RetryDelivery(ctx context.Context, id uuid.UUID) (domain.Record, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Record{}, apperr.NotFound("handover not found").WithOp("handover.RetryDelivery")
		}
		return domain.Record{}, err
	}
	if rec.Status != domain.StatusDeliveryRetryPending {
		s.log.Info("delivery retry skipped",
			"handoverId", rec.ID, "status", rec.Status)
		return rec, nil
	}
	return s.deliver(ctx, rec)
}

// deliver sends the stored dossier. The first failure schedules one retry;
// a failure on the retry is final.
func (s *Service) deliver(ctx context.Context, rec domain.Record) (domain.Record, error) {
	if rec.Dossier == nil {
		rec, _, err := s.fail(ctx, rec, domain.StatusEmailFailed, "dossier missing at delivery")
		return rec, err
	}

	out, sendErr := s.sender.Send(ctx, *rec.Dossier, rec.TargetInbox, gateway.WithReference(rec.ID.String()))
	now := s.now()

	if sendErr == nil {
		messageID := out.ProviderMessageID
		sent, err := s.transition(ctx, rec, domain.StatusEmailSent, domain.Patch{
			ProviderMessageID: &messageID,
			IncrementAttempts: true,
			EmailSentAt:       &now,
		})
		if err != nil {
			return sent, err
		}
		// A provider callback may have beaten this write.
		settled, err := s.applyParked(ctx, sent)
		if err != nil {
			s.log.Error("applying parked delivery callback failed", "handoverId", sent.ID, "error", err)
			return sent, nil
		}
		return settled, nil
	}

	reason := sendErr.Error()
	if rec.Status == domain.StatusDossierGenerating {
		rec, err := s.transition(ctx, rec, domain.StatusDeliveryRetryPending, domain.Patch{
			FailureReason:     &reason,
			IncrementAttempts: true,
		})
		if err != nil {
			return rec, err
		}
		runAt := now.Add(s.cfg.RetryDelay)
		if err := s.scheduler.ScheduleDeliveryRetry(ctx, rec.ID, runAt); err != nil {
			s.log.Error("failed to schedule delivery retry", "handoverId", rec.ID, "error", err)
			rec, _, failErr := s.fail(ctx, rec, domain.StatusEmailFailed, "retry scheduling failed: "+err.Error())
			return rec, failErr
		}
		s.log.Info("delivery retry scheduled",
			"handoverId", rec.ID, "runAt", runAt, "reason", reason)
		return rec, nil
	}

	rec, _, err := s.failWith(ctx, rec, domain.StatusEmailFailed, reason, domain.Patch{IncrementAttempts: true})
	return rec, err
}

// MarkDelivered applies a provider "delivered" callback. A callback that
// arrives before the send is recorded is parked and applied once it is.
func (s *Service) MarkDelivered(ctx context.Context, providerMessageID string, at time.Time) error {
	return s.applyCallback(ctx, domain.DeliveryCallback{
		ProviderMessageID: providerMessageID,
		Outcome:           domain.CallbackDelivered,
		OccurredAt:        at,
	})
}

// MarkDeliveryFailed applies a provider bounce or drop after acceptance.
func (s *Service) MarkDeliveryFailed(ctx context.Context, providerMessageID, reason string, at time.Time) error {
	if reason == "" {
		reason = "provider reported delivery failure"
	}
	return s.applyCallback(ctx, domain.DeliveryCallback{
		ProviderMessageID: providerMessageID,
		Outcome:           domain.CallbackFailed,
		Reason:            reason,
		OccurredAt:        at,
	})
}

// RecoverStalled resumes or closes records left behind by a crashed worker or
// a lost retry task and returns how many it moved.
func (s *Service) RecoverStalled(ctx context.Context, staleAfter time.Duration) (int, error) {
	cutoff := s.now().Add(-staleAfter)
	moved := 0
	var errs []error

	for _, status := range []domain.Status{domain.StatusPending, domain.StatusDossierGenerating} {
		records, err := s.store.ListStale(ctx, status, cutoff, recoverBatch)
		if err != nil {
			return moved, fmt.Errorf("list stale %s handovers: %w", status, err)
		}
		for _, rec := range records {
			if err := s.recoverOne(ctx, rec); err != nil {
				errs = append(errs, err)
				continue
			}
			moved++
		}
	}

	// A retry is overdue once its delay has passed by more than staleAfter.
	records, err := s.store.ListStale(ctx, domain.StatusDeliveryRetryPending, cutoff.Add(-s.cfg.RetryDelay), recoverBatch)
	if err != nil {
		return moved, fmt.Errorf("list overdue retries: %w", err)
	}
	for _, rec := range records {
		if _, err := s.deliver(ctx, rec); err != nil {
			errs = append(errs, s.dropStale(rec, err))
			continue
		}
		moved++
	}

	applied, err := s.sweepParked(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	moved += applied
	return moved, errors.Join(errs...)
}

func (s *Service) recoverOne(ctx context.Context, rec domain.Record) error {
	s.log.Warn("recovering stalled handover",
		"handoverId", rec.ID, "status", rec.Status, "updatedAt", rec.UpdatedAt)

	if rec.Status == domain.StatusPending {
		next, err := s.transition(ctx, rec, domain.StatusDossierGenerating, domain.Patch{})
		if err != nil {
			return s.dropStale(rec, err)
		}
		rec = next
	}
	if rec.Dossier == nil {
		_, _, err := s.fail(ctx, rec, domain.StatusDossierFailed, "stalled before a dossier was attached")
		return s.dropStale(rec, err)
	}
	if !s.cfg.EmailEnabled {
		_, _, err := s.fail(ctx, rec, domain.StatusEmailFailed, reasonEmailDisabled)
		return s.dropStale(rec, err)
	}
	_, err := s.deliver(ctx, rec)
	return s.dropStale(rec, err)
}

func (s *Service) applyCallback(ctx context.Context, cb domain.DeliveryCallback) error {
	rec, err := s.store.FindByProviderMessageID(ctx, cb.ProviderMessageID)
	if errors.Is(err, domain.ErrNotFound) {
		return s.parkCallback(ctx, cb)
	}
	if err != nil {
		return fmt.Errorf("find handover by message id: %w", err)
	}
	_, err = s.settle(ctx, rec, cb)
	return err
}

// parkCallback stores cb for the send path to pick up. The send can be
// recorded between the first lookup and the park, so look again afterwards.
func (s *Service) parkCallback(ctx context.Context, cb domain.DeliveryCallback) error {
	cb.ReceivedAt = s.now()
	if err := s.store.ParkCallback(ctx, cb); err != nil {
		return err
	}

	rec, err := s.store.FindByProviderMessageID(ctx, cb.ProviderMessageID)
	if errors.Is(err, domain.ErrNotFound) {
		s.log.Info("delivery callback parked until send is recorded",
			"providerMessageId", cb.ProviderMessageID, "outcome", cb.Outcome)
		return nil
	}
	if err != nil {
		return fmt.Errorf("find handover by message id: %w", err)
	}
	_, err = s.applyParked(ctx, rec)
	return err
}

// applyParked settles rec with the callback parked for its message id, if any.
// TakeCallback removes the entry, so only one caller applies it.
func (s *Service) applyParked(ctx context.Context, rec domain.Record) (domain.Record, error) {
	if rec.ProviderMessageID == "" {
		return rec, nil
	}
	cb, ok, err := s.store.TakeCallback(ctx, rec.ProviderMessageID)
	if err != nil || !ok {
		return rec, err
	}
	updated, err := s.settle(ctx, rec, cb)
	if err != nil {
		// Put it back for the sweeper.
		if parkErr := s.store.ParkCallback(ctx, cb); parkErr != nil {
			s.log.Error("re-parking delivery callback failed",
				"handoverId", rec.ID, "providerMessageId", cb.ProviderMessageID, "error", parkErr)
		}
		return rec, err
	}
	return updated, nil
}

// settle moves an email_sent record to its final delivery state. Records
// already past email_sent keep their state and the callback is dropped.
func (s *Service) settle(ctx context.Context, rec domain.Record, cb domain.DeliveryCallback) (domain.Record, error) {
	if rec.Status != domain.StatusEmailSent {
		s.log.Info("delivery callback ignored",
			"handoverId", rec.ID, "status", rec.Status, "outcome", cb.Outcome)
		return rec, nil
	}

	at := cb.OccurredAt
	switch cb.Outcome {
	case domain.CallbackDelivered:
		updated, err := s.transition(ctx, rec, domain.StatusEmailDelivered, domain.Patch{EmailDeliveredAt: &at})
		if err != nil {
			return rec, s.dropStale(rec, err)
		}
		return updated, nil
	case domain.CallbackFailed:
		updated, _, err := s.failWith(ctx, rec, domain.StatusEmailFailed, cb.Reason, domain.Patch{EmailFailedAt: &at})
		if err != nil {
			return rec, s.dropStale(rec, err)
		}
		return updated, nil
	default:
		s.log.Warn("delivery callback with unknown outcome dropped",
			"handoverId", rec.ID, "outcome", cb.Outcome)
		return rec, nil
	}
}

// sweepParked applies parked callbacks whose send is now recorded and drops
// those that never matched a handover within parkedCallbackTTL.
func (s *Service) sweepParked(ctx context.Context) (int, error) {
	parked, err := s.store.ListParkedCallbacks(ctx, recoverBatch)
	if err != nil {
		return 0, fmt.Errorf("list parked callbacks: %w", err)
	}

	applied := 0
	var errs []error
	expired := s.now().Add(-parkedCallbackTTL)
	for _, cb := range parked {
		rec, err := s.store.FindByProviderMessageID(ctx, cb.ProviderMessageID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			if cb.ReceivedAt.Before(expired) {
				if _, _, err := s.store.TakeCallback(ctx, cb.ProviderMessageID); err != nil {
					errs = append(errs, err)
					continue
				}
				s.log.Warn("delivery callback for unknown message dropped",
					"providerMessageId", cb.ProviderMessageID, "outcome", cb.Outcome, "receivedAt", cb.ReceivedAt)
			}
		case err != nil:
			errs = append(errs, fmt.Errorf("find handover by message id: %w", err))
		default:
			updated, err := s.applyParked(ctx, rec)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if updated.Status != rec.Status {
				applied++
			}
		}
	}
	return applied, errors.Join(errs...)
}

func (s *Service) dropStale(rec domain.Record, err error) error {
	if errors.Is(err, domain.ErrStaleTransition) || errors.Is(err, domain.ErrInvalidTransition) {
		s.log.Info("handover update lost race", "handoverId", rec.ID, "error", err)
		return nil
	}
	return err
}

func (s *Service) fail(ctx context.Context, rec domain.Record, to domain.Status, reason string) (domain.Record, bool, error) {
	return s.failWith(ctx, rec, to, reason, domain.Patch{})
}

// failWith moves rec to a failure status and raises a needs-attention event.
func (s *Service) failWith(ctx context.Context, rec domain.Record, to domain.Status, reason string, patch domain.Patch) (domain.Record, bool, error) {
	patch.FailureReason = &reason
	if to == domain.StatusEmailFailed && patch.EmailFailedAt == nil {
		now := s.now()
		patch.EmailFailedAt = &now
	}
	updated, err := s.transition(ctx, rec, to, patch)
	if err != nil {
		return rec, true, err
	}
	s.eventBus.Publish(ctx, events.HandoverNeedsAttention{
		BaseEvent:       events.NewBaseEvent(),
		HandoverID:      updated.ID,
		ConversationRef: updated.ConversationRef,
		Status:          string(updated.Status),
		Reason:          reason,
	})
	return updated, true, nil
}

// transition validates the edge, applies it with compare-and-set against
// rec's current status and announces it.
func (s *Service) transition(ctx context.Context, rec domain.Record, to domain.Status, patch domain.Patch) (domain.Record, error) {
	from := rec.Status
	if !domain.CanTransition(from, to) {
		return rec, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}
	if patch.At.IsZero() {
		patch.At = s.now()
	}

	updated, err := s.store.Transition(ctx, rec.ID, []domain.Status{from}, to, patch)
	if err != nil {
		return rec, fmt.Errorf("transition %s -> %s: %w", from, to, err)
	}

	s.log.HandoverTransition(updated.ID.String(), updated.ConversationRef, string(from), string(to))
	s.eventBus.Publish(ctx, events.HandoverStatusChanged{
		BaseEvent:       events.NewBaseEvent(),
		HandoverID:      updated.ID,
		ConversationRef: updated.ConversationRef,
		From:            string(from),
		To:              string(to),
	})
	return updated, nil
}

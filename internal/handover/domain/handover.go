// Package domain holds the handover record, its status machine and the
// ready-for-handover event.
package domain

import (
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"

	dossier "leadpipeline_backend/internal/dossier/domain"
)

// Status of a handover record.
type Status string

const (
	StatusPending              Status = "pending"
	StatusDossierGenerating    Status = "dossier_generating"
	StatusDeliveryRetryPending Status = "delivery_retry_pending"
	StatusEmailSent            Status = "email_sent"
	StatusDossierFailed        Status = "dossier_failed"
	StatusEmailFailed          Status = "email_failed"
	StatusEmailDelivered       Status = "email_delivered"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusDossierGenerating,
	StatusDeliveryRetryPending,
	StatusEmailSent,
	StatusDossierFailed,
	StatusEmailFailed,
	StatusEmailDelivered,
}

// InFlightStatuses may hold at most one record per conversation.
var InFlightStatuses = []Status{StatusPending, StatusDossierGenerating, StatusDeliveryRetryPending}

// edges is the complete forward-only transition table.
var edges = map[Status][]Status{
	StatusPending:              {StatusDossierGenerating},
	StatusDossierGenerating:    {StatusEmailSent, StatusDossierFailed, StatusDeliveryRetryPending, StatusEmailFailed},
	StatusDeliveryRetryPending: {StatusEmailSent, StatusEmailFailed},
	StatusEmailSent:            {StatusEmailDelivered, StatusEmailFailed},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	return slices.Contains(edges[from], to)
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return slices.Contains(AllStatuses, s)
}

// InFlight reports whether the orchestrator still owns the record.
func (s Status) InFlight() bool {
	return slices.Contains(InFlightStatuses, s)
}

// Final reports whether no edge leaves s.
func (s Status) Final() bool {
	return s.Valid() && len(edges[s]) == 0
}

var (
	ErrNotFound = errors.New("handover not found")
	// ErrHandoverInFlight is returned by the store when the conversation
	// already has an in-flight record.
	ErrHandoverInFlight = errors.New("handover already in flight for conversation")
	// ErrInvalidTransition marks a transition that is not in the edge table.
	ErrInvalidTransition = errors.New("invalid handover transition")
	// ErrStaleTransition means the record left the expected status before the update.
	ErrStaleTransition = errors.New("handover status changed concurrently")
	// ErrDossierAttached means the record already carries a dossier.
	ErrDossierAttached = errors.New("handover dossier already attached")
)

// Record is the append-only audit trail of one handover.
type Record struct {
	ID                uuid.UUID        `json:"id"`
	ConversationRef   string           `json:"conversationRef"`
	Status            Status           `json:"status"`
	Dossier           *dossier.Dossier `json:"dossier,omitempty"`
	TargetInbox       string           `json:"targetInbox"`
	ProviderMessageID string           `json:"providerMessageId,omitempty"`
	DeliveryAttempts  int              `json:"deliveryAttempts"`
	FailureReason     string           `json:"failureReason,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
	EmailSentAt       *time.Time       `json:"emailSentAt,omitempty"`
	EmailDeliveredAt  *time.Time       `json:"emailDeliveredAt,omitempty"`
	EmailFailedAt     *time.Time       `json:"emailFailedAt,omitempty"`
	SLADeadline       *time.Time       `json:"slaDeadline,omitempty"`
}

// Patch carries the fields a transition sets alongside the new status.
// Nil fields are left unchanged.
type Patch struct {
	ProviderMessageID *string
	FailureReason     *string
	IncrementAttempts bool
	EmailSentAt       *time.Time
	EmailDeliveredAt  *time.Time
	EmailFailedAt     *time.Time
	At                time.Time
}

// Apply copies the patch onto r. Stores use it to keep in-memory state
// identical to what the SQL update writes.
func (p Patch) Apply(r *Record, to Status) {
	r.Status = to
	if p.ProviderMessageID != nil {
		r.ProviderMessageID = *p.ProviderMessageID
	}
	if p.FailureReason != nil {
		r.FailureReason = *p.FailureReason
	}
	if p.IncrementAttempts {
		r.DeliveryAttempts++
	}
	if p.EmailSentAt != nil {
		r.EmailSentAt = p.EmailSentAt
	}
	if p.EmailDeliveredAt != nil {
		r.EmailDeliveredAt = p.EmailDeliveredAt
	}
	if p.EmailFailedAt != nil {
		r.EmailFailedAt = p.EmailFailedAt
	}
	r.UpdatedAt = p.At
}

// CallbackOutcome is what a provider reported for an accepted message.
type CallbackOutcome string

const (
	CallbackDelivered CallbackOutcome = "delivered"
	CallbackFailed    CallbackOutcome = "failed"
)

// DeliveryCallback is a provider delivery result for one message. It is
// parked when it arrives before the send has been recorded.
type DeliveryCallback struct {
	ProviderMessageID string
	Outcome           CallbackOutcome
	Reason            string
	OccurredAt        time.Time
	ReceivedAt        time.Time
}

// ReadyForHandover is the signal that a conversation should go to a human.
type ReadyForHandover struct {
	ConversationRef string              `json:"conversationRef" validate:"required,max=200"`
	TargetInbox     string              `json:"targetInbox,omitempty" validate:"omitempty,email"`
	Transcript      []dossier.Message   `json:"transcript" validate:"max=5000,dive"`
	LeadContext     dossier.LeadContext `json:"leadContext"`
}

// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"leadpipeline_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	Subject     = events.Subject
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Feed Domain Events
// =============================================================================

// LeadIngested is published when a lead document was parsed and stored.
type LeadIngested struct {
	BaseEvent
	LeadID        uuid.UUID `json:"leadId"`
	ExternalID    string    `json:"externalId"`
	DealershipRef string    `json:"dealershipRef"`
	ParserUsed    string    `json:"parserUsed"`
	WarningCount  int       `json:"warningCount"`
}

func (e LeadIngested) EventName() string { return "feed.lead.ingested" }
func (e LeadIngested) SubjectID() string { return e.LeadID.String() }

// LeadRejected is published when a lead document could not be parsed at all.
type LeadRejected struct {
	BaseEvent
	DealershipRef     string `json:"dealershipRef"`
	Code              string `json:"code"`
	AttemptedFallback bool   `json:"attemptedFallback"`
	RawPayloadRef     string `json:"rawPayloadRef,omitempty"`
}

func (e LeadRejected) EventName() string { return "feed.lead.rejected" }
func (e LeadRejected) SubjectID() string { return e.RawPayloadRef }

// =============================================================================
// Handover Domain Events
// =============================================================================

// HandoverCreated is published when a new handover record is accepted.
type HandoverCreated struct {
	BaseEvent
	HandoverID      uuid.UUID `json:"handoverId"`
	ConversationRef string    `json:"conversationRef"`
	SLADeadline     time.Time `json:"slaDeadline"`
}

func (e HandoverCreated) EventName() string { return "handover.created" }
func (e HandoverCreated) SubjectID() string { return e.HandoverID.String() }

// HandoverStatusChanged is published after every successful status transition.
type HandoverStatusChanged struct {
	BaseEvent
	HandoverID      uuid.UUID `json:"handoverId"`
	ConversationRef string    `json:"conversationRef"`
	From            string    `json:"from"`
	To              string    `json:"to"`
}

func (e HandoverStatusChanged) EventName() string { return "handover.status_changed" }
func (e HandoverStatusChanged) SubjectID() string { return e.HandoverID.String() }

// HandoverNeedsAttention is published when automatic delivery gave up and
// a person has to follow up manually.
type HandoverNeedsAttention struct {
	BaseEvent
	HandoverID      uuid.UUID `json:"handoverId"`
	ConversationRef string    `json:"conversationRef"`
	Status          string    `json:"status"`
	Reason          string    `json:"reason"`
}

func (e HandoverNeedsAttention) EventName() string { return "handover.needs_attention" }
func (e HandoverNeedsAttention) SubjectID() string { return e.HandoverID.String() }

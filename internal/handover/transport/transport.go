package transport

import (
	"time"

	"github.com/google/uuid"

	deliveryrepo "leadpipeline_backend/internal/delivery/repository"
	dossier "leadpipeline_backend/internal/dossier/domain"
	"leadpipeline_backend/internal/handover/domain"
)

// ReadyRequest is the body of POST /handovers/ready.
type ReadyRequest struct {
	ConversationRef string              `json:"conversationRef" validate:"required,max=200"`
	TargetInbox     string              `json:"targetInbox" validate:"omitempty,email"`
	Transcript      []dossier.Message   `json:"transcript" validate:"max=5000,dive"`
	LeadContext     dossier.LeadContext `json:"leadContext"`
}

func (r ReadyRequest) Event() domain.ReadyForHandover {
	return domain.ReadyForHandover{
		ConversationRef: r.ConversationRef,
		TargetInbox:     r.TargetInbox,
		Transcript:      r.Transcript,
		LeadContext:     r.LeadContext,
	}
}

type ReadyAcceptedResponse struct {
	Status          string `json:"status"`
	ConversationRef string `json:"conversationRef"`
}

type ListRequest struct {
	Status string `form:"status" validate:"omitempty,max=40"`
	Limit  int    `form:"limit" validate:"omitempty,min=1,max=200"`
	Offset int    `form:"offset" validate:"omitempty,min=0"`
}

type HandoverResponse struct {
	ID                uuid.UUID        `json:"id"`
	ConversationRef   string           `json:"conversationRef"`
	Status            string           `json:"status"`
	TargetInbox       string           `json:"targetInbox"`
	ProviderMessageID string           `json:"providerMessageId,omitempty"`
	DeliveryAttempts  int              `json:"deliveryAttempts"`
	FailureReason     string           `json:"failureReason,omitempty"`
	SLADeadline       *time.Time       `json:"slaDeadline,omitempty"`
	EmailSentAt       *time.Time       `json:"emailSentAt,omitempty"`
	EmailDeliveredAt  *time.Time       `json:"emailDeliveredAt,omitempty"`
	EmailFailedAt     *time.Time       `json:"emailFailedAt,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
	Dossier           *dossier.Dossier `json:"dossier,omitempty"`
}

type DeliveryEventResponse struct {
	Provider   string    `json:"provider"`
	EventType  string    `json:"eventType"`
	Outcome    string    `json:"outcome"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

type HandoverDetailResponse struct {
	HandoverResponse
	DeliveryEvents []DeliveryEventResponse `json:"deliveryEvents"`
}

type HandoverListResponse struct {
	Items []HandoverResponse `json:"items"`
	Count int                `json:"count"`
}

func ToHandoverResponse(rec domain.Record) HandoverResponse {
	return HandoverResponse{
		ID:                rec.ID,
		ConversationRef:   rec.ConversationRef,
		Status:            string(rec.Status),
		TargetInbox:       rec.TargetInbox,
		ProviderMessageID: rec.ProviderMessageID,
		DeliveryAttempts:  rec.DeliveryAttempts,
		FailureReason:     rec.FailureReason,
		SLADeadline:       rec.SLADeadline,
		EmailSentAt:       rec.EmailSentAt,
		EmailDeliveredAt:  rec.EmailDeliveredAt,
		EmailFailedAt:     rec.EmailFailedAt,
		CreatedAt:         rec.CreatedAt,
		UpdatedAt:         rec.UpdatedAt,
		Dossier:           rec.Dossier,
	}
}

func ToDetailResponse(rec domain.Record, history []deliveryrepo.EventRow) HandoverDetailResponse {
	events := make([]DeliveryEventResponse, 0, len(history))
	for _, e := range history {
		events = append(events, DeliveryEventResponse{
			Provider:   e.Provider,
			EventType:  e.EventType,
			Outcome:    e.Outcome,
			Reason:     e.Reason,
			OccurredAt: e.OccurredAt,
		})
	}
	return HandoverDetailResponse{HandoverResponse: ToHandoverResponse(rec), DeliveryEvents: events}
}

func ToListResponse(records []domain.Record) HandoverListResponse {
	items := make([]HandoverResponse, 0, len(records))
	for _, rec := range records {
		items = append(items, ToHandoverResponse(rec))
	}
	return HandoverListResponse{Items: items, Count: len(items)}
}

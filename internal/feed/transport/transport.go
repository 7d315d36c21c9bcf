package transport

import (
	"time"

	"github.com/google/uuid"

	"leadpipeline_backend/internal/feed/domain"
	"leadpipeline_backend/internal/feed/repository"
)

// IngestHeaders carries the transport metadata of POST /leads/feed.
type IngestHeaders struct {
	DealershipRef  string `header:"X-Dealership-Ref" json:"dealershipRef" validate:"required,max=100"`
	SourceProvider string `header:"X-Source-Provider" json:"sourceProvider" validate:"max=100"`
}

// ListFailuresRequest filters the dead-letter list.
type ListFailuresRequest struct {
	DealershipRef string `form:"dealershipRef" json:"dealershipRef" validate:"max=100"`
	Limit         int    `form:"limit" json:"limit" validate:"omitempty,min=1,max=200"`
}

type IssueResponse struct {
	Field    string `json:"field"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Code     string `json:"code,omitempty"`
}

type IngestResponse struct {
	Status            string             `json:"status"`
	LeadID            *uuid.UUID         `json:"leadId,omitempty"`
	FailureID         *uuid.UUID         `json:"failureId,omitempty"`
	ParserUsed        string             `json:"parserUsed,omitempty"`
	Lead              *domain.ParsedLead `json:"lead,omitempty"`
	Code              string             `json:"code,omitempty"`
	AttemptedFallback bool               `json:"attemptedFallback"`
	Warnings          []IssueResponse    `json:"warnings"`
	Errors            []IssueResponse    `json:"errors"`
}

type LeadResponse struct {
	ID         uuid.UUID         `json:"id"`
	Lead       domain.ParsedLead `json:"lead"`
	ParserUsed string            `json:"parserUsed"`
	Warnings   []IssueResponse   `json:"warnings"`
	CreatedAt  time.Time         `json:"createdAt"`
}

type FailureResponse struct {
	ID                uuid.UUID       `json:"id"`
	DealershipRef     string          `json:"dealershipRef"`
	SourceProvider    string          `json:"sourceProvider"`
	Code              string          `json:"code"`
	AttemptedFallback bool            `json:"attemptedFallback"`
	Errors            []IssueResponse `json:"errors"`
	RawPayloadRef     string          `json:"rawPayloadRef,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
}

type FailureListResponse struct {
	Items []FailureResponse `json:"items"`
}

// Issues maps domain issues to the wire shape.
func Issues(items []domain.ValidationError) []IssueResponse {
	out := make([]IssueResponse, 0, len(items))
	for _, it := range items {
		out = append(out, IssueResponse{
			Field:    it.Field,
			Message:  it.Message,
			Severity: string(it.Severity),
			Code:     it.Code,
		})
	}
	return out
}

// ToIngestResponse describes a parse outcome.
func ToIngestResponse(res domain.ParseResult, leadID, failureID uuid.UUID, duplicate bool) IngestResponse {
	resp := IngestResponse{
		Code:              res.Code(),
		AttemptedFallback: res.AttemptedFallback(),
		Warnings:          Issues(res.Warnings()),
		Errors:            Issues(res.Errors()),
	}
	if lead, ok := res.Lead(); ok {
		resp.Status = "accepted"
		if duplicate {
			resp.Status = "duplicate"
		}
		resp.ParserUsed = string(res.ParserUsed())
		resp.Lead = &lead
	} else {
		resp.Status = "rejected"
	}
	if leadID != uuid.Nil {
		resp.LeadID = &leadID
	}
	if failureID != uuid.Nil {
		resp.FailureID = &failureID
	}
	return resp
}

func ToLeadResponse(s repository.StoredLead) LeadResponse {
	return LeadResponse{
		ID:         s.ID,
		Lead:       s.Lead,
		ParserUsed: string(s.ParserUsed),
		Warnings:   Issues(s.Warnings),
		CreatedAt:  s.CreatedAt,
	}
}

func ToFailureListResponse(items []repository.ParseFailure) FailureListResponse {
	out := FailureListResponse{Items: make([]FailureResponse, 0, len(items))}
	for _, f := range items {
		out.Items = append(out.Items, FailureResponse{
			ID:                f.ID,
			DealershipRef:     f.DealershipRef,
			SourceProvider:    f.SourceProvider,
			Code:              f.Code,
			AttemptedFallback: f.AttemptedFallback,
			Errors:            Issues(f.Errors),
			RawPayloadRef:     f.RawPayloadRef,
			CreatedAt:         f.CreatedAt,
		})
	}
	return out
}

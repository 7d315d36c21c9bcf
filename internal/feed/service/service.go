package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"leadpipeline_backend/internal/events"
	"leadpipeline_backend/internal/feed/domain"
	"leadpipeline_backend/platform/logger"
	"leadpipeline_backend/platform/storage"
)

// LeadParser is the parser facade.
type LeadParser interface {
	Parse(ctx context.Context, doc []byte, meta domain.DocumentMeta) domain.ParseResult
}

// LeadSink receives successfully parsed leads.
type LeadSink interface {
	StoreLead(ctx context.Context, lead domain.ParsedLead, parser domain.ParserUsed, warnings []domain.Warning) (uuid.UUID, error)
}

// DeadLetterSink receives documents that could not be parsed.
type DeadLetterSink interface {
	StoreFailure(ctx context.Context, meta domain.DocumentMeta, result domain.ParseResult) (uuid.UUID, error)
}

// Outcome summarizes one ingestion.
type Outcome struct {
	Result    domain.ParseResult
	LeadID    uuid.UUID
	FailureID uuid.UUID
	Duplicate bool
}

// Service ingests raw lead documents.
type Service struct {
	parser     LeadParser
	leads      LeadSink
	deadLetter DeadLetterSink
	eventBus   events.Bus
	archive    storage.ObjectStore
	bucket     string
	log        *logger.Logger
}

// New creates a new feed ingestion service. archive may be nil when object storage is disabled.
func New(parser LeadParser, leads LeadSink, deadLetter DeadLetterSink, eventBus events.Bus, archive storage.ObjectStore, bucket string, log *logger.Logger) *Service {
	return &Service{
		parser:     parser,
		leads:      leads,
		deadLetter: deadLetter,
		eventBus:   eventBus,
		archive:    archive,
		bucket:     bucket,
		log:        log,
	}
}

// Ingest archives, parses and stores one document. The returned error is only
// non-nil when a sink could not persist the outcome; parse failures are
// reported through Outcome.Result.
func (s *Service) Ingest(ctx context.Context, raw domain.RawDocument) (Outcome, error) {
	meta := raw.Meta
	meta.DealershipRef = strings.TrimSpace(meta.DealershipRef)
	meta.SourceProvider = strings.TrimSpace(meta.SourceProvider)
	if meta.RawPayloadRef == "" {
		meta.RawPayloadRef = s.archiveRaw(ctx, raw.Body, meta)
	}

	result := s.parser.Parse(ctx, raw.Body, meta)
	out := Outcome{Result: result}

	lead, ok := result.Lead()
	if !ok {
		id, err := s.deadLetter.StoreFailure(ctx, meta, result)
		if err != nil {
			return out, fmt.Errorf("store parse failure: %w", err)
		}
		out.FailureID = id
		s.eventBus.Publish(ctx, events.LeadRejected{
			BaseEvent:         events.NewBaseEvent(),
			DealershipRef:     meta.DealershipRef,
			Code:              result.Code(),
			AttemptedFallback: result.AttemptedFallback(),
			RawPayloadRef:     meta.RawPayloadRef,
		})
		return out, nil
	}

	id, err := s.leads.StoreLead(ctx, lead, result.ParserUsed(), result.Warnings())
	if errors.Is(err, domain.ErrDuplicateLead) {
		s.log.Info("duplicate lead ignored", "externalId", lead.ExternalID, "dealershipRef", lead.DealershipRef)
		out.Duplicate = true
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("store lead: %w", err)
	}
	out.LeadID = id

	s.eventBus.Publish(ctx, events.LeadIngested{
		BaseEvent:     events.NewBaseEvent(),
		LeadID:        id,
		ExternalID:    lead.ExternalID,
		DealershipRef: lead.DealershipRef,
		ParserUsed:    string(result.ParserUsed()),
		WarningCount:  len(result.Warnings()),
	})
	return out, nil
}

func (s *Service) archiveRaw(ctx context.Context, body []byte, meta domain.DocumentMeta) string {
	if s.archive == nil || s.bucket == "" {
		return ""
	}
	folder := meta.DealershipRef
	if folder == "" {
		folder = "unknown"
	}
	key, err := s.archive.Put(ctx, s.bucket, folder, "lead.xml", "application/xml", body)
	if err != nil {
		s.log.Warn("raw lead archive failed", "error", err, "dealershipRef", meta.DealershipRef)
		return ""
	}
	return key
}

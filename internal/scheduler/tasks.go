package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	feeddomain "leadpipeline_backend/internal/feed/domain"
	handoverdomain "leadpipeline_backend/internal/handover/domain"
)

const TaskIngestLead = "leads.ingest"

const TaskHandoverReady = "handover.ready"

const TaskDeliveryRetry = "handover.delivery_retry"

const TaskDeliveryStatus = "delivery.status"

type IngestLeadPayload struct {
	Body           []byte `json:"body"`
	DealershipRef  string `json:"dealershipRef"`
	SourceProvider string `json:"sourceProvider,omitempty"`
	RawPayloadRef  string `json:"rawPayloadRef,omitempty"`
}

type HandoverReadyPayload = handoverdomain.ReadyForHandover

type DeliveryRetryPayload struct {
	HandoverID string `json:"handoverId"`
}

type DeliveryStatusPayload struct {
	Provider string `json:"provider"`
	Body     []byte `json:"body"`
}

func ingestPayloadFrom(raw feeddomain.RawDocument) IngestLeadPayload {
	return IngestLeadPayload{
		Body:           raw.Body,
		DealershipRef:  raw.Meta.DealershipRef,
		SourceProvider: raw.Meta.SourceProvider,
		RawPayloadRef:  raw.Meta.RawPayloadRef,
	}
}

func (p IngestLeadPayload) document() feeddomain.RawDocument {
	return feeddomain.RawDocument{
		Body: p.Body,
		Meta: feeddomain.DocumentMeta{
			DealershipRef:  p.DealershipRef,
			SourceProvider: p.SourceProvider,
			RawPayloadRef:  p.RawPayloadRef,
		},
	}
}

func newTask[T any](name string, payload T) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(name, data), nil
}

func parsePayload[T any](task *asynq.Task) (T, error) {
	var payload T
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, err
	}
	return payload, nil
}

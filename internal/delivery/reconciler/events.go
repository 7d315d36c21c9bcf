package reconciler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"leadpipeline_backend/internal/delivery/domain"
)

var sendGridKinds = map[string]domain.EventKind{
	"delivered": domain.EventDelivered,
	"bounce":    domain.EventFailed,
	"dropped":   domain.EventFailed,
	"blocked":   domain.EventFailed,
	"deferred":  domain.EventIgnored,
	"processed": domain.EventIgnored,
	"open":      domain.EventIgnored,
	"click":     domain.EventIgnored,
}

var brevoKinds = map[string]domain.EventKind{
	"delivered":     domain.EventDelivered,
	"hard_bounce":   domain.EventFailed,
	"soft_bounce":   domain.EventFailed,
	"blocked":       domain.EventFailed,
	"invalid_email": domain.EventFailed,
	"error":         domain.EventFailed,
}

type sendGridEvent struct {
	Event       string `json:"event"`
	SGMessageID string `json:"sg_message_id"`
	Timestamp   int64  `json:"timestamp"`
	Reason      string `json:"reason"`
	Response    string `json:"response"`
	Type        string `json:"type"`
}

type brevoEvent struct {
	Event     string `json:"event"`
	MessageID string `json:"message-id"`
	TSEvent   int64  `json:"ts_event"`
	Reason    string `json:"reason"`
}

// ParseEvents decodes a provider callback body into normalized events.
// Unknown event types map to EventIgnored.
func ParseEvents(provider string, body []byte) ([]domain.StatusEvent, error) {
	switch strings.ToLower(provider) {
	case "sendgrid":
		items, err := decodeList[sendGridEvent](body)
		if err != nil {
			return nil, err
		}
		out := make([]domain.StatusEvent, 0, len(items))
		for _, it := range items {
			reason := it.Reason
			if reason == "" {
				reason = it.Response
			}
			out = append(out, domain.StatusEvent{
				Provider:          "sendgrid",
				ProviderMessageID: SendGridMessageID(it.SGMessageID),
				EventType:         it.Event,
				Kind:              kindOf(sendGridKinds, it.Event),
				Reason:            reason,
				OccurredAt:        unixOrZero(it.Timestamp),
			})
		}
		return out, nil
	case "brevo":
		items, err := decodeList[brevoEvent](body)
		if err != nil {
			return nil, err
		}
		out := make([]domain.StatusEvent, 0, len(items))
		for _, it := range items {
			out = append(out, domain.StatusEvent{
				Provider:          "brevo",
				ProviderMessageID: strings.TrimSpace(it.MessageID),
				EventType:         it.Event,
				Kind:              kindOf(brevoKinds, it.Event),
				Reason:            it.Reason,
				OccurredAt:        unixOrZero(it.TSEvent),
			})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownProvider, provider)
	}
}

// SendGridMessageID strips the filter suffix SendGrid appends to
// sg_message_id, leaving the X-Message-Id returned at send time.
func SendGridMessageID(id string) string {
	id = strings.TrimSpace(id)
	if i := strings.IndexByte(id, '.'); i >= 0 {
		return id[:i]
	}
	return id
}

func kindOf(vocab map[string]domain.EventKind, event string) domain.EventKind {
	if k, ok := vocab[strings.ToLower(strings.TrimSpace(event))]; ok {
		return k
	}
	return domain.EventIgnored
}

func unixOrZero(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// decodeList accepts either a JSON array or a single object.
func decodeList[T any](body []byte) ([]T, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty callback body")
	}
	if trimmed[0] == '{' {
		var one T
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil, fmt.Errorf("decode callback: %w", err)
		}
		return []T{one}, nil
	}
	var many []T
	if err := json.Unmarshal(trimmed, &many); err != nil {
		return nil, fmt.Errorf("decode callback: %w", err)
	}
	return many, nil
}

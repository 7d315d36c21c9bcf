// Package domain holds delivery types shared by the gateway, the providers and
// the status reconciler.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// Email is a rendered message ready for a provider.
type Email struct {
	To        string
	Subject   string
	HTML      string
	Text      string
	Reference string // correlation id echoed by providers that support custom args
}

// Status of a send attempt.
type Status string

const (
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Outcome is the result of one send attempt.
type Outcome struct {
	Status            Status `json:"status"`
	ProviderMessageID string `json:"providerMessageId,omitempty"`
	Provider          string `json:"provider"`
	Reason            string `json:"reason,omitempty"`
}

// Accepted reports whether the provider took the message.
func (o Outcome) Accepted() bool { return o.Status == StatusAccepted }

// RejectedError is returned when the provider refused or failed the send.
type RejectedError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("delivery rejected by %s: %s", e.Provider, e.Reason)
}

func (e *RejectedError) Unwrap() error { return e.Err }

// ErrWebhookSignature is returned for callbacks that fail verification.
var ErrWebhookSignature = errors.New("webhook signature verification failed")

// ErrUnknownProvider is returned for callbacks from an unsupported provider.
var ErrUnknownProvider = errors.New("unknown delivery provider")

// EventKind is a provider-neutral delivery status.
type EventKind string

const (
	EventDelivered EventKind = "delivered"
	EventFailed    EventKind = "failed"
	EventIgnored   EventKind = "ignored"
)

// StatusEvent is one normalized provider callback entry.
type StatusEvent struct {
	Provider          string
	ProviderMessageID string
	EventType         string // provider vocabulary, e.g. "bounce"
	Kind              EventKind
	Reason            string
	OccurredAt        time.Time
}

// DedupeKey identifies a callback entry across retries from the provider.
func (e StatusEvent) DedupeKey() string {
	return e.Provider + ":" + e.ProviderMessageID + ":" + e.EventType
}

// SignedPayload is a raw callback with its signature headers.
type SignedPayload struct {
	Provider  string
	Body      []byte
	Signature string
	Timestamp string
}

// Package domain holds the handover dossier model and its input types.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Urgency ranks how quickly a human should pick up a handover.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// Valid reports whether u is one of the known levels.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh:
		return true
	}
	return false
}

// Source tells whether a dossier came from the text generator or the fallback.
type Source string

const (
	SourceAI       Source = "ai"
	SourceFallback Source = "fallback"
)

// ErrInvalidDossier is returned by Validate.
var ErrInvalidDossier = errors.New("invalid dossier")

// ErrDossierTimeout marks a text generation that ran past its deadline.
// It is only logged; the caller receives the fallback dossier.
var ErrDossierTimeout = errors.New("dossier generation timed out")

type Contact struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type Insight struct {
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

type VehicleInterest struct {
	Make       string  `json:"make,omitempty"`
	Model      string  `json:"model,omitempty"`
	Year       int     `json:"year,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Label renders "2024 Honda Civic", skipping empty parts.
func (v VehicleInterest) Label() string {
	parts := make([]string, 0, 3)
	if v.Year > 0 {
		parts = append(parts, fmt.Sprint(v.Year))
	}
	if v.Make != "" {
		parts = append(parts, v.Make)
	}
	if v.Model != "" {
		parts = append(parts, v.Model)
	}
	return strings.Join(parts, " ")
}

// Dossier is the structured summary handed to a salesperson. It is produced
// once per handover and never modified afterwards.
type Dossier struct {
	CustomerName        string            `json:"customerName"`
	CustomerContact     Contact           `json:"customerContact"`
	ConversationSummary string            `json:"conversationSummary"`
	CustomerInsights    []Insight         `json:"customerInsights"`
	VehicleInterests    []VehicleInterest `json:"vehicleInterests"`
	SuggestedApproach   string            `json:"suggestedApproach"`
	Urgency             Urgency           `json:"urgency"`
	LeadScore           int               `json:"leadScore"`
	SLADeadline         time.Time         `json:"slaDeadline"`
	GeneratedAt         time.Time         `json:"generatedAt"`
	Source              Source            `json:"source"`
}

// Validate checks the invariants every stored dossier must hold.
func (d Dossier) Validate() error {
	switch {
	case strings.TrimSpace(d.CustomerName) == "":
		return fmt.Errorf("%w: customer name is empty", ErrInvalidDossier)
	case strings.TrimSpace(d.ConversationSummary) == "":
		return fmt.Errorf("%w: summary is empty", ErrInvalidDossier)
	case !d.Urgency.Valid():
		return fmt.Errorf("%w: urgency %q", ErrInvalidDossier, d.Urgency)
	case d.LeadScore < 0 || d.LeadScore > 100:
		return fmt.Errorf("%w: lead score %d out of range", ErrInvalidDossier, d.LeadScore)
	case d.GeneratedAt.IsZero():
		return fmt.Errorf("%w: generatedAt not set", ErrInvalidDossier)
	}
	for _, in := range d.CustomerInsights {
		if !validConfidence(in.Confidence) {
			return fmt.Errorf("%w: insight %q confidence %v", ErrInvalidDossier, in.Key, in.Confidence)
		}
	}
	for _, v := range d.VehicleInterests {
		if !validConfidence(v.Confidence) {
			return fmt.Errorf("%w: vehicle %q confidence %v", ErrInvalidDossier, v.Label(), v.Confidence)
		}
	}
	return nil
}

func validConfidence(c float64) bool {
	return c >= 0 && c <= 1
}

// Role of a transcript message author.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAgent    Role = "agent"
	RoleSystem   Role = "system"
)

// Message is one turn of the conversation being handed over.
type Message struct {
	Role   Role      `json:"role" validate:"required,oneof=customer agent system"`
	Text   string    `json:"text" validate:"max=20000"`
	SentAt time.Time `json:"sentAt,omitempty"`
}

// IsCustomer reports whether the customer wrote the message.
func (m Message) IsCustomer() bool {
	return strings.EqualFold(string(m.Role), string(RoleCustomer))
}

// LeadContext is the structured data already known about the customer.
type LeadContext struct {
	CustomerName  string           `json:"customerName" validate:"max=200"`
	Email         string           `json:"email,omitempty" validate:"omitempty,email"`
	Phone         string           `json:"phone,omitempty" validate:"max=40"`
	DealershipRef string           `json:"dealershipRef,omitempty" validate:"max=100"`
	Vehicle       *VehicleInterest `json:"vehicle,omitempty"`
}

package generator

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"leadpipeline_backend/internal/dossier/domain"
	"leadpipeline_backend/platform/sanitize"
)

const (
	// DefaultHighUrgencyMessages is the message count above which a conversation is high urgency.
	DefaultHighUrgencyMessages = 20

	unknownCustomer   = "Unknown customer"
	summaryQuoteRunes = 200
)

var escalationWords = regexp.MustCompile(`(?i)\b(human|manager)\b`)

var suggestedApproaches = map[domain.Urgency]string{
	domain.UrgencyHigh: "Reach out right away, by phone if a number is known. " +
		"The customer asked for a person or has been talking for a long time, so open by confirming you have read the conversation.",
	domain.UrgencyMedium: "Follow up within the hour with a personal message. " +
		"Confirm the customer's interest and offer a test drive or a call at a time that suits them.",
	domain.UrgencyLow: "Send a friendly follow-up today and keep the customer informed about offers that match their interest.",
}

// UrgencyFor derives urgency from the transcript: high when the conversation is
// longer than highMessages or a customer asked for a human or a manager.
func UrgencyFor(transcript []domain.Message, highMessages int) domain.Urgency {
	if highMessages <= 0 {
		highMessages = DefaultHighUrgencyMessages
	}
	if len(transcript) > highMessages {
		return domain.UrgencyHigh
	}
	for _, m := range transcript {
		if m.IsCustomer() && escalationWords.MatchString(m.Text) {
			return domain.UrgencyHigh
		}
	}
	return domain.UrgencyMedium
}

// LeadScore scores a lead 0-100 from urgency, contact completeness and vehicle interest.
func LeadScore(urgency domain.Urgency, lead domain.LeadContext) int {
	score := map[domain.Urgency]int{
		domain.UrgencyHigh:   60,
		domain.UrgencyMedium: 40,
		domain.UrgencyLow:    20,
	}[urgency]
	if lead.Email != "" {
		score += 10
	}
	if lead.Phone != "" {
		score += 15
	}
	if lead.Vehicle != nil && lead.Vehicle.Label() != "" {
		score += 15
	}
	return min(score, 100)
}

// Fallback builds a dossier from structured inputs only. The same inputs and
// clock value always give the same dossier.
func Fallback(transcript []domain.Message, lead domain.LeadContext, highMessages int, now time.Time) domain.Dossier {
	urgency := UrgencyFor(transcript, highMessages)

	return domain.Dossier{
		CustomerName:        customerName(lead),
		CustomerContact:     domain.Contact{Email: lead.Email, Phone: lead.Phone},
		ConversationSummary: fallbackSummary(transcript),
		CustomerInsights:    fallbackInsights(lead),
		VehicleInterests:    leadVehicles(lead),
		SuggestedApproach:   suggestedApproaches[urgency],
		Urgency:             urgency,
		LeadScore:           LeadScore(urgency, lead),
		GeneratedAt:         now.UTC(),
		Source:              domain.SourceFallback,
	}
}

func customerName(lead domain.LeadContext) string {
	if name := sanitize.Text(lead.CustomerName); name != "" {
		return name
	}
	return unknownCustomer
}

func leadVehicles(lead domain.LeadContext) []domain.VehicleInterest {
	if lead.Vehicle == nil || lead.Vehicle.Label() == "" {
		return []domain.VehicleInterest{}
	}
	v := *lead.Vehicle
	v.Confidence = 1.0
	return []domain.VehicleInterest{v}
}

func fallbackInsights(lead domain.LeadContext) []domain.Insight {
	channels := make([]string, 0, 2)
	if lead.Phone != "" {
		channels = append(channels, "phone")
	}
	if lead.Email != "" {
		channels = append(channels, "email")
	}
	if len(channels) == 0 {
		return []domain.Insight{}
	}
	return []domain.Insight{{Key: "contactChannels", Value: strings.Join(channels, ", "), Confidence: 1.0}}
}

func fallbackSummary(transcript []domain.Message) string {
	customer := 0
	last := ""
	for _, m := range transcript {
		if !m.IsCustomer() {
			continue
		}
		customer++
		if text := sanitize.Text(m.Text); text != "" {
			last = text
		}
	}

	summary := fmt.Sprintf("Conversation with %d messages, %d from the customer.", len(transcript), customer)
	if last != "" {
		summary += fmt.Sprintf(" Last customer message: %q", sanitize.Truncate(last, summaryQuoteRunes))
	}
	return summary
}

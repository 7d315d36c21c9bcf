package generator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"leadpipeline_backend/internal/dossier/domain"
	"leadpipeline_backend/platform/sanitize"
)

const messageRunes = 1000

var errEmptyOutput = errors.New("text generator returned no output")

// SystemPrompt is the instruction given to the text generator.
const SystemPrompt = `You prepare sales handover dossiers for car dealership staff.
Read the conversation between a customer and an automated assistant and answer with one JSON object only, no prose, no code fences.
Schema:
{
  "conversationSummary": string,
  "customerInsights": [{"key": string, "value": string, "confidence": number between 0 and 1}],
  "vehicleInterests": [{"make": string, "model": string, "year": number, "confidence": number between 0 and 1}],
  "suggestedApproach": string,
  "urgency": "low" | "medium" | "high",
  "leadScore": integer between 0 and 100
}
Do not repeat the customer's email address or phone number.`

// BuildPrompt renders lead context and the transcript window.
func BuildPrompt(w Window, lead domain.LeadContext) string {
	var b strings.Builder

	b.WriteString("Lead context:\n")
	fmt.Fprintf(&b, "- Customer: %s\n", customerName(lead))
	if lead.DealershipRef != "" {
		fmt.Fprintf(&b, "- Dealership: %s\n", lead.DealershipRef)
	}
	if lead.Vehicle != nil && lead.Vehicle.Label() != "" {
		fmt.Fprintf(&b, "- Vehicle of interest: %s\n", lead.Vehicle.Label())
	}

	b.WriteString("\nConversation:\n")
	for i, m := range w.Messages {
		pos := w.Positions[i]
		if w.Omitted > 0 && i == windowHead {
			fmt.Fprintf(&b, "... %d messages omitted ...\n", w.Omitted)
		}
		fmt.Fprintf(&b, "[%d] %s: %s\n", pos, m.Role, sanitize.Truncate(sanitize.Text(m.Text), messageRunes))
	}
	return b.String()
}

type modelOutput struct {
	ConversationSummary string                   `json:"conversationSummary"`
	CustomerInsights    []domain.Insight         `json:"customerInsights"`
	VehicleInterests    []domain.VehicleInterest `json:"vehicleInterests"`
	SuggestedApproach   string                   `json:"suggestedApproach"`
	Urgency             domain.Urgency           `json:"urgency"`
	LeadScore           int                      `json:"leadScore"`
}

// ParseOutput turns generator text into a dossier. Contact fields always come
// from the lead context, never from the model.
func ParseOutput(raw string, lead domain.LeadContext) (domain.Dossier, error) {
	text := stripFences(raw)
	if text == "" {
		return domain.Dossier{}, errEmptyOutput
	}

	var out modelOutput
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return domain.Dossier{}, fmt.Errorf("decode generator output: %w", err)
	}

	d := domain.Dossier{
		CustomerName:        customerName(lead),
		CustomerContact:     domain.Contact{Email: lead.Email, Phone: lead.Phone},
		ConversationSummary: sanitize.Text(out.ConversationSummary),
		CustomerInsights:    nonNil(out.CustomerInsights),
		VehicleInterests:    mergeVehicles(leadVehicles(lead), out.VehicleInterests),
		SuggestedApproach:   sanitize.Text(out.SuggestedApproach),
		Urgency:             domain.Urgency(strings.ToLower(string(out.Urgency))),
		LeadScore:           out.LeadScore,
		Source:              domain.SourceAI,
	}
	if d.SuggestedApproach == "" {
		d.SuggestedApproach = suggestedApproaches[d.Urgency]
	}
	return d, nil
}

func stripFences(raw string) string {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	return strings.TrimSpace(text)
}

func mergeVehicles(known, suggested []domain.VehicleInterest) []domain.VehicleInterest {
	out := append([]domain.VehicleInterest{}, known...)
	for _, v := range suggested {
		if v.Label() == "" {
			continue
		}
		dup := false
		for _, k := range known {
			if strings.EqualFold(k.Label(), v.Label()) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	return out
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

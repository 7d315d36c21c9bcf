package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadpipeline_backend/internal/dossier/domain"
	"leadpipeline_backend/platform/logger"
	"leadpipeline_backend/platform/metrics"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type textFunc func(ctx context.Context, system, prompt string) (string, error)

func (f textFunc) Generate(ctx context.Context, system, prompt string) (string, error) {
	return f(ctx, system, prompt)
}

func transcript(n int) []domain.Message {
	msgs := make([]domain.Message, n)
	for i := range msgs {
		role := domain.RoleAgent
		if i%2 == 0 {
			role = domain.RoleCustomer
		}
		msgs[i] = domain.Message{Role: role, Text: fmt.Sprintf("message %d", i+1)}
	}
	return msgs
}

func lead() domain.LeadContext {
	return domain.LeadContext{
		CustomerName: "Jane Doe",
		Email:        "jane@example.com",
		Phone:        "+16502530000",
		Vehicle:      &domain.VehicleInterest{Make: "Honda", Model: "Civic", Year: 2024},
	}
}

func newGenerator(text TextGenerator) *Generator {
	return New(text, Config{Timeout: time.Second}, metrics.Noop(), logger.Discard(),
		WithClock(func() time.Time { return fixedNow }))
}

func TestPromptWindowKeepsHeadAndTail(t *testing.T) {
	w := PromptWindow(transcript(300))

	require.Len(t, w.Messages, 200)
	assert.Equal(t, 100, w.Omitted)
	assert.Equal(t, 1, w.Positions[0])
	assert.Equal(t, 50, w.Positions[49])
	assert.Equal(t, 151, w.Positions[50])
	assert.Equal(t, 300, w.Positions[199])
	assert.Equal(t, "message 151", w.Messages[50].Text)
}

func TestPromptWindowKeepsShortTranscripts(t *testing.T) {
	w := PromptWindow(transcript(200))
	assert.Len(t, w.Messages, 200)
	assert.Zero(t, w.Omitted)
}

func TestPromptContainsOnlyWindowedMessages(t *testing.T) {
	var seen string
	gen := newGenerator(textFunc(func(_ context.Context, _, prompt string) (string, error) {
		seen = prompt
		return "", errors.New("unavailable")
	}))

	gen.Generate(context.Background(), transcript(300), lead(), 0)

	assert.Contains(t, seen, "[1] customer: message 1\n")
	assert.Contains(t, seen, "[50] agent: message 50\n")
	assert.Contains(t, seen, "... 100 messages omitted ...")
	assert.Contains(t, seen, "[151] customer: message 151\n")
	assert.Contains(t, seen, "[300] agent: message 300\n")
	assert.NotContains(t, seen, "message 51\n")
	assert.NotContains(t, seen, "message 150\n")
}

func TestGenerateFallsBackDeterministicallyOnTimeout(t *testing.T) {
	slow := textFunc(func(ctx context.Context, _, _ string) (string, error) {
		select {
		case <-time.After(5 * time.Second):
			return `{"conversationSummary":"late","urgency":"low","leadScore":10}`, nil
		case <-ctx.Done():
			return `{"conversationSummary":"partial`, ctx.Err()
		}
	})
	gen := newGenerator(slow)

	first := gen.Generate(context.Background(), transcript(4), lead(), 20*time.Millisecond)
	second := gen.Generate(context.Background(), transcript(4), lead(), 20*time.Millisecond)

	assert.Equal(t, domain.SourceFallback, first.Source)
	assert.Equal(t, first, second)
	assert.Equal(t, domain.UrgencyMedium, first.Urgency)
	assert.Equal(t, suggestedApproaches[domain.UrgencyMedium], first.SuggestedApproach)
	assert.True(t, first.GeneratedAt.Equal(fixedNow))
}

func TestGenerateIgnoresGeneratorThatIgnoresContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	stuck := textFunc(func(context.Context, string, string) (string, error) {
		<-block
		return "", nil
	})

	start := time.Now()
	d := newGenerator(stuck).Generate(context.Background(), transcript(2), lead(), 20*time.Millisecond)

	assert.Equal(t, domain.SourceFallback, d.Source)
	assert.Less(t, time.Since(start), time.Second)
}

func TestGenerateUsesModelOutput(t *testing.T) {
	out := "```json\n" + `{
		"conversationSummary": "Wants a hybrid Civic, trading in a 2015 Accord.",
		"customerInsights": [{"key": "tradeIn", "value": "2015 Accord", "confidence": 0.8}],
		"vehicleInterests": [{"make": "Honda", "model": "Civic", "year": 2024, "confidence": 0.9},
			{"make": "Toyota", "model": "Prius", "confidence": 0.4}],
		"suggestedApproach": "Offer a trade-in appraisal.",
		"urgency": "HIGH",
		"leadScore": 85
	}` + "\n```"
	gen := newGenerator(textFunc(func(context.Context, string, string) (string, error) { return out, nil }))

	d := gen.Generate(context.Background(), transcript(4), lead(), 0)

	require.Equal(t, domain.SourceAI, d.Source)
	assert.Equal(t, domain.UrgencyHigh, d.Urgency)
	assert.Equal(t, 85, d.LeadScore)
	assert.Equal(t, "Jane Doe", d.CustomerName)
	assert.Equal(t, "jane@example.com", d.CustomerContact.Email)
	require.Len(t, d.VehicleInterests, 2)
	assert.Equal(t, 1.0, d.VehicleInterests[0].Confidence)
	assert.Equal(t, "Prius", d.VehicleInterests[1].Model)
}

func TestGenerateRejectsInvalidModelOutput(t *testing.T) {
	cases := map[string]string{
		"not json":           "Sure! Here is the dossier.",
		"bad urgency":        `{"conversationSummary":"x","urgency":"urgent","leadScore":50}`,
		"score out of range": `{"conversationSummary":"x","urgency":"low","leadScore":140}`,
		"bad confidence":     `{"conversationSummary":"x","urgency":"low","leadScore":5,"customerInsights":[{"key":"k","value":"v","confidence":3}]}`,
		"empty summary":      `{"conversationSummary":"  ","urgency":"low","leadScore":5}`,
	}
	for name, out := range cases {
		t.Run(name, func(t *testing.T) {
			gen := newGenerator(textFunc(func(context.Context, string, string) (string, error) { return out, nil }))
			d := gen.Generate(context.Background(), transcript(2), lead(), 0)
			assert.Equal(t, domain.SourceFallback, d.Source)
			assert.NoError(t, d.Validate())
		})
	}
}

func TestGenerateWithoutTextGenerator(t *testing.T) {
	d := newGenerator(nil).Generate(context.Background(), nil, domain.LeadContext{}, 0)
	assert.Equal(t, domain.SourceFallback, d.Source)
	assert.Equal(t, unknownCustomer, d.CustomerName)
	assert.NoError(t, d.Validate())
}

func TestUrgencyFor(t *testing.T) {
	assert.Equal(t, domain.UrgencyHigh, UrgencyFor(transcript(21), 20))
	assert.Equal(t, domain.UrgencyMedium, UrgencyFor(transcript(20), 20))

	ask := []domain.Message{{Role: domain.RoleCustomer, Text: "Can I talk to a HUMAN please?"}}
	assert.Equal(t, domain.UrgencyHigh, UrgencyFor(ask, 20))

	mgr := []domain.Message{{Role: domain.RoleCustomer, Text: "get me your manager."}}
	assert.Equal(t, domain.UrgencyHigh, UrgencyFor(mgr, 20))

	agentSays := []domain.Message{{Role: domain.RoleAgent, Text: "A human will reach out."}}
	assert.Equal(t, domain.UrgencyMedium, UrgencyFor(agentSays, 20))

	partial := []domain.Message{{Role: domain.RoleCustomer, Text: "humanitarian discounts? management fees?"}}
	assert.Equal(t, domain.UrgencyMedium, UrgencyFor(partial, 20))
}

func TestFallbackSummaryQuotesLastCustomerMessage(t *testing.T) {
	msgs := []domain.Message{
		{Role: domain.RoleCustomer, Text: "Hi"},
		{Role: domain.RoleAgent, Text: "Hello!"},
		{Role: domain.RoleCustomer, Text: "Is the <b>Civic</b> still available?"},
	}
	d := Fallback(msgs, lead(), 20, fixedNow)

	assert.True(t, strings.HasPrefix(d.ConversationSummary, "Conversation with 3 messages, 2 from the customer."))
	assert.Contains(t, d.ConversationSummary, `"Is the Civic still available?"`)
	assert.Equal(t, 80, d.LeadScore)
}

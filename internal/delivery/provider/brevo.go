package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"leadpipeline_backend/internal/delivery/domain"
)

const brevoURL = "https://api.brevo.com/v3/smtp/email"

// Brevo sends through the Brevo transactional email API.
type Brevo struct {
	apiKey  string
	from    Sender
	baseURL string
	client  *http.Client
}

func NewBrevo(apiKey string, from Sender) *Brevo {
	return &Brevo{
		apiKey:  apiKey,
		from:    from,
		baseURL: brevoURL,
		client:  &http.Client{Timeout: defaultHTTPTimeout},
	}
}

func (b *Brevo) Name() string { return "brevo" }

type brevoAddress struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type brevoEmailRequest struct {
	Sender      brevoAddress      `json:"sender"`
	To          []brevoAddress    `json:"to"`
	Subject     string            `json:"subject"`
	HTMLContent string            `json:"htmlContent"`
	TextContent string            `json:"textContent,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
}

type brevoEmailResponse struct {
	MessageID string `json:"messageId"`
}

// Send posts the message and returns Brevo's messageId.
func (b *Brevo) Send(ctx context.Context, email domain.Email) (string, error) {
	payload := brevoEmailRequest{
		Sender:      brevoAddress{Name: b.from.Name, Email: b.from.Address},
		To:          []brevoAddress{{Email: email.To}},
		Subject:     email.Subject,
		HTMLContent: email.HTML,
		TextContent: email.Text,
		Tags:        []string{"handover"},
	}
	if email.Reference != "" {
		payload.Headers = map[string]string{"X-Handover-Reference": email.Reference}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("api-key", b.apiKey)
	req.Header.Set("content-type", "application/json")
	req.Header.Set("accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError("brevo", resp)
	}

	var out brevoEmailResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.MessageID == "" {
		return "", errors.New("brevo send: response has no messageId")
	}
	return out.MessageID, nil
}

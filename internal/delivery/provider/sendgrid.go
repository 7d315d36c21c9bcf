package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"leadpipeline_backend/internal/delivery/domain"
)

const sendGridURL = "https://api.sendgrid.com/v3/mail/send"

// SendGrid sends through the SendGrid v3 mail API.
type SendGrid struct {
	apiKey  string
	from    Sender
	baseURL string
	client  *http.Client
}

func NewSendGrid(apiKey string, from Sender) *SendGrid {
	return &SendGrid{
		apiKey:  apiKey,
		from:    from,
		baseURL: sendGridURL,
		client:  &http.Client{Timeout: defaultHTTPTimeout},
	}
}

func (s *SendGrid) Name() string { return "sendgrid" }

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridPersonalization struct {
	To         []sendGridAddress `json:"to"`
	CustomArgs map[string]string `json:"custom_args,omitempty"`
}

type sendGridRequest struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
	Categories       []string                  `json:"categories,omitempty"`
}

// Send posts the message. SendGrid answers 202 with the id in X-Message-Id.
func (s *SendGrid) Send(ctx context.Context, email domain.Email) (string, error) {
	p := sendGridPersonalization{To: []sendGridAddress{{Email: email.To}}}
	if email.Reference != "" {
		p.CustomArgs = map[string]string{"reference": email.Reference}
	}
	payload := sendGridRequest{
		Personalizations: []sendGridPersonalization{p},
		From:             sendGridAddress{Email: s.from.Address, Name: s.from.Name},
		Subject:          email.Subject,
		Categories:       []string{"handover"},
	}
	// text/plain must precede text/html.
	if email.Text != "" {
		payload.Content = append(payload.Content, sendGridContent{Type: "text/plain", Value: email.Text})
	}
	payload.Content = append(payload.Content, sendGridContent{Type: "text/html", Value: email.HTML})

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError("sendgrid", resp)
	}
	id := resp.Header.Get("X-Message-Id")
	if id == "" {
		return "", errors.New("sendgrid send: response has no X-Message-Id")
	}
	return id, nil
}


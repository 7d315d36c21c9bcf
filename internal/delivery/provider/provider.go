// Package provider holds the email provider clients the delivery gateway sends through.
package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"leadpipeline_backend/internal/delivery/domain"
	"leadpipeline_backend/platform/config"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	maxErrorBody       = 2048
)

// Provider sends one email and returns the provider's message id.
type Provider interface {
	Name() string
	Send(ctx context.Context, email domain.Email) (string, error)
}

// Sender identifies the From header.
type Sender struct {
	Name    string
	Address string
}

// New picks the provider named by EMAIL_PROVIDER.
func New(cfg config.EmailConfig) (Provider, error) {
	from := Sender{Name: cfg.GetEmailFromName(), Address: cfg.GetEmailFromAddress()}
	switch strings.ToLower(cfg.GetEmailProvider()) {
	case "", "noop":
		return Noop{}, nil
	case "sendgrid":
		return NewSendGrid(cfg.GetSendGridAPIKey(), from), nil
	case "brevo":
		return NewBrevo(cfg.GetBrevoAPIKey(), from), nil
	case "smtp":
		return NewSMTP(SMTPConfig{
			Host:     cfg.GetSMTPHost(),
			Port:     cfg.GetSMTPPort(),
			Username: cfg.GetSMTPUsername(),
			Password: cfg.GetSMTPPassword(),
		}, from), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.GetEmailProvider())
	}
}

func statusError(provider string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return fmt.Errorf("%s send failed: status %d: %s", provider, resp.StatusCode, strings.TrimSpace(string(data)))
}

// Noop accepts every message without sending it.
type Noop struct{}

func (Noop) Name() string { return "noop" }

func (Noop) Send(_ context.Context, email domain.Email) (string, error) {
	return "noop-" + email.Reference, nil
}

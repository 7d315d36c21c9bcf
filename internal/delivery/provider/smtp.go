package provider

import (
	"context"
	"fmt"
	"net"
	"time"

	gomail "github.com/wneessen/go-mail"

	"leadpipeline_backend/internal/delivery/domain"
)

// SMTPConfig holds SMTP relay credentials.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// SMTP delivers through an SMTP relay via go-mail. The message id is generated
// locally, so delivery callbacks only exist if the relay reports by Message-ID.
type SMTP struct {
	cfg  SMTPConfig
	from Sender
}

func NewSMTP(cfg SMTPConfig, from Sender) *SMTP {
	return &SMTP{cfg: cfg, from: from}
}

func (s *SMTP) Name() string { return "smtp" }

func (s *SMTP) Send(ctx context.Context, email domain.Email) (string, error) {
	msg := gomail.NewMsg()
	if err := msg.FromFormat(s.from.Name, s.from.Address); err != nil {
		return "", fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(email.To); err != nil {
		return "", fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject(email.Subject)
	msg.SetMessageID()
	if email.Reference != "" {
		msg.SetGenHeader("X-Handover-Reference", email.Reference)
	}
	if email.Text != "" {
		msg.SetBodyString(gomail.TypeTextPlain, email.Text)
		msg.AddAlternativeString(gomail.TypeTextHTML, email.HTML)
	} else {
		msg.SetBodyString(gomail.TypeTextHTML, email.HTML)
	}

	opts := []gomail.Option{
		gomail.WithPort(s.cfg.Port),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15 * time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp", addr)
		}),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.cfg.Username),
			gomail.WithPassword(s.cfg.Password),
		)
	}

	client, err := gomail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return "", fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return "", fmt.Errorf("smtp send: %w", err)
	}
	return msg.GetMessageID(), nil
}

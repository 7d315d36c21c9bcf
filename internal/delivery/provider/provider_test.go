package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadpipeline_backend/internal/delivery/domain"
)

var testEmail = domain.Email{
	To:        "sales@dealer.example",
	Subject:   "[HIGH] Sales Lead Handover: Jane Doe",
	HTML:      "<p>hi</p>",
	Text:      "hi",
	Reference: "h-1",
}

func TestSendGridReturnsMessageIDHeader(t *testing.T) {
	var got sendGridRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sg-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("X-Message-Id", "abc123")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sg := NewSendGrid("sg-key", Sender{Name: "Leads", Address: "leads@example.com"})
	sg.baseURL = srv.URL

	id, err := sg.Send(context.Background(), testEmail)
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)
	require.Len(t, got.Content, 2)
	assert.Equal(t, "text/plain", got.Content[0].Type)
	assert.Equal(t, "h-1", got.Personalizations[0].CustomArgs["reference"])
}

func TestSendGridSurfacesRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"errors":[{"message":"bad key"}]}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	sg := NewSendGrid("bad", Sender{})
	sg.baseURL = srv.URL

	_, err := sg.Send(context.Background(), testEmail)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestBrevoReturnsMessageID(t *testing.T) {
	var got brevoEmailRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "brevo-key", r.Header.Get("api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"messageId":"<202405011200.1@smtp-relay.mailin.fr>"}`))
	}))
	defer srv.Close()

	b := NewBrevo("brevo-key", Sender{Name: "Leads", Address: "leads@example.com"})
	b.baseURL = srv.URL

	id, err := b.Send(context.Background(), testEmail)
	require.NoError(t, err)
	assert.Equal(t, "<202405011200.1@smtp-relay.mailin.fr>", id)
	assert.Equal(t, "hi", got.TextContent)
	assert.Equal(t, "sales@dealer.example", got.To[0].Email)
}

type testEmailConfig struct{ provider string }

func (c testEmailConfig) GetEmailProvider() string    { return c.provider }
func (c testEmailConfig) GetSendGridAPIKey() string   { return "k" }
func (c testEmailConfig) GetBrevoAPIKey() string      { return "k" }
func (c testEmailConfig) GetSMTPHost() string         { return "localhost" }
func (c testEmailConfig) GetSMTPPort() int            { return 25 }
func (c testEmailConfig) GetSMTPUsername() string     { return "" }
func (c testEmailConfig) GetSMTPPassword() string     { return "" }
func (c testEmailConfig) GetEmailFromName() string    { return "Leads" }
func (c testEmailConfig) GetEmailFromAddress() string { return "leads@example.com" }

func TestNewSelectsProvider(t *testing.T) {
	for name, want := range map[string]string{"": "noop", "SendGrid": "sendgrid", "brevo": "brevo", "smtp": "smtp"} {
		p, err := New(testEmailConfig{provider: name})
		require.NoError(t, err)
		assert.Equal(t, want, p.Name())
	}

	_, err := New(testEmailConfig{provider: "carrier-pigeon"})
	assert.Error(t, err)
}

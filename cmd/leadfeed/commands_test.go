package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dossierdomain "leadpipeline_backend/internal/dossier/domain"
)

const strictDoc = `<adfLead version="1.0">
  <customer><name>jane doe</name><email>Jane@Example.COM</email><phone>(650) 253-0000</phone></customer>
  <vehicleInterest make="honda" model="Civic" year="2024"/>
  <source provider="autotrader" externalId="AT-1001"/>
</adfLead>`

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestParsePrintsNormalizedLead(t *testing.T) {
	out, err := run(t, strictDoc, "parse", "-", "--dealership", "dealer-1")
	require.NoError(t, err)

	var resp struct {
		Status     string `json:"status"`
		ParserUsed string `json:"parserUsed"`
		Lead       struct {
			ExternalID    string `json:"externalId"`
			DealershipRef string `json:"dealershipRef"`
		} `json:"lead"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "accepted", resp.Status)
	assert.Equal(t, "strict", resp.ParserUsed)
	assert.Equal(t, "AT-1001", resp.Lead.ExternalID)
}

func TestParseRejectsUnrecognizedDocument(t *testing.T) {
	out, err := run(t, "<invoice/>", "parse", "-")
	require.ErrorIs(t, err, errRejected)
	assert.Contains(t, out, `"status": "rejected"`)
	assert.Contains(t, out, "UNPARSABLE_DOCUMENT")
}

func TestValidateReportsIssues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lead.xml")
	require.NoError(t, os.WriteFile(path, []byte(strictDoc), 0o600))

	out, err := run(t, "", "validate", path, "--version", "1.0")
	require.NoError(t, err)
	assert.Contains(t, out, `"valid": true`)

	out, err = run(t, "", "validate", path, "--version", "9.9")
	require.ErrorIs(t, err, errInvalid)
	assert.Contains(t, out, `"field": "@version"`)
}

func TestRenderSubject(t *testing.T) {
	d := dossierdomain.Dossier{
		CustomerName:        "Jane Doe",
		ConversationSummary: "Wants a test drive.",
		Urgency:             dossierdomain.UrgencyHigh,
		LeadScore:           80,
		GeneratedAt:         time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		SLADeadline:         time.Date(2026, 1, 2, 3, 19, 5, 0, time.UTC),
		Source:              dossierdomain.SourceFallback,
	}
	raw, err := json.Marshal(d)
	require.NoError(t, err)

	out, err := run(t, string(raw), "render", "-", "--format", "subject")
	require.NoError(t, err)
	assert.Equal(t, "[HIGH] Sales Lead Handover: Jane Doe\n", out)

	_, err = run(t, string(raw), "render", "-", "--format", "pdf")
	assert.ErrorContains(t, err, "unknown format")
}

func TestRenderRejectsInvalidDossier(t *testing.T) {
	_, err := run(t, `{"customerName":""}`, "render", "-")
	assert.ErrorIs(t, err, dossierdomain.ErrInvalidDossier)
}

// Package render turns a dossier into the handover email: subject, HTML body
// and plain-text body from the same data.
package render

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"leadpipeline_backend/internal/dossier/domain"
)

//go:embed templates/*
var templateFS embed.FS

const subjectFmt = "[%s] Sales Lead Handover: %s"

var accentColors = map[domain.Urgency]string{
	domain.UrgencyHigh:   "#d64545",
	domain.UrgencyMedium: "#f0b429",
	domain.UrgencyLow:    "#3ebd93",
}

var funcs = map[string]any{
	"percent": func(c float64) string { return fmt.Sprintf("%.0f%%", c*100) },
}

var (
	htmlTmpl = htmltemplate.Must(htmltemplate.New("base.html").Funcs(funcs).
		ParseFS(templateFS, "templates/base.html", "templates/handover.html"))
	textTmpl = texttemplate.Must(texttemplate.New("handover.txt").Funcs(funcs).
		ParseFS(templateFS, "templates/handover.txt"))
)

// Rendered is a ready-to-send handover email.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

type emailData struct {
	Title        string
	Heading      string
	Subheading   string
	AccentColor  string
	UrgencyLabel string
	SLA          string
	Fallback     bool
	D            domain.Dossier
}

// Subject returns "[HIGH] Sales Lead Handover: <name>".
func Subject(d domain.Dossier) string {
	return fmt.Sprintf(subjectFmt, strings.ToUpper(string(d.Urgency)), d.CustomerName)
}

// Render produces the subject and both bodies. It has no side effects.
func Render(d domain.Dossier) (Rendered, error) {
	subject := Subject(d)
	data := emailData{
		Title:        subject,
		Heading:      "Sales lead handover: " + d.CustomerName,
		AccentColor:  accentColors[d.Urgency],
		UrgencyLabel: strings.ToUpper(string(d.Urgency)),
		Fallback:     d.Source == domain.SourceFallback,
		D:            d,
	}
	if data.AccentColor == "" {
		data.AccentColor = accentColors[domain.UrgencyMedium]
	}
	if !d.SLADeadline.IsZero() {
		data.SLA = d.SLADeadline.UTC().Format(time.RFC1123)
		data.Subheading = "Please respond by " + data.SLA
	}

	var html bytes.Buffer
	if err := htmlTmpl.ExecuteTemplate(&html, "email", data); err != nil {
		return Rendered{}, fmt.Errorf("execute handover html template: %w", err)
	}
	var text bytes.Buffer
	if err := textTmpl.Execute(&text, data); err != nil {
		return Rendered{}, fmt.Errorf("execute handover text template: %w", err)
	}

	return Rendered{Subject: subject, HTML: html.String(), Text: strings.TrimSpace(text.String()) + "\n"}, nil
}

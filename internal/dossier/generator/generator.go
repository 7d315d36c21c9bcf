// Package generator produces handover dossiers from a transcript and lead
// context, falling back to a deterministic dossier when text generation fails.
package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadpipeline_backend/internal/dossier/domain"
	"leadpipeline_backend/platform/logger"
	"leadpipeline_backend/platform/metrics"
)

// DefaultTimeout bounds a single text generation call.
const DefaultTimeout = 10 * time.Second

// TextGenerator is an external text-generation capability.
type TextGenerator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Config holds generator settings.
type Config struct {
	Timeout             time.Duration
	HighUrgencyMessages int
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// Generator builds dossiers. Generate never fails: any problem with the text
// generator yields the fallback dossier.
type Generator struct {
	text    TextGenerator
	cfg     Config
	now     func() time.Time
	metrics *metrics.Recorder
	log     *logger.Logger
}

// New creates a generator. text may be nil, in which case every dossier is a fallback.
func New(text TextGenerator, cfg Config, rec *metrics.Recorder, log *logger.Logger, opts ...Option) *Generator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HighUrgencyMessages <= 0 {
		cfg.HighUrgencyMessages = DefaultHighUrgencyMessages
	}
	g := &Generator{text: text, cfg: cfg, now: time.Now, metrics: rec, log: log}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns a dossier for the conversation. timeout <= 0 uses the configured default.
func (g *Generator) Generate(ctx context.Context, transcript []domain.Message, lead domain.LeadContext, timeout time.Duration) domain.Dossier {
	start := g.now()
	if timeout <= 0 {
		timeout = g.cfg.Timeout
	}

	d, err := g.generate(ctx, transcript, lead, timeout)
	if err != nil {
		if errors.Is(err, domain.ErrDossierTimeout) {
			g.log.Warn("dossier generation timed out, using fallback", "timeout", timeout.String())
		} else if g.text != nil {
			g.log.Warn("dossier generation failed, using fallback", "error", err)
		}
		d = Fallback(transcript, lead, g.cfg.HighUrgencyMessages, g.now())
	}

	g.metrics.DossierGenerated(ctx, g.now().Sub(start), string(d.Source))
	return d
}

type generation struct {
	text string
	err  error
}

func (g *Generator) generate(ctx context.Context, transcript []domain.Message, lead domain.LeadContext, timeout time.Duration) (domain.Dossier, error) {
	if g.text == nil {
		return domain.Dossier{}, errors.New("no text generator configured")
	}

	genCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prompt := BuildPrompt(PromptWindow(transcript), lead)
	done := make(chan generation, 1)
	go func() {
		text, err := g.text.Generate(genCtx, SystemPrompt, prompt)
		done <- generation{text: text, err: err}
	}()

	var res generation
	select {
	case res = <-done:
	case <-genCtx.Done():
		// Late output is discarded.
		if errors.Is(genCtx.Err(), context.DeadlineExceeded) {
			return domain.Dossier{}, domain.ErrDossierTimeout
		}
		return domain.Dossier{}, genCtx.Err()
	}
	if res.err != nil {
		if errors.Is(res.err, context.DeadlineExceeded) {
			return domain.Dossier{}, domain.ErrDossierTimeout
		}
		return domain.Dossier{}, fmt.Errorf("text generator: %w", res.err)
	}

	d, err := ParseOutput(res.text, lead)
	if err != nil {
		return domain.Dossier{}, err
	}
	d.GeneratedAt = g.now().UTC()
	if err := d.Validate(); err != nil {
		return domain.Dossier{}, err
	}
	return d, nil
}

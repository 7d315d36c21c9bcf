package generator

import (
	"context"
	"fmt"
	"strings"

	"leadpipeline_backend/platform/config"
)

// NewTextGenerator picks the text generator named by DOSSIER_AI_PROVIDER.
// It returns nil for "none", which makes every dossier a fallback dossier.
func NewTextGenerator(ctx context.Context, cfg config.DossierConfig) (TextGenerator, error) {
	switch strings.ToLower(cfg.GetDossierAIProvider()) {
	case "", "none":
		return nil, nil
	case "moonshot":
		return NewAgentGenerator(cfg.GetMoonshotAPIKey())
	case "gemini":
		return NewGeminiGenerator(ctx, cfg.GetGeminiAPIKey(), cfg.GetGeminiModel())
	default:
		return nil, fmt.Errorf("unknown dossier AI provider %q", cfg.GetDossierAIProvider())
	}
}

package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/genai"

	"leadpipeline_backend/platform/ai/moonshot"
)

const agentAppName = "handover-dossier-generator"

// AgentGenerator runs the dossier prompt through an ADK agent backed by Moonshot.
type AgentGenerator struct {
	runner         *runner.Runner
	sessionService session.Service
	instruction    string
}

// NewAgentGenerator creates a tool-less dossier agent.
func NewAgentGenerator(apiKey string) (*AgentGenerator, error) {
	kimi := moonshot.NewModel(moonshot.Config{
		APIKey:          apiKey,
		Model:           "kimi-k2.5",
		DisableThinking: true,
	})

	adkAgent, err := llmagent.New(llmagent.Config{
		Name:        "HandoverDossierGenerator",
		Model:       kimi,
		Description: "Summarizes customer conversations into sales handover dossiers.",
		Instruction: SystemPrompt,
		GenerateContentConfig: &genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create dossier agent: %w", err)
	}

	sessionService := session.InMemoryService()
	r, err := runner.New(runner.Config{
		AppName:        agentAppName,
		Agent:          adkAgent,
		SessionService: sessionService,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create dossier runner: %w", err)
	}

	return &AgentGenerator{runner: r, sessionService: sessionService, instruction: SystemPrompt}, nil
}

// Generate runs one agent turn in a throwaway session.
func (g *AgentGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	if system != "" && system != g.instruction {
		prompt = system + "\n\n" + prompt
	}

	sessionID := uuid.New().String()
	userID := "dossier-" + sessionID[:8]

	_, err := g.sessionService.Create(ctx, &session.CreateRequest{
		AppName:   agentAppName,
		UserID:    userID,
		SessionID: sessionID,
	})
	if err != nil {
		return "", fmt.Errorf("dossier agent: create session: %w", err)
	}
	defer func() {
		_ = g.sessionService.Delete(context.WithoutCancel(ctx), &session.DeleteRequest{
			AppName:   agentAppName,
			UserID:    userID,
			SessionID: sessionID,
		})
	}()

	userMessage := genai.NewContentFromText(prompt, genai.RoleUser)
	runConfig := agent.RunConfig{StreamingMode: agent.StreamingModeNone}

	var out strings.Builder
	for event, err := range g.runner.Run(ctx, userID, sessionID, userMessage, runConfig) {
		if err != nil {
			return "", fmt.Errorf("dossier agent: run failed: %w", err)
		}
		if event.Content == nil {
			continue
		}
		for _, part := range event.Content.Parts {
			out.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(out.String()), nil
}

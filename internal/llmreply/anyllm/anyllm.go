// Package anyllm implements llmreply.Provider over
// github.com/mozilla-ai/any-llm-go, letting operators point Jack at
// Anthropic, Gemini, Ollama, or any other backend any-llm-go supports
// without a dedicated adapter per vendor.
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/tinred-labs/jack/internal/llmreply"
)

const systemPrompt = "Eres Jack, un asistente de facturación electrónica para pequeños comercios en Perú. " +
	"Responde solo con información presente en el contexto proporcionado; si no la tienes, dilo."

// Provider answers questions through any backend any-llm-go supports.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a Provider for providerName ("openai", "anthropic", "gemini",
// "ollama"), using model as the underlying model name.
func New(providerName, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}
	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}
	return &Provider{backend: backend, model: model}, nil
}

func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama", providerName)
	}
}

// Reply implements llmreply.Provider.
func (p *Provider) Reply(ctx context.Context, req llmreply.Request) (string, error) {
	messages := []anyllmlib.Message{{Role: anyllmlib.RoleSystem, Content: systemPrompt}}
	if req.CatalogSummary != "" {
		messages = append(messages, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: "Contexto del comercio:\n" + req.CatalogSummary})
	}
	for _, t := range req.History {
		role := anyllmlib.RoleUser
		if t.Role == "assistant" {
			role = anyllmlib.RoleAssistant
		}
		messages = append(messages, anyllmlib.Message{Role: role, Content: t.Content})
	}
	messages = append(messages, anyllmlib.Message{Role: anyllmlib.RoleUser, Content: req.Question})

	resp, err := p.backend.Completion(ctx, anyllmlib.CompletionParams{Model: p.model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("%w: %w", llmreply.ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", llmreply.ErrUnavailable)
	}
	return resp.Choices[0].Message.ContentString(), nil
}

// Package openai implements llmreply.Provider using the OpenAI chat
// completions API.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/tinred-labs/jack/internal/llmreply"
)

const systemPrompt = "Eres Jack, un asistente de facturación electrónica para pequeños comercios en Perú. " +
	"Responde solo con información presente en el contexto proporcionado; si no la tienes, dilo."

// Provider answers questions with the OpenAI chat completions API.
type Provider struct {
	client oai.Client
	model  string
}

// Option configures a Provider.
type Option func(*config)

type config struct {
	baseURL string
	timeout time.Duration
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a Provider backed by model, e.g. "gpt-4o-mini".
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Reply implements llmreply.Provider.
func (p *Provider) Reply(ctx context.Context, req llmreply.Request) (string, error) {
	messages := []oai.ChatCompletionMessageParamUnion{oai.SystemMessage(systemPrompt)}
	if req.CatalogSummary != "" {
		messages = append(messages, oai.SystemMessage("Contexto del comercio:\n"+req.CatalogSummary))
	}
	for _, t := range req.History {
		if t.Role == "assistant" {
			messages = append(messages, oai.AssistantMessage(t.Content))
		} else {
			messages = append(messages, oai.UserMessage(t.Content))
		}
	}
	messages = append(messages, oai.UserMessage(req.Question))

	resp, err := p.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", llmreply.ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", llmreply.ErrUnavailable)
	}
	return resp.Choices[0].Message.Content, nil
}

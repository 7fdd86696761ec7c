// Package mock provides a test double for llmreply.Provider.
package mock

import (
	"context"

	"github.com/tinred-labs/jack/internal/llmreply"
)

var _ llmreply.Provider = (*Provider)(nil)

// Provider returns a canned reply or error, recording every request it saw.
type Provider struct {
	Reply_   string
	Err      error
	Requests []llmreply.Request
}

func (p *Provider) Reply(ctx context.Context, req llmreply.Request) (string, error) {
	p.Requests = append(p.Requests, req)
	if p.Err != nil {
		return "", p.Err
	}
	return p.Reply_, nil
}

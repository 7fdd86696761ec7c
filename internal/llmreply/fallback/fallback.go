// Package fallback wraps a primary llmreply.Provider with one or more
// backups behind a shared circuit breaker per backend, so a vendor outage
// degrades to a secondary model instead of falling all the way back to
// Jack's canned reply.
package fallback

import (
	"context"

	"github.com/tinred-labs/jack/internal/llmreply"
	"github.com/tinred-labs/jack/internal/resilience"
)

var _ llmreply.Provider = (*Provider)(nil)

// Provider answers through the first healthy backend in a resilience.FallbackGroup.
type Provider struct {
	group *resilience.FallbackGroup[llmreply.Provider]
}

// New creates a Provider whose primary backend is primary, named primaryName
// for logging and circuit-breaker identification.
func New(primary llmreply.Provider, primaryName string) *Provider {
	return &Provider{
		group: resilience.NewFallbackGroup(primary, primaryName, resilience.FallbackConfig{}),
	}
}

// AddFallback registers an additional backend, tried after every
// previously-registered entry has failed or tripped its breaker.
func (p *Provider) AddFallback(name string, backend llmreply.Provider) {
	p.group.AddFallback(name, backend)
}

// Reply implements llmreply.Provider.
func (p *Provider) Reply(ctx context.Context, req llmreply.Request) (string, error) {
	return resilience.ExecuteWithResult(p.group, func(backend llmreply.Provider) (string, error) {
		return backend.Reply(ctx, req)
	})
}

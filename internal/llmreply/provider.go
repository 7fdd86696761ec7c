// Package llmreply defines the narrow LLM collaborator used for free-form
// answers the rule-based conversation handler can't cover. Jack only ever
// needs a single grounded completion, so the interface here is a single
// blocking call, not a streaming, tool-calling one. Concrete backends live
// in subpackages (openai, anyllm, mock) and are selected by configuration.
package llmreply

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when no LLM backend is configured, or the
// configured backend fails. Callers treat this as "fall back to a canned
// reply", never as a user-facing error.
var ErrUnavailable = errors.New("llmreply: unavailable")

// Request carries everything needed to ground a free-form answer in the
// caller's own data, so the model cannot invent products, clients, or
// totals that don't exist in the merchant's account.
type Request struct {
	// Question is the merchant's verbatim utterance.
	Question string

	// History is the last few turns of the conversation, oldest first.
	History []Turn

	// CatalogSummary is a compact textual summary of the merchant's
	// products/clients/history, assembled by the orchestrator from the
	// cached UserContext. Empty if nothing is cached yet.
	CatalogSummary string
}

// Turn is one prior exchange, used to give the model short-term memory.
type Turn struct {
	Role    string
	Content string
}

// Provider answers a single grounded question.
type Provider interface {
	// Reply returns the model's answer, or wraps any failure into
	// ErrUnavailable.
	Reply(ctx context.Context, req Request) (string, error)
}

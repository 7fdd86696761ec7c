// Package issuing is the HTTP client for the Peruvian e-invoicing back-office
// ("the issuing service"). It is a thin, schema-fixed RPC surface: six
// POST/JSON calls and nothing else. No retries, no caching — those concerns
// belong to session.Store and the orchestrator.
package issuing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tinred-labs/jack/internal/resilience"
	"github.com/tinred-labs/jack/internal/session"
)

// defaultTimeout is used for every call except Emit, which performs
// synchronous tax-authority interaction and needs a longer budget.
const (
	defaultTimeout = 30 * time.Second
	emitTimeout    = 90 * time.Second
)

// Client is the issuing-service HTTP client. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
}

// New creates a Client. baseURL is the issuing service's root, e.g.
// "https://api.tinred.pe". A circuit breaker guards every call so a flapping
// back-office fails fast instead of piling up goroutines on 30–90s timeouts.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "issuing-service",
		}),
	}
}

// request POSTs body as JSON to path and decodes the response into out. It
// never returns a sentinel ClientNotFound-style value — that is only
// meaningful for checkclient_agente_ai and is handled in CheckClient. The
// breaker owns the call's deadline via ExecuteRPC, so there is exactly one
// place (not one per call site) that bounds an issuing-service RPC.
func (c *Client) request(ctx context.Context, path string, timeout time.Duration, body, out any) error {
	err := c.breaker.ExecuteRPC(ctx, timeout, func(ctx context.Context) error {
		return c.doRequest(ctx, path, body, out)
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return fmt.Errorf("issuing: %s: %w", path, ErrTransientNetwork)
		}
		return err
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("issuing: marshal %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("issuing: build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("issuing: %s: %w: %w", path, ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("issuing: %s: read body: %w", path, err)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("issuing: %s: status %d: %w", path, resp.StatusCode, ErrTransientNetwork)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("issuing: %s: decode response: %w", path, err)
	}
	return nil
}

// Identify calls identify_ai. Absence of IDEmpresa in the response means the
// phone is not registered — ErrAuthNotRegistered (session package) is
// returned in that case.
func (c *Client) Identify(ctx context.Context, phone string) (session.ClientIdentification, error) {
	var resp identifyResponse
	if err := c.request(ctx, "identify_ai", defaultTimeout, identifyRequest{Telefono: phone}, &resp); err != nil {
		return session.ClientIdentification{}, err
	}
	if resp.IDEmpresa == "" {
		return session.ClientIdentification{}, session.ErrAuthNotRegistered
	}
	return session.ClientIdentification{
		IDEmpresa:         resp.IDEmpresa,
		IDEstablecimiento: resp.IDEstablecimiento,
		IDUsuario:         resp.IDUsuario,
		Name:              resp.Nombre,
	}, nil
}

// CheckClient calls checkclient_agente_ai. A definitive "not found" response
// is reported via CheckClientResult.Found == false, not as an error — only
// a genuine transport failure returns a non-nil error (ErrTransientNetwork).
// Transport errors are never folded into the not-found branch; see
// DESIGN.md for the rationale.
func (c *Client) CheckClient(ctx context.Context, phone, documentNumber string) (CheckClientResult, error) {
	var resp checkClientResponse
	req := checkClientRequest{Telefono: phone, NumeroDocumento: documentNumber}
	if err := c.request(ctx, "checkclient_agente_ai", defaultTimeout, req, &resp); err != nil {
		return CheckClientResult{}, err
	}
	if resp.Hit != "" {
		return CheckClientResult{Found: true, Name: resp.Hit}, nil
	}
	return CheckClientResult{Found: false, Message: resp.Miss}, nil
}

// Products calls product_agente_ai.
func (c *Client) Products(ctx context.Context, phone string) ([]session.Product, error) {
	var out []session.Product
	if err := c.request(ctx, "product_agente_ai", defaultTimeout, phoneOnlyRequest{Telefono: phone}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Clients calls client_agente_ai.
func (c *Client) Clients(ctx context.Context, phone string) ([]session.Client, error) {
	var out []session.Client
	if err := c.request(ctx, "client_agente_ai", defaultTimeout, phoneOnlyRequest{Telefono: phone}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// History calls record_agente_ai.
func (c *Client) History(ctx context.Context, phone string) ([]session.HistoryEntry, error) {
	var out []session.HistoryEntry
	if err := c.request(ctx, "record_agente_ai", defaultTimeout, phoneOnlyRequest{Telefono: phone}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Emit calls store_agente_api with the longer emitTimeout. On a response
// with success != "TRUE" it returns ErrIssuanceRejected wrapping the
// issuing service's message so the orchestrator can surface it verbatim.
func (c *Client) Emit(ctx context.Context, req EmitRequest) (EmitResponse, error) {
	wire := emitRequest{
		IDEmpresa:         req.IDEmpresa,
		IDEstablecimiento: req.IDEstablecimiento,
		IDUsuario:         req.IDUsuario,
		Tdocod:            req.DocKind,
		Mondoc:            req.Currency,
		Tdicod:            req.IDType,
		Clinum:            req.ClientID,
		Cant:              req.Quantities,
		Detpro:            req.Descriptions,
		Preuni:            req.UnitPrices,
		Total:             req.Total,
	}

	var resp EmitResponse
	if err := c.request(ctx, "store_agente_api", emitTimeout, wire, &resp); err != nil {
		return EmitResponse{}, err
	}
	if !resp.Succeeded() {
		return resp, fmt.Errorf("issuing: %w: %s", ErrIssuanceRejected, resp.Mensaje)
	}
	return resp, nil
}

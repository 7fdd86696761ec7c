// Package session defines the per-caller conversation state ("Session") and
// the in-memory store that owns its lifecycle.
//
// This package has no dependencies on the rest of the system: it describes
// what a session is, not how it is classified, parsed, or routed. Higher
// layers (classify, extract, orchestrator) depend on it, never the reverse.
package session

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DocKind is the SUNAT document-kind code carried on an emission.
type DocKind string

const (
	// DocNone means no document kind has been chosen yet.
	DocNone DocKind = ""
	// DocInvoice is "Factura" — requires a RUC.
	DocInvoice DocKind = "01"
	// DocReceipt is "Boleta" — requires a DNI.
	DocReceipt DocKind = "03"
)

// IDType is the SUNAT identity-document-type code.
type IDType string

const (
	// IDNone means no ID type has been determined yet.
	IDNone IDType = ""
	// IDDNI is the 8-digit national ID.
	IDDNI IDType = "1"
	// IDRUC is the 11-digit taxpayer ID.
	IDRUC IDType = "6"
)

// Currency is the monetary currency code carried on an emission.
type Currency string

const (
	// CurrencyNone means no currency has been determined yet; PEN is assumed
	// once an emission has any monetary content.
	CurrencyNone Currency = ""
	// PEN is the Peruvian sol.
	PEN Currency = "PEN"
	// USD is the US dollar.
	USD Currency = "USD"
)

// InvoiceItem is a single priced line item on an emission.
type InvoiceItem struct {
	// Quantity is kept as the integer string the extractor produced; the
	// issuing service's payload wants strings, not floats.
	Quantity    string
	Description string
	// UnitPrice is a two-decimal string, e.g. "15.00".
	UnitPrice string
}

// Subtotal returns Quantity × UnitPrice. Malformed numeric strings (which
// should never reach this far past the extractor) yield zero rather than
// panicking.
func (i InvoiceItem) Subtotal() float64 {
	q, err := strconv.ParseFloat(i.Quantity, 64)
	if err != nil {
		return 0
	}
	p, err := strconv.ParseFloat(i.UnitPrice, 64)
	if err != nil {
		return 0
	}
	return q * p
}

// dedupKey is the de-duplication identity for a line item: lowercased
// description plus exact price string.
func (i InvoiceItem) dedupKey() string {
	return strings.ToLower(strings.TrimSpace(i.Description)) + "|" + i.UnitPrice
}

// PendingItem is a line item whose description and quantity were parsed but
// whose unit price is still unknown; it is waiting for the next turn to
// supply a bare number.
type PendingItem struct {
	Quantity    string
	Description string
}

// EmissionData is the in-progress (or just-completed) emission draft carried
// by a Session. The zero value is the "nothing started yet" state.
type EmissionData struct {
	DocKind  DocKind
	Currency Currency
	IDType   IDType
	IDNumber string

	Items        []InvoiceItem
	PendingItems []PendingItem

	ClientValidated bool
	ClientName      string
}

// SetIDNumber assigns a new ID number, clearing ClientValidated and
// ClientName whenever the number actually changes.
func (e *EmissionData) SetIDNumber(number string) {
	if number == e.IDNumber {
		return
	}
	e.IDNumber = number
	e.ClientValidated = false
	e.ClientName = ""
}

// AddItem appends item unless an item with the same description (case
// insensitive) and price is already present.
func (e *EmissionData) AddItem(item InvoiceItem) {
	key := item.dedupKey()
	for _, existing := range e.Items {
		if existing.dedupKey() == key {
			return
		}
	}
	e.Items = append(e.Items, item)
}

// ApplyPriceToPending turns every pending item into a priced InvoiceItem
// using price (a two-decimal string) and clears PendingItems.
func (e *EmissionData) ApplyPriceToPending(price string) {
	for _, p := range e.PendingItems {
		e.AddItem(InvoiceItem{Quantity: p.Quantity, Description: p.Description, UnitPrice: price})
	}
	e.PendingItems = nil
}

// HasAnyField reports whether any part of the emission has been started —
// the condition the orchestrator uses to decide whether an emission is
// "active" in the session.
func (e *EmissionData) HasAnyField() bool {
	return e.DocKind != DocNone || e.IDNumber != "" || len(e.Items) > 0
}

// IsComplete reports whether every field required to issue is present.
func (e *EmissionData) IsComplete() bool {
	return e.DocKind != DocNone &&
		e.Currency != CurrencyNone &&
		e.IDType != IDNone &&
		e.IDNumber != "" &&
		len(e.Items) > 0 &&
		e.ClientValidated
}

// MissingFields names the slots still required before IsComplete, in the
// order a prompt should ask for them. Used by the orchestrator to ask a
// targeted question when the caller's utterance didn't supply anything
// usable.
func (e *EmissionData) MissingFields() []string {
	var missing []string
	if e.IDNumber == "" {
		missing = append(missing, "id_number")
	}
	if len(e.Items) == 0 && len(e.PendingItems) == 0 {
		missing = append(missing, "items")
	}
	if len(e.PendingItems) > 0 {
		missing = append(missing, "item_price")
	}
	if !e.ClientValidated && e.IDNumber != "" {
		missing = append(missing, "client_validation")
	}
	return missing
}

// Total sums every item's subtotal and rounds the sum to two decimals.
func (e *EmissionData) Total() float64 {
	var total float64
	for _, item := range e.Items {
		total += item.Subtotal()
	}
	return round2(total)
}

// Reset restores the zero value.
func (e *EmissionData) Reset() {
	*e = EmissionData{}
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

// FormatTotal renders Total() as a two-decimal string with the currency
// symbol conventionally used in the review screen ("S/" for PEN, "$" for
// USD).
func (e *EmissionData) FormatTotal() string {
	symbol := "S/"
	if e.Currency == USD {
		symbol = "$"
	}
	return fmt.Sprintf("%s %.2f", symbol, e.Total())
}

// ConversationContextKind tags what the previous assistant turn was showing,
// used to disambiguate a bare numeric reply on the next turn.
type ConversationContextKind string

const (
	CtxNone          ConversationContextKind = "none"
	CtxProducts      ConversationContextKind = "products"
	CtxSearchResults ConversationContextKind = "search_results"
	CtxProductDetail ConversationContextKind = "product_detail"
	CtxHistory       ConversationContextKind = "history"
	CtxTodayEmissions ConversationContextKind = "today_emissions"
	CtxEmission      ConversationContextKind = "emission"
)

// ConversationContext pairs the tag with whatever companion data the next
// turn needs to resolve a selection against it.
type ConversationContext struct {
	Kind ConversationContextKind
	// SearchResults holds the filtered product list when Kind is
	// CtxSearchResults, or the full catalogue page when Kind is CtxProducts.
	SearchResults []Product
	// SelectedProduct holds the product under discussion when Kind is
	// CtxProductDetail.
	SelectedProduct *Product
}

// Clear resets the context to CtxNone, dropping any companion data.
func (c *ConversationContext) Clear() {
	*c = ConversationContext{Kind: CtxNone}
}

// Product is a catalogue entry as returned by the issuing service.
type Product struct {
	Code        string `json:"Codigo,omitempty"`
	Description string `json:"Descripcion"`
	Price       string `json:"Precio"`
}

// PriceFloat parses Price, returning 0 on a malformed value.
func (p Product) PriceFloat() float64 {
	v, err := strconv.ParseFloat(p.Price, 64)
	if err != nil {
		return 0
	}
	return v
}

// Client is a client-book entry as returned by the issuing service.
type Client struct {
	Name     string `json:"Nombre"`
	Document string `json:"NumeroDocumento"`
}

// HistoryEntry is a past issuance as returned by the issuing service's
// record endpoint.
type HistoryEntry struct {
	Serie   string `json:"Serie"`
	Numero  string `json:"Numero"`
	Total   string `json:"Total"`
	Fecha   string `json:"Fecha"`
	Cliente string `json:"Cliente"`
}

// UserContext is the cached catalogue/client-book/history snapshot attached
// to a Session after its first successful (or degraded) load.
type UserContext struct {
	Products []Product
	Clients  []Client
	History  []HistoryEntry
	LoadedAt time.Time
}

// IsLoaded reports whether the context has ever been populated.
func (c UserContext) IsLoaded() bool {
	return !c.LoadedAt.IsZero()
}

// IsStale reports whether the context is older than refresh.
func (c UserContext) IsStale(refresh time.Duration) bool {
	return time.Since(c.LoadedAt) > refresh
}

// ClientIdentification is the merchant identity returned by the issuing
// service's identify call. All four fields are required verbatim by the
// emission payload (§6), not just the display name.
type ClientIdentification struct {
	IDEmpresa         string
	IDEstablecimiento string
	IDUsuario         string
	Name              string
}

// EmissionRecord is the durable summary of one successful emission, appended
// to Session.SessionEmissions and optionally mirrored to an audit sink.
type EmissionRecord struct {
	Timestamp time.Time
	DocKind   DocKind
	FullNumber string
	ClientID  string
	Total     float64
	Currency  Currency
	PDFURL    string
	ItemCount int
}

// Message is one turn of conversation history.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
	At      time.Time
}

// Session is the full per-caller conversation state. All mutation must
// happen while the owning Store's per-phone lock is held; see store.go.
type Session struct {
	Phone         string
	UserName      string
	Authenticated bool
	TermsAccepted bool
	ClientData    ClientIdentification

	Messages []Message

	Emission                     EmissionData
	AwaitingConfirmation         bool
	AwaitingClientReconfirmation bool
	ConvContext                  ConversationContext

	Context UserContext

	SessionEmissions []EmissionRecord

	CreatedAt    time.Time
	LastActivity time.Time
}

// NewSession creates a fresh, unauthenticated Session for phone.
func NewSession(phone string) *Session {
	now := time.Now()
	return &Session{
		Phone:        phone,
		CreatedAt:    now,
		LastActivity: now,
	}
}

// AddMessage appends a turn and trims history to maxHistory entries,
// keeping only the most recent ones.
func (s *Session) AddMessage(role, content string, maxHistory int) {
	s.Messages = append(s.Messages, Message{Role: role, Content: content, At: time.Now()})
	if maxHistory > 0 && len(s.Messages) > maxHistory {
		s.Messages = s.Messages[len(s.Messages)-maxHistory:]
	}
}

// LastAssistantMessages returns up to n most recent assistant turns, oldest
// first — used by the classifier's context-fallback rules and the LLM
// RAG prompt assembly.
func (s *Session) LastAssistantMessages(n int) []Message {
	var out []Message
	for i := len(s.Messages) - 1; i >= 0 && len(out) < n; i-- {
		if s.Messages[i].Role == "assistant" {
			out = append([]Message{s.Messages[i]}, out...)
		}
	}
	return out
}

// ResetEmission clears the emission draft and both awaiting flags.
func (s *Session) ResetEmission() {
	s.Emission.Reset()
	s.AwaitingConfirmation = false
	s.AwaitingClientReconfirmation = false
}

// Touch refreshes LastActivity. Called once per handled message.
func (s *Session) Touch() {
	s.LastActivity = time.Now()
}

// Package extract implements the slot-filling parser: it turns a free-form
// Spanish utterance into a partial emission draft, and merges that draft
// into a session's EmissionData without clobbering fields that are already
// set.
package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tinred-labs/jack/internal/session"
)

// PartialEmission is what Extract parses out of a single utterance. Any
// zero-value field means that slot was not mentioned in this turn.
type PartialEmission struct {
	DocKind      session.DocKind
	Currency     session.Currency
	IDType       session.IDType
	IDNumber     string
	Items        []session.InvoiceItem
	PendingItems []session.PendingItem
}

var (
	dniPrefixed = regexp.MustCompile(`(?i)\bdni\s*[:\-]?\s*(\d{8})\b`)
	rucPrefixed = regexp.MustCompile(`(?i)\bruc\s*[:\-]?\s*(\d{11})\b`)
	looseRUC    = regexp.MustCompile(`\b([12]0\d{9})\b`)
	looseDNI    = regexp.MustCompile(`\b(\d{8})\b`)

	usdTokens = regexp.MustCompile(`(?i)\b(dólar|dolar|dólares|dolares|usd|\$)\b`)

	// itemWithQty: "2 cuadernos a 15" / "2 cuadernos @ 15" / "2 cuadernos por 15".
	// Quantity capped at 4 digits so a stray ID fragment isn't read as a huge
	// quantity.
	itemWithQty = regexp.MustCompile(`(?i)(\d{1,4})\s+([a-záéíóúñ][a-záéíóúñ \-]*?)\s+(?:a|@|por)\s+(\d+(?:[.,]\d+)?)`)

	// itemWithoutPrice: "3 cuadernos" with no trailing price clause.
	itemWithoutPrice = regexp.MustCompile(`(?i)(\d{1,4})\s+([a-záéíóúñ][a-záéíóúñ]*(?:\s+[a-záéíóúñ]+){0,2})\b`)

	// itemImplicitQty: "laptop a 2500" -> quantity 1.
	itemImplicitQty = regexp.MustCompile(`(?i)\b([a-záéíóúñ][a-záéíóúñ \-]*?)\s+a\s+(\d+(?:[.,]\d+)?)`)

	excludedDescWords = map[string]bool{
		"factura": true, "boleta": true, "dni": true, "ruc": true,
		"para": true, "cliente": true, "documento": true,
	}

	numberWords = map[string]string{
		"un": "1", "uno": "1", "una": "1",
		"dos": "2", "tres": "3", "cuatro": "4", "cinco": "5",
		"seis": "6", "siete": "7", "ocho": "8", "nueve": "9", "diez": "10",
	}
	numberWordPattern = regexp.MustCompile(`(?i)\b(un|uno|una|dos|tres|cuatro|cinco|seis|siete|ocho|nueve|diez)\b`)

	// digitDespace joins a long ID that transcription split with stray
	// whitespace between digit groups ("8765 4321" -> "87654321").
	digitDespace = regexp.MustCompile(`(\d)\s+(\d)`)
)

// DespaceDigits joins whitespace-separated digit runs, undoing an audio
// transcription artifact where a long ID gets split into groups. Exported
// so the orchestrator's client-reconfirmation path can apply it before
// re-extracting.
func DespaceDigits(utterance string) string {
	for {
		replaced := digitDespace.ReplaceAllString(utterance, "$1$2")
		if replaced == utterance {
			return utterance
		}
		utterance = replaced
	}
}

// normalizeNumberWords replaces Spanish number words 1..10 with digits so
// they match the same patterns as numerals.
func normalizeNumberWords(utterance string) string {
	return numberWordPattern.ReplaceAllStringFunc(utterance, func(word string) string {
		return numberWords[strings.ToLower(word)]
	})
}

// Extract parses utterance into a PartialEmission. session is consulted
// only to know whether an emission is already active (it does not mutate
// session; see Update for that).
func Extract(utterance string, s *session.Session) PartialEmission {
	text := normalizeNumberWords(utterance)
	var partial PartialEmission

	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "factura"):
		partial.DocKind = session.DocInvoice
	case strings.Contains(lower, "boleta"):
		partial.DocKind = session.DocReceipt
	}

	if usdTokens.MatchString(text) {
		partial.Currency = session.USD
	} else {
		partial.Currency = session.PEN
	}

	idType, idNumber, remaining := extractID(text)
	partial.IDType = idType
	partial.IDNumber = idNumber
	text = remaining

	if idType == session.IDDNI && partial.DocKind == session.DocNone {
		partial.DocKind = session.DocReceipt
	}

	items, pending := extractItems(text)
	partial.Items = items
	partial.PendingItems = pending

	return partial
}

// extractID finds an explicit "DNI <8>"/"RUC <11>" prefix first, then falls
// back to a loose RUC (11 digits starting 10/20) or loose DNI (8 digits,
// value >= 1,000,000 to rule out quantity collisions). The matched number is
// stripped from the returned remaining text before item parsing.
func extractID(text string) (session.IDType, string, string) {
	if m := dniPrefixed.FindStringSubmatchIndex(text); m != nil {
		number := text[m[2]:m[3]]
		return session.IDDNI, number, text[:m[0]] + text[m[1]:]
	}
	if m := rucPrefixed.FindStringSubmatchIndex(text); m != nil {
		number := text[m[2]:m[3]]
		return session.IDRUC, number, text[:m[0]] + text[m[1]:]
	}
	if m := looseRUC.FindStringSubmatchIndex(text); m != nil {
		number := text[m[2]:m[3]]
		return session.IDRUC, number, text[:m[0]] + text[m[1]:]
	}
	if m := looseDNI.FindStringSubmatchIndex(text); m != nil {
		number := text[m[2]:m[3]]
		if v, err := strconv.Atoi(number); err == nil && v >= 1_000_000 {
			return session.IDDNI, number, text[:m[0]] + text[m[1]:]
		}
	}
	return session.IDNone, "", text
}

// extractItems tries the priced patterns first, de-duplicating by
// (description.lower, price). If none matched, it falls back to
// items-without-price.
func extractItems(text string) ([]session.InvoiceItem, []session.PendingItem) {
	type key struct{ desc, price string }
	seen := make(map[key]bool)
	var items []session.InvoiceItem

	add := func(qty, desc, price string) {
		desc = strings.TrimSpace(desc)
		if desc == "" || excludedDescWords[strings.ToLower(desc)] {
			return
		}
		price = normalizePrice(price)
		k := key{strings.ToLower(desc), price}
		if seen[k] {
			return
		}
		seen[k] = true
		items = append(items, session.InvoiceItem{Quantity: qty, Description: desc, UnitPrice: price})
	}

	for _, m := range itemWithQty.FindAllStringSubmatch(text, -1) {
		add(m[1], m[2], m[3])
	}
	for _, m := range itemImplicitQty.FindAllStringSubmatch(text, -1) {
		desc := strings.TrimSpace(m[1])
		if excludedDescWords[strings.ToLower(desc)] {
			continue
		}
		add("1", desc, m[2])
	}

	if len(items) > 0 {
		return items, nil
	}

	var pending []session.PendingItem
	pendingSeen := make(map[string]bool)
	for _, m := range itemWithoutPrice.FindAllStringSubmatch(text, -1) {
		desc := strings.TrimSpace(m[2])
		if desc == "" || excludedDescWords[strings.ToLower(desc)] {
			continue
		}
		k := m[1] + "|" + strings.ToLower(desc)
		if pendingSeen[k] {
			continue
		}
		pendingSeen[k] = true
		pending = append(pending, session.PendingItem{Quantity: m[1], Description: desc})
	}
	return nil, pending
}

// normalizePrice renders a decimal string with exactly two decimals,
// accepting either "." or "," as the decimal separator.
func normalizePrice(raw string) string {
	raw = strings.ReplaceAll(raw, ",", ".")
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return raw
	}
	return fmt.Sprintf("%.2f", v)
}

// Update merges partial into sess.Emission without overwriting already-set
// fields; it is idempotent on slots that are already populated. Setting a
// new, different IDNumber clears client validation via
// EmissionData.SetIDNumber.
func Update(sess *session.Session, partial PartialEmission) {
	e := &sess.Emission

	if e.DocKind == session.DocNone && partial.DocKind != session.DocNone {
		e.DocKind = partial.DocKind
	}
	if e.Currency == session.CurrencyNone && partial.Currency != session.CurrencyNone {
		e.Currency = partial.Currency
	}
	if partial.IDNumber != "" {
		e.IDType = partial.IDType
		e.SetIDNumber(partial.IDNumber)
	}
	for _, item := range partial.Items {
		e.AddItem(item)
	}
	if len(partial.PendingItems) > 0 {
		e.PendingItems = append(e.PendingItems, partial.PendingItems...)
	}
}

// HasEmissionShape reports whether utterance itself looks like it is
// carrying emission data, independent of session state — used to keep an
// emission draft alive when the caller volunteers document details before
// being asked.
func HasEmissionShape(utterance string) bool {
	lower := strings.ToLower(utterance)
	for _, kw := range []string{"factura", "boleta", "emitir", "emite"} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	if looseDNI.MatchString(utterance) {
		return true
	}
	if looseRUC.MatchString(utterance) {
		return true
	}
	if itemWithQty.MatchString(lower) {
		return true
	}
	return false
}

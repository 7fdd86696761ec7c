// Package classify implements the rule-ordered intent classifier. It is a
// pure function of (utterance, session) — no I/O, no shared state beyond
// the precompiled pattern tables built at package init.
package classify

import (
	"regexp"
	"strings"

	"github.com/tinred-labs/jack/internal/session"
)

// Intent is a tagged sum type over the classifier's possible outcomes.
type Intent string

const (
	EmitInvoice     Intent = "EMIT_INVOICE"
	QueryProducts   Intent = "QUERY_PRODUCTS"
	QueryClients    Intent = "QUERY_CLIENTS"
	QueryHistory    Intent = "QUERY_HISTORY"
	GeneralQuestion Intent = "GENERAL_QUESTION"
	Confirmation    Intent = "CONFIRMATION"
	Cancel          Intent = "CANCEL"
	Greeting        Intent = "GREETING"
	Unknown         Intent = "UNKNOWN"
)

var (
	affirmativePatterns = compileAll(
		`^(si|sí|yes|ok|okey|okay|dale|confirmo|acepto)[\s.!,]*$`,
		`^(adelante|procede|emite|correcto|claro|por supuesto)[\s.!,]*$`,
		`^(está bien|esta bien|de acuerdo|listo|perfecto)[\s.!,]*$`,
	)
	negativePatterns = compileAll(
		`^(no|nop|nope|cancelar|cancela|olvida)[\s.!,]*$`,
		`\b(mejor no|no quiero|detener|parar|salir)\b`,
	)
	emissionPatterns = compileAll(
		`\b(emitir|generar|crear|hacer|necesito|quiero)\s+(una?\s+)?(factura|boleta)\b`,
		`^(factura|boleta)[\s.!,]*$`,
		`\b(factura|boleta)\s+(para|con|de)\b`,
		`\bemite\s+(una?\s+)?(factura|boleta)\b`,
	)
	productsPatterns = compileAll(
		`\b(producto|productos|catálogo|catalogo|inventario)\b`,
		`\b(mis productos|lista de productos|ver productos)\b`,
		`\b(dame|muestra|ver)\s+(los\s+)?productos\b`,
	)
	clientsPatterns = compileAll(
		`\b(cliente|clientes|mis clientes)\b`,
	)
	historyPatterns = compileAll(
		`\b(historial|histórico|historico)\b`,
		`\b(ventas|emisiones)\b`,
		`\b(detalle|detalles|info)\s+(?:de\s+)?(?:la|el)\s+(\d+|última|ultimo|ultima)\b`,
		`\b(última|ultimo|ultima|último)\s+(factura|boleta|emisi[oó]n)?\b`,
		`\b(la|el|mi)\s+(de\s+)?hoy\b`,
		`\b(factura|boleta)\s+(de\s+)?hoy\b`,
		`\b(emitida|generada)\s+hoy\b`,
	)
	generalQuestionPatterns = compileAll(
		`\b(qué es|que es|cómo funciona|como funciona)\b`,
		`\b(diferencia|diferencias)\b`,
		`\b(ayuda|dudas?|help)\b`,
		`\bigv\b`,
		`\b(explicame|explícame)\b`,
		`\b(cómo|como)\s+(emitir|hacer)\b`,
	)
	greetingPatterns = compileAll(
		`^(hola|hey|hi|buenos días|buenas tardes|buenas noches|buenas)[\s!.,]*$`,
	)
	productSearchPatterns = compileAll(
		`\b(busca|buscar|encuentra|encontrar|filtrar|hay|tiene|tengo|existe)\b`,
	)

	bareSmallInt = regexp.MustCompile(`^\d{1,2}$`)
	looseDNI     = regexp.MustCompile(`\b\d{8}\b`)
	looseRUC     = regexp.MustCompile(`\b[12]0\d{9}\b`)
	pricedItem   = regexp.MustCompile(`\d+\s+\w+\s+(a|@|por)\s+\d+`)
	detailRef    = regexp.MustCompile(`\d+|última|ultimo`)
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

func matchAny(text string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// IsConfirmation reports whether text is an affirmative utterance. Exposed
// for the orchestrator's confirmation/cancellation gates, which need this
// check outside the full priority pipeline.
func IsConfirmation(text string) bool {
	return matchAny(text, affirmativePatterns)
}

// IsCancellation reports whether text is a negative/cancellation utterance.
func IsCancellation(text string) bool {
	return matchAny(text, negativePatterns)
}

// hasActiveEmission mirrors session.EmissionData.HasAnyField, named to match
// the classifier's own vocabulary for the rule ordering below.
func hasActiveEmission(s *session.Session) bool {
	return s.Emission.HasAnyField()
}

// Classify implements the fourteen-rule priority pipeline. Rules are tried
// top-down; the first match wins. Confidence is cosmetic, used only for
// logging.
func Classify(utterance string, s *session.Session) (Intent, float64) {
	text := strings.TrimSpace(utterance)
	lower := strings.ToLower(text)
	ctx := conversationContext(s)

	// Rule 1: product-detail affirmation.
	if ctx == session.CtxProductDetail && matchAny(text, affirmativePatterns) {
		return QueryProducts, 0.95
	}

	// Rule 2: bare small integer, resolved against context.
	if bareSmallInt.MatchString(text) {
		switch ctx {
		case session.CtxProducts, session.CtxSearchResults:
			return QueryProducts, 0.95
		case session.CtxHistory, session.CtxTodayEmissions:
			return QueryHistory, 0.95
		}
	}

	// Rule 3: search-in-products fallback.
	if ctx == session.CtxProducts {
		if matchAny(text, productSearchPatterns) || len(text) > 2 {
			if !matchAny(text, emissionPatterns) && !matchAny(text, historyPatterns) {
				return QueryProducts, 0.9
			}
		}
	}

	// Rule 4: pending confirmation.
	if s.AwaitingConfirmation {
		if matchAny(text, affirmativePatterns) {
			return Confirmation, 0.95
		}
		if matchAny(text, negativePatterns) {
			return Cancel, 0.95
		}
	}

	// Rule 5: active emission.
	if hasActiveEmission(s) {
		if matchAny(text, negativePatterns) && len(text) < 15 {
			return Cancel, 0.9
		}
		if looseDNI.MatchString(text) || looseRUC.MatchString(text) {
			return EmitInvoice, 0.85
		}
		if pricedItem.MatchString(lower) {
			return EmitInvoice, 0.85
		}
	}

	// Rule 6: history cues.
	if matchAny(text, historyPatterns) {
		return QueryHistory, 0.9
	}
	if strings.Contains(lower, "detalle") && detailRef.MatchString(lower) {
		return QueryHistory, 0.9
	}

	// Rule 7: general-question cues.
	if matchAny(text, generalQuestionPatterns) || (strings.Contains(text, "?") && len(text) > 10) {
		if !matchAny(text, emissionPatterns) {
			return GeneralQuestion, 0.9
		}
	}

	// Rule 8: short greeting.
	if len(text) < 25 && matchAny(text, greetingPatterns) {
		return Greeting, 0.9
	}

	// Rule 9: product cues.
	if matchAny(text, productsPatterns) {
		return QueryProducts, 0.9
	}
	if matchAny(text, productSearchPatterns) && strings.Contains(lower, "producto") {
		return QueryProducts, 0.85
	}

	// Rule 10: emission cues.
	if matchAny(text, emissionPatterns) {
		return EmitInvoice, 0.85
	}

	// Rule 11: loose DNI/RUC with emission context.
	hasDNI := looseDNI.MatchString(text)
	hasRUC := looseRUC.MatchString(text)
	if hasDNI || hasRUC {
		if hasActiveEmission(s) || strings.Contains(lower, "factura") || strings.Contains(lower, "boleta") {
			return EmitInvoice, 0.75
		}
	}

	// Rule 12: client cues.
	if matchAny(text, clientsPatterns) {
		return QueryClients, 0.9
	}

	// Rule 13: context fallback.
	if ctx == session.CtxProducts && !matchAny(text, emissionPatterns) {
		return QueryProducts, 0.7
	}
	if ctx == session.CtxHistory && !matchAny(text, emissionPatterns) {
		return QueryHistory, 0.7
	}

	// Rule 14: fallback.
	if strings.Contains(text, "?") {
		return GeneralQuestion, 0.6
	}
	return Unknown, 0.5
}

// conversationContext returns the session's explicit ConvContext, falling
// back to inferring one from the last few assistant turns when no explicit
// context was stamped.
func conversationContext(s *session.Session) session.ConversationContextKind {
	if s.ConvContext.Kind != "" && s.ConvContext.Kind != session.CtxNone {
		return s.ConvContext.Kind
	}

	recent := s.LastAssistantMessages(4)
	for i := len(recent) - 1; i >= 0; i-- {
		content := strings.ToLower(recent[i].Content)
		switch {
		case strings.Contains(content, "tus productos"):
			return session.CtxProducts
		case strings.Contains(content, "historial") || strings.Contains(content, "últimas emisiones"):
			return session.CtxHistory
		case strings.Contains(content, "emisiones de hoy"):
			return session.CtxTodayEmissions
		case strings.Contains(content, "resultados para"):
			return session.CtxSearchResults
		case strings.Contains(content, "producto #") && strings.Contains(content, "¿deseas emitir"):
			return session.CtxProductDetail
		}
	}
	return session.CtxNone
}

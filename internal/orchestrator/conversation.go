package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tinred-labs/jack/internal/classify"
	"github.com/tinred-labs/jack/internal/llmreply"
	"github.com/tinred-labs/jack/internal/session"
	"github.com/tinred-labs/jack/internal/transcript/phonetic"
)

var (
	searchPattern  = regexp.MustCompile(`(?i)^(?:busca(?:r)?|encuentra(?:r)?|filtrar?|hay|tiene[ns]?|tengo|existe[n]?)\s+(.+)`)
	searchStripper = regexp.MustCompile(`(?i)^(un|una|el|la|los|las|mis|en|productos?)\s+`)
	detailPattern  = regexp.MustCompile(`(?i)(?:detalle|detalles|info)\s+(?:de\s+)?(?:la|el)\s+(\d+)|(?:la|el)\s+(\d+)\b|(?:número|num|#)\s*(\d+)`)
)

// phoneticMatcher is used when a product search yields zero substring hits —
// a last attempt at matching a misheard/mistyped product name before giving
// up. Configured with the package's default thresholds.
var phoneticMatcher = phonetic.New()

// handleQuery answers everything that isn't an active emission: product
// browsing, client/history lookups, and general questions.
func (o *Orchestrator) handleQuery(ctx context.Context, utterance string, intent classify.Intent, sess *session.Session) string {
	lower := strings.ToLower(strings.TrimSpace(utterance))
	ctxKind := sess.ConvContext.Kind

	if ctxKind == session.CtxProductDetail && sess.ConvContext.SelectedProduct != nil && classify.IsConfirmation(lower) {
		return o.startEmissionWithProduct(sess)
	}

	if n, ok := parseBareNumber(utterance); ok {
		return o.handleNumberSelection(n, sess)
	}

	if term, ok := extractSearchTerm(lower); ok {
		return o.searchProducts(term, sess)
	}

	if ctxKind == session.CtxSearchResults && len(lower) > 2 && !isCommand(lower) {
		return o.searchProducts(lower, sess)
	}

	if n, ok := extractDetailNumber(lower); ok {
		return o.historyDetail(n, sess)
	}

	if asksForLastOrToday(lower) {
		if len(sess.SessionEmissions) > 0 {
			return formatTodayEmissionDetail(sess.SessionEmissions[len(sess.SessionEmissions)-1])
		}
		if len(sess.Context.History) > 0 {
			return o.historyDetail(1, sess)
		}
		return "No tienes emisiones registradas."
	}

	if strings.Contains(lower, "diferencia") && (strings.Contains(lower, "factura") || strings.Contains(lower, "boleta")) {
		return invoiceDifferenceExplanation
	}

	if intent == classify.QueryProducts || strings.Contains(lower, "producto") {
		return o.listProducts(sess, lower)
	}

	if intent == classify.QueryHistory {
		return o.listHistory(sess)
	}

	if intent == classify.GeneralQuestion {
		return o.handleGeneralQuestion(ctx, utterance, sess)
	}

	return o.queryLLM(ctx, utterance, sess)
}

func (o *Orchestrator) handleNumberSelection(n int, sess *session.Session) string {
	ctxKind := sess.ConvContext.Kind

	switch ctxKind {
	case session.CtxSearchResults:
		results := sess.ConvContext.SearchResults
		if n >= 1 && n <= len(results) {
			return o.showProductDetail(results[n-1], n, sess)
		}
		return fmt.Sprintf("No encontré el resultado #%d. Hay %d resultados.", n, len(results))
	case session.CtxHistory:
		if n >= 1 && n <= len(sess.Context.History) {
			sess.ConvContext = session.ConversationContext{Kind: session.CtxHistory}
			return o.historyDetail(n, sess)
		}
		return fmt.Sprintf("No encontré la emisión #%d.", n)
	case session.CtxProducts:
		if n >= 1 && n <= len(sess.Context.Products) {
			return o.showProductDetail(sess.Context.Products[n-1], n, sess)
		}
		return fmt.Sprintf("No encontré el producto #%d.", n)
	case session.CtxTodayEmissions:
		if n >= 1 && n <= len(sess.SessionEmissions) {
			return formatTodayEmissionDetail(sess.SessionEmissions[n-1])
		}
	}
	return fmt.Sprintf("No entendí el #%d. ¿Qué deseas ver?\n📦 Productos | 📊 Historial", n)
}

func (o *Orchestrator) showProductDetail(product session.Product, index int, sess *session.Session) string {
	p := product
	sess.ConvContext = session.ConversationContext{Kind: session.CtxProductDetail, SelectedProduct: &p}

	var b strings.Builder
	fmt.Fprintf(&b, "📦 **Producto #%d**\n\n", index)
	fmt.Fprintf(&b, "📋 **Nombre:** %s\n", product.Description)
	fmt.Fprintf(&b, "💰 **Precio:** S/%.2f\n", product.PriceFloat())
	if product.Code != "" {
		fmt.Fprintf(&b, "🏷️ **Código:** %s\n", product.Code)
	}
	b.WriteString("\n¿Deseas emitir un comprobante con este producto? (Sí/No)")
	return b.String()
}

func (o *Orchestrator) startEmissionWithProduct(sess *session.Session) string {
	product := sess.ConvContext.SelectedProduct
	if product == nil {
		return "No hay producto seleccionado. ¿Qué producto deseas emitir?"
	}

	sess.ConvContext = session.ConversationContext{Kind: session.CtxEmission}
	sess.Emission.PendingItems = append(sess.Emission.PendingItems, session.PendingItem{
		Quantity:    "1",
		Description: product.Description,
	})
	sess.Emission.ApplyPriceToPending(fmt.Sprintf("%.2f", product.PriceFloat()))

	return fmt.Sprintf(`✅ Producto seleccionado: **%s** (S/%.2f)

¿Qué tipo de comprobante deseas?
📄 **Factura** (requiere RUC)
🧾 **Boleta** (DNI o RUC)

Escribe "Factura" o "Boleta":`, product.Description, product.PriceFloat())
}

func (o *Orchestrator) searchProducts(term string, sess *session.Session) string {
	products := sess.Context.Products
	if len(products) == 0 {
		return "📦 No tienes productos registrados."
	}

	termLower := strings.ToLower(term)
	var matches []session.Product
	for _, p := range products {
		if strings.Contains(strings.ToLower(p.Description), termLower) {
			matches = append(matches, p)
		}
	}

	if len(matches) == 0 {
		if corrected, _, ok := phoneticMatcher.Match(term, productNames(products)); ok {
			for _, p := range products {
				if strings.EqualFold(p.Description, corrected) {
					matches = append(matches, p)
				}
			}
		}
	}

	if len(matches) == 0 {
		sess.ConvContext = session.ConversationContext{Kind: session.CtxProducts}
		return fmt.Sprintf(`🔍 No encontré productos con "%s".

Tienes %d productos en total.

💡 Prueba con otro término o "ver productos" para la lista.`, term, len(products))
	}

	sess.ConvContext = session.ConversationContext{Kind: session.CtxSearchResults, SearchResults: matches}

	var b strings.Builder
	fmt.Fprintf(&b, "🔍 **Resultados para \"%s\"** (%d):\n\n", term, len(matches))
	limit := min(len(matches), 10)
	for i, p := range matches[:limit] {
		fmt.Fprintf(&b, "%d. %s", i+1, p.Description)
		if p.Price != "" && p.Price != "0.00" {
			fmt.Fprintf(&b, " - S/%s", p.Price)
		}
		b.WriteString("\n")
	}
	if len(matches) > 10 {
		fmt.Fprintf(&b, "\n... y %d más.", len(matches)-10)
	}
	b.WriteString("\n\n💡 Escribe un número para ver detalle y emitir.")
	return b.String()
}

func productNames(products []session.Product) []string {
	names := make([]string, len(products))
	for i, p := range products {
		names[i] = p.Description
	}
	return names
}

func (o *Orchestrator) historyDetail(index int, sess *session.Session) string {
	history := sess.Context.History
	if len(history) == 0 {
		return "No tienes historial."
	}
	if index < 1 || index > len(history) {
		return fmt.Sprintf("No encontré la emisión #%d.", index)
	}
	h := history[index-1]
	sess.ConvContext = session.ConversationContext{Kind: session.CtxHistory}

	return fmt.Sprintf(`📋 **Detalle de emisión #%d**

📄 **Número:** %s-%s
👤 **Cliente:** %s
💰 **Total:** S/%s
📅 **Fecha:** %s

💡 Escribe otro número para ver otra emisión.`, index, h.Serie, h.Numero, h.Cliente, h.Total, h.Fecha)
}

func formatTodayEmissionDetail(rec session.EmissionRecord) string {
	label := "Boleta"
	emoji := "🧾"
	if rec.DocKind == session.DocInvoice {
		label = "Factura"
		emoji = "📄"
	}
	symbol := "S/"
	if rec.Currency == session.USD {
		symbol = "$"
	}
	pdf := rec.PDFURL
	if pdf == "" {
		pdf = "No disponible"
	}
	return fmt.Sprintf(`%s **Detalle de %s**

📋 **Número:** %s
📅 **Hora:** %s
📦 **Items:** %d producto(s)
💰 **Total:** %s%.2f
📥 **PDF:** %s

¿Necesitas algo más?`, emoji, label, rec.FullNumber, rec.Timestamp.Format("15:04"), rec.ItemCount, symbol, rec.Total, pdf)
}

func (o *Orchestrator) listProducts(sess *session.Session, lower string) string {
	products := sess.Context.Products
	if len(products) == 0 {
		return "📦 No tienes productos. Puedes emitir indicando los productos directamente."
	}
	if term, ok := extractSearchTerm(lower); ok {
		return o.searchProducts(term, sess)
	}

	sess.ConvContext = session.ConversationContext{Kind: session.CtxProducts, SearchResults: products}

	total := len(products)
	showing := min(total, 15)

	var b strings.Builder
	fmt.Fprintf(&b, "📦 **Tus productos** (%d de %d):\n\n", showing, total)
	for i, p := range products[:showing] {
		name := p.Description
		if len(name) > 50 {
			name = name[:47] + "..."
		}
		fmt.Fprintf(&b, "%d. %s", i+1, name)
		if p.Price != "" && p.Price != "0.00" {
			fmt.Fprintf(&b, " - S/%s", p.Price)
		}
		b.WriteString("\n")
	}
	if total > 15 {
		fmt.Fprintf(&b, "\n... y %d más.", total-15)
	}
	b.WriteString("\n\n💡 Escribe un número (1-15) o busca: \"busca laptop\"")
	return b.String()
}

func (o *Orchestrator) listHistory(sess *session.Session) string {
	sess.ConvContext = session.ConversationContext{Kind: session.CtxHistory}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 **Tu historial, %s**\n\n", sess.UserName)

	if len(sess.SessionEmissions) > 0 {
		fmt.Fprintf(&b, "📅 **Hoy** (%d):\n", len(sess.SessionEmissions))
		for i, e := range sess.SessionEmissions {
			emoji := "🧾"
			if e.DocKind == session.DocInvoice {
				emoji = "📄"
			}
			fmt.Fprintf(&b, "   %d. %s %s: S/%.2f\n", i+1, emoji, e.FullNumber, e.Total)
		}
		b.WriteString("\n")
	}

	if len(sess.Context.History) > 0 {
		limit := min(len(sess.Context.History), 10)
		fmt.Fprintf(&b, "📋 **Últimas emisiones** (%d):\n\n", limit)
		for i, h := range sess.Context.History[:limit] {
			fmt.Fprintf(&b, "%d. 👤 %s\n   💰 S/%s | 📅 %s\n\n", i+1, h.Cliente, h.Total, h.Fecha)
		}
		b.WriteString("💡 Escribe un número para ver detalle (ej: \"5\")")
	} else if len(sess.SessionEmissions) == 0 {
		b.WriteString("No tienes emisiones previas.")
	}

	return b.String()
}

const invoiceDifferenceExplanation = `📋 **Factura vs Boleta**

📄 **FACTURA**
• RUC (11 dígitos)
• Deduce IGV
• Para empresas

🧾 **BOLETA**
• DNI o RUC
• NO deduce IGV
• Para personas

¿Te ayudo a emitir?`

func (o *Orchestrator) handleGeneralQuestion(ctx context.Context, utterance string, sess *session.Session) string {
	lower := strings.ToLower(utterance)

	if strings.Contains(lower, "diferencia") {
		return invoiceDifferenceExplanation
	}
	if strings.Contains(lower, "igv") {
		return `📋 **IGV** = 18%

• Se incluye en el precio
• Facturas permiten deducirlo
• Boletas NO

¿Algo más?`
	}
	if strings.Contains(lower, "cómo emitir") || strings.Contains(lower, "como emitir") {
		return `📋 **Cómo emitir:**

1️⃣ Tipo (Factura/Boleta)
2️⃣ DNI o RUC
3️⃣ Productos con precio

💡 Ejemplo: "Boleta DNI 12345678, 2 camisas a 50"

¿Empezamos?`
	}
	return o.queryLLM(ctx, utterance, sess)
}

// queryLLM falls back to the configured LLM collaborator, grounding its
// answer in the cached catalogue/client/history context and the last few
// turns. If no collaborator is configured or it fails, Jack degrades to a
// short canned prompt rather than surfacing an error.
func (o *Orchestrator) queryLLM(ctx context.Context, utterance string, sess *session.Session) string {
	if o.llm == nil {
		return fmt.Sprintf("¿En qué te ayudo, %s?", sess.UserName)
	}

	var history []llmreply.Turn
	for _, m := range lastMessages(sess, 6) {
		history = append(history, llmreply.Turn{Role: m.Role, Content: m.Content})
	}

	reply, err := o.llm.Reply(ctx, llmreply.Request{
		Question:       utterance,
		History:        history,
		CatalogSummary: summarizeContext(sess.Context),
	})
	if err != nil {
		o.logger.Warn("llm reply unavailable", "phone", sess.Phone, "error", err)
		return fmt.Sprintf("¿En qué te ayudo, %s?", sess.UserName)
	}
	return strings.TrimSpace(reply)
}

func summarizeContext(ctx session.UserContext) string {
	var b strings.Builder
	limit := min(len(ctx.Products), 20)
	if limit > 0 {
		b.WriteString("Productos:\n")
		for _, p := range ctx.Products[:limit] {
			fmt.Fprintf(&b, "- %s (S/%s)\n", p.Description, p.Price)
		}
	}
	limit = min(len(ctx.Clients), 20)
	if limit > 0 {
		b.WriteString("Clientes:\n")
		for _, c := range ctx.Clients[:limit] {
			fmt.Fprintf(&b, "- %s (%s)\n", c.Name, c.Document)
		}
	}
	limit = min(len(ctx.History), 10)
	if limit > 0 {
		b.WriteString("Historial reciente:\n")
		for _, h := range ctx.History[:limit] {
			fmt.Fprintf(&b, "- %s-%s: %s, S/%s\n", h.Serie, h.Numero, h.Cliente, h.Total)
		}
	}
	return b.String()
}

func lastMessages(sess *session.Session, n int) []session.Message {
	if len(sess.Messages) <= n {
		return sess.Messages
	}
	return sess.Messages[len(sess.Messages)-n:]
}

func (o *Orchestrator) handleGreeting(sess *session.Session) string {
	name := sess.UserName
	if name == "" {
		name = "amigo"
	}
	sess.ConvContext.Clear()

	if len(sess.SessionEmissions) > 0 {
		var total float64
		var lines strings.Builder
		for _, e := range sess.SessionEmissions {
			emoji := "🧾"
			if e.DocKind == session.DocInvoice {
				emoji = "📄"
			}
			fmt.Fprintf(&lines, "  • %s %s: S/%.2f\n", emoji, e.FullNumber, e.Total)
			total += e.Total
		}
		return fmt.Sprintf(`¡Hola %s! 👋

📊 **Hoy** (%d):
%s
💰 Total: S/%.2f

¿Qué necesitas?`, name, len(sess.SessionEmissions), lines.String(), total)
	}

	return fmt.Sprintf("¡Hola %s! 👋\n\n📄 Factura | 🧾 Boleta | 📦 Productos (%d) | 📊 Historial", name, len(sess.Context.Products))
}

func parseBareNumber(text string) (int, bool) {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) == 0 || len(trimmed) > 2 {
		return 0, false
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, false
	}
	return n, true
}

func extractSearchTerm(lower string) (string, bool) {
	m := searchPattern.FindStringSubmatch(lower)
	if m == nil {
		return "", false
	}
	term := searchStripper.ReplaceAllString(strings.TrimSpace(m[1]), "")
	if len(term) <= 1 {
		return "", false
	}
	return term, true
}

func isCommand(lower string) bool {
	for _, c := range []string{"historial", "productos", "factura", "boleta", "emitir", "cancelar", "ayuda", "menú", "menu"} {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}

func extractDetailNumber(lower string) (int, bool) {
	m := detailPattern.FindStringSubmatch(lower)
	if m == nil {
		return 0, false
	}
	for _, g := range m[1:] {
		if g != "" {
			n, err := strconv.Atoi(g)
			if err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func asksForLastOrToday(lower string) bool {
	for _, kw := range []string{"última", "ultimo", "ultima", "último", "de hoy", "la de hoy", "el de hoy", "emitida hoy", "generada hoy"} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

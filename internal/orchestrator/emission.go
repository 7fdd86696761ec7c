package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tinred-labs/jack/internal/classify"
	"github.com/tinred-labs/jack/internal/extract"
	"github.com/tinred-labs/jack/internal/issuing"
	"github.com/tinred-labs/jack/internal/session"
)

// Issuer is the subset of the issuing-service client the emission state
// machine needs: client validation and the emission call itself. Session
// authentication and context loading go through session.Store instead.
type Issuer interface {
	CheckClient(ctx context.Context, phone, documentNumber string) (issuing.CheckClientResult, error)
	Emit(ctx context.Context, req issuing.EmitRequest) (issuing.EmitResponse, error)
}

var bareNumber = regexp.MustCompile(`^\d+(?:[.,]\d{1,2})?$`)

// handleEmission drives the in-progress emission draft one turn forward —
// the IDLE → ASK_ID_OR_ITEMS → VALIDATING_CLIENT → COLLECT → REVIEW →
// ISSUING state machine.
func (o *Orchestrator) handleEmission(ctx context.Context, sess *session.Session, utterance string) string {
	lower := strings.ToLower(strings.TrimSpace(utterance))
	emission := &sess.Emission

	if classify.IsCancellation(lower) {
		sess.ResetEmission()
		return cancelledMsg
	}

	if sess.AwaitingClientReconfirmation {
		return o.handleClientReconfirmation(ctx, sess, utterance)
	}

	if classify.IsConfirmation(lower) {
		missing := emission.MissingFields()
		switch {
		case len(missing) == 0 && emission.ClientValidated:
			return o.generateSummary(sess)
		case len(missing) == 0 || onlyClientValidationMissing(missing):
			return o.validateAndContinue(ctx, sess)
		}
	}

	if strings.EqualFold(lower, "ruc") || strings.EqualFold(lower, "con ruc") || strings.EqualFold(lower, "es ruc") {
		return "Dame el RUC (11 dígitos).\nEjemplo: 20161541991"
	}
	if strings.EqualFold(lower, "dni") || strings.EqualFold(lower, "con dni") || strings.EqualFold(lower, "es dni") {
		return "Dame el DNI (8 dígitos).\nEjemplo: 12345678"
	}

	partial := extract.Extract(utterance, sess)
	extract.Update(sess, partial)

	if len(partial.PendingItems) > 0 && len(partial.Items) == 0 {
		item := partial.PendingItems[0]
		return fmt.Sprintf("📝 %s %s\n\n¿Precio unitario?", item.Quantity, item.Description)
	}

	if len(emission.PendingItems) > 0 {
		if price, ok := extractBarePrice(utterance); ok {
			emission.ApplyPriceToPending(price)
		}
	}

	if isInitialRequest(lower, emission) {
		return initialInstructions(emission.DocKind)
	}

	if emission.DocKind == session.DocNone {
		switch emission.IDType {
		case session.IDDNI:
			emission.DocKind = session.DocReceipt
		case session.IDRUC:
			return fmt.Sprintf("RUC %s\n\n¿Factura o Boleta?", emission.IDNumber)
		default:
			if emission.IDNumber != "" || len(emission.Items) > 0 {
				return "¿Factura o Boleta?"
			}
		}
	}

	missing := emission.MissingFields()

	if emission.IDNumber != "" && !emission.ClientValidated {
		if len(emission.Items) > 0 || onlyItemsMissing(missing) {
			return o.validateAndContinue(ctx, sess)
		}
	}

	if len(missing) == 0 {
		if emission.ClientValidated {
			return o.generateSummary(sess)
		}
		return o.validateAndContinue(ctx, sess)
	}

	if partial.IDNumber == "" && len(partial.Items) == 0 && len(partial.PendingItems) == 0 {
		if contains(missing, "id_number") {
			return "Escribe el DNI (8 dígitos) o RUC (11 dígitos):"
		}
		if contains(missing, "items") {
			return "¿Qué productos?\n📝 Ej: 2 laptops a 2500"
		}
	}

	return o.requestData(missing, sess)
}

func onlyClientValidationMissing(missing []string) bool {
	return len(missing) == 1 && missing[0] == "client_validation"
}

func onlyItemsMissing(missing []string) bool {
	for _, m := range missing {
		if m != "items" {
			return false
		}
	}
	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// isInitialRequest reports whether utterance is nothing more than "factura"
// or "boleta" with the draft still empty — the cue to show the initial
// validation instructions rather than asking for missing slots. It checks
// the session's accumulated emission, not the current utterance's own
// extraction: a bare "boleta" after the draft already has an item (e.g. the
// catalogue-seeded flow) must fall through to the targeted missing-field
// prompt instead of restarting the instructions.
func isInitialRequest(lower string, emission *session.EmissionData) bool {
	for _, p := range []string{"factura", "boleta", "emitir factura", "emitir boleta"} {
		if lower == p || strings.HasPrefix(lower, p) {
			return emission.IDNumber == "" && len(emission.Items) == 0
		}
	}
	return false
}

func initialInstructions(kind session.DocKind) string {
	if kind == session.DocInvoice {
		return `📄 ¡Perfecto! Vamos con la Factura.

Primero necesito validar al cliente.

1️⃣ Dame el RUC (11 dígitos) para verificar que existe en el sistema
2️⃣ Luego me indicas los productos con sus precios

💡 Puedes enviarme todo junto si lo prefieres:
"RUC 20161541991, 3 laptops a 2500"

¿Cuál es el RUC del cliente?`
	}
	return `🧾 ¡Perfecto! Vamos con la Boleta.

Primero necesito validar al cliente.

1️⃣ Dame el DNI (8 dígitos) o RUC para verificar que existe
2️⃣ Luego me indicas los productos con sus precios

💡 Puedes enviarme todo junto si lo prefieres:
"DNI 12345678, 2 camisas a 50"

¿Cuál es el documento del cliente?`
}

// validateAndContinue calls the issuing service's check-client RPC and
// branches on hit vs miss. A genuine transport failure is reported
// apologetically and leaves ClientValidated untouched so the next turn can
// retry.
func (o *Orchestrator) validateAndContinue(ctx context.Context, sess *session.Session) string {
	emission := &sess.Emission
	if emission.IDNumber == "" {
		return "Necesito el DNI o RUC del cliente."
	}

	start := time.Now()
	result, err := o.issuer.CheckClient(ctx, sess.Phone, emission.IDNumber)
	if o.metrics != nil {
		o.metrics.RecordIssuingCall(ctx, "check_client", time.Since(start).Seconds(), err)
	}
	if err != nil {
		o.logger.Warn("check-client failed", "phone", sess.Phone, "error", err)
		return "❌ No pude validar el cliente en este momento. Intenta de nuevo en unos segundos."
	}

	if result.Found {
		emission.ClientValidated = true
		emission.ClientName = result.Name

		if len(emission.Items) > 0 {
			return o.generateSummary(sess)
		}

		idLabel := "DNI"
		if emission.IDType == session.IDRUC {
			idLabel = "RUC"
		}
		return fmt.Sprintf(`✅ Cliente encontrado:
👤 %s
📋 %s: %s

¿Qué productos incluimos?
📝 Ej: 2 laptops a 2500, 3 cables a 50`, result.Name, idLabel, emission.IDNumber)
	}

	sess.AwaitingClientReconfirmation = true

	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ El documento %s no fue encontrado en el sistema.\n", emission.IDNumber)
	if len(emission.Items) > 0 {
		b.WriteString("\n📦 Ya tengo registrados tus productos:\n")
		for _, item := range emission.Items {
			fmt.Fprintf(&b, "  • %sx %s @ S/%s\n", item.Quantity, item.Description, item.UnitPrice)
		}
		b.WriteString("\nPor favor confirma el número de documento correcto para continuar.\n💡 Escribe el DNI (8 dígitos) o RUC (11 dígitos)")
	} else {
		b.WriteString("\nPor favor verifica e ingresa el número correcto.\n💡 DNI: 8 dígitos | RUC: 11 dígitos")
	}
	return b.String()
}

// handleClientReconfirmation processes a turn while awaiting a corrected
// DNI/RUC after a check-client miss.
func (o *Orchestrator) handleClientReconfirmation(ctx context.Context, sess *session.Session, utterance string) string {
	lower := strings.ToLower(strings.TrimSpace(utterance))
	if classify.IsCancellation(lower) {
		sess.ResetEmission()
		return cancelledMsg
	}

	cleaned := extract.DespaceDigits(utterance)
	partial := extract.Extract(cleaned, sess)
	if partial.IDNumber == "" {
		return `No pude identificar un documento válido.

📝 Ingresa:
• DNI: 8 dígitos (ej: 12345678)
• RUC: 11 dígitos (ej: 20161541991)

O escribe "cancelar" para salir.`
	}

	sess.Emission.IDType = partial.IDType
	sess.Emission.SetIDNumber(partial.IDNumber)
	sess.AwaitingClientReconfirmation = false

	return o.validateAndContinue(ctx, sess)
}

func (o *Orchestrator) generateSummary(sess *session.Session) string {
	emission := &sess.Emission

	docLabel := "BOLETA 🧾"
	if emission.DocKind == session.DocInvoice {
		docLabel = "FACTURA 📄"
	}
	idLabel := "DNI"
	if emission.IDType == session.IDRUC {
		idLabel = "RUC"
	}
	symbol := "S/"
	if emission.Currency == session.USD {
		symbol = "$"
	}

	var clientLine string
	if emission.ClientName != "" {
		clientLine = "\n👤 " + emission.ClientName
	}

	var items strings.Builder
	for _, item := range emission.Items {
		fmt.Fprintf(&items, "  • %sx %s @ %s%s = %s%.2f\n", item.Quantity, item.Description, symbol, item.UnitPrice, symbol, item.Subtotal())
	}

	sess.AwaitingConfirmation = true

	return fmt.Sprintf(`📋 %s

📋 %s: %s%s

📦 Productos:
%s━━━━━━━━━━━━
💵 TOTAL: %s%.2f

¿Emitir? ✅ Sí / ❌ No`, docLabel, idLabel, emission.IDNumber, clientLine, items.String(), symbol, emission.Total())
}

func (o *Orchestrator) requestData(missing []string, sess *session.Session) string {
	emission := &sess.Emission

	if contains(missing, "id_number") {
		return "¿DNI o RUC del cliente?"
	}
	if contains(missing, "items") {
		if emission.ClientValidated && emission.ClientName != "" {
			return fmt.Sprintf(`👤 Cliente: %s
📋 Doc: %s

¿Qué productos?
📝 Ej: 2 laptops a 2500`, emission.ClientName, emission.IDNumber)
		}
		return "¿Qué productos?\n📝 Ej: 2 laptops a 2500"
	}
	if contains(missing, "item_price") {
		return "¿Precio unitario para los productos pendientes?"
	}
	if contains(missing, "client_validation") {
		return o.validateAndContinue(context.Background(), sess)
	}
	return "Falta: " + strings.Join(missing, ", ")
}

func extractBarePrice(utterance string) (string, bool) {
	fields := strings.Fields(utterance)
	for _, f := range fields {
		cleaned := strings.Trim(f, ".,")
		if bareNumber.MatchString(cleaned) {
			v, err := strconv.ParseFloat(strings.ReplaceAll(cleaned, ",", "."), 64)
			if err != nil {
				continue
			}
			return fmt.Sprintf("%.2f", v), true
		}
	}
	return "", false
}

// executeEmission performs the issuing call once the draft is complete and
// the client is validated. On success it appends an EmissionRecord and
// resets the draft atomically. On a rejection (ErrIssuanceRejected) it
// resets the draft and shows the service's message; on any other failure
// the draft is left untouched so the merchant can retry.
func (o *Orchestrator) executeEmission(ctx context.Context, sess *session.Session) string {
	emission := &sess.Emission

	if !emission.IsComplete() {
		missing := emission.MissingFields()
		return o.requestData(missing, sess)
	}

	quantities := make([]string, len(emission.Items))
	descriptions := make([]string, len(emission.Items))
	prices := make([]string, len(emission.Items))
	for i, item := range emission.Items {
		quantities[i] = item.Quantity
		descriptions[i] = item.Description
		prices[i] = item.UnitPrice
	}

	start := time.Now()
	resp, err := o.issuer.Emit(ctx, issuing.EmitRequest{
		IDEmpresa:         sess.ClientData.IDEmpresa,
		IDEstablecimiento: sess.ClientData.IDEstablecimiento,
		IDUsuario:         sess.ClientData.IDUsuario,
		DocKind:           string(emission.DocKind),
		Currency:          string(emission.Currency),
		IDType:            string(emission.IDType),
		ClientID:          emission.IDNumber,
		Quantities:        quantities,
		Descriptions:      descriptions,
		UnitPrices:        prices,
		Total:             fmt.Sprintf("%.2f", emission.Total()),
	})
	if o.metrics != nil {
		o.metrics.RecordIssuingCall(ctx, "emit", time.Since(start).Seconds(), err)
	}
	if err != nil {
		if errors.Is(err, issuing.ErrIssuanceRejected) {
			if o.metrics != nil {
				o.metrics.RecordEmissionOutcome(ctx, "rejected", string(emission.DocKind))
			}
			msg := "⚠️ Error: " + err.Error()
			sess.ResetEmission()
			return msg
		}
		o.logger.Error("emission failed", "phone", sess.Phone, "error", err)
		if o.metrics != nil {
			o.metrics.RecordEmissionOutcome(ctx, "error", string(emission.DocKind))
		}
		return "❌ Error inesperado al emitir. Intenta de nuevo."
	}

	docLabel := "Boleta"
	if emission.DocKind == session.DocInvoice {
		docLabel = "Factura"
	}
	total := emission.Total()
	fullNumber := resp.FullNumber()

	var clientInfo string
	if emission.ClientName != "" {
		clientInfo = "\n👤 " + emission.ClientName
	}

	rec := session.EmissionRecord{
		Timestamp:  sess.LastActivity,
		DocKind:    emission.DocKind,
		FullNumber: fullNumber,
		ClientID:   emission.IDNumber,
		Total:      total,
		Currency:   emission.Currency,
		PDFURL:     resp.PDF,
		ItemCount:  len(emission.Items),
	}
	sess.SessionEmissions = append(sess.SessionEmissions, rec)
	if o.audit != nil {
		o.audit.Record(ctx, o.logger, sess.Phone, rec)
	}
	if o.metrics != nil {
		o.metrics.RecordEmissionOutcome(ctx, "issued", string(emission.DocKind))
	}

	sess.ResetEmission()

	return fmt.Sprintf(`✅ ¡%s emitida!%s

📄 %s
💰 S/%.2f

📥 PDF: %s

¿Algo más?`, docLabel, clientInfo, fullNumber, total, resp.PDF)
}

// Package orchestrator implements Jack's per-message decision pipeline: the
// priority-ordered sequence of gates (audio, auth, terms, active emission,
// classification) that turns one inbound utterance into one reply.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tinred-labs/jack/internal/audio"
	"github.com/tinred-labs/jack/internal/audit"
	"github.com/tinred-labs/jack/internal/classify"
	"github.com/tinred-labs/jack/internal/extract"
	"github.com/tinred-labs/jack/internal/llmreply"
	"github.com/tinred-labs/jack/internal/observe"
	"github.com/tinred-labs/jack/internal/session"
)

const cancelledMsg = "❌ Emisión cancelada. ¿En qué más te ayudo?"

// Orchestrator wires together the session store, the issuing-service client,
// and the optional speech/LLM collaborators into the single HandleMessage
// entry point the transport layer calls.
type Orchestrator struct {
	store       *session.Store
	issuer      Issuer
	transcriber audio.Transcriber
	llm         llmreply.Provider
	audit       *audit.Sink
	metrics     *observe.Metrics
	logger      *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTranscriber enables the audio gate: inbound voice notes are
// transcribed before the rest of the pipeline runs.
func WithTranscriber(t audio.Transcriber) Option {
	return func(o *Orchestrator) { o.transcriber = t }
}

// WithLLM enables the free-form question fallback.
func WithLLM(p llmreply.Provider) Option {
	return func(o *Orchestrator) { o.llm = p }
}

// WithAudit mirrors successful emissions to sink. A nil sink is accepted and
// behaves as if the option were never applied.
func WithAudit(sink *audit.Sink) Option {
	return func(o *Orchestrator) { o.audit = sink }
}

// WithMetrics records intent classifications, issuing-service RPC latency,
// and emission outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an Orchestrator. store, issuer and logger must be non-nil.
func New(store *session.Store, issuer Issuer, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{store: store, issuer: issuer, logger: logger}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// HandleMessage runs one inbound message through the full gate pipeline and
// returns Jack's reply. text and audioData are mutually complementary: at
// least one should carry content. audioData/mimeType are ignored if no
// transcriber is configured.
func (o *Orchestrator) HandleMessage(ctx context.Context, phone, text string, audioData []byte, mimeType string) (string, error) {
	if len(audioData) > 0 && o.transcriber != nil {
		transcribeCtx, cancel := context.WithTimeout(ctx, audio.Deadline)
		transcript, err := o.transcriber.Transcribe(transcribeCtx, audioData, mimeType)
		cancel()
		if err != nil {
			o.logger.Warn("transcription failed", "phone", phone, "error", err)
			return "No pude entender el audio. ¿Puedes escribirlo?", nil
		}
		text = transcript
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "No recibí ningún mensaje. ¿En qué te ayudo?", nil
	}

	handle, err := o.store.Acquire(phone)
	if err != nil {
		if errors.Is(err, session.ErrSessionBusy) {
			return "Todavía estoy procesando tu mensaje anterior, dame un momento.", nil
		}
		return "", fmt.Errorf("orchestrator: acquire session: %w", err)
	}
	defer handle.Release()

	sess := handle.Session()
	reply := o.process(ctx, sess, text)

	sess.AddMessage("assistant", reply, o.store.MaxHistory())
	sess.Touch()
	return reply, nil
}

// process implements the nine-step priority pipeline once the session is
// locked and the utterance is non-empty.
func (o *Orchestrator) process(ctx context.Context, sess *session.Session, text string) string {
	if !sess.Authenticated {
		if err := o.store.Authenticate(ctx, sess); err != nil {
			if errors.Is(err, session.ErrAuthNotRegistered) {
				return "Este número no está registrado. Contacta a soporte para activar tu cuenta."
			}
			o.logger.Error("authenticate failed", "phone", sess.Phone, "error", err)
			return "No pude verificar tu cuenta en este momento. Intenta de nuevo en unos minutos."
		}
		o.store.LoadContext(ctx, sess, true)
		return fmt.Sprintf(`¡Hola %s! 👋 Soy Jack, tu asistente de facturación.

Tienes %d productos registrados.

Antes de empezar, acepta los términos de uso: https://tinred.pe/terminos

Responde "Acepto" para continuar.`, sess.UserName, len(sess.Context.Products))
	}

	if !sess.TermsAccepted {
		lower := strings.ToLower(text)
		if classify.IsConfirmation(lower) {
			sess.TermsAccepted = true
			return fmt.Sprintf("¡Perfecto, %s! 🎉\n\n📄 Factura | 🧾 Boleta | 📦 Productos | 📊 Historial\n\n¿Qué necesitas?", sess.UserName)
		}
		if classify.IsCancellation(lower) {
			return "Sin aceptar los términos no puedo emitir comprobantes a tu nombre. Avísame cuando quieras continuar."
		}
		return "Necesito que aceptes los términos de uso antes de continuar: https://tinred.pe/terminos\n\nResponde \"Acepto\"."
	}

	o.store.LoadContext(ctx, sess, false)
	sess.AddMessage("user", text, o.store.MaxHistory())

	if sess.AwaitingClientReconfirmation {
		return o.handleClientReconfirmation(ctx, sess, text)
	}

	if sess.AwaitingConfirmation {
		lower := strings.ToLower(strings.TrimSpace(text))
		switch {
		case classify.IsConfirmation(lower):
			sess.AwaitingConfirmation = false
			return o.executeEmission(ctx, sess)
		case classify.IsCancellation(lower):
			sess.ResetEmission()
			return cancelledMsg
		}
	}

	if sess.Emission.HasAnyField() {
		return o.handleEmission(ctx, sess, text)
	}

	if extract.HasEmissionShape(text) {
		return o.handleEmission(ctx, sess, text)
	}

	intent, confidence := classify.Classify(text, sess)
	o.logger.Debug("classified", "phone", sess.Phone, "intent", intent, "confidence", confidence)
	if o.metrics != nil {
		o.metrics.RecordIntent(ctx, string(intent))
	}

	switch intent {
	case classify.EmitInvoice:
		return o.handleEmission(ctx, sess, text)
	case classify.Greeting:
		return o.handleGreeting(sess)
	case classify.Cancel:
		sess.ResetEmission()
		return cancelledMsg
	case classify.QueryProducts, classify.QueryClients, classify.QueryHistory, classify.GeneralQuestion:
		return o.handleQuery(ctx, text, intent, sess)
	default:
		lower := strings.ToLower(strings.TrimSpace(text))
		if recentTurnsMentionEmission(sess) && classify.IsConfirmation(lower) {
			return o.handleEmission(ctx, sess, text)
		}
		return fmt.Sprintf("No entendí bien tu mensaje, %s. Puedo ayudarte con:\n\n📄 Emitir factura/boleta\n📦 Ver productos\n📊 Ver historial\n❓ Responder preguntas", sess.UserName)
	}
}

// recentTurnsMentionEmission reports whether any of the assistant's last
// three replies raised the topic of emitting a document — the signal that a
// bare affirmation like "sí" is continuing that draft rather than starting
// a fresh, unrelated conversation.
func recentTurnsMentionEmission(sess *session.Session) bool {
	for _, msg := range sess.LastAssistantMessages(3) {
		lower := strings.ToLower(msg.Content)
		if strings.Contains(lower, "factura") || strings.Contains(lower, "boleta") ||
			strings.Contains(lower, "emitir") || strings.Contains(lower, "confirmas") {
			return true
		}
	}
	return false
}

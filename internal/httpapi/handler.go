// Package httpapi is Jack's single front door: one HTTP endpoint that takes
// a caller's phone number plus a text or audio message and returns the
// assistant's reply, plus the health/readiness endpoints wired alongside it.
package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/tinred-labs/jack/internal/observe"
)

// MessageHandler is the subset of *orchestrator.Orchestrator the HTTP layer
// needs, named to keep this package decoupled from the orchestrator's
// concrete type for testing.
type MessageHandler interface {
	HandleMessage(ctx context.Context, phone, text string, audioData []byte, mimeType string) (string, error)
}

// messageRequest is the inbound JSON payload for POST /v1/messages.
type messageRequest struct {
	Phone    string `json:"phone"`
	Text     string `json:"text,omitempty"`
	Audio    string `json:"audio,omitempty"` // base64-encoded
	MimeType string `json:"mime_type,omitempty"`
}

// messageResponse is the JSON reply for POST /v1/messages.
type messageResponse struct {
	Reply string `json:"reply"`
}

// errorResponse is the JSON body for a non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves Jack's message endpoint.
type Handler struct {
	orchestrator MessageHandler
	logger       *slog.Logger
	metrics      *observe.Metrics
}

// New creates a Handler. orchestrator and logger must be non-nil. metrics
// may be nil, in which case request duration is not recorded.
func New(orchestrator MessageHandler, logger *slog.Logger, metrics *observe.Metrics) *Handler {
	return &Handler{orchestrator: orchestrator, logger: logger, metrics: metrics}
}

// Register adds Jack's routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/messages", h.handleMessage)
}

func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Phone == "" {
		writeError(w, http.StatusBadRequest, "phone is required")
		return
	}

	var audioData []byte
	if req.Audio != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.Audio)
		if err != nil {
			writeError(w, http.StatusBadRequest, "audio must be base64-encoded")
			return
		}
		audioData = decoded
	}

	reply, err := h.orchestrator.HandleMessage(r.Context(), req.Phone, req.Text, audioData, req.MimeType)
	if err != nil {
		h.logger.Error("handle message failed", "phone", req.Phone, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if h.metrics != nil {
		h.metrics.HTTPRequestDuration.Record(r.Context(), time.Since(start).Seconds())
	}

	writeJSON(w, http.StatusOK, messageResponse{Reply: reply})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encode failure"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeHandler struct {
	reply string
	err   error

	gotPhone    string
	gotText     string
	gotAudio    []byte
	gotMimeType string
}

func (f *fakeHandler) HandleMessage(ctx context.Context, phone, text string, audioData []byte, mimeType string) (string, error) {
	f.gotPhone = phone
	f.gotText = text
	f.gotAudio = audioData
	f.gotMimeType = mimeType
	return f.reply, f.err
}

func testHandler(fh *fakeHandler) *Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(fh, logger, nil)
}

func newRequest(t *testing.T, body any) *http.Request {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(buf))
}

func TestHandleMessage_Success(t *testing.T) {
	fh := &fakeHandler{reply: "¡Hola! ¿En qué te ayudo?"}
	h := testHandler(fh)
	mux := http.NewServeMux()
	h.Register(mux)

	req := newRequest(t, messageRequest{Phone: "987654321", Text: "hola"})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp messageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Reply != fh.reply {
		t.Errorf("reply = %q, want %q", resp.Reply, fh.reply)
	}
	if fh.gotPhone != "987654321" || fh.gotText != "hola" {
		t.Errorf("unexpected forwarded args: phone=%q text=%q", fh.gotPhone, fh.gotText)
	}
}

func TestHandleMessage_DecodesBase64Audio(t *testing.T) {
	fh := &fakeHandler{reply: "ok"}
	h := testHandler(fh)
	mux := http.NewServeMux()
	h.Register(mux)

	req := newRequest(t, messageRequest{Phone: "1", Audio: "aGVsbG8=", MimeType: "audio/ogg"})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if string(fh.gotAudio) != "hello" {
		t.Errorf("decoded audio = %q, want %q", fh.gotAudio, "hello")
	}
	if fh.gotMimeType != "audio/ogg" {
		t.Errorf("mime type = %q, want audio/ogg", fh.gotMimeType)
	}
}

func TestHandleMessage_MissingPhoneIsRejected(t *testing.T) {
	h := testHandler(&fakeHandler{})
	mux := http.NewServeMux()
	h.Register(mux)

	req := newRequest(t, messageRequest{Text: "hola"})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleMessage_MalformedBodyIsRejected(t *testing.T) {
	h := testHandler(&fakeHandler{})
	mux := http.NewServeMux()
	h.Register(mux)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleMessage_InvalidBase64AudioIsRejected(t *testing.T) {
	h := testHandler(&fakeHandler{})
	mux := http.NewServeMux()
	h.Register(mux)

	req := newRequest(t, messageRequest{Phone: "1", Audio: "not-base64!!"})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleMessage_OrchestratorErrorYields500(t *testing.T) {
	fh := &fakeHandler{err: errors.New("boom")}
	h := testHandler(fh)
	mux := http.NewServeMux()
	h.Register(mux)

	req := newRequest(t, messageRequest{Phone: "1", Text: "hola"})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

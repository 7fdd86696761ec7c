// Package mock provides a test double for audio.Transcriber.
package mock

import (
	"context"

	"github.com/tinred-labs/jack/internal/audio"
)

var _ audio.Transcriber = (*Transcriber)(nil)

// Transcriber returns a canned transcript or error, recording every call it
// receives for assertions.
type Transcriber struct {
	Transcript string
	Err        error
	Calls      []Call
}

// Call records the arguments of a single Transcribe invocation.
type Call struct {
	Data     []byte
	MimeType string
}

func (m *Transcriber) Transcribe(ctx context.Context, data []byte, mimeType string) (string, error) {
	m.Calls = append(m.Calls, Call{Data: data, MimeType: mimeType})
	if m.Err != nil {
		return "", m.Err
	}
	return m.Transcript, nil
}

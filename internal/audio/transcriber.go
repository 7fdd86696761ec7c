// Package audio defines the narrow audio-transcription collaborator used by
// the orchestrator's audio gate: a single function from raw bytes + MIME
// type to text. Concrete backends live in subpackages (whisper, mock) and
// are selected by configuration; the orchestrator never imports a provider
// SDK directly.
package audio

import (
	"context"
	"errors"
	"time"
)

// ErrTranscriptionFailed is returned by Transcriber.Transcribe on any
// failure — decode error, unsupported format, deadline exceeded. The
// orchestrator surfaces it verbatim and does not mutate session state.
var ErrTranscriptionFailed = errors.New("audio: transcription failed")

// Deadline is the maximum time a transcription call may take: on expiry the
// engine must return ErrTranscriptionFailed and leave the session
// untouched.
const Deadline = 30 * time.Second

// Transcriber converts an audio clip into text. Implementations must
// respect ctx cancellation and should bound their own work to Deadline
// even if the caller did not set a shorter one.
type Transcriber interface {
	// Transcribe decodes data (in the format named by mimeType, e.g.
	// "audio/ogg") and returns the best-effort transcript. Implementations
	// that cannot recognise mimeType should wrap it into
	// ErrTranscriptionFailed rather than panicking.
	Transcribe(ctx context.Context, data []byte, mimeType string) (string, error)
}

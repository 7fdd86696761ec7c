// Package whisper implements audio.Transcriber over a local whisper.cpp
// model via the CGO bindings, for on-prem deployments that cannot send
// customer voice clips to a third-party transcription API.
//
// This adapter deliberately does not shell out to an external decoder or
// probe the filesystem for one. It expects the bytes handed to Transcribe
// to already be 16-bit PCM mono 16kHz WAV; a minimal RIFF header parser
// strips the container before inference.
package whisper

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tinred-labs/jack/internal/audio"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Compile-time assertion that Transcriber satisfies audio.Transcriber.
var _ audio.Transcriber = (*Transcriber)(nil)

// Transcriber wraps a whisper.cpp model loaded once at startup and shared
// across every transcription call. It is safe for concurrent use — each
// call opens its own whisper.cpp context.
type Transcriber struct {
	model    whisperlib.Model
	language string
}

// Option configures a Transcriber.
type Option func(*Transcriber)

// WithLanguage sets the BCP-47 language hint passed to whisper.cpp.
// Defaults to "es" (Spanish), matching Jack's user base.
func WithLanguage(lang string) Option {
	return func(t *Transcriber) { t.language = lang }
}

// New loads the whisper.cpp model at modelPath. The caller must call Close
// when the Transcriber is no longer needed.
func New(modelPath string, opts ...Option) (*Transcriber, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	t := &Transcriber{model: model, language: "es"}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Close releases the whisper model.
func (t *Transcriber) Close() error {
	if t.model != nil {
		return t.model.Close()
	}
	return nil
}

// Transcribe decodes a WAV container (PCM16 mono, any sample rate accepted
// by the header) and runs whisper.cpp inference. Any MIME type containing
// "wav" (e.g. "audio/wav", "audio/x-wav") is accepted; anything else returns
// audio.ErrTranscriptionFailed.
func (t *Transcriber) Transcribe(ctx context.Context, data []byte, mimeType string) (string, error) {
	if ctx.Err() != nil {
		return "", fmt.Errorf("%w: %w", audio.ErrTranscriptionFailed, ctx.Err())
	}
	if !strings.Contains(mimeType, "wav") {
		return "", fmt.Errorf("%w: unsupported mime type %q", audio.ErrTranscriptionFailed, mimeType)
	}

	pcm, err := stripWAVHeader(data)
	if err != nil {
		return "", fmt.Errorf("%w: %w", audio.ErrTranscriptionFailed, err)
	}
	samples := pcmToFloat32Mono(pcm)

	wctx, err := t.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("%w: create context: %w", audio.ErrTranscriptionFailed, err)
	}
	if err := wctx.SetLanguage(t.language); err != nil {
		return "", fmt.Errorf("%w: set language: %w", audio.ErrTranscriptionFailed, err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("%w: process audio: %w", audio.ErrTranscriptionFailed, err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: read segment: %w", audio.ErrTranscriptionFailed, err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	result := strings.Join(parts, " ")
	if result == "" {
		return "", fmt.Errorf("%w: no speech recognised", audio.ErrTranscriptionFailed)
	}
	return result, nil
}

// stripWAVHeader validates the RIFF/WAVE header and returns the raw PCM
// data bytes following the "data" chunk.
func stripWAVHeader(wav []byte) ([]byte, error) {
	if len(wav) < 44 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, errors.New("not a RIFF/WAVE file")
	}
	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))
		bodyStart := offset + 8
		if chunkID == "data" {
			end := bodyStart + chunkSize
			if end > len(wav) {
				end = len(wav)
			}
			return wav[bodyStart:end], nil
		}
		offset = bodyStart + chunkSize
		if chunkSize%2 == 1 {
			offset++
		}
	}
	return nil, errors.New("no data chunk found")
}

// pcmToFloat32Mono converts 16-bit signed little-endian mono PCM to float32
// samples normalised to [-1.0, 1.0].
func pcmToFloat32Mono(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}

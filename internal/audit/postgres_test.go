package audit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/tinred-labs/jack/internal/session"
)

func TestNilSinkRecordAndCloseAreNoOps(t *testing.T) {
	var s *Sink

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := session.EmissionRecord{
		Timestamp:  time.Now(),
		DocKind:    session.DocReceipt,
		FullNumber: "B001-123",
		Total:      10.5,
		Currency:   session.PEN,
	}

	// A nil *Sink must be safe to use unconditionally: no panic, no write.
	s.Record(context.Background(), logger, "987654321", rec)
	s.Close()
}

// Package audit provides an optional PostgreSQL sink that mirrors
// successful emissions for bookkeeping. It is strictly best-effort: a
// write failure is logged and swallowed, never surfaced to the merchant,
// because the issuing service — not this sink — is the system of record.
package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tinred-labs/jack/internal/session"
)

const ddlEmissionRecords = `
CREATE TABLE IF NOT EXISTS emission_records (
    id           BIGSERIAL    PRIMARY KEY,
    phone        TEXT         NOT NULL,
    doc_kind     TEXT         NOT NULL,
    full_number  TEXT         NOT NULL,
    client_id    TEXT         NOT NULL DEFAULT '',
    total        DOUBLE PRECISION NOT NULL,
    currency     TEXT         NOT NULL,
    pdf_url      TEXT         NOT NULL DEFAULT '',
    item_count   INT          NOT NULL DEFAULT 0,
    emitted_at   TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_emission_records_phone
    ON emission_records (phone);
`

// Sink mirrors EmissionRecords to PostgreSQL for auditing/reporting. The nil
// *Sink is valid and a no-op, so callers can wire it unconditionally when no
// DSN is configured.
type Sink struct {
	pool *pgxpool.Pool
}

// NewSink connects to dsn and ensures the emission_records table exists.
func NewSink(ctx context.Context, dsn string) (*Sink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlEmissionRecords); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return &Sink{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Sink) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// Record inserts rec for phone. Failures are logged via logger and never
// returned — the caller's reply to the merchant must not depend on this
// sink being available.
func (s *Sink) Record(ctx context.Context, logger *slog.Logger, phone string, rec session.EmissionRecord) {
	if s == nil || s.pool == nil {
		return
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO emission_records
			(phone, doc_kind, full_number, client_id, total, currency, pdf_url, item_count, emitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		phone, rec.DocKind, rec.FullNumber, rec.ClientID, rec.Total, rec.Currency, rec.PDFURL, rec.ItemCount, rec.Timestamp)
	if err != nil {
		logger.Warn("audit: failed to record emission", "phone", phone, "error", err)
	}
}

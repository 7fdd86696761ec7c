package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tinred-labs/jack/internal/observe"
)

// ErrAuthNotRegistered is returned by Store.Authenticate when the issuing
// service does not recognise the caller's phone number.
var ErrAuthNotRegistered = errors.New("session: phone not registered with issuing service")

// ErrSessionBusy is returned by Store.Acquire when the caller's session is
// already being processed by another in-flight message. This implementation
// rejects rather than queues or coalesces concurrent messages for the same
// caller.
var ErrSessionBusy = errors.New("session: a message for this caller is already being processed")

// IssuingService is the subset of the issuing-service client that the
// Store needs: identify plus the three context-loading calls. The emission
// state machine needs a larger surface (check-client, emit) and defines its
// own narrower interface in the orchestrator package — Store has no reason
// to see those calls.
type IssuingService interface {
	Identify(ctx context.Context, phone string) (ClientIdentification, error)
	Products(ctx context.Context, phone string) ([]Product, error)
	Clients(ctx context.Context, phone string) ([]Client, error)
	History(ctx context.Context, phone string) ([]HistoryEntry, error)
}

// Config tunes Store behavior. Zero-value fields are replaced with defaults
// by NewStore.
type Config struct {
	// SessionTTL is how long a session may sit idle before the next message
	// from that phone gets a fresh Session instead of the old one.
	SessionTTL time.Duration
	// ContextRefresh is the freshness window for a cached UserContext.
	ContextRefresh time.Duration
	// MaxHistory bounds Session.Messages. Default 20.
	MaxHistory int
}

func (c *Config) setDefaults() {
	if c.SessionTTL <= 0 {
		c.SessionTTL = 24 * time.Hour
	}
	if c.ContextRefresh <= 0 {
		c.ContextRefresh = 60 * time.Minute
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = 20
	}
}

// entry pairs a Session with the mutex that serializes access to it.
type entry struct {
	mu      sync.Mutex
	session *Session
}

// Store is the in-memory caller→Session map. It serializes operations per
// phone key with a per-entry mutex; a single coarse lock only protects the
// map itself, not session mutation.
type Store struct {
	cfg     Config
	issuing IssuingService
	logger  *slog.Logger
	metrics *observe.Metrics

	mapMu   sync.Mutex
	entries map[string]*entry
}

// Option configures a Store.
type Option func(*Store)

// WithMetrics reports the number of tracked sessions on Metrics.ActiveSessions.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// NewStore creates a Store. issuing and logger must be non-nil.
func NewStore(issuing IssuingService, logger *slog.Logger, cfg Config, opts ...Option) *Store {
	cfg.setDefaults()
	s := &Store{
		cfg:     cfg,
		issuing: issuing,
		logger:  logger,
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxHistory exposes the configured history bound for callers (the
// orchestrator) that append messages directly.
func (s *Store) MaxHistory() int {
	return s.cfg.MaxHistory
}

// ContextRefresh exposes the configured context freshness window.
func (s *Store) ContextRefresh() time.Duration {
	return s.cfg.ContextRefresh
}

// Handle is a held lock on a single caller's Session. Callers must call
// Release exactly once, from the same goroutine, as soon as the turn is
// fully processed — including after the up-to-90s issuance call, which
// deliberately holds the lock so a second message from the same caller
// never interleaves with an in-flight emission.
type Handle struct {
	store *Store
	e     *entry
}

// Session returns the locked Session. It is only valid between Acquire and
// Release.
func (h *Handle) Session() *Session {
	return h.e.session
}

// Release unlocks the session for the next message from this caller.
func (h *Handle) Release() {
	h.e.mu.Unlock()
}

// normalizePhone strips a trailing "@..." suffix (WhatsApp-JID-shaped
// inputs) and surrounding whitespace.
func normalizePhone(phone string) string {
	if i := strings.IndexByte(phone, '@'); i >= 0 {
		phone = phone[:i]
	}
	return strings.TrimSpace(phone)
}

// Acquire normalizes phone, gets-or-creates its Session, and locks it for
// exclusive use by the caller. If the session is already locked by another
// in-flight message it returns ErrSessionBusy immediately rather than
// blocking.
//
// Soft TTL expiry is applied here, under the per-entry lock, so expiry and
// mutation never race.
func (s *Store) Acquire(phone string) (*Handle, error) {
	clean := normalizePhone(phone)

	s.mapMu.Lock()
	e, ok := s.entries[clean]
	if !ok {
		e = &entry{session: NewSession(clean)}
		s.entries[clean] = e
		s.logger.Info("new session", "phone", clean)
		if s.metrics != nil {
			s.metrics.ActiveSessions.Add(context.Background(), 1)
		}
	}
	s.mapMu.Unlock()

	if !e.mu.TryLock() {
		return nil, ErrSessionBusy
	}

	if ok && time.Since(e.session.LastActivity) > s.cfg.SessionTTL {
		s.logger.Info("session expired, renewing", "phone", clean)
		e.session = NewSession(clean)
	}

	return &Handle{store: s, e: e}, nil
}

// Authenticate calls the issuing service's identify endpoint for sess's
// phone. On success it populates ClientData/UserName, sets Authenticated,
// and clears TermsAccepted (a freshly (re-)authenticated session must accept
// terms again). On ErrAuthNotRegistered the session is left unauthenticated
// and the error is returned for the orchestrator to surface verbatim.
// Any other (transient) error is also returned verbatim and does not
// mutate sess.
func (s *Store) Authenticate(ctx context.Context, sess *Session) error {
	if sess.Authenticated {
		return nil
	}

	start := time.Now()
	id, err := s.issuing.Identify(ctx, sess.Phone)
	if s.metrics != nil {
		s.metrics.RecordIssuingCall(ctx, "identify", time.Since(start).Seconds(), err)
	}
	if err != nil {
		s.logger.Warn("authenticate failed", "phone", sess.Phone, "error", err)
		return err
	}

	sess.ClientData = id
	sess.UserName = id.Name
	sess.Authenticated = true
	sess.TermsAccepted = false
	s.logger.Info("authenticated", "phone", sess.Phone, "name", id.Name)
	return nil
}

// LoadContext is idempotent: if force is false and the cached UserContext is
// fresh, it returns immediately without any network calls. Otherwise it
// fetches products, clients and history concurrently and installs the
// result as a single atomic replacement of sess.Context. A partial failure
// degrades to an empty list for that slice rather than aborting the whole
// load; the context is still stamped loaded so the caller is never retried
// storm-fashion.
func (s *Store) LoadContext(ctx context.Context, sess *Session, force bool) {
	if !force && sess.Context.IsLoaded() && !sess.Context.IsStale(s.cfg.ContextRefresh) {
		return
	}

	var products []Product
	var clients []Client
	var history []HistoryEntry

	var g errgroup.Group
	g.Go(func() error {
		start := time.Now()
		p, err := s.issuing.Products(ctx, sess.Phone)
		if s.metrics != nil {
			s.metrics.RecordIssuingCall(ctx, "products", time.Since(start).Seconds(), err)
		}
		if err != nil {
			s.logger.Warn("load products failed", "phone", sess.Phone, "error", err)
			return nil
		}
		products = p
		return nil
	})
	g.Go(func() error {
		start := time.Now()
		c, err := s.issuing.Clients(ctx, sess.Phone)
		if s.metrics != nil {
			s.metrics.RecordIssuingCall(ctx, "clients", time.Since(start).Seconds(), err)
		}
		if err != nil {
			s.logger.Warn("load clients failed", "phone", sess.Phone, "error", err)
			return nil
		}
		clients = c
		return nil
	})
	g.Go(func() error {
		start := time.Now()
		h, err := s.issuing.History(ctx, sess.Phone)
		if s.metrics != nil {
			s.metrics.RecordIssuingCall(ctx, "history", time.Since(start).Seconds(), err)
		}
		if err != nil {
			s.logger.Warn("load history failed", "phone", sess.Phone, "error", err)
			return nil
		}
		history = h
		return nil
	})
	_ = g.Wait()

	sess.Context = UserContext{
		Products: products,
		Clients:  clients,
		History:  history,
		LoadedAt: time.Now(),
	}
	s.logger.Info("context loaded",
		"phone", sess.Phone,
		"products", len(products),
		"clients", len(clients),
		"history", len(history),
	)
}

// RecordEmission appends record to sess's in-session emission list.
func (s *Store) RecordEmission(sess *Session, record EmissionRecord) {
	sess.SessionEmissions = append(sess.SessionEmissions, record)
	s.logger.Info("emission recorded",
		"phone", sess.Phone,
		"serie_numero", record.FullNumber,
		"total", fmt.Sprintf("%.2f", record.Total),
	)
}

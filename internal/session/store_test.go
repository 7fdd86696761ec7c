package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/tinred-labs/jack/internal/observe"
)

type fakeIssuing struct {
	identify func(ctx context.Context, phone string) (ClientIdentification, error)
	calls    int
}

func (f *fakeIssuing) Identify(ctx context.Context, phone string) (ClientIdentification, error) {
	return f.identify(ctx, phone)
}
func (f *fakeIssuing) Products(ctx context.Context, phone string) ([]Product, error) {
	f.calls++
	return []Product{{Description: "Laptop HP", Price: "2500.00"}}, nil
}
func (f *fakeIssuing) Clients(ctx context.Context, phone string) ([]Client, error) {
	f.calls++
	return nil, nil
}
func (f *fakeIssuing) History(ctx context.Context, phone string) ([]HistoryEntry, error) {
	f.calls++
	return nil, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStorePhoneNormalization(t *testing.T) {
	fi := &fakeIssuing{identify: func(ctx context.Context, phone string) (ClientIdentification, error) {
		return ClientIdentification{Name: "Acme"}, nil
	}}
	store := NewStore(fi, testLogger(), Config{})

	h1, err := store.Acquire("51987654321@s.whatsapp.net")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	phone := h1.Session().Phone
	h1.Release()

	h2, err := store.Acquire(" 51987654321 ")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer h2.Release()

	if h2.Session().Phone != phone {
		t.Fatalf("expected same normalized session, got %q vs %q", h2.Session().Phone, phone)
	}
}

func TestStoreAcquireRejectsWhenBusy(t *testing.T) {
	fi := &fakeIssuing{identify: func(ctx context.Context, phone string) (ClientIdentification, error) {
		return ClientIdentification{}, nil
	}}
	store := NewStore(fi, testLogger(), Config{})

	h, err := store.Acquire("987654321")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer h.Release()

	if _, err := store.Acquire("987654321"); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("expected ErrSessionBusy, got %v", err)
	}
}

func TestStoreSessionExpiresAfterTTL(t *testing.T) {
	fi := &fakeIssuing{identify: func(ctx context.Context, phone string) (ClientIdentification, error) {
		return ClientIdentification{}, nil
	}}
	store := NewStore(fi, testLogger(), Config{SessionTTL: time.Millisecond})

	h, err := store.Acquire("1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	h.Session().Authenticated = true
	h.Session().LastActivity = time.Now().Add(-time.Hour)
	h.Release()

	h2, err := store.Acquire("1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer h2.Release()

	if h2.Session().Authenticated {
		t.Fatal("expected expired session to be replaced with a fresh one")
	}
}

func TestStoreAuthenticateNotRegistered(t *testing.T) {
	fi := &fakeIssuing{identify: func(ctx context.Context, phone string) (ClientIdentification, error) {
		return ClientIdentification{}, ErrAuthNotRegistered
	}}
	store := NewStore(fi, testLogger(), Config{})
	h, err := store.Acquire("1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer h.Release()

	err = store.Authenticate(context.Background(), h.Session())
	if !errors.Is(err, ErrAuthNotRegistered) {
		t.Fatalf("expected ErrAuthNotRegistered, got %v", err)
	}
	if h.Session().Authenticated {
		t.Fatal("session must remain unauthenticated")
	}
}

func TestStoreLoadContextIsIdempotentWithinRefreshWindow(t *testing.T) {
	fi := &fakeIssuing{identify: func(ctx context.Context, phone string) (ClientIdentification, error) {
		return ClientIdentification{}, nil
	}}
	store := NewStore(fi, testLogger(), Config{ContextRefresh: time.Hour})
	h, err := store.Acquire("1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer h.Release()

	store.LoadContext(context.Background(), h.Session(), false)
	if fi.calls != 3 {
		t.Fatalf("expected 3 calls on first load, got %d", fi.calls)
	}

	store.LoadContext(context.Background(), h.Session(), false)
	if fi.calls != 3 {
		t.Fatalf("expected no additional calls within refresh window, got %d", fi.calls)
	}
}

func TestStoreWithMetricsTracksActiveSessionsAndIssuingCalls(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	fi := &fakeIssuing{identify: func(ctx context.Context, phone string) (ClientIdentification, error) {
		return ClientIdentification{Name: "Acme"}, nil
	}}
	store := NewStore(fi, testLogger(), Config{}, WithMetrics(metrics))

	h, err := store.Acquire("1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := store.Authenticate(context.Background(), h.Session()); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	store.LoadContext(context.Background(), h.Session(), true)
	h.Release()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}

	var activeSessions, issuingCalls *metricdata.Metrics
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			switch sm.Metrics[i].Name {
			case "jack.sessions.active":
				activeSessions = &sm.Metrics[i]
			case "jack.issuing.call.duration":
				issuingCalls = &sm.Metrics[i]
			}
		}
	}
	if activeSessions == nil {
		t.Fatal("jack.sessions.active not recorded")
	}
	if sum, ok := activeSessions.Data.(metricdata.Sum[int64]); !ok || len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 1 {
		t.Errorf("unexpected active sessions gauge: %+v", activeSessions.Data)
	}
	if issuingCalls == nil {
		t.Fatal("jack.issuing.call.duration not recorded")
	}
	hist, ok := issuingCalls.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("jack.issuing.call.duration is not a histogram: %+v", issuingCalls.Data)
	}
	var totalCalls uint64
	for _, dp := range hist.DataPoints {
		totalCalls += dp.Count
	}
	if totalCalls != 4 {
		t.Errorf("expected 4 recorded issuing calls (identify + products/clients/history), got %d", totalCalls)
	}
}

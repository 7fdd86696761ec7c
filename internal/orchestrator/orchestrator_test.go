package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/tinred-labs/jack/internal/issuing"
	"github.com/tinred-labs/jack/internal/observe"
	"github.com/tinred-labs/jack/internal/session"
)

// fakeSessionIssuing backs session.Store in tests. identify is overridable
// per test; products/clients/history return whatever the test put in the
// matching field (empty by default). CheckClient/Emit live on fakeIssuer.
type fakeSessionIssuing struct {
	identify func(ctx context.Context, phone string) (session.ClientIdentification, error)
	products []session.Product
	clients  []session.Client
	history  []session.HistoryEntry
}

func (f *fakeSessionIssuing) Identify(ctx context.Context, phone string) (session.ClientIdentification, error) {
	if f.identify != nil {
		return f.identify(ctx, phone)
	}
	return session.ClientIdentification{IDEmpresa: "E1", IDEstablecimiento: "S1", IDUsuario: "U1", Name: "Merchant"}, nil
}
func (f *fakeSessionIssuing) Products(ctx context.Context, phone string) ([]session.Product, error) {
	return f.products, nil
}
func (f *fakeSessionIssuing) Clients(ctx context.Context, phone string) ([]session.Client, error) {
	return f.clients, nil
}
func (f *fakeSessionIssuing) History(ctx context.Context, phone string) ([]session.HistoryEntry, error) {
	return f.history, nil
}

// fakeIssuer backs the emission state machine's CheckClient/Emit calls.
type fakeIssuer struct {
	checkClient func(ctx context.Context, phone, documentNumber string) (issuing.CheckClientResult, error)
	emit        func(ctx context.Context, req issuing.EmitRequest) (issuing.EmitResponse, error)
	emitCalls   int
}

func (f *fakeIssuer) CheckClient(ctx context.Context, phone, documentNumber string) (issuing.CheckClientResult, error) {
	if f.checkClient != nil {
		return f.checkClient(ctx, phone, documentNumber)
	}
	return issuing.CheckClientResult{Found: true, Name: "Juan Perez"}, nil
}

func (f *fakeIssuer) Emit(ctx context.Context, req issuing.EmitRequest) (issuing.EmitResponse, error) {
	f.emitCalls++
	if f.emit != nil {
		return f.emit(ctx, req)
	}
	return issuing.EmitResponse{Success: "TRUE", Serie: "B001", Numero: "123", PDF: "https://pdf/1"}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// newTestOrchestrator wires a fresh Orchestrator over in-memory fakes,
// returning it alongside the store and issuer so individual tests can tweak
// behaviour (e.g. make CheckClient miss) before driving messages through it.
func newTestOrchestrator(t *testing.T, si *fakeSessionIssuing, fi *fakeIssuer, opts ...Option) *Orchestrator {
	t.Helper()
	store := session.NewStore(si, testLogger(), session.Config{})
	return New(store, fi, testLogger(), opts...)
}

// bootstrapped drives phone through the identify/terms-acceptance gates so
// subsequent messages land directly in the query/emission pipeline.
func bootstrapped(t *testing.T, o *Orchestrator, phone string) {
	t.Helper()
	ctx := context.Background()
	if _, err := o.HandleMessage(ctx, phone, "hola", nil, ""); err != nil {
		t.Fatalf("bootstrap greeting: %v", err)
	}
	reply, err := o.HandleMessage(ctx, phone, "acepto", nil, "")
	if err != nil {
		t.Fatalf("bootstrap terms: %v", err)
	}
	if strings.Contains(reply, "términos") {
		t.Fatalf("terms were not accepted: %q", reply)
	}
}

func TestHandleMessage_UnauthenticatedAsksForTerms(t *testing.T) {
	si := &fakeSessionIssuing{}
	o := newTestOrchestrator(t, si, &fakeIssuer{})

	reply, err := o.HandleMessage(context.Background(), "987654321", "hola", nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(reply, "términos") {
		t.Errorf("expected a terms-acceptance prompt, got %q", reply)
	}
}

func TestHandleMessage_NotRegisteredPhoneIsRejected(t *testing.T) {
	si := &fakeSessionIssuing{identify: func(ctx context.Context, phone string) (session.ClientIdentification, error) {
		return session.ClientIdentification{}, session.ErrAuthNotRegistered
	}}
	o := newTestOrchestrator(t, si, &fakeIssuer{})

	reply, err := o.HandleMessage(context.Background(), "1", "hola", nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(reply, "no está registrado") {
		t.Errorf("expected a not-registered message, got %q", reply)
	}
}

func TestHandleMessage_CancellingTermsDeclinesGracefully(t *testing.T) {
	si := &fakeSessionIssuing{}
	o := newTestOrchestrator(t, si, &fakeIssuer{})
	ctx := context.Background()

	if _, err := o.HandleMessage(ctx, "1", "hola", nil, ""); err != nil {
		t.Fatalf("greeting: %v", err)
	}
	reply, err := o.HandleMessage(ctx, "1", "no", nil, "")
	if err != nil {
		t.Fatalf("decline: %v", err)
	}
	if !strings.Contains(reply, "Sin aceptar") {
		t.Errorf("expected a decline acknowledgement, got %q", reply)
	}
}

func TestHandleMessage_EmptyUtteranceWithNoTranscriberIsRejected(t *testing.T) {
	si := &fakeSessionIssuing{}
	o := newTestOrchestrator(t, si, &fakeIssuer{})

	reply, err := o.HandleMessage(context.Background(), "1", "   ", nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(reply, "No recibí") {
		t.Errorf("expected an empty-message notice, got %q", reply)
	}
}

func TestHandleMessage_SessionBusyRejectsConcurrentMessage(t *testing.T) {
	si := &fakeSessionIssuing{}
	store := session.NewStore(si, testLogger(), session.Config{})
	o := New(store, &fakeIssuer{}, testLogger())

	handle, err := store.Acquire("1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer handle.Release()

	reply, err := o.HandleMessage(context.Background(), "1", "hola", nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(reply, "Todavía estoy procesando") {
		t.Errorf("expected a busy notice, got %q", reply)
	}
}

func TestHandleMessage_FullEmissionFlowEndToEnd(t *testing.T) {
	si := &fakeSessionIssuing{
		products: []session.Product{{Description: "Laptop", Price: "2500.00"}},
	}
	fi := &fakeIssuer{}
	o := newTestOrchestrator(t, si, fi)
	bootstrapped(t, o, "1")
	ctx := context.Background()

	reply, err := o.HandleMessage(ctx, "1", "boleta DNI 12345678, 2 laptops a 2500", nil, "")
	if err != nil {
		t.Fatalf("emission message: %v", err)
	}
	if !strings.Contains(reply, "¿Emitir?") {
		t.Fatalf("expected a review summary prompting for confirmation, got %q", reply)
	}
	if !strings.Contains(reply, "5000") {
		t.Errorf("expected the S/5000.00 total in the summary, got %q", reply)
	}

	reply, err = o.HandleMessage(ctx, "1", "sí", nil, "")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !strings.Contains(reply, "emitida") {
		t.Fatalf("expected a successful-issuance reply, got %q", reply)
	}
	if fi.emitCalls != 1 {
		t.Errorf("expected exactly one Emit call, got %d", fi.emitCalls)
	}
}

func TestHandleMessage_EmissionCancelledMidwayResetsDraft(t *testing.T) {
	si := &fakeSessionIssuing{}
	o := newTestOrchestrator(t, si, &fakeIssuer{})
	bootstrapped(t, o, "1")
	ctx := context.Background()

	if _, err := o.HandleMessage(ctx, "1", "boleta", nil, ""); err != nil {
		t.Fatalf("start emission: %v", err)
	}
	reply, err := o.HandleMessage(ctx, "1", "cancelar", nil, "")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !strings.Contains(reply, "cancelada") {
		t.Fatalf("expected a cancellation acknowledgement, got %q", reply)
	}

	// A fresh emission attempt must start from a clean slate.
	reply, err = o.HandleMessage(ctx, "1", "boleta", nil, "")
	if err != nil {
		t.Fatalf("restart emission: %v", err)
	}
	if strings.Contains(reply, "Factura") {
		t.Errorf("draft leaked invoice instructions after a boleta reset: %q", reply)
	}
}

func TestHandleMessage_ClientNotFoundAsksForReconfirmation(t *testing.T) {
	si := &fakeSessionIssuing{}
	fi := &fakeIssuer{checkClient: func(ctx context.Context, phone, doc string) (issuing.CheckClientResult, error) {
		if doc == "87654321" {
			return issuing.CheckClientResult{Found: true, Name: "Juan Perez"}, nil
		}
		return issuing.CheckClientResult{Found: false, Message: "no existe"}, nil
	}}
	o := newTestOrchestrator(t, si, fi)
	bootstrapped(t, o, "1")
	ctx := context.Background()

	reply, err := o.HandleMessage(ctx, "1", "boleta DNI 12345678, 2 laptops a 2500", nil, "")
	if err != nil {
		t.Fatalf("emission message: %v", err)
	}
	if !strings.Contains(reply, "no fue encontrado") {
		t.Fatalf("expected a not-found notice, got %q", reply)
	}

	reply, err = o.HandleMessage(ctx, "1", "DNI 87654321", nil, "")
	if err != nil {
		t.Fatalf("reconfirmation: %v", err)
	}
	if strings.Contains(reply, "no fue encontrado") {
		t.Errorf("expected the corrected DNI to pass validation, got %q", reply)
	}
}

func TestHandleMessage_IssuanceRejectionResetsDraft(t *testing.T) {
	si := &fakeSessionIssuing{}
	fi := &fakeIssuer{emit: func(ctx context.Context, req issuing.EmitRequest) (issuing.EmitResponse, error) {
		resp := issuing.EmitResponse{Success: "FALSE", Mensaje: "cliente con deuda pendiente"}
		return resp, fmt.Errorf("issuing: %w: %s", issuing.ErrIssuanceRejected, resp.Mensaje)
	}}
	store := session.NewStore(si, testLogger(), session.Config{})
	o := New(store, fi, testLogger())
	bootstrapped(t, o, "1")
	ctx := context.Background()

	if _, err := o.HandleMessage(ctx, "1", "boleta DNI 12345678, 2 laptops a 2500", nil, ""); err != nil {
		t.Fatalf("emission message: %v", err)
	}
	reply, err := o.HandleMessage(ctx, "1", "sí", nil, "")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !strings.Contains(reply, "Error") {
		t.Fatalf("expected a rejection notice, got %q", reply)
	}

	handle, err := store.Acquire("1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer handle.Release()
	emission := handle.Session().Emission
	if emission.IDNumber != "" || len(emission.Items) != 0 {
		t.Fatalf("expected the rejected draft to be reset, got IDNumber=%q items=%d", emission.IDNumber, len(emission.Items))
	}
}

func TestHandleMessage_QueryProductsListsCatalogue(t *testing.T) {
	si := &fakeSessionIssuing{products: []session.Product{
		{Description: "Laptop HP", Price: "2500.00"},
		{Description: "Mouse inalámbrico", Price: "45.00"},
	}}
	o := newTestOrchestrator(t, si, &fakeIssuer{})
	bootstrapped(t, o, "1")

	reply, err := o.HandleMessage(context.Background(), "1", "ver productos", nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(reply, "Laptop HP") {
		t.Errorf("expected the catalogue listing to include Laptop HP, got %q", reply)
	}
}

func TestHandleMessage_MetricsRecordIntentAndEmissionOutcome(t *testing.T) {
	metrics, reader := newTestMetrics(t)
	si := &fakeSessionIssuing{}
	fi := &fakeIssuer{}
	o := newTestOrchestrator(t, si, fi, WithMetrics(metrics))
	bootstrapped(t, o, "1")
	ctx := context.Background()

	if _, err := o.HandleMessage(ctx, "1", "boleta DNI 12345678, 2 laptops a 2500", nil, ""); err != nil {
		t.Fatalf("emission message: %v", err)
	}
	if _, err := o.HandleMessage(ctx, "1", "sí", nil, ""); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}

	var sawOutcomes, sawIssuingCalls bool
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			switch met.Name {
			case "jack.emission.outcomes":
				sawOutcomes = true
			case "jack.issuing.call.duration":
				sawIssuingCalls = true
			}
		}
	}
	if !sawOutcomes {
		t.Error("expected jack.emission.outcomes to have been recorded")
	}
	if !sawIssuingCalls {
		t.Error("expected jack.issuing.call.duration to have been recorded")
	}
}

func TestHandleMessage_CatalogueSeededDraftSkipsInitialInstructions(t *testing.T) {
	si := &fakeSessionIssuing{products: []session.Product{{Description: "Laptop", Price: "2500.00"}}}
	o := newTestOrchestrator(t, si, &fakeIssuer{})
	bootstrapped(t, o, "1")
	ctx := context.Background()

	if _, err := o.HandleMessage(ctx, "1", "ver productos", nil, ""); err != nil {
		t.Fatalf("list products: %v", err)
	}
	if _, err := o.HandleMessage(ctx, "1", "1", nil, ""); err != nil {
		t.Fatalf("select product: %v", err)
	}
	if _, err := o.HandleMessage(ctx, "1", "sí", nil, ""); err != nil {
		t.Fatalf("start emission with product: %v", err)
	}

	// The draft already has the catalogue item applied, so a bare "boleta"
	// must go straight to the targeted DNI/RUC prompt instead of repeating
	// the full first-time instructions.
	reply, err := o.HandleMessage(ctx, "1", "boleta", nil, "")
	if err != nil {
		t.Fatalf("boleta: %v", err)
	}
	if strings.Contains(reply, "Primero necesito validar al cliente") {
		t.Fatalf("expected the targeted missing-field prompt, got the first-time instructions: %q", reply)
	}
	if !strings.Contains(reply, "DNI") {
		t.Errorf("expected a DNI/RUC prompt, got %q", reply)
	}
}

func TestHandleMessage_UnknownIntentContinuesEmissionAfterBareAffirmation(t *testing.T) {
	si := &fakeSessionIssuing{}
	store := session.NewStore(si, testLogger(), session.Config{})
	o := New(store, &fakeIssuer{}, testLogger())
	bootstrapped(t, o, "1")
	ctx := context.Background()

	// Seed a clean recent-turn history whose only emission cue is the
	// assistant's own question, with no ConvContext stamped and no
	// AwaitingConfirmation/AwaitingClientReconfirmation flag set — the
	// "continuation inferred purely from the recent transcript" case.
	handle, err := store.Acquire("1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	sess := handle.Session()
	sess.Messages = nil
	sess.ConvContext = session.ConversationContext{}
	sess.AddMessage("assistant", "¿Factura o Boleta? ¿Confirmas que quieres emitir?", store.MaxHistory())
	handle.Release()

	reply, err := o.HandleMessage(ctx, "1", "sí", nil, "")
	if err != nil {
		t.Fatalf("bare affirmation: %v", err)
	}
	if strings.Contains(reply, "No entendí bien tu mensaje") {
		t.Fatalf("expected the affirmation to continue the emission topic, got the generic menu: %q", reply)
	}
}

func TestHandleMessage_AuthenticateTransientErrorDoesNotPanicOrAuthenticate(t *testing.T) {
	si := &fakeSessionIssuing{identify: func(ctx context.Context, phone string) (session.ClientIdentification, error) {
		return session.ClientIdentification{}, issuing.ErrTransientNetwork
	}}
	o := newTestOrchestrator(t, si, &fakeIssuer{})

	reply, err := o.HandleMessage(context.Background(), "1", "hola", nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(strings.ToLower(reply), "no pude verificar") {
		t.Errorf("expected a verification-failure notice, got %q", reply)
	}
}

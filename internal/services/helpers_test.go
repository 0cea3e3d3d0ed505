package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ticket-pass/internal/barcode"
	"ticket-pass/internal/clock"
	"ticket-pass/internal/envelope"
	"ticket-pass/internal/protect"
	"ticket-pass/internal/rotating"
	"ticket-pass/internal/signer"
	"ticket-pass/internal/status"
	"ticket-pass/models"
	rootservices "ticket-pass/services"
)

var testEpoch = time.Unix(1_761_998_400, 0)

type memoryRegistry struct {
	mu     sync.Mutex
	passes map[string]models.TicketPass
}

func newMemoryRegistry() *memoryRegistry {
	return &memoryRegistry{passes: make(map[string]models.TicketPass)}
}

func (r *memoryRegistry) Create(_ context.Context, pass models.TicketPass) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.passes[pass.Descriptor.TicketID]; ok {
		return status.ErrPassExists
	}
	r.passes[pass.Descriptor.TicketID] = pass
	return nil
}

func (r *memoryRegistry) Get(_ context.Context, ticketID string) (models.TicketPass, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pass, ok := r.passes[ticketID]
	if !ok {
		return models.TicketPass{}, status.ErrPassNotFound
	}
	return pass, nil
}

func (r *memoryRegistry) GetByHint(_ context.Context, hint string) (models.TicketPass, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pass := range r.passes {
		if hint != "" && pass.LookupHint == hint {
			return pass, nil
		}
	}
	return models.TicketPass{}, status.ErrPassNotFound
}

type MockStatusTracker struct {
	mock.Mock
}

func (m *MockStatusTracker) GetStatus(ctx context.Context, ticketID string) (models.StatusReport, error) {
	args := m.Called(ctx, ticketID)
	return args.Get(0).(models.StatusReport), args.Error(1)
}

func (m *MockStatusTracker) MarkScanned(ctx context.Context, ticketID, gateID, scanID, presentation string) (rootservices.Transition, error) {
	args := m.Called(ctx, ticketID, gateID, scanID, presentation)
	return args.Get(0).(rootservices.Transition), args.Error(1)
}

func (m *MockStatusTracker) MarkValidated(ctx context.Context, ticketID, gateID, scanID string) (rootservices.Transition, error) {
	args := m.Called(ctx, ticketID, gateID, scanID)
	return args.Get(0).(rootservices.Transition), args.Error(1)
}

// memoryReplay mirrors ReplayGuard without redis.
type memoryReplay struct {
	mu       sync.Mutex
	claimed  map[string]bool
	released int
}

func (r *memoryReplay) Claim(_ context.Context, signature, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claimed[signature] {
		return status.ErrReplayed
	}
	r.claimed[signature] = true
	return nil
}

func (r *memoryReplay) Release(_ context.Context, signature string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.claimed, signature)
	r.released++
	return nil
}

type countingMetrics struct {
	mu          sync.Mutex
	issued      map[string]int
	accepts     map[string]int
	transitions int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{issued: map[string]int{}, accepts: map[string]int{}}
}

func (m *countingMetrics) TrackIssued(format string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issued[format]++
}

func (m *countingMetrics) TrackAccept(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accepts[result]++
}

func (m *countingMetrics) TrackTransition(string, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions++
}

type harness struct {
	clock    *clock.FakeClock
	registry *memoryRegistry
	statuses *MockStatusTracker
	replay   *memoryReplay
	metrics  *countingMetrics
	issuer   *IssuerService
	gate     *GateService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	c := clock.Fake(testEpoch)
	mac, err := signer.NewMACSigner("gate-signing-secret")
	require.NoError(t, err)
	generator, err := rotating.NewGenerator(rotating.DefaultWidth, c)
	require.NoError(t, err)
	protector := protect.New("key-derivation-secret")
	encoder, err := barcode.NewEncoder("")
	require.NoError(t, err)

	h := &harness{
		clock:    c,
		registry: newMemoryRegistry(),
		statuses: &MockStatusTracker{},
		replay:   &memoryReplay{claimed: map[string]bool{}},
		metrics:  newCountingMetrics(),
	}
	h.issuer = NewIssuerService(h.registry, envelope.NewIssuer(generator, mac, protector), encoder, h.metrics, nil)
	acceptor, err := envelope.NewAcceptor(rotating.DefaultWidth, envelope.DefaultTolerance, mac, protector, c)
	require.NoError(t, err)
	h.gate, err = NewGateService(GateConfig{
		Registry: h.registry,
		Acceptor: acceptor,
		Encoder:  encoder,
		Statuses: h.statuses,
		Replay:   h.replay,
		Metrics:  h.metrics,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) createPass(t *testing.T, ticketID string) models.TicketPass {
	t.Helper()
	pass, err := h.issuer.CreatePass(context.Background(), models.TicketDescriptor{
		TicketID:  ticketID,
		EventID:   "evt_42",
		EventName: "Harbour Lights",
		Date:      "2026-11-02",
		Seat:      "B-14",
	})
	require.NoError(t, err)
	return pass
}

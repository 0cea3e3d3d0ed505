package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ticket-pass/internal/clock"
)

type tracked struct {
	poller   *Poller
	lastRead time.Time
}

// Manager owns one poller per ticket id. Pollers share nothing but the
// fetcher and the update sink.
//
// Pollers that stop themselves are forgotten, and a sweep drops pollers
// nobody has read through Track or Get for Cadence.IdleAfter.
type Manager struct {
	fetcher  StatusFetcher
	clock    clock.Clock
	cadence  Cadence
	onUpdate func(Update)
	logger   *slog.Logger

	mu      sync.Mutex
	pollers map[string]*tracked
	sweeper clock.Timer
}

func NewManager(fetcher StatusFetcher, c clock.Clock, cadence Cadence, onUpdate func(Update), logger *slog.Logger) *Manager {
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		fetcher:  fetcher,
		clock:    c,
		cadence:  cadence.withDefaults(),
		onUpdate: onUpdate,
		logger:   logger,
		pollers:  make(map[string]*tracked),
	}
}

// Track starts polling ticketID, or returns the poller already doing so.
func (m *Manager) Track(ctx context.Context, ticketID string) (*Poller, error) {
	m.mu.Lock()
	if t, ok := m.pollers[ticketID]; ok {
		t.lastRead = m.clock.Now()
		m.mu.Unlock()
		return t.poller, nil
	}
	p, err := New(Config{
		TicketID: ticketID,
		Fetcher:  m.fetcher,
		Clock:    m.clock,
		Cadence:  m.cadence,
		OnUpdate: m.onUpdate,
		OnStop:   m.forget,
		Logger:   m.logger,
	})
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.pollers[ticketID] = &tracked{poller: p, lastRead: m.clock.Now()}
	startSweep := m.sweeper == nil
	if startSweep {
		// placeholder so concurrent Tracks do not arm a second sweep
		m.sweeper = stoppedTimer{}
	}
	m.mu.Unlock()

	if startSweep {
		m.armSweep()
	}

	m.logger.Info("Tracking ticket status", "ticket_id", ticketID)
	p.Start(ctx)
	return p, nil
}

// Untrack stops and forgets the poller for ticketID.
func (m *Manager) Untrack(ticketID string) bool {
	m.mu.Lock()
	t, ok := m.pollers[ticketID]
	delete(m.pollers, ticketID)
	m.mu.Unlock()

	if ok {
		t.poller.Stop()
	}
	return ok
}

// Get returns the live poller for ticketID and counts as a read.
func (m *Manager) Get(ticketID string) (*Poller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.pollers[ticketID]
	if !ok {
		return nil, false
	}
	t.lastRead = m.clock.Now()
	return t.poller, true
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pollers)
}

func (m *Manager) StopAll() {
	m.mu.Lock()
	pollers := m.pollers
	m.pollers = make(map[string]*tracked)
	sweeper := m.sweeper
	m.sweeper = nil
	m.mu.Unlock()

	if sweeper != nil {
		sweeper.Stop()
	}
	for _, t := range pollers {
		t.poller.Stop()
	}
}

func (m *Manager) forget(p *Poller, reason error) {
	m.mu.Lock()
	t, ok := m.pollers[p.TicketID()]
	if ok && t.poller == p {
		delete(m.pollers, p.TicketID())
	}
	m.mu.Unlock()

	if ok {
		m.logger.Info("Stopped tracking ticket status", "ticket_id", p.TicketID(), "reason", reason)
	}
}

func (m *Manager) armSweep() {
	timer := m.clock.AfterFunc(m.cadence.IdleAfter, m.sweep)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sweeper == nil {
		// StopAll ran in between
		timer.Stop()
		return
	}
	m.sweeper = timer
}

// sweep stops pollers whose last read is IdleAfter old and re-arms while
// any remain.
func (m *Manager) sweep() {
	now := m.clock.Now()

	m.mu.Lock()
	if m.sweeper == nil {
		m.mu.Unlock()
		return
	}
	var idle []*Poller
	for id, t := range m.pollers {
		if now.Sub(t.lastRead) >= m.cadence.IdleAfter {
			idle = append(idle, t.poller)
			delete(m.pollers, id)
		}
	}
	rearm := len(m.pollers) > 0
	if !rearm {
		m.sweeper = nil
	}
	m.mu.Unlock()

	for _, p := range idle {
		p.Stop()
		m.logger.Info("Evicted idle ticket poller", "ticket_id", p.TicketID())
	}
	if rearm {
		m.armSweep()
	}
}

type stoppedTimer struct{}

func (stoppedTimer) Stop() bool { return false }

// Package poller keeps a ticket's validation status fresh by polling the
// validation authority on an adaptive cadence.
//
// Each Poller owns one ticket. Polls are chained one-shot timers on an
// injected clock, so tests drive time explicitly. A Stop bumps the
// poller's generation; responses and timers from an older generation are
// dropped without touching state. Every completed fetch bumps a schedule
// sequence so at most one timer chain is live.
//
// A poller stops itself when the authority no longer knows the ticket or
// after Cadence.MaxFailures consecutive failures.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ticket-pass/internal/clock"
	"ticket-pass/internal/status"
	"ticket-pass/models"
)

var (
	ErrNoTicket       = errors.New("poller: ticket id is empty")
	ErrInvalidStatus  = errors.New("poller: authority returned an unknown status")
	ErrTicketMismatch = errors.New("poller: authority answered for another ticket")
	ErrGaveUp         = errors.New("poller: too many consecutive failures")
)

// StatusFetcher is the validation authority as seen by the poller.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, ticketID string) (models.StatusReport, error)
}

type State string

const (
	StateIdle      State = "idle"
	StatePolling   State = "polling"
	StateValidated State = "validated"
)

// Update is delivered after every completed fetch.
type Update struct {
	TicketID  string                 `json:"ticket_id"`
	State     State                  `json:"state"`
	Status    models.ValidationState `json:"status"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
	Interval  time.Duration          `json:"interval"`
	Failures  int                    `json:"failures"`
	Degraded  bool                   `json:"degraded"`
	Err       error                  `json:"-"`
	FetchedAt time.Time              `json:"fetched_at"`
}

type Config struct {
	TicketID string
	Fetcher  StatusFetcher
	Clock    clock.Clock
	Cadence  Cadence
	OnUpdate func(Update)
	// OnStop runs after the poller stops itself, with the reason.
	OnStop func(p *Poller, reason error)
	Logger *slog.Logger
}

type Poller struct {
	ticketID string
	fetcher  StatusFetcher
	clock    clock.Clock
	cadence  Cadence
	onUpdate func(Update)
	onStop   func(*Poller, error)
	logger   *slog.Logger

	mu         sync.Mutex
	ctx        context.Context
	state      State
	generation uint64
	timer      clock.Timer
	sequence   uint64
	stopped    chan struct{}
	inFlight   bool
	skipped    int
	last       Update
}

func New(cfg Config) (*Poller, error) {
	if cfg.TicketID == "" {
		return nil, ErrNoTicket
	}
	if cfg.Fetcher == nil {
		return nil, errors.New("poller: fetcher is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Poller{
		ticketID: cfg.TicketID,
		fetcher:  cfg.Fetcher,
		clock:    cfg.Clock,
		cadence:  cfg.Cadence.withDefaults(),
		onUpdate: cfg.OnUpdate,
		onStop:   cfg.OnStop,
		logger:   cfg.Logger.With("ticket_id", cfg.TicketID),
		state:    StateIdle,
		last: Update{
			TicketID: cfg.TicketID,
			State:    StateIdle,
			Status:   models.StatusPending,
		},
	}, nil
}

func (p *Poller) TicketID() string { return p.ticketID }

// Start fetches once immediately and keeps polling until Stop or until
// ctx is done. Starting a running poller is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return
	}
	p.generation++
	gen := p.generation
	p.ctx = ctx
	p.stopped = make(chan struct{})
	stopped := p.stopped
	p.state = StatePolling
	if p.last.Status == models.StatusValidated {
		p.state = StateValidated
	}
	p.mu.Unlock()

	if done := ctx.Done(); done != nil {
		go func() {
			select {
			case <-done:
				p.stopGeneration(gen)
			case <-stopped:
			}
		}()
	}

	p.clock.AfterFunc(0, func() { p.poll(gen) })
}

// Stop cancels the pending timer. A fetch already in flight is left to
// finish but its result is discarded.
func (p *Poller) Stop() {
	p.mu.Lock()
	gen := p.generation
	p.mu.Unlock()
	p.stopGeneration(gen)
}

func (p *Poller) stopGeneration(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.generation || p.state == StateIdle {
		return
	}
	p.halt()
}

// halt ends the current generation. Caller holds p.mu.
func (p *Poller) halt() {
	p.generation++
	p.state = StateIdle
	p.inFlight = false
	p.last.State = StateIdle
	close(p.stopped)
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// Refresh polls now unless a fetch is already in flight, replacing the
// pending timer. It reports whether a fetch was started.
func (p *Poller) Refresh() bool {
	p.mu.Lock()
	gen := p.generation
	running := p.state != StateIdle && !p.inFlight
	p.mu.Unlock()
	if !running {
		return false
	}
	return p.poll(gen)
}

// Snapshot returns the most recent update.
func (p *Poller) Snapshot() Update {
	p.mu.Lock()
	defer p.mu.Unlock()
	u := p.last
	u.State = p.state
	return u
}

// Skipped counts ticks that found a fetch still in flight.
func (p *Poller) Skipped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.skipped
}

func (p *Poller) poll(gen uint64) bool {
	p.mu.Lock()
	if gen != p.generation || p.state == StateIdle {
		p.mu.Unlock()
		return false
	}
	if p.inFlight {
		p.skipped++
		p.mu.Unlock()
		return false
	}
	p.inFlight = true
	ctx := p.ctx
	p.mu.Unlock()

	report, err := p.fetcher.FetchStatus(ctx, p.ticketID)
	if err == nil {
		err = p.checkReport(report)
	}

	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		p.logger.Debug("Discarding status response after stop")
		return true
	}
	p.inFlight = false

	update := p.last
	update.FetchedAt = p.clock.Now()
	update.Err = err
	if err != nil {
		update.Failures++
		p.logger.Warn("Status poll failed", "failures", update.Failures, "error", err)
	} else {
		update.Failures = 0
		update.Status = report.Status
		update.Metadata = report.Metadata
	}
	update.Degraded = update.Failures >= p.cadence.DegradedAfter

	var reason error
	switch {
	case errors.Is(err, status.ErrPassNotFound):
		reason = err
	case update.Failures >= p.cadence.MaxFailures:
		reason = fmt.Errorf("%w: %d, last: %v", ErrGaveUp, update.Failures, err)
	}
	if reason != nil {
		p.halt()
		update.State = StateIdle
		update.Interval = 0
		p.last = update
		p.mu.Unlock()

		p.logger.Warn("Status polling stopped", "failures", update.Failures, "reason", reason)
		if p.onUpdate != nil {
			p.onUpdate(update)
		}
		if p.onStop != nil {
			p.onStop(p, reason)
		}
		return true
	}

	if update.Status == models.StatusValidated {
		p.state = StateValidated
	} else {
		p.state = StatePolling
	}
	update.State = p.state
	update.Interval = p.cadence.Interval(update.Status)

	if p.last.Interval != update.Interval && p.last.Interval != 0 {
		p.logger.Debug("Poll interval changed", "from", p.last.Interval, "to", update.Interval)
	}
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.last = update
	p.mu.Unlock()

	if p.onUpdate != nil {
		p.onUpdate(update)
	}

	p.schedule(gen, update.Interval)
	return true
}

// schedule arms the next poll. A later schedule supersedes this one even
// if its timer has already fired.
func (p *Poller) schedule(gen uint64, interval time.Duration) {
	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		return
	}
	p.sequence++
	seq := p.sequence
	p.mu.Unlock()

	timer := p.clock.AfterFunc(interval, func() { p.tick(gen, seq) })

	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.generation || seq != p.sequence {
		timer.Stop()
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = timer
}

func (p *Poller) tick(gen, seq uint64) {
	p.mu.Lock()
	current := seq == p.sequence
	p.mu.Unlock()
	if current {
		p.poll(gen)
	}
}

func (p *Poller) checkReport(report models.StatusReport) error {
	if !report.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, report.Status)
	}
	if report.TicketID != "" && report.TicketID != p.ticketID {
		return fmt.Errorf("%w: %q", ErrTicketMismatch, report.TicketID)
	}
	return nil
}

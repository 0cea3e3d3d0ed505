package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ticket-pass/internal/barcode"
	"ticket-pass/internal/clock"
	"ticket-pass/internal/envelope"
	"ticket-pass/internal/status"
	"ticket-pass/models"
	rootservices "ticket-pass/services"
)

// Gate-level rejection reasons on top of envelope.Reason.
const (
	ReasonUnknownTicket     envelope.Reason = "unknown_ticket"
	ReasonMissingTicketHint envelope.Reason = "missing_ticket_id"
	ReasonReplayed          envelope.Reason = "replayed"
	ReasonAlreadyUsed       envelope.Reason = "already_used"
	ReasonAlreadyScanned    envelope.Reason = "already_scanned"
	ReasonBarcodeMismatch   envelope.Reason = "barcode_mismatch"
	ReasonUnsupportedSymbol envelope.Reason = "unsupported_symbol"
	ReasonNotScanned        envelope.Reason = "not_scanned"
)

// StatusTracker is the gate's view of the status store.
type StatusTracker interface {
	GetStatus(ctx context.Context, ticketID string) (models.StatusReport, error)
	MarkScanned(ctx context.Context, ticketID, gateID, scanID, presentation string) (rootservices.Transition, error)
	MarkValidated(ctx context.Context, ticketID, gateID, scanID string) (rootservices.Transition, error)
}

type ReplayClaimer interface {
	Claim(ctx context.Context, signature, ticketID string) error
	Release(ctx context.Context, signature string) error
}

// ScanResult is returned for every scan, accepted or not.
type ScanResult struct {
	ScanID     string                   `json:"scan_id,omitempty"`
	TicketID   string                   `json:"ticket_id,omitempty"`
	Accepted   bool                     `json:"accepted"`
	Reason     envelope.Reason          `json:"reason"`
	Status     models.ValidationState   `json:"status,omitempty"`
	Descriptor *models.TicketDescriptor `json:"descriptor,omitempty"`
	Window     int64                    `json:"window,omitempty"`
}

type GateService struct {
	registry PassRegistry
	acceptor *envelope.Acceptor
	encoder  *barcode.Encoder
	statuses StatusTracker
	replay   ReplayClaimer
	metrics  Metrics
	clock    clock.Clock
	logger   *slog.Logger
}

type GateConfig struct {
	Registry PassRegistry
	Acceptor *envelope.Acceptor
	Encoder  *barcode.Encoder
	Statuses StatusTracker
	Replay   ReplayClaimer
	Metrics  Metrics
	Logger   *slog.Logger
}

func NewGateService(cfg GateConfig) (*GateService, error) {
	switch {
	case cfg.Registry == nil:
		return nil, errors.New("gate: registry is required")
	case cfg.Acceptor == nil:
		return nil, errors.New("gate: acceptor is required")
	case cfg.Acceptor.Verifier == nil:
		return nil, envelope.ErrNoVerifier
	case cfg.Encoder == nil:
		return nil, errors.New("gate: barcode encoder is required")
	case cfg.Statuses == nil:
		return nil, errors.New("gate: status tracker is required")
	case cfg.Replay == nil:
		return nil, errors.New("gate: replay guard is required")
	}
	if cfg.Acceptor.Clock == nil {
		cfg.Acceptor.Clock = clock.Real()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &GateService{
		registry: cfg.Registry,
		acceptor: cfg.Acceptor,
		encoder:  cfg.Encoder,
		statuses: cfg.Statuses,
		replay:   cfg.Replay,
		metrics:  cfg.Metrics,
		clock:    cfg.Acceptor.Clock,
		logger:   cfg.Logger,
	}, nil
}

// GateReason maps a scan error to its reason label.
func GateReason(err error) envelope.Reason {
	switch {
	case err == nil:
		return envelope.ReasonAccepted
	case errors.Is(err, status.ErrPassNotFound):
		return ReasonUnknownTicket
	case errors.Is(err, status.ErrMissingTicketHint):
		return ReasonMissingTicketHint
	case errors.Is(err, status.ErrReplayed):
		return ReasonReplayed
	case errors.Is(err, barcode.ErrSymbolMismatch):
		return ReasonBarcodeMismatch
	case errors.Is(err, barcode.ErrUnsupportedSymbol), errors.Is(err, barcode.ErrEmptyCode):
		return ReasonUnsupportedSymbol
	}
	return envelope.ReasonOf(err)
}

// IsRejection reports whether err is a verdict on the presented pass
// rather than an infrastructure failure.
func IsRejection(err error) bool {
	return GateReason(err) != envelope.ReasonUnknown || errors.Is(err, status.ErrInvalidTransition)
}

// Scan accepts a matrix code envelope and marks the ticket scanned.
func (s *GateService) Scan(ctx context.Context, raw, gateID string) (ScanResult, error) {
	env, err := envelope.Parse(raw)
	if err != nil {
		return s.reject(ScanResult{}, err)
	}
	result := ScanResult{Window: env.Window}
	if env.Hint == "" {
		return s.reject(result, status.ErrMissingTicketHint)
	}

	pass, err := s.registry.GetByHint(ctx, env.Hint)
	if err != nil {
		return s.reject(result, err)
	}
	result.TicketID = pass.Descriptor.TicketID

	descriptor, err := s.acceptor.Accept(env, pass.BaseSecret)
	if err != nil {
		return s.reject(result, err)
	}
	if descriptor.TicketID != pass.Descriptor.TicketID {
		return s.reject(result, fmt.Errorf("%w: payload names %q", envelope.ErrDecodeFailure, descriptor.TicketID))
	}
	result.Descriptor = &descriptor

	if err := s.replay.Claim(ctx, env.Signature, result.TicketID); err != nil {
		return s.reject(result, err)
	}

	result, err = s.markScanned(ctx, result, gateID, env.Signature)
	if err != nil && !errors.Is(err, status.ErrInvalidTransition) {
		if releaseErr := s.replay.Release(ctx, env.Signature); releaseErr != nil {
			s.logger.Warn("Failed to release replay claim", "ticket_id", result.TicketID, "error", releaseErr)
		}
	}
	return result, err
}

// CheckBarcode verifies a linear barcode read for a known ticket and
// marks it scanned.
func (s *GateService) CheckBarcode(ctx context.Context, ticketID, code, gateID string) (ScanResult, error) {
	result := ScanResult{TicketID: ticketID}

	pass, err := s.registry.Get(ctx, ticketID)
	if err != nil {
		return s.reject(result, err)
	}

	window, err := s.encoder.Verify(code, pass.BaseSecret, s.clock.Now(), s.acceptor.Width, s.acceptor.Tolerance)
	if err != nil {
		return s.reject(result, err)
	}
	result.Window = window
	result.Descriptor = &pass.Descriptor

	presentation := fmt.Sprintf("barcode:%s:%d", ticketID, window)
	if err := s.replay.Claim(ctx, presentation, ticketID); err != nil {
		return s.reject(result, err)
	}
	return s.markScanned(ctx, result, gateID, presentation)
}

// markScanned records the scan. A ticket already scanned through another
// presentation, or already validated, is refused.
func (s *GateService) markScanned(ctx context.Context, result ScanResult, gateID, presentation string) (ScanResult, error) {
	result.ScanID = uuid.NewString()

	tr, err := s.statuses.MarkScanned(ctx, result.TicketID, gateID, result.ScanID, presentation)
	if errors.Is(err, status.ErrInvalidTransition) {
		result.ScanID = ""
		result.Status = tr.From
		result.Reason = ReasonAlreadyUsed
		if tr.From == models.StatusScannedNotValidated {
			result.Reason = ReasonAlreadyScanned
		}
		s.metrics.TrackAccept(string(result.Reason))
		s.logger.Info("Scan refused", "ticket_id", result.TicketID, "gate_id", gateID, "reason", result.Reason)
		return result, err
	}
	if err != nil {
		return ScanResult{}, err
	}

	if tr.Changed {
		s.metrics.TrackTransition(string(tr.From), string(tr.To))
	}
	result.Accepted = true
	result.Reason = envelope.ReasonAccepted
	result.Status = models.StatusScannedNotValidated
	s.metrics.TrackAccept(string(envelope.ReasonAccepted))
	s.logger.Info("Ticket scanned", "ticket_id", result.TicketID, "gate_id", gateID, "scan_id", result.ScanID)
	return result, nil
}

func (s *GateService) reject(result ScanResult, err error) (ScanResult, error) {
	result.Reason = GateReason(err)
	if result.Reason == envelope.ReasonUnknown {
		return ScanResult{}, err
	}
	result.Descriptor = nil
	s.metrics.TrackAccept(string(result.Reason))
	s.logger.Info("Scan rejected", "ticket_id", result.TicketID, "reason", result.Reason, "error", err)
	return result, err
}

// ConfirmEntry completes a scan once staff let the holder through.
func (s *GateService) ConfirmEntry(ctx context.Context, ticketID, gateID, scanID string) (rootservices.Transition, error) {
	tr, err := s.statuses.MarkValidated(ctx, ticketID, gateID, scanID)
	if err != nil {
		return tr, err
	}
	if tr.Changed {
		s.metrics.TrackTransition(string(tr.From), string(tr.To))
		s.logger.Info("Entry confirmed", "ticket_id", ticketID, "gate_id", gateID, "scan_id", scanID)
	}
	return tr, nil
}

func (s *GateService) Status(ctx context.Context, ticketID string) (models.StatusReport, error) {
	return s.statuses.GetStatus(ctx, ticketID)
}

// Now is the gate's clock, exposed for response timestamps.
func (s *GateService) Now() time.Time {
	return s.clock.Now()
}

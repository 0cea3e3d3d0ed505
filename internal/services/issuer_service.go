package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/skip2/go-qrcode"

	"ticket-pass/internal/barcode"
	"ticket-pass/internal/envelope"
	"ticket-pass/internal/status"
	"ticket-pass/models"
	"ticket-pass/utils"
)

const (
	DefaultQRSize        = 320
	DefaultBarcodeWidth  = 600
	DefaultBarcodeHeight = 120
)

// Rendering is everything a holder's screen needs for one window.
type Rendering struct {
	TicketID  string    `json:"ticket_id"`
	Envelope  string    `json:"envelope"`
	Barcode   string    `json:"barcode"`
	Window    int64     `json:"window"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type IssuerService struct {
	registry PassRegistry
	issuer   *envelope.Issuer
	encoder  *barcode.Encoder
	metrics  Metrics
	logger   *slog.Logger
}

func NewIssuerService(registry PassRegistry, issuer *envelope.Issuer, encoder *barcode.Encoder, metrics Metrics, logger *slog.Logger) *IssuerService {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IssuerService{
		registry: registry,
		issuer:   issuer,
		encoder:  encoder,
		metrics:  metrics,
		logger:   logger,
	}
}

// CreatePass registers a descriptor with a fresh base secret. An empty
// ticket id is generated.
func (s *IssuerService) CreatePass(ctx context.Context, descriptor models.TicketDescriptor) (models.TicketPass, error) {
	if descriptor.TicketID == "" {
		descriptor.TicketID = utils.GenerateTicketID()
	}
	if descriptor.Quantity == 0 {
		descriptor.Quantity = 1
	}
	if err := descriptor.Validate(); err != nil {
		return models.TicketPass{}, err
	}

	secret, err := utils.GenerateBaseSecret()
	if err != nil {
		return models.TicketPass{}, fmt.Errorf("generating base secret: %w", err)
	}

	pass := models.TicketPass{
		Descriptor: descriptor,
		BaseSecret: secret,
		LookupHint: utils.GenerateLookupHint(),
		CreatedAt:  s.issuer.Generator.Clock.Now().UTC(),
	}
	if err := s.registry.Create(ctx, pass); err != nil {
		return models.TicketPass{}, err
	}

	s.logger.Info("Created ticket pass", "ticket_id", descriptor.TicketID, "event_id", descriptor.EventID)
	return pass, nil
}

// PassExists reports whether ticketID has a registered pass.
func (s *IssuerService) PassExists(ctx context.Context, ticketID string) (bool, error) {
	_, err := s.registry.Get(ctx, ticketID)
	switch {
	case errors.Is(err, status.ErrPassNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// Render issues the current window's envelope and barcode text.
func (s *IssuerService) Render(ctx context.Context, ticketID string) (Rendering, error) {
	pass, err := s.registry.Get(ctx, ticketID)
	if err != nil {
		return Rendering{}, err
	}

	issued, err := s.issuer.IssueWithHint(pass.Descriptor, pass.BaseSecret, pass.LookupHint)
	if err != nil {
		return Rendering{}, err
	}
	s.metrics.TrackIssued("envelope")

	return Rendering{
		TicketID:  ticketID,
		Envelope:  issued.Envelope,
		Barcode:   s.encoder.SymbolString(issued.Token),
		Window:    issued.Window,
		IssuedAt:  issued.IssuedAt.UTC(),
		ExpiresAt: issued.ExpiresAt.UTC(),
	}, nil
}

// QRCode renders the envelope as a size x size PNG matrix code.
func (s *IssuerService) QRCode(ctx context.Context, ticketID string, size int) ([]byte, Rendering, error) {
	r, err := s.Render(ctx, ticketID)
	if err != nil {
		return nil, Rendering{}, err
	}
	if size <= 0 {
		size = DefaultQRSize
	}
	png, err := qrcode.Encode(r.Envelope, qrcode.Medium, size)
	if err != nil {
		return nil, Rendering{}, fmt.Errorf("rendering qr code: %w", err)
	}
	s.metrics.TrackIssued("qr")
	return png, r, nil
}

// BarcodeImage renders the barcode text as a Code 93 PNG.
func (s *IssuerService) BarcodeImage(ctx context.Context, ticketID string, width, height int) ([]byte, Rendering, error) {
	r, err := s.Render(ctx, ticketID)
	if err != nil {
		return nil, Rendering{}, err
	}
	if width <= 0 {
		width = DefaultBarcodeWidth
	}
	if height <= 0 {
		height = DefaultBarcodeHeight
	}

	modules, err := barcode.EncodeSymbols(r.Barcode)
	if err != nil {
		return nil, Rendering{}, err
	}
	png, err := barcode.RenderPNG(modules, width, height)
	if err != nil {
		return nil, Rendering{}, err
	}
	s.metrics.TrackIssued("barcode")
	return png, r, nil
}

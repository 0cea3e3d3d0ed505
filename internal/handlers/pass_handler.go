package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"ticket-pass/internal/poller"
	"ticket-pass/internal/services"
	"ticket-pass/internal/status"
	"ticket-pass/models"
)

type PassIssuer interface {
	PassExists(ctx context.Context, ticketID string) (bool, error)
	CreatePass(ctx context.Context, descriptor models.TicketDescriptor) (models.TicketPass, error)
	Render(ctx context.Context, ticketID string) (services.Rendering, error)
	QRCode(ctx context.Context, ticketID string, size int) ([]byte, services.Rendering, error)
	BarcodeImage(ctx context.Context, ticketID string, width, height int) ([]byte, services.Rendering, error)
}

type StatusWatcher interface {
	Get(ticketID string) (*poller.Poller, bool)
	Track(ctx context.Context, ticketID string) (*poller.Poller, error)
	Untrack(ticketID string) bool
}

type PassHandler struct {
	issuer  PassIssuer
	watcher StatusWatcher
	// pollers outlive the request that started them
	baseCtx context.Context
}

func NewPassHandler(baseCtx context.Context, issuer PassIssuer, watcher StatusWatcher) *PassHandler {
	return &PassHandler{issuer: issuer, watcher: watcher, baseCtx: baseCtx}
}

// CreatePass - register a ticket and its base secret
func (h *PassHandler) CreatePass(e *core.RequestEvent) error {
	var req models.TicketDescriptor
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	pass, err := h.issuer.CreatePass(e.Request.Context(), req)
	switch {
	case errors.Is(err, status.ErrPassExists):
		return apis.NewApiError(http.StatusConflict, "Ticket already has a pass", err)
	case errors.Is(err, models.ErrMissingTicketID), errors.Is(err, models.ErrMissingEventID), errors.Is(err, models.ErrInvalidQuantity):
		return apis.NewBadRequestError(err.Error(), err)
	case err != nil:
		return apis.NewInternalServerError("Failed to create pass", err)
	}

	return e.JSON(http.StatusCreated, pass)
}

// GetCode - current envelope and barcode string for the holder's screen
func (h *PassHandler) GetCode(e *core.RequestEvent) error {
	ticketID := e.Request.PathValue("ticketId")

	rendering, err := h.issuer.Render(e.Request.Context(), ticketID)
	if err != nil {
		return passError(err)
	}

	e.Response.Header().Set("Cache-Control", "no-store")
	return e.JSON(http.StatusOK, rendering)
}

func (h *PassHandler) GetQRCode(e *core.RequestEvent) error {
	ticketID := e.Request.PathValue("ticketId")
	size := intQuery(e, "size", services.DefaultQRSize)

	png, rendering, err := h.issuer.QRCode(e.Request.Context(), ticketID, size)
	if err != nil {
		return passError(err)
	}
	return writePNG(e, png, rendering)
}

func (h *PassHandler) GetBarcode(e *core.RequestEvent) error {
	ticketID := e.Request.PathValue("ticketId")
	width := intQuery(e, "width", services.DefaultBarcodeWidth)
	height := intQuery(e, "height", services.DefaultBarcodeHeight)

	png, rendering, err := h.issuer.BarcodeImage(e.Request.Context(), ticketID, width, height)
	if err != nil {
		return passError(err)
	}
	return writePNG(e, png, rendering)
}

// GetStatus - starts watching a registered ticket if needed and returns the
// latest poll. ?refresh=1 polls the authority before answering.
func (h *PassHandler) GetStatus(e *core.RequestEvent) error {
	ticketID := e.Request.PathValue("ticketId")

	p, watching := h.watcher.Get(ticketID)
	if watching {
		if refresh, _ := strconv.ParseBool(e.Request.URL.Query().Get("refresh")); refresh {
			p.Refresh()
		}
	} else {
		exists, err := h.issuer.PassExists(e.Request.Context(), ticketID)
		if err != nil {
			return apis.NewInternalServerError("Failed to look up pass", err)
		}
		if !exists {
			return apis.NewNotFoundError("Ticket pass not found", nil)
		}
		p, err = h.watcher.Track(h.baseCtx, ticketID)
		if err != nil {
			return apis.NewBadRequestError("Failed to watch ticket", err)
		}
	}

	update := p.Snapshot()
	resp := map[string]any{
		"ticket_id":   update.TicketID,
		"state":       update.State,
		"status":      update.Status,
		"metadata":    update.Metadata,
		"degraded":    update.Degraded,
		"failures":    update.Failures,
		"next_poll_s": update.Interval.Seconds(),
	}
	if !update.FetchedAt.IsZero() {
		resp["fetched_at"] = update.FetchedAt
	}
	return e.JSON(http.StatusOK, resp)
}

// StopStatus - stop watching a ticket
func (h *PassHandler) StopStatus(e *core.RequestEvent) error {
	if !h.watcher.Untrack(e.Request.PathValue("ticketId")) {
		return apis.NewNotFoundError("Ticket is not being watched", nil)
	}
	return e.NoContent(http.StatusNoContent)
}

func passError(err error) error {
	if errors.Is(err, status.ErrPassNotFound) {
		return apis.NewNotFoundError("Ticket pass not found", err)
	}
	return apis.NewInternalServerError("Failed to render pass", err)
}

func intQuery(e *core.RequestEvent, key string, fallback int) int {
	if v, err := strconv.Atoi(e.Request.URL.Query().Get(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}

func writePNG(e *core.RequestEvent, png []byte, rendering services.Rendering) error {
	h := e.Response.Header()
	h.Set("Cache-Control", "no-store")
	h.Set("X-Pass-Window", strconv.FormatInt(rendering.Window, 10))
	h.Set("X-Pass-Expires", strconv.FormatInt(rendering.ExpiresAt.Unix(), 10))
	return e.Blob(http.StatusOK, "image/png", png)
}

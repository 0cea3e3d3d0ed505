package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v5"

	"ticket-pass/internal/services"
	"ticket-pass/internal/status"
	"ticket-pass/models"
	"ticket-pass/security"
	rootservices "ticket-pass/services"
)

// Gate is the subset of the gate service the door scanners talk to.
type Gate interface {
	Scan(ctx context.Context, raw, gateID string) (services.ScanResult, error)
	CheckBarcode(ctx context.Context, ticketID, code, gateID string) (services.ScanResult, error)
	ConfirmEntry(ctx context.Context, ticketID, gateID, scanID string) (rootservices.Transition, error)
	Status(ctx context.Context, ticketID string) (models.StatusReport, error)
}

type GateHandler struct {
	gate   Gate
	logger *slog.Logger
}

func NewGateHandler(gate Gate, logger *slog.Logger) *GateHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GateHandler{gate: gate, logger: logger}
}

// RegisterRoutes mounts the gate API. Every route requires a gate id;
// scan routes are rate limited per gate when a limiter is given.
func (h *GateHandler) RegisterRoutes(e *echo.Echo, limiter *security.RateLimiter) {
	var limited []echo.MiddlewareFunc
	if limiter != nil {
		limited = append(limited, limiter.GateRateLimit())
	}

	g := e.Group("/api/v1/gate", security.RequireGateID())
	g.POST("/scan", h.Scan, limited...)
	g.POST("/barcode", h.CheckBarcode, limited...)
	g.POST("/confirm", h.ConfirmEntry, limited...)
	g.GET("/tickets/:ticketId/status", h.GetStatus)
}

func gateID(c echo.Context) string {
	id, _ := c.Get("gate_id").(string)
	return id
}

func (h *GateHandler) Scan(c echo.Context) error {
	var req struct {
		Envelope string `json:"envelope"`
	}
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Envelope) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "envelope is required"})
	}

	result, err := h.gate.Scan(c.Request().Context(), req.Envelope, gateID(c))
	return h.scanResponse(c, result, err)
}

func (h *GateHandler) CheckBarcode(c echo.Context) error {
	var req struct {
		TicketID string `json:"ticket_id"`
		Code     string `json:"code"`
	}
	if err := c.Bind(&req); err != nil || req.TicketID == "" || req.Code == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "ticket_id and code are required"})
	}

	result, err := h.gate.CheckBarcode(c.Request().Context(), req.TicketID, req.Code, gateID(c))
	return h.scanResponse(c, result, err)
}

func (h *GateHandler) scanResponse(c echo.Context, result services.ScanResult, err error) error {
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, result)
	case services.IsRejection(err):
		return c.JSON(http.StatusUnprocessableEntity, result)
	}
	h.logger.Error("Scan failed", "gate_id", gateID(c), "error", err)
	return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "validation temporarily unavailable"})
}

func (h *GateHandler) ConfirmEntry(c echo.Context) error {
	var req struct {
		TicketID string `json:"ticket_id"`
		ScanID   string `json:"scan_id"`
	}
	if err := c.Bind(&req); err != nil || req.TicketID == "" || req.ScanID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "ticket_id and scan_id are required"})
	}

	tr, err := h.gate.ConfirmEntry(c.Request().Context(), req.TicketID, gateID(c), req.ScanID)
	if errors.Is(err, status.ErrInvalidTransition) {
		reason := services.ReasonAlreadyUsed
		if tr.From == models.StatusPending {
			reason = services.ReasonNotScanned
		}
		return c.JSON(http.StatusConflict, map[string]any{
			"ticket_id": req.TicketID,
			"reason":    reason,
			"status":    tr.From,
		})
	}
	if err != nil {
		h.logger.Error("Confirm failed", "ticket_id", req.TicketID, "error", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "validation temporarily unavailable"})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"ticket_id": req.TicketID,
		"status":    tr.To,
		"changed":   tr.Changed,
	})
}

func (h *GateHandler) GetStatus(c echo.Context) error {
	ticketID := c.PathParam("ticketId")
	report, err := h.gate.Status(c.Request().Context(), ticketID)
	if err != nil {
		h.logger.Error("Status lookup failed", "ticket_id", ticketID, "error", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "status temporarily unavailable"})
	}
	return c.JSON(http.StatusOK, report)
}

package services

import (
	"bytes"
	"context"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-pass/internal/barcode"
	"ticket-pass/internal/envelope"
	"ticket-pass/internal/rotating"
	"ticket-pass/internal/status"
	"ticket-pass/models"
)

func TestIssuerService_CreatePass(t *testing.T) {
	h := newHarness(t)

	pass := h.createPass(t, "")
	assert.True(t, strings.HasPrefix(pass.Descriptor.TicketID, "tkt_"))
	assert.Equal(t, 1, pass.Descriptor.Quantity)
	assert.NotEmpty(t, pass.BaseSecret)
	assert.Len(t, pass.LookupHint, 32)
	assert.Equal(t, testEpoch.UTC(), pass.CreatedAt)

	stored, err := h.registry.Get(context.Background(), pass.Descriptor.TicketID)
	require.NoError(t, err)
	assert.Equal(t, pass.BaseSecret, stored.BaseSecret)
}

func TestIssuerService_CreatePass_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.issuer.CreatePass(ctx, models.TicketDescriptor{TicketID: "tkt_1"})
	assert.ErrorIs(t, err, models.ErrMissingEventID)

	h.createPass(t, "tkt_dup")
	_, err = h.issuer.CreatePass(ctx, models.TicketDescriptor{TicketID: "tkt_dup", EventID: "evt"})
	assert.ErrorIs(t, err, status.ErrPassExists)
}

func TestIssuerService_Render(t *testing.T) {
	h := newHarness(t)
	pass := h.createPass(t, "tkt_render")

	r, err := h.issuer.Render(context.Background(), "tkt_render")
	require.NoError(t, err)

	assert.Equal(t, rotating.WindowIndex(testEpoch, rotating.DefaultWidth), r.Window)
	assert.Equal(t, testEpoch.Add(15*time.Second).UTC(), r.ExpiresAt)

	token, err := rotating.ForWindow(pass.BaseSecret, r.Window)
	require.NoError(t, err)
	assert.Equal(t, barcode.ToSymbolString(token), r.Barcode)

	env, err := envelope.Parse(r.Envelope)
	require.NoError(t, err)
	assert.Equal(t, pass.LookupHint, env.Hint)
	assert.NotContains(t, r.Envelope, "tkt_render")
	assert.Equal(t, 1, h.metrics.issued["envelope"])

	h.clock.Advance(15 * time.Second)
	next, err := h.issuer.Render(context.Background(), "tkt_render")
	require.NoError(t, err)
	assert.Equal(t, r.Window+1, next.Window)
	assert.NotEqual(t, r.Barcode, next.Barcode)
}

func TestIssuerService_PassExists(t *testing.T) {
	h := newHarness(t)
	h.createPass(t, "tkt_known")

	ok, err := h.issuer.PassExists(context.Background(), "tkt_known")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.issuer.PassExists(context.Background(), "tkt_unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIssuerService_Render_UnknownTicket(t *testing.T) {
	h := newHarness(t)

	_, err := h.issuer.Render(context.Background(), "tkt_missing")
	assert.ErrorIs(t, err, status.ErrPassNotFound)
}

func TestIssuerService_Images(t *testing.T) {
	h := newHarness(t)
	h.createPass(t, "tkt_img")

	qr, _, err := h.issuer.QRCode(context.Background(), "tkt_img", 0)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(qr))
	require.NoError(t, err)
	assert.Equal(t, DefaultQRSize, img.Bounds().Dx())

	bc, r, err := h.issuer.BarcodeImage(context.Background(), "tkt_img", 0, 0)
	require.NoError(t, err)
	img, err = png.Decode(bytes.NewReader(bc))
	require.NoError(t, err)
	assert.Equal(t, DefaultBarcodeWidth, img.Bounds().Dx())
	assert.Equal(t, DefaultBarcodeHeight, img.Bounds().Dy())
	assert.NotEmpty(t, r.Barcode)

	assert.Equal(t, 1, h.metrics.issued["qr"])
	assert.Equal(t, 1, h.metrics.issued["barcode"])
}

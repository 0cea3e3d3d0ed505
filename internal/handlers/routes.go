package handlers

import (
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/router"
)

// RegisterRoutes mounts the issuer API. Creating passes is limited to
// superusers; rendering is keyed by the unguessable ticket id.
func RegisterRoutes(r *router.Router[*core.RequestEvent], h *PassHandler) {
	r.POST("/api/v1/passes", h.CreatePass).Bind(apis.RequireSuperuserAuth())
	r.GET("/api/v1/passes/{ticketId}/code", h.GetCode)
	r.GET("/api/v1/passes/{ticketId}/qr.png", h.GetQRCode)
	r.GET("/api/v1/passes/{ticketId}/barcode.png", h.GetBarcode)

	r.GET("/api/v1/tickets/{ticketId}/status", h.GetStatus)
	r.DELETE("/api/v1/tickets/{ticketId}/status", h.StopStatus)
}

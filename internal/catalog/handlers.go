package catalog

import (
	"net/http"

	"github.com/noah-isme/backend-tiket/internal/common"
)

// Handler exposes the public ticket listing.
type Handler struct {
	Catalog *Catalog
}

// Tickets handles GET /api/v1/tickets.
func (h *Handler) Tickets(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Catalog == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog not configured", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":     h.Catalog.Entries(),
		"currency": h.Catalog.Currency(),
	})
}

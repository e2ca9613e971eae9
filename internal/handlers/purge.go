package handlers

import (
	"net/http"
	"time"

	"congregation-admin-go/internal/recycle"
	"congregation-admin-go/internal/telemetry"

	"github.com/go-chi/render"
)

// PurgeExpired runs one expiry sweep for an external scheduler.
func (h *Handler) PurgeExpired(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	n, err := h.Recycle.PurgeExpired(r.Context())
	telemetry.ObserveSweep(n, time.Since(start), err)

	if err != nil {
		fail(w, r, recycle.OpPurgeExpired, err)
		return
	}
	render.JSON(w, r, map[string]any{"success": true, "purged": n})
}

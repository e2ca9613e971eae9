package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"congregation-admin-go/internal/accounts"
	"congregation-admin-go/internal/identity"
	"congregation-admin-go/internal/notify"
	"congregation-admin-go/internal/recycle"
	"congregation-admin-go/internal/store"

	"github.com/go-chi/render"
	"github.com/gorilla/sessions"
)

// EventStream yields newly appended audit entries as JSON.
type EventStream interface {
	Stream(ctx context.Context) (events <-chan string, closeFn func() error)
}

type Handler struct {
	Recycle  *recycle.Service
	Accounts *accounts.Service
	Pusher   *notify.Pusher
	Events   EventStream // nil when Redis is not configured
	Sessions sessions.Store

	// CronSecret signs /cron/purge-expired requests. Empty skips the check.
	CronSecret string
	// AllowedOrigins may make credentialed cross-origin requests. Empty means same-origin only.
	AllowedOrigins []string
}

func NewHandler(rec *recycle.Service, acc *accounts.Service, pusher *notify.Pusher, sessionStore sessions.Store) *Handler {
	return &Handler{
		Recycle:  rec,
		Accounts: acc,
		Pusher:   pusher,
		Sessions: sessionStore,
	}
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

// EventsStream relays new audit entries to the browser as server-sent events.
func (h *Handler) EventsStream(w http.ResponseWriter, r *http.Request) {
	if h.Events == nil {
		writeError(w, r, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, closeFn := h.Events.Stream(r.Context())
	defer closeFn()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, "data: %s\n\n", "connected")
	flusher.Flush()

	for {
		select {
		case payload, ok := <-events:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": msg})
}

func writeSuccess(w http.ResponseWriter, r *http.Request, extra map[string]any) {
	resp := map[string]any{"success": true}
	for k, v := range extra {
		resp[k] = v
	}
	render.JSON(w, r, resp)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request")
		return false
	}
	return true
}

// required writes a 400 for the first empty field. fields alternates name, value.
func required(w http.ResponseWriter, r *http.Request, fields ...string) bool {
	for i := 0; i+1 < len(fields); i += 2 {
		if fields[i+1] == "" {
			writeError(w, r, http.StatusBadRequest, fields[i]+" is required")
			return false
		}
	}
	return true
}

// fail maps an operation error to a status code. The body never carries the cause.
func fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	var opErr *recycle.OpError
	if errors.As(err, &opErr) {
		op = opErr.Op
	}

	status := http.StatusInternalServerError
	msg := op + " failed"
	switch {
	case errors.Is(err, identity.ErrNotFound), errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		status, msg = http.StatusConflict, "already exists"
	case errors.Is(err, accounts.ErrInvalidCredentials), errors.Is(err, accounts.ErrInvalidCode):
		status, msg = http.StatusUnauthorized, err.Error()
	case errors.Is(err, accounts.ErrWeakPassword), errors.Is(err, accounts.ErrInvalidRole):
		status, msg = http.StatusBadRequest, err.Error()
	}

	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "op", op, "path", r.URL.Path, "error", err)
	} else {
		slog.Debug("request rejected", "op", op, "path", r.URL.Path, "status", status, "error", err)
	}
	writeError(w, r, status, msg)
}

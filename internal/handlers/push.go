package handlers

import (
	"net/http"

	"github.com/go-chi/render"
)

// VAPIDKey returns the public key browsers need to subscribe.
func (h *Handler) VAPIDKey(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"publicKey": h.Pusher.PublicKey()})
}

// SubscribePush saves the browser's push subscription for the signed-in user.
func (h *Handler) SubscribePush(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Endpoint string `json:"endpoint"`
		Keys     struct {
			P256dh string `json:"p256dh"`
			Auth   string `json:"auth"`
		} `json:"keys"`
	}
	if !decode(w, r, &req) || !required(w, r, "endpoint", req.Endpoint, "keys.p256dh", req.Keys.P256dh, "keys.auth", req.Keys.Auth) {
		return
	}
	u, _ := CurrentUser(r.Context())

	if err := h.Pusher.Subscribe(r.Context(), u.ID, req.Endpoint, req.Keys.P256dh, req.Keys.Auth); err != nil {
		fail(w, r, "subscribe", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

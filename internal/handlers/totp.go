package handlers

import (
	"net/http"

	"github.com/go-chi/render"
)

// LocalLogin2FA finishes a login started by LocalLogin. The account comes from
// the pending marker in the session, not from the request body.
func (h *Handler) LocalLogin2FA(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if !decode(w, r, &req) || !required(w, r, "code", req.Code) {
		return
	}
	userID, ok := h.pending2FA(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.Accounts.VerifyTOTP(r.Context(), userID, req.Code)
	if err != nil {
		fail(w, r, "login", err)
		return
	}
	if err := h.startSession(w, r, user); err != nil {
		fail(w, r, "login", err)
		return
	}
	writeSuccess(w, r, map[string]any{"user": userView(user)})
}

// Setup2FA issues a new TOTP secret and QR code for the signed-in user.
// Nothing changes until Enable2FA confirms a code.
func (h *Handler) Setup2FA(w http.ResponseWriter, r *http.Request) {
	u, _ := CurrentUser(r.Context())

	enrollment, err := h.Accounts.SetupTOTP(r.Context(), u.ID)
	if err != nil {
		fail(w, r, "setup 2fa", err)
		return
	}
	render.JSON(w, r, enrollment)
}

// Enable2FA verifies a code against the secret from Setup2FA and turns 2FA on.
func (h *Handler) Enable2FA(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Secret string `json:"secret"`
		Code   string `json:"code"`
	}
	if !decode(w, r, &req) || !required(w, r, "secret", req.Secret, "code", req.Code) {
		return
	}
	u, _ := CurrentUser(r.Context())

	if err := h.Accounts.EnableTOTP(r.Context(), u.ID, req.Secret, req.Code); err != nil {
		fail(w, r, "enable 2fa", err)
		return
	}
	writeSuccess(w, r, map[string]any{"message": "2FA enabled successfully"})
}

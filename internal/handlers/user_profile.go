package handlers

import (
	"net/http"

	"github.com/go-chi/render"
)

// Me returns the signed-in local account.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	u, _ := CurrentUser(r.Context())
	render.JSON(w, r, map[string]any{
		"user": map[string]any{
			"id":       u.ID,
			"username": u.Username,
			"role":     u.Role,
		},
	})
}

// CreateLocalUser lets an admin add a local account with any role.
func (h *Handler) CreateLocalUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if !decode(w, r, &req) || !required(w, r, "username", req.Username, "password", req.Password, "role", req.Role) {
		return
	}

	user, err := h.Accounts.CreateLocal(r.Context(), req.Username, req.Password, req.Role, actor(r))
	if err != nil {
		fail(w, r, "create user", err)
		return
	}
	writeSuccess(w, r, map[string]any{"user": userView(user)})
}

// AdminResetPassword sets a local account's password without the old one.
func (h *Handler) AdminResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID      int    `json:"user_id"`
		NewPassword string `json:"new_password"`
	}
	if !decode(w, r, &req) || !required(w, r, "new_password", req.NewPassword) {
		return
	}
	if req.UserID == 0 {
		writeError(w, r, http.StatusBadRequest, "user_id is required")
		return
	}

	if err := h.Accounts.ResetPassword(r.Context(), req.UserID, req.NewPassword, actor(r)); err != nil {
		fail(w, r, "reset password", err)
		return
	}
	writeSuccess(w, r, nil)
}

package handlers

import (
	"net/http"

	"congregation-admin-go/internal/recycle"

	"github.com/go-chi/render"
)

// === Recycle bin ===

// SoftDeleteUser moves a provider user into the recycle bin.
func (h *Handler) SoftDeleteUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID    string `json:"userId"`
		DeletedBy string `json:"deletedBy"`
	}
	if !decode(w, r, &req) || !required(w, r, "userId", req.UserID) {
		return
	}

	if _, err := h.Recycle.SoftDelete(r.Context(), req.UserID, req.DeletedBy); err != nil {
		fail(w, r, recycle.OpSoftDelete, err)
		return
	}
	writeSuccess(w, r, nil)
}

func (h *Handler) RestoreUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if !decode(w, r, &req) || !required(w, r, "userId", req.UserID) {
		return
	}

	if err := h.Recycle.Restore(r.Context(), req.UserID, actor(r)); err != nil {
		fail(w, r, recycle.OpRestore, err)
		return
	}
	writeSuccess(w, r, nil)
}

func (h *Handler) PermanentDeleteUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if !decode(w, r, &req) || !required(w, r, "userId", req.UserID) {
		return
	}

	if err := h.Recycle.PermanentDelete(r.Context(), req.UserID, actor(r)); err != nil {
		fail(w, r, recycle.OpPermanentDelete, err)
		return
	}
	writeSuccess(w, r, nil)
}

func (h *Handler) ListBin(w http.ResponseWriter, r *http.Request) {
	items, err := h.Recycle.ListBin(r.Context())
	if err != nil {
		fail(w, r, recycle.OpListBin, err)
		return
	}
	render.JSON(w, r, map[string]any{"items": items})
}

// RestoreBinItem restores the entity held by one bin item and removes the item.
func (h *Handler) RestoreBinItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BinID string `json:"binId"`
	}
	if !decode(w, r, &req) || !required(w, r, "binId", req.BinID) {
		return
	}

	if err := h.Recycle.RestoreBinItem(r.Context(), req.BinID, actor(r)); err != nil {
		fail(w, r, recycle.OpRestoreBinItem, err)
		return
	}
	writeSuccess(w, r, nil)
}

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	logs, err := h.Recycle.RecentEvents(r.Context())
	if err != nil {
		fail(w, r, recycle.OpListEvents, err)
		return
	}
	render.JSON(w, r, map[string]any{"logs": logs})
}

func (h *Handler) PurgeReport(w http.ResponseWriter, r *http.Request) {
	logs, err := h.Recycle.PurgeReport(r.Context())
	if err != nil {
		fail(w, r, recycle.OpPurgeReport, err)
		return
	}
	render.JSON(w, r, map[string]any{"logs": logs})
}

// === Provider users ===

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Accounts.ListUsers(r.Context())
	if err != nil {
		fail(w, r, "list users", err)
		return
	}
	render.JSON(w, r, map[string]any{"users": users})
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
		Role   string `json:"role"`
	}
	if !decode(w, r, &req) || !required(w, r, "userId", req.UserID, "role", req.Role) {
		return
	}

	if err := h.Accounts.UpdateRole(r.Context(), req.UserID, req.Role, actor(r)); err != nil {
		fail(w, r, "update user", err)
		return
	}
	writeSuccess(w, r, nil)
}

func (h *Handler) InviteUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if !decode(w, r, &req) || !required(w, r, "email", req.Email) {
		return
	}

	if _, err := h.Accounts.Invite(r.Context(), req.Email, req.Role, actor(r)); err != nil {
		fail(w, r, "invite user", err)
		return
	}
	writeSuccess(w, r, nil)
}

// LoginEvent records a sign-in completed at the identity provider.
func (h *Handler) LoginEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
		Name   string `json:"name"`
	}
	if !decode(w, r, &req) || !required(w, r, "userId", req.UserID) {
		return
	}

	if err := h.Accounts.RecordLogin(r.Context(), req.UserID, req.Name); err != nil {
		fail(w, r, "record login", err)
		return
	}
	writeSuccess(w, r, nil)
}

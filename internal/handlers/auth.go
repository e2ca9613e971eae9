package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"congregation-admin-go/internal/models"
	"congregation-admin-go/internal/store"

	"github.com/go-chi/render"
	"github.com/gorilla/sessions"
)

const sessionName = "congregation-session"

// NewSessionStore returns the cookie store backing login sessions.
func NewSessionStore(secret string, secure bool) *sessions.CookieStore {
	cs := sessions.NewCookieStore([]byte(secret))
	cs.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return cs
}

// SessionUser is the signed-in local account.
type SessionUser struct {
	ID       int
	Username string
	Role     string
}

func (u SessionUser) IsAdmin() bool { return u.Role == models.RoleAdmin }

type sessionUserKey struct{}

// CurrentUser returns the user placed in ctx by AuthMiddleware.
func CurrentUser(ctx context.Context) (SessionUser, bool) {
	u, ok := ctx.Value(sessionUserKey{}).(SessionUser)
	return u, ok
}

// actor names the signed-in user in audit entries.
func actor(r *http.Request) string {
	if u, ok := CurrentUser(r.Context()); ok {
		return u.Username
	}
	return ""
}

const (
	sessionUserID     = "user_id"
	sessionPending2FA = "pending_2fa_user"
	sessionPendingAt  = "pending_2fa_at"

	// pending2FATTL bounds the time between the password step and the code.
	pending2FATTL = 5 * time.Minute
)

// sessionUser loads the signed-in account. Username and role come from the
// store, never from the cookie.
func (h *Handler) sessionUser(r *http.Request) (SessionUser, bool) {
	session, err := h.Sessions.Get(r, sessionName)
	if err != nil {
		return SessionUser{}, false
	}
	userID, ok := session.Values[sessionUserID].(int)
	if !ok || userID == 0 {
		return SessionUser{}, false
	}

	user, err := h.Accounts.LocalUser(r.Context(), userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Error("failed to load session user", "user_id", userID, "error", err)
		}
		return SessionUser{}, false
	}
	return SessionUser{ID: user.ID, Username: user.Username, Role: user.Role}, true
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request, user models.LocalUser) error {
	session, _ := h.Sessions.Get(r, sessionName)
	delete(session.Values, sessionPending2FA)
	delete(session.Values, sessionPendingAt)
	session.Values[sessionUserID] = user.ID
	return session.Save(r, w)
}

// startPending2FA remembers that user passed the password step. Only
// LocalLogin2FA can turn it into a session.
func (h *Handler) startPending2FA(w http.ResponseWriter, r *http.Request, user models.LocalUser) error {
	session, _ := h.Sessions.Get(r, sessionName)
	delete(session.Values, sessionUserID)
	session.Values[sessionPending2FA] = user.ID
	session.Values[sessionPendingAt] = time.Now().Unix()
	return session.Save(r, w)
}

// pending2FA returns the user waiting for a second factor, if the marker is
// present and not older than pending2FATTL.
func (h *Handler) pending2FA(r *http.Request) (int, bool) {
	session, err := h.Sessions.Get(r, sessionName)
	if err != nil {
		return 0, false
	}
	userID, ok := session.Values[sessionPending2FA].(int)
	if !ok || userID == 0 {
		return 0, false
	}
	at, _ := session.Values[sessionPendingAt].(int64)
	if time.Since(time.Unix(at, 0)) > pending2FATTL {
		return 0, false
	}
	return userID, true
}

// AuthMiddleware rejects requests without a signed-in user.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := h.sessionUser(r)
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionUserKey{}, user)))
	})
}

// AdminMiddleware requires a signed-in admin. Unauthenticated requests get 401,
// other roles 403.
func (h *Handler) AdminMiddleware(next http.Handler) http.Handler {
	return h.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u, _ := CurrentUser(r.Context()); !u.IsAdmin() {
			writeError(w, r, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func userView(u models.LocalUser) map[string]any {
	return map[string]any{
		"id":           u.ID,
		"username":     u.Username,
		"role":         u.Role,
		"totp_enabled": u.TOTPEnabled,
	}
}

// LocalRegister creates a "user" account and signs it in.
func (h *Handler) LocalRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decode(w, r, &req) || !required(w, r, "username", req.Username, "password", req.Password) {
		return
	}

	user, err := h.Accounts.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		fail(w, r, "register", err)
		return
	}
	if err := h.startSession(w, r, user); err != nil {
		fail(w, r, "register", err)
		return
	}
	writeSuccess(w, r, map[string]any{"user": userView(user)})
}

// LocalLogin checks the password. Accounts with 2FA get a pending marker in the
// session and must finish with LocalLogin2FA.
func (h *Handler) LocalLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decode(w, r, &req) || !required(w, r, "username", req.Username, "password", req.Password) {
		return
	}

	res, err := h.Accounts.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		fail(w, r, "login", err)
		return
	}
	if res.Requires2FA {
		if err := h.startPending2FA(w, r, res.User); err != nil {
			fail(w, r, "login", err)
			return
		}
		render.JSON(w, r, map[string]any{"requires_2fa": true})
		return
	}

	if err := h.startSession(w, r, res.User); err != nil {
		fail(w, r, "login", err)
		return
	}
	writeSuccess(w, r, map[string]any{"user": userView(res.User)})
}

// LocalLogout ends the session.
func (h *Handler) LocalLogout(w http.ResponseWriter, r *http.Request) {
	session, _ := h.Sessions.Get(r, sessionName)
	delete(session.Values, sessionUserID)
	delete(session.Values, sessionPending2FA)
	delete(session.Values, sessionPendingAt)
	session.Options.MaxAge = -1
	if err := session.Save(r, w); err != nil {
		fail(w, r, "logout", err)
		return
	}
	writeSuccess(w, r, nil)
}

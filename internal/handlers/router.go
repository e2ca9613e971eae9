package handlers

import (
	"net/http"
	"time"

	"congregation-admin-go/internal/telemetry"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const requestTimeout = 30 * time.Second

// NewRouter wires every route.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(telemetry.MetricsMiddleware)
	if len(h.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", cronSignatureHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/healthz", h.Healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.With(middleware.Timeout(requestTimeout)).Group(func(r chi.Router) {
		r.Post("/auth/login-event", h.LoginEvent)

		r.Post("/local/register", h.LocalRegister)
		r.Post("/local/login", h.LocalLogin)
		r.Post("/local/login/2fa", h.LocalLogin2FA)
		r.Post("/local/logout", h.LocalLogout)
		r.Get("/push/vapid-key", h.VAPIDKey)

		r.With(h.CronSignatureMiddleware).Post("/cron/purge-expired", h.PurgeExpired)

		// Signed-in local accounts
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)
			r.Get("/local/me", h.Me)
			r.Post("/local/2fa/setup", h.Setup2FA)
			r.Post("/local/2fa/enable", h.Enable2FA)
			r.Post("/push/subscribe", h.SubscribePush)
		})

		// Admins
		r.Group(func(r chi.Router) {
			r.Use(h.AdminMiddleware)

			r.Get("/users", h.ListUsers)
			r.Post("/users/delete", h.SoftDeleteUser)
			r.Post("/users/restore", h.RestoreUser)
			r.Post("/users/permanent-delete", h.PermanentDeleteUser)
			r.Post("/users/update", h.UpdateUser)
			r.Post("/users/invite", h.InviteUser)

			r.Get("/admin/bin", h.ListBin)
			r.Post("/admin/bin/restore", h.RestoreBinItem)
			r.Get("/admin/bin/purges", h.PurgeReport)
			r.Get("/admin/events", h.ListEvents)

			r.Post("/local/users", h.CreateLocalUser)
			r.Post("/local/password-reset", h.AdminResetPassword)
		})
	})

	// No timeout on the event stream.
	r.With(h.AdminMiddleware).Get("/admin/events/stream", h.EventsStream)

	return r
}

package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mdrennan/bulwark/internal/auth"
	"github.com/mdrennan/bulwark/internal/handlers"
	"github.com/mdrennan/bulwark/internal/middleware"
	pkghttp "github.com/mdrennan/bulwark/pkg/http"
)

// adminRequestsPerMinute caps the admin API per client IP
const adminRequestsPerMinute = 60

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	engineHandler *handlers.EngineHandler,
	adminHandler *handlers.AdminHandler,
	tokenManager *auth.TokenManager,
) {
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Decision API - consumed by trusted host applications; any valid
	// token is accepted
	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(tokenManager))

		r.Post("/v1/check", engineHandler.Check)
		r.Post("/v1/attempts", engineHandler.RecordAttempt)
		r.Post("/v1/events", engineHandler.ReportEvent)
	})

	// Admin API - JWT auth, admin role, coarse per-IP limit
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(adminRequestsPerMinute))
		r.Use(auth.Middleware(tokenManager))
		r.Use(auth.RequireRole("admin"))

		r.Get("/admin/alerts", adminHandler.ListAlerts)
		r.Get("/admin/alerts/{id}", adminHandler.GetAlert)
		r.Post("/admin/alerts/{id}/resolve", adminHandler.ResolveAlert)
		r.Get("/admin/reputation/{ip}", adminHandler.GetReputation)
		r.Get("/admin/lockdowns/{ip}", adminHandler.GetLockdown)
		r.Delete("/admin/lockdowns/{ip}", adminHandler.ReleaseLockdown)
	})
}

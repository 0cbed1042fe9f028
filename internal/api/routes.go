package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))

			r.Post("/_action/sync", h.Sync)
			r.Get("/sync/delta", h.SyncDelta)

			r.Get("/entities", h.ListEntities)
			r.Get("/entities/{entity}", h.ListRows)
			r.Get("/entities/{entity}/row", h.GetRow)
			r.Get("/entities/{entity}/search", h.Search)
		})
	})

	return r
}

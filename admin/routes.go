package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// RegisterRoutes registers the admin API under /admin using a chi router
func RegisterRoutes(mux *http.ServeMux, handlers *AdminHandlers, token string) {
	r := chi.NewRouter()

	r.Get("/health", handlers.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(token))

		r.Get("/stats", handlers.handleStats)
		r.Get("/connections", handlers.handleConnections)
		r.Get("/history", handlers.handleHistory)

		r.Route("/queries", func(r chi.Router) {
			r.Get("/", handlers.handleActiveQueries)
			r.Get("/{queryID}", handlers.handleQuery)
		})

		r.Route("/cache", func(r chi.Router) {
			r.Get("/", handlers.handleCacheStats)
			r.Delete("/", handlers.handleClearCache)
		})
	})

	mux.Handle("/admin", http.RedirectHandler("/admin/", http.StatusMovedPermanently))
	mux.Handle("/admin/", http.StripPrefix("/admin", r))

	log.Info().Bool("auth", token != "").Msg("Admin endpoints enabled at /admin/*")
}

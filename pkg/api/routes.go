package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	if s.cfg.RateLimit.Enabled {
		r.Use(s.rateLimitMiddleware(s.cfg.RateLimit.RequestsPerMinute))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/summary", s.handleSummary)
		r.Get("/applications", s.handleListApplications)
		r.Get("/event-types", s.handleListEventTypes)
		r.Get("/check-codes", s.handleListCheckCodes)

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)

			r.Route("/{uid}", func(r chi.Router) {
				r.Get("/", s.handleGetRun)
				r.Get("/annotations", s.handleListAnnotations)

				r.With(s.requireAnnotator).
					Post("/annotations", s.handleCreateAnnotation)
			})
		})
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the API config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "HEAD", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	origins := s.cfg.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// Reflect the requesting origin so credentials work from any origin.
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool {
			return true
		}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}

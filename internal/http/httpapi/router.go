package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/propertyreel/server/internal/http/handlers"
	"github.com/propertyreel/server/internal/infra"
	"github.com/propertyreel/server/internal/limiter"
	"github.com/propertyreel/server/internal/middleware"
)

// NewRouter assembles the API surface. Stage triggers run synchronously to
// completion, so they live behind the same auth scope as the status poll the
// client uses while waiting.
func NewRouter(app *handlers.App, cfg *infra.Config, logger infra.Logger, rate limiter.Limiter) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimiddleware.RealIP,
		chimiddleware.Recoverer,
		middleware.Logger(logger),
		middleware.RateLimit(rate),
	)

	// Health
	r.Get("/v1/healthz", app.Health)

	// Local storage driver serves its objects straight from disk.
	if cfg.StorageDriver == "filesystem" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.StoragePath)))
		r.Handle("/static/*", fs)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))

		r.Get("/credits", app.CreditsBalance)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", app.JobsCreate)
			r.Get("/", app.JobsList)
			r.Get("/{job_id}", app.JobsStatus)
			r.Post("/{job_id}/prompts", app.JobsRunPrompts)
			r.Post("/{job_id}/videos", app.JobsRunVideos)
		})
	})

	return r
}

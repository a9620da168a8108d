package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"previewd/internal/http/handlers"
	"previewd/internal/middleware"
)

// Options carries the pieces the router wires around the handlers.
type Options struct {
	Logger          zerolog.Logger
	AllowedOrigins  []string
	RateLimitPerMin int
}

// NewRouter assembles the HTTP surface.
func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimiddleware.RealIP,
		chimiddleware.Recoverer,
		middleware.CORS(opts.AllowedOrigins),
		middleware.Logger(opts.Logger),
	)

	r.Get("/health", app.Health)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if opts.RateLimitPerMin > 0 {
				r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
			}
			r.Post("/preview", app.Submit)
		})

		r.Get("/preview/{jobID}/status", app.Status)
		r.Delete("/preview/{jobID}", app.Cancel)
		r.Get("/previews/{userID}", app.ListByOwner)
		r.Get("/queue/stats", app.QueueStats)
	})

	return r
}

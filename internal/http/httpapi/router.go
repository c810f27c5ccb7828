package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"genserver/internal/http/handlers"
	"genserver/internal/metrics"
	"genserver/internal/middleware"
)

// RouterOptions carries the cross-cutting pieces the router wires around the
// handlers.
type RouterOptions struct {
	JWTSecret     string
	DefaultLocale string
	Country       middleware.CountryLookup
	RateLimit     int
	CORSOrigins   []string
}

func NewRouter(app *handlers.App, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CORS(opts.CORSOrigins),
		middleware.I18N(opts.DefaultLocale, opts.Country),
	)
	if opts.RateLimit > 0 {
		r.Use(middleware.RateLimit(opts.RateLimit, time.Minute))
	}

	r.Get("/v1/healthz", app.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Provider callbacks authenticate by knowing the provider-assigned id,
	// not by user token.
	r.Post("/v1/webhooks/serverless", app.ServerlessWebhook)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))

		r.Post("/v1/images/generate", app.ImagesGenerate)
		r.Post("/v1/videos/generate", app.VideosGenerate)

		r.Route("/v1/jobs/{job_id}", func(r chi.Router) {
			r.Get("/", app.JobStatus)
			r.Get("/artifacts", app.JobArtifacts)
			r.Get("/download", app.JobDownload)
		})
	})

	return r
}

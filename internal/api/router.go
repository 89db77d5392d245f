package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/merchmate/internal/api/middleware"
	"github.com/kiranshivaraju/merchmate/internal/api/response"
	"github.com/rs/zerolog"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Logger       zerolog.Logger
	RateLimit    *mw.RateLimit
	CORSOrigins  []string
	MaxBodyBytes int64

	HealthHandler       http.HandlerFunc
	LegacyHealthHandler http.HandlerFunc
	GenerateHandler     http.HandlerFunc

	SubmitBatchHandler http.HandlerFunc
	SubmitMerchHandler http.HandlerFunc
	SubmitEditHandler  http.HandlerFunc
	ListJobsHandler    http.HandlerFunc
	GetJobHandler      http.HandlerFunc
	DownloadHandler    http.HandlerFunc
	ActivityHandler    http.HandlerFunc
	ProductsHandler    http.HandlerFunc
	StatsHandler       http.HandlerFunc
	StreamHandler      http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.Logger(deps.Logger))
	r.Use(mw.Recovery(deps.Logger))
	r.Use(mw.CORS(deps.CORSOrigins))

	// Health checks and the live feed are never rate limited
	r.Get("/api/health", orNotImplemented(deps.LegacyHealthHandler))
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	r.Get("/api/v1/stream", orNotImplemented(deps.StreamHandler))

	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimit.Limit)
		r.Use(mw.BodyLimit(deps.MaxBodyBytes))

		r.Post("/api/generate", orNotImplemented(deps.GenerateHandler))

		r.Post("/api/v1/batches", orNotImplemented(deps.SubmitBatchHandler))
		r.Post("/api/v1/merch", orNotImplemented(deps.SubmitMerchHandler))
		r.Post("/api/v1/edits", orNotImplemented(deps.SubmitEditHandler))

		r.Get("/api/v1/jobs", orNotImplemented(deps.ListJobsHandler))
		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))
		r.Get("/api/v1/jobs/{jobID}/download", orNotImplemented(deps.DownloadHandler))

		r.Get("/api/v1/activity", orNotImplemented(deps.ActivityHandler))
		r.Get("/api/v1/products", orNotImplemented(deps.ProductsHandler))
		r.Get("/api/v1/stats", orNotImplemented(deps.StatsHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}

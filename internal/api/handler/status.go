package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/kiranshivaraju/merchmate/internal/api/response"
	"github.com/kiranshivaraju/merchmate/internal/store"
	"github.com/kiranshivaraju/merchmate/pkg/models"
	"github.com/rs/zerolog"
)

// StatsReader reports aggregate counts from the job archive.
type StatsReader interface {
	JobStats(ctx context.Context) (*store.JobStats, error)
}

type product struct {
	ID     models.ProductType `json:"id"`
	Prompt string             `json:"prompt"`
}

// NewActivityHandler returns an http.HandlerFunc for GET /api/v1/activity.
func NewActivityHandler(act Activity) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, act.Snapshot())
	}
}

// NewProductsHandler returns an http.HandlerFunc for GET /api/v1/products.
func NewProductsHandler() http.HandlerFunc {
	catalog := make([]product, 0, len(models.Products))
	for _, p := range models.Products {
		prompt, _ := models.ProductPrompt(p)
		catalog = append(catalog, product{ID: p, Prompt: prompt})
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, catalog)
	}
}

// NewStatsHandler returns an http.HandlerFunc for GET /api/v1/stats.
func NewStatsHandler(stats StatsReader, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := stats.JobStats(r.Context())
		if err != nil {
			logger.Error().Err(err).Msg("job stats")
			response.Error(w, http.StatusServiceUnavailable, "ARCHIVE_UNAVAILABLE",
				"The job archive is not available", nil)
			return
		}
		response.JSON(w, s)
	}
}

// NewLegacyHealthHandler returns an http.HandlerFunc for GET /api/health.
func NewLegacyHealthHandler(now func() time.Time) http.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Raw(w, http.StatusOK, map[string]string{
			"status":    "Server is running",
			"timestamp": now().UTC().Format("2006-01-02T15:04:05.000Z"),
		})
	}
}

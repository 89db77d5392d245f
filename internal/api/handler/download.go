package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/merchmate/internal/api/response"
	"github.com/kiranshivaraju/merchmate/internal/cache"
	"github.com/kiranshivaraju/merchmate/internal/imageconv"
	"github.com/kiranshivaraju/merchmate/pkg/models"
	"github.com/rs/zerolog"
)

const conversionTTL = 15 * time.Minute

// DownloadOptions configures the download endpoint. Cache and Now are optional.
type DownloadOptions struct {
	Cache  cache.Cache
	Logger zerolog.Logger
	Now    func() time.Time
}

// NewDownloadHandler returns an http.HandlerFunc for
// GET /api/v1/jobs/{jobID}/download?format=png|jpg|webp.
func NewDownloadHandler(jobs JobReader, opts DownloadOptions) http.HandlerFunc {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return func(w http.ResponseWriter, r *http.Request) {
		format, err := imageconv.ParseFormat(r.URL.Query().Get("format"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_FORMAT",
				"format must be one of png, jpg, webp", nil)
			return
		}

		job, err := jobs.Get(chi.URLParam(r, "jobID"))
		if err != nil {
			writeJobLookupError(w, err)
			return
		}
		if job.Result == nil || job.Result.Empty() {
			response.Error(w, http.StatusConflict, "NO_RESULT",
				"Job has no result to download", map[string]models.JobStatus{"status": job.Status})
			return
		}

		data, err := convertCached(r, opts, job, format)
		if err != nil {
			opts.Logger.Error().Err(err).Str("job_id", job.ID).Str("format", string(format)).Msg("convert download")
			response.Error(w, http.StatusInternalServerError, "CONVERSION_FAILED",
				"Could not convert the image", nil)
			return
		}

		filename := fmt.Sprintf("merchmate-%s-%d.%s", job.Type, now().UnixMilli(), format)
		response.Attachment(w, filename, format.MIMEType(), data)
	}
}

// convertCached returns the job result in format, consulting the cache when
// one is configured. Settled results never change, so cached bytes stay valid.
func convertCached(r *http.Request, opts DownloadOptions, job models.Job, format imageconv.Format) ([]byte, error) {
	key := cache.ConversionKey(job.ID, string(format))
	if opts.Cache != nil {
		data, found, err := opts.Cache.Get(r.Context(), key)
		if err != nil {
			opts.Logger.Warn().Err(err).Str("key", key).Msg("conversion cache read failed")
		} else if found {
			return data, nil
		}
	}

	img, err := imageconv.Convert(*job.Result, format)
	if err != nil {
		return nil, err
	}

	if opts.Cache != nil && img.MIMEType != job.Result.MIMEType {
		if err := opts.Cache.Set(r.Context(), key, img.Data, conversionTTL); err != nil {
			opts.Logger.Warn().Err(err).Str("key", key).Msg("conversion cache write failed")
		}
	}
	return img.Data, nil
}

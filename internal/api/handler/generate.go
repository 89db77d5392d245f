package handler

import (
	"errors"
	"net/http"

	"github.com/kiranshivaraju/merchmate/internal/api/response"
	"github.com/kiranshivaraju/merchmate/internal/imagegen"
	"github.com/kiranshivaraju/merchmate/pkg/models"
	"github.com/rs/zerolog"
)

const (
	msgMissingFields  = "Missing required fields: imageBase64 and prompt"
	msgGenerateFailed = "Failed to generate image"
)

type generateResponse struct {
	Success bool   `json:"success"`
	Image   string `json:"image"`
}

type generateError struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// NewGenerateHandler returns an http.HandlerFunc for POST /api/generate, the
// synchronous single-image endpoint used by the proxy backend. Bodies are
// unenveloped.
func NewGenerateHandler(gen models.ImageGenerator, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ImageBase64 string `json:"imageBase64"`
			Prompt      string `json:"prompt"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.ImageBase64 == "" || req.Prompt == "" {
			response.Raw(w, http.StatusBadRequest, generateError{Error: msgMissingFields})
			return
		}

		source, err := models.ParseImage(req.ImageBase64)
		if err != nil {
			response.Raw(w, http.StatusBadRequest, generateError{Error: "Invalid imageBase64", Details: err.Error()})
			return
		}

		img, err := gen.Generate(r.Context(), models.GenerateRequest{Image: source, Prompt: req.Prompt})
		if err == nil && img.Empty() {
			err = models.BackendFailure("Generator returned an empty image")
		}
		if err != nil {
			logger.Warn().Err(err).Str("generator", gen.Name()).Msg("generation error")
			if errors.Is(err, models.ErrRateLimited) {
				response.Raw(w, http.StatusTooManyRequests, generateError{
					Error:      imagegen.MsgRateLimited,
					RetryAfter: int(imagegen.RetryAfter(err).Seconds()),
				})
				return
			}
			_, msg := imagegen.Classify(err)
			response.Raw(w, http.StatusInternalServerError, generateError{Error: msgGenerateFailed, Details: msg})
			return
		}

		response.Raw(w, http.StatusOK, generateResponse{Success: true, Image: img.DataURL()})
	}
}

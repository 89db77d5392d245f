package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/merchmate/internal/api/response"
	"github.com/kiranshivaraju/merchmate/internal/api/view"
	"github.com/kiranshivaraju/merchmate/internal/gate"
	"github.com/kiranshivaraju/merchmate/internal/orchestrator"
	"github.com/kiranshivaraju/merchmate/pkg/models"
	"github.com/rs/zerolog"
)

// SubmitOptions is shared by the three submission endpoints.
type SubmitOptions struct {
	Logger zerolog.Logger
}

type batchResponse struct {
	BatchID   uuid.UUID  `json:"batch_id"`
	CreatedAt time.Time  `json:"created_at"`
	Jobs      []view.Job `json:"jobs"`
}

// NewSubmitBatchHandler returns an http.HandlerFunc for POST /api/v1/batches.
func NewSubmitBatchHandler(sub Submitter, act Activity, opts SubmitOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Image        string `json:"image"`
			Instructions []struct {
				Text     string `json:"text"`
				Category string `json:"category"`
				Type     string `json:"type"`
			} `json:"instructions"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		source, ok := parseSource(w, req.Image)
		if !ok {
			return
		}

		instructions := make([]models.Instruction, len(req.Instructions))
		for i, ins := range req.Instructions {
			typ, ok := parseJobType(ins.Type)
			if !ok {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"type must be one of merch, edit, custom", map[string]int{"index": i})
				return
			}
			instructions[i] = models.Instruction{Text: ins.Text, Category: ins.Category, Type: typ}
		}

		batch, err := sub.Submit(r.Context(), source, instructions)
		writeBatch(w, act, batch, err, opts.Logger)
	}
}

// NewSubmitMerchHandler returns an http.HandlerFunc for POST /api/v1/merch.
func NewSubmitMerchHandler(sub Submitter, act Activity, opts SubmitOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Image    string   `json:"image"`
			Products []string `json:"products"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		source, ok := parseSource(w, req.Image)
		if !ok {
			return
		}

		products := make([]models.ProductType, len(req.Products))
		for i, p := range req.Products {
			products[i] = models.ProductType(p)
		}

		batch, err := sub.SubmitMerch(r.Context(), source, products)
		writeBatch(w, act, batch, err, opts.Logger)
	}
}

// NewSubmitEditHandler returns an http.HandlerFunc for POST /api/v1/edits.
func NewSubmitEditHandler(sub Submitter, act Activity, opts SubmitOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Image  string `json:"image"`
			Prompt string `json:"prompt"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		source, ok := parseSource(w, req.Image)
		if !ok {
			return
		}

		batch, err := sub.SubmitEdit(r.Context(), source, req.Prompt)
		writeBatch(w, act, batch, err, opts.Logger)
	}
}

func parseSource(w http.ResponseWriter, raw string) (models.Image, bool) {
	if raw == "" {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "image is required", nil)
		return models.Image{}, false
	}
	img, err := models.ParseImage(raw)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_IMAGE",
			"image must be a base64 string or data URL", nil)
		return models.Image{}, false
	}
	return img, true
}

func parseJobType(s string) (models.JobType, bool) {
	switch models.JobType(s) {
	case "":
		return models.JobTypeCustom, true
	case models.JobTypeMerch, models.JobTypeEdit, models.JobTypeCustom:
		return models.JobType(s), true
	default:
		return "", false
	}
}

func writeBatch(w http.ResponseWriter, act Activity, batch orchestrator.Batch, err error, logger zerolog.Logger) {
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrBusy):
			var snap gate.Snapshot
			if act != nil {
				snap = act.Snapshot()
			}
			response.Error(w, http.StatusConflict, "GENERATION_IN_PROGRESS",
				"A generation is already in progress", snap)
		case errors.Is(err, orchestrator.ErrEmptySource):
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "image is required", nil)
		case errors.Is(err, orchestrator.ErrNoInstructions):
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "at least one instruction is required", nil)
		case errors.Is(err, orchestrator.ErrEmptyInstruction):
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		case errors.Is(err, orchestrator.ErrUnknownProduct):
			response.Error(w, http.StatusBadRequest, "UNKNOWN_PRODUCT", err.Error(),
				map[string][]models.ProductType{"products": models.Products})
		default:
			logger.Error().Err(err).Msg("submit batch")
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
		}
		return
	}

	response.Accepted(w, batchResponse{
		BatchID:   batch.ID,
		CreatedAt: batch.CreatedAt,
		Jobs:      view.FromJobs(batch.Jobs),
	})
}

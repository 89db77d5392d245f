// Package handler implements the HTTP endpoints of the MerchMate API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/kiranshivaraju/merchmate/internal/api/response"
	"github.com/kiranshivaraju/merchmate/internal/gate"
	"github.com/kiranshivaraju/merchmate/internal/orchestrator"
	"github.com/kiranshivaraju/merchmate/pkg/models"
)

// Submitter starts generation batches.
type Submitter interface {
	Submit(ctx context.Context, source models.Image, instructions []models.Instruction) (orchestrator.Batch, error)
	SubmitMerch(ctx context.Context, source models.Image, products []models.ProductType) (orchestrator.Batch, error)
	SubmitEdit(ctx context.Context, source models.Image, prompt string) (orchestrator.Batch, error)
}

// Activity reports whether generation is in flight.
type Activity interface {
	Snapshot() gate.Snapshot
}

// Tracker reads the job list and the activity counter as one consistent view.
type Tracker interface {
	State() ([]models.Job, gate.Snapshot)
}

// JobReader is the read side of the job registry.
type JobReader interface {
	Get(id string) (models.Job, error)
	List() []models.Job
}

// decodeJSON reads the request body into v. It writes the error response
// itself and reports whether the handler should continue.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return true
	}

	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		response.Error(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
			"Request body is too large", map[string]int64{"limit_bytes": maxErr.Limit})
	case errors.Is(err, io.EOF):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Request body is required", nil)
	default:
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
	}
	return false
}

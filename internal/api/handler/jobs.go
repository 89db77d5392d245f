package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/merchmate/internal/api/response"
	"github.com/kiranshivaraju/merchmate/internal/api/view"
	"github.com/kiranshivaraju/merchmate/internal/gate"
	"github.com/kiranshivaraju/merchmate/internal/registry"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

type jobsMeta struct {
	response.PaginationMeta
	gate.Snapshot
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
// Jobs are listed in display order, most recent batch first.
func NewListJobsHandler(state Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, ok := queryInt(w, r, "page", 1)
		if !ok {
			return
		}
		limit, ok := queryInt(w, r, "limit", defaultPageLimit)
		if !ok {
			return
		}
		if limit > maxPageLimit {
			limit = maxPageLimit
		}

		all, snap := state.State()
		start, end := pageBounds(page, limit, len(all))

		response.Collection(w, view.FromJobs(all[start:end]), jobsMeta{
			PaginationMeta: response.PaginationMeta{
				Page:    page,
				Limit:   limit,
				Total:   len(all),
				HasNext: end < len(all),
			},
			Snapshot: snap,
		})
	}
}

// pageBounds returns the slice bounds of a 1-based page. Pages past the end
// are empty; the offset is never computed for them, so it cannot overflow.
func pageBounds(page, limit, total int) (int, int) {
	start := total
	if page-1 <= total/limit {
		start = (page - 1) * limit
	}
	if start > total {
		start = total
	}
	end := total
	if total-start > limit {
		end = start + limit
	}
	return start, end
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(jobs JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := jobs.Get(chi.URLParam(r, "jobID"))
		if err != nil {
			writeJobLookupError(w, err)
			return
		}
		response.JSON(w, view.FromJob(job))
	}
}

func writeJobLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, registry.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
		return
	}
	response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
}

func queryInt(w http.ResponseWriter, r *http.Request, key string, def int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", key+" must be a positive integer", nil)
		return 0, false
	}
	return n, true
}

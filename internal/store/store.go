package store

import (
	"context"
	"errors"

	"github.com/kiranshivaraju/merchmate/pkg/models"
)

var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrNotSettled = errors.New("job is not settled")

// Store is the job archive. It records settled jobs and reports aggregate
// counts; it is never read back into the live gallery.
type Store interface {
	Ping(ctx context.Context) error
	RecordJob(ctx context.Context, job models.Job) error
	JobStats(ctx context.Context) (*JobStats, error)
}

// JobStats aggregates archived jobs.
type JobStats struct {
	Total       int                      `json:"total"`
	ByStatus    map[models.JobStatus]int `json:"by_status"`
	ByType      map[models.JobType]int   `json:"by_type"`
	ByErrorKind map[models.ErrorKind]int `json:"by_error_kind"`
}

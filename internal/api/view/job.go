// Package view renders domain jobs into their wire representation.
package view

import (
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/merchmate/pkg/models"
)

// Job is the wire form of a generation job. The source image is never echoed.
type Job struct {
	ID          string           `json:"id"`
	BatchID     uuid.UUID        `json:"batch_id"`
	Type        models.JobType   `json:"type"`
	Category    string           `json:"category,omitempty"`
	Status      models.JobStatus `json:"status"`
	Prompt      string           `json:"prompt"`
	ResultImage string           `json:"result_image,omitempty"`
	Error       string           `json:"error,omitempty"`
	ErrorKind   models.ErrorKind `json:"error_kind,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	SettledAt   *time.Time       `json:"settled_at,omitempty"`
}

// FromJob converts a job into its wire form.
func FromJob(j models.Job) Job {
	v := Job{
		ID:        j.ID,
		BatchID:   j.BatchID,
		Type:      j.Type,
		Category:  j.Category,
		Status:    j.Status,
		Prompt:    j.Instruction,
		Error:     j.ErrorDetail,
		ErrorKind: j.ErrorKind,
		CreatedAt: j.CreatedAt,
		SettledAt: j.SettledAt,
	}
	if j.Result != nil {
		v.ResultImage = j.Result.DataURL()
	}
	return v
}

// FromJobs converts jobs preserving order. It never returns nil.
func FromJobs(jobs []models.Job) []Job {
	out := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, FromJob(j))
	}
	return out
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a generation job.
type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusSuccess JobStatus = "success"
	JobStatusError   JobStatus = "error"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSuccess || s == JobStatusError
}

// JobType distinguishes the workflow that created a job.
type JobType string

const (
	JobTypeMerch  JobType = "merch"
	JobTypeEdit   JobType = "edit"
	JobTypeCustom JobType = "custom"
)

// Job is one request/response unit: a source image paired with an instruction
// and, once settled, either a result image or an error.
//
// A job is created pending and settles exactly once. Result is set only for
// success; ErrorKind and ErrorDetail only for error.
type Job struct {
	ID          string     `json:"id"`
	BatchID     uuid.UUID  `json:"batch_id"`
	Type        JobType    `json:"type"`
	SourceImage Image      `json:"-"`
	Instruction string     `json:"prompt"`
	Category    string     `json:"category,omitempty"`
	Status      JobStatus  `json:"status"`
	Result      *Image     `json:"-"`
	ErrorKind   ErrorKind  `json:"error_kind,omitempty"`
	ErrorDetail string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	SettledAt   *time.Time `json:"settled_at,omitempty"`
}

// Instruction is one requested transformation within a submission.
type Instruction struct {
	Text     string
	Category string
	Type     JobType
}

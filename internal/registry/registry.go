// Package registry holds the ordered, in-memory collection of generation jobs.
// It is the single source of truth read by the HTTP layer and written by the
// orchestrator.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kiranshivaraju/merchmate/pkg/models"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrDuplicateID       = errors.New("duplicate job id")
	ErrInvalidTransition = errors.New("invalid job status transition")
)

var validTransitions = map[models.JobStatus][]models.JobStatus{
	models.JobStatusPending: {models.JobStatusSuccess, models.JobStatusError},
}

// Patch is the settlement applied to a single job.
type Patch struct {
	Status      models.JobStatus
	Result      *models.Image
	ErrorKind   models.ErrorKind
	ErrorDetail string
	SettledAt   time.Time
}

// Succeeded builds the patch for a job that produced an image.
func Succeeded(img models.Image, at time.Time) Patch {
	return Patch{Status: models.JobStatusSuccess, Result: &img, SettledAt: at}
}

// Failed builds the patch for a job that failed.
func Failed(kind models.ErrorKind, detail string, at time.Time) Patch {
	return Patch{Status: models.JobStatusError, ErrorKind: kind, ErrorDetail: detail, SettledAt: at}
}

func (p Patch) validate() error {
	switch p.Status {
	case models.JobStatusSuccess:
		if p.Result == nil || p.Result.Empty() {
			return fmt.Errorf("%w: success requires a result", ErrInvalidTransition)
		}
		if p.ErrorDetail != "" || p.ErrorKind != "" {
			return fmt.Errorf("%w: success cannot carry an error", ErrInvalidTransition)
		}
	case models.JobStatusError:
		if p.ErrorDetail == "" || p.ErrorKind == "" {
			return fmt.Errorf("%w: error requires kind and detail", ErrInvalidTransition)
		}
		if p.Result != nil {
			return fmt.Errorf("%w: error cannot carry a result", ErrInvalidTransition)
		}
	default:
		return fmt.Errorf("%w: %q is not a terminal status", ErrInvalidTransition, p.Status)
	}
	return nil
}

// EventType identifies a registry mutation.
type EventType string

const (
	EventJobsAdded  EventType = "jobs_added"
	EventJobSettled EventType = "job_settled"
)

// Event describes one applied mutation. Jobs are copies. Seq increases by one
// per mutation and orders events against Snapshot.
type Event struct {
	Type EventType
	Jobs []models.Job
	Seq  uint64
}

// Registry is an ordered mapping from job ID to job. New jobs are inserted at
// the front; jobs are never removed. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	order []string // display order, most recent batch first
	jobs  map[string]*models.Job
	seq   uint64 // last applied mutation

	lmu       sync.Mutex
	listeners map[int]func(Event)
	nextID    int
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		jobs:      make(map[string]*models.Job),
		listeners: make(map[int]func(Event)),
	}
}

// Prepend inserts jobs at the front as one unit, preserving their relative
// order. If any ID already exists nothing is inserted.
func (r *Registry) Prepend(jobs ...models.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	r.mu.Lock()
	seen := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		if _, exists := r.jobs[j.ID]; exists || seen[j.ID] {
			r.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrDuplicateID, j.ID)
		}
		seen[j.ID] = true
	}

	ids := make([]string, 0, len(jobs)+len(r.order))
	for i := range jobs {
		j := jobs[i]
		r.jobs[j.ID] = &j
		ids = append(ids, j.ID)
	}
	r.order = append(ids, r.order...)
	r.seq++
	seq := r.seq
	r.mu.Unlock()

	added := make([]models.Job, len(jobs))
	copy(added, jobs)
	r.notify(Event{Type: EventJobsAdded, Jobs: added, Seq: seq})
	return nil
}

// UpdateByID applies a terminal patch to the job with the given ID. The record
// is replaced whole, so readers never observe a partially applied patch.
func (r *Registry) UpdateByID(id string, p Patch) (models.Job, error) {
	if err := p.validate(); err != nil {
		return models.Job{}, err
	}

	r.mu.Lock()
	cur, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return models.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !allowed(cur.Status, p.Status) {
		r.mu.Unlock()
		return models.Job{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, p.Status)
	}

	next := *cur
	next.Status = p.Status
	next.Result = p.Result
	next.ErrorKind = p.ErrorKind
	next.ErrorDetail = p.ErrorDetail
	settled := p.SettledAt
	if settled.IsZero() {
		settled = time.Now().UTC()
	}
	next.SettledAt = &settled
	r.jobs[id] = &next
	r.seq++
	seq := r.seq
	r.mu.Unlock()

	r.notify(Event{Type: EventJobSettled, Jobs: []models.Job{next}, Seq: seq})
	return next, nil
}

// Get returns a copy of the job with the given ID.
func (r *Registry) Get(id string) (models.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return models.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *j, nil
}

// List returns copies of all jobs in display order.
func (r *Registry) List() []models.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Job, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.jobs[id])
	}
	return out
}

// Snapshot returns copies of all jobs in display order and the Seq of the last
// mutation they reflect. Events with a Seq at or below it are already included.
func (r *Registry) Snapshot() ([]models.Job, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Job, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.jobs[id])
	}
	return out, r.seq
}

// Len returns the number of jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Subscribe registers fn to receive every applied mutation. Listeners run
// synchronously on the mutating goroutine after the registry lock is released,
// so they must not block. The returned func removes the listener.
func (r *Registry) Subscribe(fn func(Event)) (unsubscribe func()) {
	r.lmu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.lmu.Unlock()

	return func() {
		r.lmu.Lock()
		delete(r.listeners, id)
		r.lmu.Unlock()
	}
}

func (r *Registry) notify(ev Event) {
	r.lmu.Lock()
	fns := make([]func(Event), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.lmu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func allowed(from, to models.JobStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

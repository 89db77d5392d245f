// Package orchestrator fans a submission out into independent generation jobs
// and writes each outcome back into the registry as it settles.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/merchmate/internal/gate"
	"github.com/kiranshivaraju/merchmate/internal/imagegen"
	"github.com/kiranshivaraju/merchmate/internal/registry"
	"github.com/kiranshivaraju/merchmate/pkg/models"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

var (
	ErrEmptySource      = errors.New("source image is empty")
	ErrNoInstructions   = errors.New("at least one instruction is required")
	ErrEmptyInstruction = errors.New("instruction text is empty")
	ErrUnknownProduct   = errors.New("unknown product")
	ErrBusy             = errors.New("a generation is already in progress")
)

const archiveTimeout = 10 * time.Second

// Archive receives every settled job. Failures never affect the registry.
type Archive interface {
	RecordJob(ctx context.Context, job models.Job) error
}

// Options configures an Orchestrator. The zero value is usable.
type Options struct {
	Logger zerolog.Logger
	// MaxConcurrent caps in-flight Generate calls; 0 means unlimited.
	MaxConcurrent int
	Archive       Archive
	Now           func() time.Time
	// Exclusive rejects a submission with ErrBusy while any job is pending.
	Exclusive bool
}

// Batch is the set of jobs created by one submission.
type Batch struct {
	ID        uuid.UUID    `json:"batch_id"`
	CreatedAt time.Time    `json:"created_at"`
	Jobs      []models.Job `json:"jobs"`
}

// Orchestrator accepts submissions and dispatches one Generate call per job.
type Orchestrator struct {
	gen       models.ImageGenerator
	reg       *registry.Registry
	gate      *gate.Gate
	logger    zerolog.Logger
	archive   Archive
	sem       *semaphore.Weighted
	now       func() time.Time
	exclusive bool

	// mu serializes batch creation and settlement bookkeeping.
	mu         sync.Mutex
	lastMillis int64
	remaining  map[uuid.UUID]int
	inflight   int
	idle       chan struct{}
}

// New wires an Orchestrator to its generator, registry and gate.
func New(gen models.ImageGenerator, reg *registry.Registry, g *gate.Gate, opts Options) *Orchestrator {
	o := &Orchestrator{
		gen:       gen,
		reg:       reg,
		gate:      g,
		logger:    opts.Logger.With().Str("component", "orchestrator").Logger(),
		archive:   opts.Archive,
		now:       opts.Now,
		exclusive: opts.Exclusive,
		remaining: make(map[uuid.UUID]int),
		idle:      make(chan struct{}),
	}
	close(o.idle)
	if o.now == nil {
		o.now = time.Now
	}
	if opts.MaxConcurrent > 0 {
		o.sem = semaphore.NewWeighted(int64(opts.MaxConcurrent))
	}
	return o
}

// Submit creates one pending job per instruction, prepends them to the
// registry as a unit and dispatches them concurrently. It returns as soon as
// the jobs are registered; only precondition failures are reported.
func (o *Orchestrator) Submit(ctx context.Context, source models.Image, instructions []models.Instruction) (Batch, error) {
	if err := validate(source, instructions); err != nil {
		return Batch{}, err
	}
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}

	batchID := uuid.New()
	labels := jobLabels(instructions)

	o.mu.Lock()
	if o.exclusive && o.gate.IsActive() {
		o.mu.Unlock()
		return Batch{}, ErrBusy
	}
	millis := o.now().UnixMilli()
	if millis <= o.lastMillis {
		millis = o.lastMillis + 1
	}
	createdAt := time.UnixMilli(millis).UTC()

	jobs := make([]models.Job, len(instructions))
	for i, ins := range instructions {
		typ := ins.Type
		if typ == "" {
			typ = models.JobTypeCustom
		}
		jobs[i] = models.Job{
			ID:          fmt.Sprintf("%d-%s", millis, labels[i]),
			BatchID:     batchID,
			Type:        typ,
			SourceImage: source,
			Instruction: ins.Text,
			Category:    ins.Category,
			Status:      models.JobStatusPending,
			CreatedAt:   createdAt,
		}
	}

	if err := o.reg.Prepend(jobs...); err != nil {
		o.mu.Unlock()
		o.logger.Error().Err(err).Str("batch_id", batchID.String()).Msg("registry rejected batch")
		return Batch{}, fmt.Errorf("register batch: %w", err)
	}
	o.lastMillis = millis
	o.gate.Add(len(jobs))
	o.remaining[batchID] = len(jobs)
	if o.inflight == 0 {
		o.idle = make(chan struct{})
	}
	o.inflight += len(jobs)
	o.mu.Unlock()

	o.logger.Info().
		Str("batch_id", batchID.String()).
		Int("jobs", len(jobs)).
		Str("generator", o.gen.Name()).
		Msg("batch submitted")

	for _, job := range jobs {
		go o.run(job)
	}

	return Batch{ID: batchID, CreatedAt: createdAt, Jobs: jobs}, nil
}

// SubmitMerch submits one merch mockup job per product using the catalog prompts.
func (o *Orchestrator) SubmitMerch(ctx context.Context, source models.Image, products []models.ProductType) (Batch, error) {
	if source.Empty() {
		return Batch{}, ErrEmptySource
	}
	if len(products) == 0 {
		return Batch{}, ErrNoInstructions
	}
	instructions := make([]models.Instruction, len(products))
	for i, p := range products {
		prompt, ok := models.ProductPrompt(p)
		if !ok {
			return Batch{}, fmt.Errorf("%w: %q", ErrUnknownProduct, p)
		}
		instructions[i] = models.Instruction{Text: prompt, Category: string(p), Type: models.JobTypeMerch}
	}
	return o.Submit(ctx, source, instructions)
}

// SubmitEdit submits a single free-form edit job.
func (o *Orchestrator) SubmitEdit(ctx context.Context, source models.Image, prompt string) (Batch, error) {
	return o.Submit(ctx, source, []models.Instruction{{Text: prompt, Type: models.JobTypeEdit}})
}

// Wait blocks until every dispatched job has settled or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	idle := o.idle
	o.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the jobs in display order together with the activity
// counter. Both are read under the lock that guards submission and
// settlement, so active_count always equals the pending jobs listed.
func (o *Orchestrator) State() ([]models.Job, gate.Snapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.reg.List(), o.gate.Snapshot()
}

// run executes one job on its own goroutine and always settles it.
func (o *Orchestrator) run(job models.Job) {
	defer o.finish()

	ctx := context.Background()
	if o.sem != nil {
		// Acquire cannot fail with a background context.
		_ = o.sem.Acquire(ctx, 1)
		defer o.sem.Release(1)
	}

	start := time.Now()
	img, err := o.generate(ctx, job)
	if err == nil && img.Empty() {
		err = models.BackendFailure("Generator returned an empty image")
	}

	settled, ok := o.settle(job, img, err)
	if !ok {
		return
	}

	ev := o.logger.Info()
	if settled.Status == models.JobStatusError {
		ev = o.logger.Warn().Str("error_kind", string(settled.ErrorKind)).Str("error", settled.ErrorDetail)
	}
	ev.Str("job_id", job.ID).
		Str("status", string(settled.Status)).
		Dur("duration", time.Since(start)).
		Msg("job settled")

	if o.archive != nil {
		actx, cancel := context.WithTimeout(ctx, archiveTimeout)
		defer cancel()
		if err := o.archive.RecordJob(actx, settled); err != nil {
			o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("archive job failed")
		}
	}
}

// generate calls the backend and turns a panic into a transport failure.
func (o *Orchestrator) generate(ctx context.Context, job models.Job) (img models.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().Interface("panic", r).Str("job_id", job.ID).Msg("panic in generator")
			img = models.Image{}
			err = models.TransportFailure(fmt.Errorf("generator panic: %v", r))
		}
	}()
	return o.gen.Generate(ctx, models.GenerateRequest{Image: job.SourceImage, Prompt: job.Instruction})
}

// settle writes the outcome into the registry and releases the job's gate
// slot inside one critical section.
func (o *Orchestrator) settle(job models.Job, img models.Image, genErr error) (models.Job, bool) {
	at := o.now().UTC()
	patch := registry.Succeeded(img, at)
	if genErr != nil {
		kind, msg := imagegen.Classify(genErr)
		patch = registry.Failed(kind, msg, at)
	}

	o.mu.Lock()
	settled, err := o.reg.UpdateByID(job.ID, patch)
	if gerr := o.gate.Done(); gerr != nil {
		o.logger.Error().Err(gerr).Str("job_id", job.ID).Msg("activity gate out of sync")
	}
	o.remaining[job.BatchID]--
	left := o.remaining[job.BatchID]
	if left <= 0 {
		delete(o.remaining, job.BatchID)
	}
	o.mu.Unlock()

	if err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("settlement rejected by registry")
	}
	if left <= 0 {
		o.logger.Info().Str("batch_id", job.BatchID.String()).Msg("batch settled")
	}
	return settled, err == nil
}

func (o *Orchestrator) finish() {
	o.mu.Lock()
	o.inflight--
	if o.inflight == 0 {
		close(o.idle)
	}
	o.mu.Unlock()
}

func validate(source models.Image, instructions []models.Instruction) error {
	if source.Empty() {
		return ErrEmptySource
	}
	if len(instructions) == 0 {
		return ErrNoInstructions
	}
	for i, ins := range instructions {
		if strings.TrimSpace(ins.Text) == "" {
			return fmt.Errorf("%w: instruction %d", ErrEmptyInstruction, i)
		}
	}
	return nil
}

// jobLabels picks the per-job suffix of each identifier: the category slug
// when it is unique in the batch, "edit" for a lone uncategorized edit, and
// the index otherwise. Any collision falls back to indexes for the batch.
func jobLabels(instructions []models.Instruction) []string {
	slugs := make([]string, len(instructions))
	counts := make(map[string]int, len(instructions))
	for i, ins := range instructions {
		slugs[i] = slug(ins.Category)
		if slugs[i] != "" {
			counts[slugs[i]]++
		}
	}

	labels := make([]string, len(instructions))
	seen := make(map[string]bool, len(instructions))
	collision := false
	for i, ins := range instructions {
		switch {
		case slugs[i] != "" && counts[slugs[i]] == 1:
			labels[i] = slugs[i]
		case len(instructions) == 1 && ins.Type == models.JobTypeEdit:
			labels[i] = "edit"
		default:
			labels[i] = strconv.Itoa(i)
		}
		if seen[labels[i]] {
			collision = true
		}
		seen[labels[i]] = true
	}

	if collision {
		for i := range labels {
			labels[i] = strconv.Itoa(i)
		}
	}
	return labels
}

func slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

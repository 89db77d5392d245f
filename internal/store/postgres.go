package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/merchmate/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// RecordJob inserts one settled job. A job is archived at most once.
func (s *PostgresStore) RecordJob(ctx context.Context, job models.Job) error {
	if !job.Status.Terminal() || job.SettledAt == nil {
		return fmt.Errorf("%w: %s is %s", ErrNotSettled, job.ID, job.Status)
	}

	var (
		errorKind, errorDetail, resultMIME *string
		resultBytes                        []byte
	)
	if job.Status == models.JobStatusError {
		kind := string(job.ErrorKind)
		errorKind, errorDetail = &kind, &job.ErrorDetail
	}
	if job.Result != nil {
		resultMIME, resultBytes = &job.Result.MIMEType, job.Result.Data
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO generation_jobs
		   (id, batch_id, type, category, prompt, status, error_kind, error_detail,
		    result_mime, result_bytes, created_at, settled_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO NOTHING`,
		job.ID, job.BatchID, string(job.Type), job.Category, job.Instruction, string(job.Status),
		errorKind, errorDetail, resultMIME, resultBytes, job.CreatedAt, *job.SettledAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("record job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateKey
	}
	return nil
}

// JobStats counts archived jobs by status, type and error kind.
func (s *PostgresStore) JobStats(ctx context.Context) (*JobStats, error) {
	stats := &JobStats{
		ByStatus:    make(map[models.JobStatus]int),
		ByType:      make(map[models.JobType]int),
		ByErrorKind: make(map[models.ErrorKind]int),
	}

	rows, err := s.pool.Query(ctx,
		`SELECT status, type, COALESCE(error_kind, ''), COUNT(*)
		 FROM generation_jobs
		 GROUP BY status, type, error_kind`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status, typ, kind string
			count             int
		)
		if err := rows.Scan(&status, &typ, &kind, &count); err != nil {
			return nil, fmt.Errorf("scan job stats: %w", err)
		}
		stats.Total += count
		stats.ByStatus[models.JobStatus(status)] += count
		stats.ByType[models.JobType(typ)] += count
		if kind != "" {
			stats.ByErrorKind[models.ErrorKind(kind)] += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	return stats, nil
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

var _ Store = (*PostgresStore)(nil)

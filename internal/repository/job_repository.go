package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jengzang/framelab-backend/internal/generation"
	"github.com/jengzang/framelab-backend/internal/models"
)

// ErrJobNotFound is returned when no job has the requested id
var ErrJobNotFound = errors.New("generation job not found")

// JobRepository handles database operations for generation job history
type JobRepository struct {
	db *sql.DB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, backend_id, kind, frame_index, status, result_url, error_message,
		completed, total, created_at, updated_at`

// SaveJob inserts or updates a job. A row that already reached a terminal
// status is never overwritten.
func (r *JobRepository) SaveJob(ctx context.Context, job *generation.Job) error {
	query := `
		INSERT INTO generation_jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			backend_id = excluded.backend_id,
			status = excluded.status,
			result_url = excluded.result_url,
			error_message = excluded.error_message,
			completed = excluded.completed,
			total = excluded.total,
			updated_at = excluded.updated_at
		WHERE generation_jobs.status NOT IN ('succeeded', 'failed', 'canceled')
	`

	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.BackendID,
		string(job.Kind),
		job.FrameIndex,
		string(job.Status),
		job.ResultURL,
		job.Error,
		job.Completed,
		job.Total,
		job.CreatedAt.UnixMilli(),
		job.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save generation job: %w", err)
	}
	return nil
}

// GetByID retrieves a job by its id
func (r *JobRepository) GetByID(ctx context.Context, id string) (*generation.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE id = ?`

	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get generation job: %w", err)
	}
	return job, nil
}

// List retrieves jobs newest first with optional filters
func (r *JobRepository) List(ctx context.Context, filter models.JobFilter) ([]*generation.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE 1=1`

	args := []interface{}{}
	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, filter.Kind)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	limit, offset := filter.Normalize()
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list generation jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*generation.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan generation job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (*generation.Job, error) {
	var (
		job                  generation.Job
		kind, status         string
		createdAt, updatedAt int64
	)
	err := row.Scan(
		&job.ID,
		&job.BackendID,
		&kind,
		&job.FrameIndex,
		&status,
		&job.ResultURL,
		&job.Error,
		&job.Completed,
		&job.Total,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Kind = generation.Kind(kind)
	job.Status = generation.Status(status)
	job.CreatedAt = time.UnixMilli(createdAt).UTC()
	job.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &job, nil
}

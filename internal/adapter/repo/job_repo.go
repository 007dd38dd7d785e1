package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/propertyreel/server/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	query := `
INSERT INTO jobs (id, user_id, status, total_items, completed_items, final_video_url, error_message)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.UserID,
		job.Status,
		job.TotalItems,
		job.CompletedItems,
		job.FinalVideoURL,
		job.ErrorMessage,
	)
	return err
}

// GetByID fetches a job scoped to its owner. A job belonging to a different
// user is indistinguishable from a missing one.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID, userID string) (*domain.Job, error) {
	query := `
SELECT id, user_id, status, total_items, completed_items, final_video_url, error_message, created_at, updated_at
FROM jobs
WHERE id = $1 AND user_id = $2;
`
	row := r.pool.QueryRow(ctx, query, jobID, userID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// ListByUser returns the caller's most recent jobs.
func (r *JobRepositoryPG) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
SELECT id, user_id, status, total_items, completed_items, final_video_url, error_message, created_at, updated_at
FROM jobs
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// UpdateStatus moves a job to a new status. Terminal statuses are sticky: an
// update against a completed or failed row is a silent no-op.
func (r *JobRepositoryPG) UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus, errMsg *string) error {
	query := `
UPDATE jobs
SET status = $2,
    updated_at = NOW(),
    error_message = COALESCE($3, error_message)
WHERE id = $1 AND status NOT IN ('completed', 'failed');
`
	_, err := r.pool.Exec(ctx, query, jobID, status, errMsg)
	return err
}

// SetFinalVideo records the stitched output URL.
func (r *JobRepositoryPG) SetFinalVideo(ctx context.Context, jobID, videoURL string) error {
	query := `
UPDATE jobs
SET final_video_url = $2, updated_at = NOW()
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query, jobID, videoURL)
	return err
}

// IncrementCompleted bumps the crash-safe progress counter, clamped at
// total_items.
func (r *JobRepositoryPG) IncrementCompleted(ctx context.Context, jobID string) error {
	query := `
UPDATE jobs
SET completed_items = LEAST(completed_items + 1, total_items), updated_at = NOW()
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query, jobID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Status,
		&job.TotalItems,
		&job.CompletedItems,
		&job.FinalVideoURL,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &job, nil
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)

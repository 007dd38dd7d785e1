package repo

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/propertyreel/server/internal/domain"
)

// JobItemRepositoryPG implements domain.JobItemRepository.
type JobItemRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobItemRepository creates a new job item repository backed by PostgreSQL.
func NewJobItemRepository(pool *pgxpool.Pool) *JobItemRepositoryPG {
	return &JobItemRepositoryPG{pool: pool}
}

// CreateAll inserts the batch's item rows in one round trip. The batch runs in
// a single transaction, so every row shares the same created_at; position is
// what records upload order durably.
func (r *JobItemRepositoryPG) CreateAll(ctx context.Context, items []domain.JobItem) error {
	if len(items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	query := `
INSERT INTO job_items (id, job_id, position, image_url, image_name, prompt_status, video_status, generated_prompt, video_url)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
`
	for _, item := range items {
		batch.Queue(query,
			item.ID,
			item.JobID,
			item.Position,
			item.ImageURL,
			item.ImageName,
			item.PromptStatus,
			item.VideoStatus,
			item.GeneratedPrompt,
			item.VideoURL,
		)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range items {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// ListByJobID returns the job's items in upload order.
func (r *JobItemRepositoryPG) ListByJobID(ctx context.Context, jobID string) ([]domain.JobItem, error) {
	query := `
SELECT id, job_id, position, image_url, image_name, prompt_status, video_status, generated_prompt, video_url, created_at, updated_at
FROM job_items
WHERE job_id = $1
ORDER BY position ASC;
`
	rows, err := r.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.JobItem
	for rows.Next() {
		var item domain.JobItem
		if err := rows.Scan(
			&item.ID,
			&item.JobID,
			&item.Position,
			&item.ImageURL,
			&item.ImageName,
			&item.PromptStatus,
			&item.VideoStatus,
			&item.GeneratedPrompt,
			&item.VideoURL,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpdatePromptStage persists a prompt sub-status transition, optionally with
// the generated prompt text.
func (r *JobItemRepositoryPG) UpdatePromptStage(ctx context.Context, itemID string, status domain.StageStatus, prompt *string) error {
	query := `
UPDATE job_items
SET prompt_status = $2,
    generated_prompt = COALESCE($3, generated_prompt),
    updated_at = NOW()
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query, itemID, status, prompt)
	return err
}

// UpdateVideoStage persists a video sub-status transition, optionally with the
// produced clip URL.
func (r *JobItemRepositoryPG) UpdateVideoStage(ctx context.Context, itemID string, status domain.StageStatus, videoURL *string) error {
	query := `
UPDATE job_items
SET video_status = $2,
    video_url = COALESCE($3, video_url),
    updated_at = NOW()
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query, itemID, status, videoURL)
	return err
}

var _ domain.JobItemRepository = (*JobItemRepositoryPG)(nil)

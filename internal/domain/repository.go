package domain

import "context"

// JobRepository defines persistence for job rows.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID, userID string) (*Job, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Job, error)
	UpdateStatus(ctx context.Context, jobID string, status JobStatus, errMsg *string) error
	SetFinalVideo(ctx context.Context, jobID, videoURL string) error
	IncrementCompleted(ctx context.Context, jobID string) error
}

// JobItemRepository defines persistence for per-image item rows.
type JobItemRepository interface {
	CreateAll(ctx context.Context, items []JobItem) error
	ListByJobID(ctx context.Context, jobID string) ([]JobItem, error)
	UpdatePromptStage(ctx context.Context, itemID string, status StageStatus, prompt *string) error
	UpdateVideoStage(ctx context.Context, itemID string, status StageStatus, videoURL *string) error
}

// CreditLedger is the narrow debit interface the orchestrator consumes. The
// ledger is owned elsewhere; no refund call exists here on purpose. Credits
// debited at admission stay debited regardless of downstream failure.
type CreditLedger interface {
	Debit(ctx context.Context, userID string, amount int64) (ok bool, newBalance int64, err error)
	Balance(ctx context.Context, userID string) (int64, error)
}

// ObjectStore persists blobs and serves them back by public URL.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (publicURL string, err error)
	Get(ctx context.Context, url string) ([]byte, error)
}

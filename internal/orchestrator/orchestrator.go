package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/propertyreel/server/internal/domain"
	"github.com/propertyreel/server/internal/infra"
)

// InferenceService is the asynchronous inference surface the orchestrator
// drives: prompt synthesis from an image, then video synthesis from the image
// plus its prompt. Both calls block through their provider-side poll loop.
type InferenceService interface {
	Describe(ctx context.Context, imageURL string) (string, error)
	Animate(ctx context.Context, imageURL, prompt string) (string, error)
}

// ClipStitcher merges ordered clips into one deliverable and returns its URL.
type ClipStitcher interface {
	Stitch(ctx context.Context, jobID string, clipURLs []string) (string, error)
}

// Options wires the orchestrator's collaborators and tunables.
type Options struct {
	Jobs      domain.JobRepository
	Items     domain.JobItemRepository
	Credits   domain.CreditLedger
	Store     domain.ObjectStore
	Inference InferenceService
	Stitcher  ClipStitcher
	Logger    infra.Logger

	PricePerItem int64
	MaxBatchSize int
}

// Orchestrator owns the image-to-video job lifecycle: credit-gated admission,
// the sequential prompt and video stages, and the final stitch. Items are
// processed one at a time in upload order to stay under provider rate limits;
// a job's wall-clock time is dominated by the video stage's poll ceiling.
type Orchestrator struct {
	jobs      domain.JobRepository
	items     domain.JobItemRepository
	credits   domain.CreditLedger
	store     domain.ObjectStore
	inference InferenceService
	stitcher  ClipStitcher
	logger    infra.Logger

	pricePerItem int64
	maxBatchSize int
}

// New constructs an Orchestrator from Options.
func New(opts Options) *Orchestrator {
	maxBatch := opts.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = 10
	}
	return &Orchestrator{
		jobs:         opts.Jobs,
		items:        opts.Items,
		credits:      opts.Credits,
		store:        opts.Store,
		inference:    opts.Inference,
		stitcher:     opts.Stitcher,
		logger:       opts.Logger,
		pricePerItem: opts.PricePerItem,
		maxBatchSize: maxBatch,
	}
}

// UploadImage is one submitted photo.
type UploadImage struct {
	Name        string
	ContentType string
	Data        []byte
}

// CreateResult summarizes job admission.
type CreateResult struct {
	JobID         string
	UploadedCount int
}

// CreateJob admits a batch: validates size, debits credits, uploads each
// image, and persists the job with one item per uploaded image. Images whose
// upload fails are dropped without retry. The debit happens before any upload
// and is never reversed, even if every upload fails.
func (o *Orchestrator) CreateJob(ctx context.Context, userID string, images []UploadImage) (*CreateResult, error) {
	if len(images) == 0 || len(images) > o.maxBatchSize {
		return nil, domain.ErrInvalidBatchSize
	}

	required := int64(len(images)) * o.pricePerItem
	ok, balance, err := o.credits.Debit(ctx, userID, required)
	if err != nil {
		return nil, fmt.Errorf("debit credits: %w", err)
	}
	if !ok {
		return nil, &domain.InsufficientCreditsError{Required: required, Balance: balance}
	}

	jobID := uuid.NewString()
	items := make([]domain.JobItem, 0, len(images))
	for idx, img := range images {
		key := fmt.Sprintf("jobs/%s/source/%03d-%s", jobID, idx, safeName(img.Name))
		imageURL, err := o.store.Put(ctx, key, img.Data, img.ContentType)
		if err != nil {
			o.logger.Warn().
				Err(err).
				Str("job_id", jobID).
				Str("image", img.Name).
				Msg("orchestrator: image upload failed, dropping from batch")
			continue
		}
		items = append(items, domain.JobItem{
			ID:           uuid.NewString(),
			JobID:        jobID,
			Position:     idx,
			ImageURL:     imageURL,
			ImageName:    img.Name,
			PromptStatus: domain.StageStatusPending,
			VideoStatus:  domain.StageStatusPending,
		})
	}

	job := &domain.Job{
		ID:         jobID,
		UserID:     userID,
		Status:     domain.JobStatusPending,
		TotalItems: len(items),
	}
	if len(items) == 0 {
		job.Status = domain.JobStatusFailed
		job.ErrorMessage = "No images could be uploaded"
		if err := o.jobs.Create(ctx, job); err != nil {
			return nil, fmt.Errorf("create job: %w", err)
		}
		return &CreateResult{JobID: jobID}, domain.ErrNoImagesUploaded
	}
	if err := o.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if err := o.items.CreateAll(ctx, items); err != nil {
		return nil, fmt.Errorf("create job items: %w", err)
	}

	o.logger.Info().
		Str("job_id", jobID).
		Str("user_id", userID).
		Int("submitted", len(images)).
		Int("uploaded", len(items)).
		Int64("debited", required).
		Msg("orchestrator: job created")
	return &CreateResult{JobID: jobID, UploadedCount: len(items)}, nil
}

// PromptStageResult summarizes a prompt stage run.
type PromptStageResult struct {
	ProcessedImages int
	TotalImages     int
}

// RunPromptStage drives every item through prompt synthesis, strictly in
// upload order. A single item's failure marks that item failed and moves on;
// only zero successes fails the whole job.
func (o *Orchestrator) RunPromptStage(ctx context.Context, jobID, userID string) (*PromptStageResult, error) {
	job, err := o.jobs.GetByID(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusPending {
		return nil, fmt.Errorf("prompt stage requires a pending job, got %q: %w", job.Status, domain.ErrInvalidJobState)
	}
	if err := o.jobs.UpdateStatus(ctx, jobID, domain.JobStatusProcessingPrompts, nil); err != nil {
		return nil, fmt.Errorf("update job status: %w", err)
	}

	items, err := o.items.ListByJobID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job items: %w", err)
	}

	processed := 0
	for i := range items {
		item := &items[i]
		if err := o.items.UpdatePromptStage(ctx, item.ID, domain.StageStatusProcessing, nil); err != nil {
			return nil, fmt.Errorf("update item %s: %w", item.ID, err)
		}
		prompt, err := o.inference.Describe(ctx, item.ImageURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			o.logger.Error().
				Err(err).
				Str("job_id", jobID).
				Str("item_id", item.ID).
				Msg("orchestrator: prompt generation failed")
			if err := o.items.UpdatePromptStage(ctx, item.ID, domain.StageStatusFailed, nil); err != nil {
				return nil, fmt.Errorf("update item %s: %w", item.ID, err)
			}
			continue
		}
		if err := o.items.UpdatePromptStage(ctx, item.ID, domain.StageStatusCompleted, &prompt); err != nil {
			return nil, fmt.Errorf("update item %s: %w", item.ID, err)
		}
		// Persisted immediately so a crash mid-batch keeps the progress made.
		if err := o.jobs.IncrementCompleted(ctx, jobID); err != nil {
			return nil, fmt.Errorf("increment progress: %w", err)
		}
		processed++
	}

	if processed == 0 {
		msg := "Failed to generate any prompts"
		if err := o.jobs.UpdateStatus(ctx, jobID, domain.JobStatusFailed, &msg); err != nil {
			return nil, fmt.Errorf("update job status: %w", err)
		}
		return nil, fmt.Errorf("%s: %w", strings.ToLower(msg), domain.ErrProviderFailure)
	}

	o.logger.Info().
		Str("job_id", jobID).
		Int("processed", processed).
		Int("total", len(items)).
		Msg("orchestrator: prompt stage finished")
	return &PromptStageResult{ProcessedImages: processed, TotalImages: len(items)}, nil
}

// VideoStageResult summarizes a video stage run including the stitched output.
type VideoStageResult struct {
	CompletedVideos int
	TotalEligible   int
	FinalVideoURL   string
}

// RunVideoStage animates every prompt-completed item, then stitches the
// successful clips and finalizes the job. Items whose prompt stage failed are
// skipped entirely and keep videoStatus pending.
func (o *Orchestrator) RunVideoStage(ctx context.Context, jobID, userID string) (*VideoStageResult, error) {
	job, err := o.jobs.GetByID(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusProcessingPrompts {
		return nil, fmt.Errorf("video stage requires completed prompts, got %q: %w", job.Status, domain.ErrInvalidJobState)
	}
	if err := o.jobs.UpdateStatus(ctx, jobID, domain.JobStatusProcessingVideos, nil); err != nil {
		return nil, fmt.Errorf("update job status: %w", err)
	}

	items, err := o.items.ListByJobID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job items: %w", err)
	}

	var clipURLs []string
	eligible := 0
	for i := range items {
		item := &items[i]
		if !item.VideoEligible() {
			continue
		}
		eligible++
		if err := o.items.UpdateVideoStage(ctx, item.ID, domain.StageStatusProcessing, nil); err != nil {
			return nil, fmt.Errorf("update item %s: %w", item.ID, err)
		}
		videoURL, err := o.inference.Animate(ctx, item.ImageURL, item.GeneratedPrompt)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			o.logger.Error().
				Err(err).
				Str("job_id", jobID).
				Str("item_id", item.ID).
				Msg("orchestrator: video generation failed")
			if err := o.items.UpdateVideoStage(ctx, item.ID, domain.StageStatusFailed, nil); err != nil {
				return nil, fmt.Errorf("update item %s: %w", item.ID, err)
			}
			continue
		}
		if err := o.items.UpdateVideoStage(ctx, item.ID, domain.StageStatusCompleted, &videoURL); err != nil {
			return nil, fmt.Errorf("update item %s: %w", item.ID, err)
		}
		clipURLs = append(clipURLs, videoURL)
	}

	if len(clipURLs) == 0 {
		msg := "Failed to generate any videos"
		if err := o.jobs.UpdateStatus(ctx, jobID, domain.JobStatusFailed, &msg); err != nil {
			return nil, fmt.Errorf("update job status: %w", err)
		}
		return nil, fmt.Errorf("%s: %w", strings.ToLower(msg), domain.ErrProviderFailure)
	}

	if err := o.jobs.UpdateStatus(ctx, jobID, domain.JobStatusStitching, nil); err != nil {
		return nil, fmt.Errorf("update job status: %w", err)
	}
	finalURL, err := o.stitcher.Stitch(ctx, jobID, clipURLs)
	if err != nil {
		msg := "Failed to stitch final video"
		if updateErr := o.jobs.UpdateStatus(ctx, jobID, domain.JobStatusFailed, &msg); updateErr != nil {
			return nil, errors.Join(err, updateErr)
		}
		return nil, fmt.Errorf("stitch job %s: %w", jobID, err)
	}
	if err := o.jobs.SetFinalVideo(ctx, jobID, finalURL); err != nil {
		return nil, fmt.Errorf("record final video: %w", err)
	}
	if err := o.jobs.UpdateStatus(ctx, jobID, domain.JobStatusCompleted, nil); err != nil {
		return nil, fmt.Errorf("update job status: %w", err)
	}

	o.logger.Info().
		Str("job_id", jobID).
		Int("clips", len(clipURLs)).
		Int("eligible", eligible).
		Str("final_url", finalURL).
		Msg("orchestrator: video stage finished")
	return &VideoStageResult{
		CompletedVideos: len(clipURLs),
		TotalEligible:   eligible,
		FinalVideoURL:   finalURL,
	}, nil
}

func safeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "image"
	}
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	return name
}

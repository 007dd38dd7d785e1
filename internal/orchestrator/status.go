package orchestrator

import (
	"context"
	"time"

	"github.com/propertyreel/server/internal/domain"
)

// StatusReporter is the read-only projection of a job and its items into a
// client-facing progress summary. It never mutates state and is safe to call
// at arbitrary frequency.
type StatusReporter struct {
	jobs  domain.JobRepository
	items domain.JobItemRepository
}

// NewStatusReporter constructs a StatusReporter.
func NewStatusReporter(jobs domain.JobRepository, items domain.JobItemRepository) *StatusReporter {
	return &StatusReporter{jobs: jobs, items: items}
}

// StageCounts aggregates per-item sub-statuses for one stage. Pending is kept
// as its own counter: an item whose prompt failed never enters the video
// stage and stays video-pending, which is not the same as having failed.
type StageCounts struct {
	Completed  int `json:"completed"`
	Processing int `json:"processing"`
	Failed     int `json:"failed"`
	Pending    int `json:"pending"`
	Total      int `json:"total"`
}

// ItemReport is one item's progress detail.
type ItemReport struct {
	ID              string    `json:"id"`
	ImageURL        string    `json:"image_url"`
	ImageName       string    `json:"image_name"`
	PromptStatus    string    `json:"prompt_status"`
	VideoStatus     string    `json:"video_status"`
	GeneratedPrompt string    `json:"generated_prompt,omitempty"`
	VideoURL        string    `json:"video_url,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// JobReport is the full progress projection for one job.
type JobReport struct {
	ID             string       `json:"id"`
	Status         string       `json:"status"`
	TotalItems     int          `json:"total_items"`
	CompletedItems int          `json:"completed_items"`
	FinalVideoURL  string       `json:"final_video_url,omitempty"`
	ErrorMessage   string       `json:"error_message,omitempty"`
	Prompts        StageCounts  `json:"prompts"`
	Videos         StageCounts  `json:"videos"`
	Items          []ItemReport `json:"items"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Report loads the job and its items, computes the stage counters, and
// returns the projection. Ownership is enforced by the scoped job lookup.
func (r *StatusReporter) Report(ctx context.Context, jobID, userID string) (*JobReport, error) {
	job, err := r.jobs.GetByID(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}
	items, err := r.items.ListByJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	report := &JobReport{
		ID:             job.ID,
		Status:         string(job.Status),
		TotalItems:     job.TotalItems,
		CompletedItems: job.CompletedItems,
		FinalVideoURL:  job.FinalVideoURL,
		ErrorMessage:   job.ErrorMessage,
		Items:          make([]ItemReport, 0, len(items)),
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
	}
	for _, item := range items {
		tally(&report.Prompts, item.PromptStatus)
		tally(&report.Videos, item.VideoStatus)
		report.Items = append(report.Items, ItemReport{
			ID:              item.ID,
			ImageURL:        item.ImageURL,
			ImageName:       item.ImageName,
			PromptStatus:    string(item.PromptStatus),
			VideoStatus:     string(item.VideoStatus),
			GeneratedPrompt: item.GeneratedPrompt,
			VideoURL:        item.VideoURL,
			CreatedAt:       item.CreatedAt,
			UpdatedAt:       item.UpdatedAt,
		})
	}
	return report, nil
}

func tally(counts *StageCounts, status domain.StageStatus) {
	counts.Total++
	switch status {
	case domain.StageStatusCompleted:
		counts.Completed++
	case domain.StageStatusProcessing:
		counts.Processing++
	case domain.StageStatusFailed:
		counts.Failed++
	default:
		counts.Pending++
	}
}

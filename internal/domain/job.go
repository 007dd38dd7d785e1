package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending           JobStatus = "pending"
	JobStatusProcessingPrompts JobStatus = "processing_prompts"
	JobStatusProcessingVideos  JobStatus = "processing_videos"
	JobStatusStitching         JobStatus = "stitching"
	JobStatusCompleted         JobStatus = "completed"
	JobStatusFailed            JobStatus = "failed"
)

// Terminal reports whether no further status transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// StageStatus enumerates the per-stage sub-states of a job item. An item whose
// prompt stage failed keeps its video stage at pending forever; that is a
// reachable terminal state counted separately from failed.
type StageStatus string

const (
	StageStatusPending    StageStatus = "pending"
	StageStatusProcessing StageStatus = "processing"
	StageStatusCompleted  StageStatus = "completed"
	StageStatusFailed     StageStatus = "failed"
)

// Job is one batch request to turn N property photos into a single stitched
// video. CompletedItems only ever grows and never exceeds TotalItems.
type Job struct {
	ID             string
	UserID         string
	Status         JobStatus
	TotalItems     int
	CompletedItems int
	FinalVideoURL  string
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// JobItem tracks one submitted image through its independent prompt and video
// sub-stages. ImageURL and ImageName are set at upload time and immutable.
// Position is the zero-based upload index; every listing and the final clip
// sequence follow it.
type JobItem struct {
	ID              string
	JobID           string
	Position        int
	ImageURL        string
	ImageName       string
	PromptStatus    StageStatus
	VideoStatus     StageStatus
	GeneratedPrompt string
	VideoURL        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// VideoEligible reports whether the item may enter the video stage.
func (i *JobItem) VideoEligible() bool {
	return i.PromptStatus == StageStatusCompleted
}

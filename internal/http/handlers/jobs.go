package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/propertyreel/server/internal/domain"
	"github.com/propertyreel/server/internal/orchestrator"
)

// maxUploadBytes bounds the whole multipart submission (10 images at a few MB
// each plus headroom).
const maxUploadBytes = 64 << 20

type createJobResponse struct {
	JobID         string `json:"job_id"`
	UploadedCount int    `json:"uploaded_count"`
}

type promptStageResponse struct {
	JobID           string `json:"job_id"`
	ProcessedImages int    `json:"processed_images"`
	TotalImages     int    `json:"total_images"`
}

type videoStageResponse struct {
	JobID           string `json:"job_id"`
	CompletedVideos int    `json:"completed_videos"`
	FinalVideoURL   string `json:"final_video_url"`
}

// JobsCreate accepts a multipart batch of 1-10 images under the "images"
// field, debits credits, and creates the job.
func (a *App) JobsCreate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid multipart payload")
		return
	}
	var images []orchestrator.UploadImage
	if r.MultipartForm != nil {
		for _, header := range r.MultipartForm.File["images"] {
			file, err := header.Open()
			if err != nil {
				a.error(w, http.StatusBadRequest, "bad_request", "unreadable image part")
				return
			}
			data, err := io.ReadAll(file)
			file.Close()
			if err != nil {
				a.error(w, http.StatusBadRequest, "bad_request", "unreadable image part")
				return
			}
			images = append(images, orchestrator.UploadImage{
				Name:        header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				Data:        data,
			})
		}
	}

	result, err := a.Orchestrator.CreateJob(r.Context(), userID, images)
	if err != nil {
		var insufficient *domain.InsufficientCreditsError
		switch {
		case errors.Is(err, domain.ErrInvalidBatchSize):
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		case errors.As(err, &insufficient):
			a.json(w, http.StatusPaymentRequired, map[string]any{
				"error":    "insufficient_credits",
				"message":  insufficient.Error(),
				"required": insufficient.Required,
				"balance":  insufficient.Balance,
			})
		case errors.Is(err, domain.ErrNoImagesUploaded):
			a.json(w, http.StatusInternalServerError, map[string]any{
				"error":   "no_images_uploaded",
				"message": "No images could be uploaded",
				"job_id":  result.JobID,
			})
		default:
			a.Logger.Error().Err(err).Msg("handlers: job creation failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to create job")
		}
		return
	}
	a.json(w, http.StatusCreated, createJobResponse{JobID: result.JobID, UploadedCount: result.UploadedCount})
}

// JobsRunPrompts triggers the prompt stage. The call is synchronous and can
// take minutes; clients should poll JobsStatus rather than block on it. With
// ?chain=1 a successful prompt stage flows straight into the video stage.
func (a *App) JobsRunPrompts(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	result, err := a.Orchestrator.RunPromptStage(r.Context(), jobID, userID)
	if err != nil {
		a.stageError(w, err, "prompt stage failed")
		return
	}
	if r.URL.Query().Get("chain") == "1" {
		videoResult, err := a.Orchestrator.RunVideoStage(r.Context(), jobID, userID)
		if err != nil {
			a.stageError(w, err, "video stage failed")
			return
		}
		a.json(w, http.StatusOK, videoStageResponse{
			JobID:           jobID,
			CompletedVideos: videoResult.CompletedVideos,
			FinalVideoURL:   videoResult.FinalVideoURL,
		})
		return
	}
	a.json(w, http.StatusOK, promptStageResponse{
		JobID:           jobID,
		ProcessedImages: result.ProcessedImages,
		TotalImages:     result.TotalImages,
	})
}

// JobsRunVideos triggers the video stage and final stitch.
func (a *App) JobsRunVideos(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	result, err := a.Orchestrator.RunVideoStage(r.Context(), jobID, userID)
	if err != nil {
		a.stageError(w, err, "video stage failed")
		return
	}
	a.json(w, http.StatusOK, videoStageResponse{
		JobID:           jobID,
		CompletedVideos: result.CompletedVideos,
		FinalVideoURL:   result.FinalVideoURL,
	})
}

// JobsStatus serves the progress projection at any point in the lifecycle.
func (a *App) JobsStatus(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	report, err := a.Reporter.Report(r.Context(), jobID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("handlers: status query failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job status")
		return
	}
	a.json(w, http.StatusOK, report)
}

// JobsList returns the caller's recent jobs.
func (a *App) JobsList(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobs, err := a.Jobs.ListByUser(r.Context(), userID, 50)
	if err != nil {
		a.Logger.Error().Err(err).Msg("handlers: job list failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to list jobs")
		return
	}
	items := make([]map[string]any, 0, len(jobs))
	for _, job := range jobs {
		items = append(items, map[string]any{
			"id":              job.ID,
			"status":          job.Status,
			"total_items":     job.TotalItems,
			"completed_items": job.CompletedItems,
			"final_video_url": job.FinalVideoURL,
			"error_message":   job.ErrorMessage,
			"created_at":      job.CreatedAt,
			"updated_at":      job.UpdatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

func (a *App) stageError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrInvalidJobState):
		a.error(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, domain.ErrProviderFailure), errors.Is(err, domain.ErrStitchFailure):
		a.error(w, http.StatusInternalServerError, "stage_failed", err.Error())
	default:
		a.Logger.Error().Err(err).Msg("handlers: " + fallback)
		a.error(w, http.StatusInternalServerError, "internal", fallback)
	}
}

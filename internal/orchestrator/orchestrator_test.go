package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/propertyreel/server/internal/domain"
)

// fakeJobRepo is an in-memory domain.JobRepository with the same sticky
// terminal-status behavior as the SQL implementation.
type fakeJobRepo struct {
	jobs map[string]*domain.Job
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[string]*domain.Job)}
}

func (r *fakeJobRepo) Create(_ context.Context, job *domain.Job) error {
	copied := *job
	r.jobs[job.ID] = &copied
	return nil
}

func (r *fakeJobRepo) GetByID(_ context.Context, jobID, userID string) (*domain.Job, error) {
	job, ok := r.jobs[jobID]
	if !ok || job.UserID != userID {
		return nil, domain.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (r *fakeJobRepo) ListByUser(_ context.Context, userID string, _ int) ([]domain.Job, error) {
	var out []domain.Job
	for _, job := range r.jobs {
		if job.UserID == userID {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (r *fakeJobRepo) UpdateStatus(_ context.Context, jobID string, status domain.JobStatus, errMsg *string) error {
	job, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status.Terminal() {
		return nil
	}
	job.Status = status
	if errMsg != nil {
		job.ErrorMessage = *errMsg
	}
	return nil
}

func (r *fakeJobRepo) SetFinalVideo(_ context.Context, jobID, videoURL string) error {
	job, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.FinalVideoURL = videoURL
	return nil
}

func (r *fakeJobRepo) IncrementCompleted(_ context.Context, jobID string) error {
	job, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.CompletedItems < job.TotalItems {
		job.CompletedItems++
	}
	return nil
}

// fakeItemRepo stores rows in a map so insertion order is lost, the same way
// a table loses it. Listing recovers order from position alone, like the SQL
// implementation.
type fakeItemRepo struct {
	items map[string]*domain.JobItem
}

func newFakeItemRepo() *fakeItemRepo {
	return &fakeItemRepo{items: make(map[string]*domain.JobItem)}
}

func (r *fakeItemRepo) CreateAll(_ context.Context, items []domain.JobItem) error {
	for i := range items {
		copied := items[i]
		r.items[copied.ID] = &copied
	}
	return nil
}

func (r *fakeItemRepo) ListByJobID(_ context.Context, jobID string) ([]domain.JobItem, error) {
	var out []domain.JobItem
	for _, item := range r.items {
		if item.JobID == jobID {
			out = append(out, *item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (r *fakeItemRepo) UpdatePromptStage(_ context.Context, itemID string, status domain.StageStatus, prompt *string) error {
	item, ok := r.items[itemID]
	if !ok {
		return domain.ErrNotFound
	}
	item.PromptStatus = status
	if prompt != nil {
		item.GeneratedPrompt = *prompt
	}
	return nil
}

func (r *fakeItemRepo) UpdateVideoStage(_ context.Context, itemID string, status domain.StageStatus, videoURL *string) error {
	item, ok := r.items[itemID]
	if !ok {
		return domain.ErrNotFound
	}
	item.VideoStatus = status
	if videoURL != nil {
		item.VideoURL = *videoURL
	}
	return nil
}

type fakeLedger struct {
	balance    int64
	debitCalls int
}

func (l *fakeLedger) Debit(_ context.Context, _ string, amount int64) (bool, int64, error) {
	l.debitCalls++
	if l.balance < amount {
		return false, l.balance, nil
	}
	l.balance -= amount
	return true, l.balance, nil
}

func (l *fakeLedger) Balance(_ context.Context, _ string) (int64, error) {
	return l.balance, nil
}

type fakeStore struct {
	objects  map[string][]byte
	failPuts map[string]bool // by image name suffix
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte), failPuts: make(map[string]bool)}
}

func (s *fakeStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	for suffix := range s.failPuts {
		if strings.HasSuffix(key, suffix) {
			return "", errors.New("upload refused")
		}
	}
	s.objects[key] = data
	return "https://store.test/" + key, nil
}

func (s *fakeStore) Get(_ context.Context, url string) ([]byte, error) {
	key := strings.TrimPrefix(url, "https://store.test/")
	data, ok := s.objects[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return data, nil
}

// fakeInference fails describe/animate for image URLs containing a configured
// marker and succeeds otherwise.
type fakeInference struct {
	failDescribe map[string]bool // by image name
	failAnimate  map[string]bool
}

func (f *fakeInference) Describe(_ context.Context, imageURL string) (string, error) {
	for marker := range f.failDescribe {
		if strings.Contains(imageURL, marker) {
			return "", &domain.StageError{Stage: "describe", Detail: "boom", Err: domain.ErrProviderFailure}
		}
	}
	return "a sunlit living room, camera pans right", nil
}

func (f *fakeInference) Animate(_ context.Context, imageURL, _ string) (string, error) {
	for marker := range f.failAnimate {
		if strings.Contains(imageURL, marker) {
			return "", &domain.StageError{Stage: "animate", Detail: "boom", Err: domain.ErrProviderFailure}
		}
	}
	return "https://store.test/clips/" + imageURL[strings.LastIndex(imageURL, "/")+1:] + ".mp4", nil
}

type fakeStitcher struct {
	calls  [][]string
	result string
	err    error
}

func (f *fakeStitcher) Stitch(_ context.Context, _ string, clipURLs []string) (string, error) {
	f.calls = append(f.calls, clipURLs)
	if f.err != nil {
		return "", f.err
	}
	if f.result != "" {
		return f.result, nil
	}
	if len(clipURLs) == 1 {
		return clipURLs[0], nil
	}
	return "https://store.test/final.mp4", nil
}

type fixture struct {
	jobs      *fakeJobRepo
	items     *fakeItemRepo
	ledger    *fakeLedger
	store     *fakeStore
	inference *fakeInference
	stitcher  *fakeStitcher
	orch      *Orchestrator
}

func newFixture(balance int64) *fixture {
	f := &fixture{
		jobs:      newFakeJobRepo(),
		items:     newFakeItemRepo(),
		ledger:    &fakeLedger{balance: balance},
		store:     newFakeStore(),
		inference: &fakeInference{failDescribe: map[string]bool{}, failAnimate: map[string]bool{}},
		stitcher:  &fakeStitcher{},
	}
	f.orch = New(Options{
		Jobs:         f.jobs,
		Items:        f.items,
		Credits:      f.ledger,
		Store:        f.store,
		Inference:    f.inference,
		Stitcher:     f.stitcher,
		Logger:       zerolog.New(io.Discard),
		PricePerItem: 10,
		MaxBatchSize: 10,
	})
	return f
}

func batch(n int) []UploadImage {
	images := make([]UploadImage, 0, n)
	for i := 0; i < n; i++ {
		images = append(images, UploadImage{
			Name:        fmt.Sprintf("photo-%d.jpg", i+1),
			ContentType: "image/jpeg",
			Data:        []byte{0xff, 0xd8, byte(i)},
		})
	}
	return images
}

func TestCreateJobRejectsBadBatchSizesBeforeDebit(t *testing.T) {
	for _, n := range []int{0, 11} {
		f := newFixture(1000)
		_, err := f.orch.CreateJob(context.Background(), "user-1", batch(n))
		if !errors.Is(err, domain.ErrInvalidBatchSize) {
			t.Fatalf("batch of %d: err = %v, want ErrInvalidBatchSize", n, err)
		}
		if f.ledger.debitCalls != 0 {
			t.Fatalf("batch of %d: debit called %d times before validation", n, f.ledger.debitCalls)
		}
		if len(f.jobs.jobs) != 0 {
			t.Fatalf("batch of %d: job row created on rejected submission", n)
		}
	}
}

func TestCreateJobInsufficientCredits(t *testing.T) {
	f := newFixture(25) // 3 images need 30
	_, err := f.orch.CreateJob(context.Background(), "user-1", batch(3))
	var insufficient *domain.InsufficientCreditsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err = %v, want InsufficientCreditsError", err)
	}
	if insufficient.Balance != 25 || insufficient.Required != 30 {
		t.Fatalf("balance/required = %d/%d, want 25/30", insufficient.Balance, insufficient.Required)
	}
	if len(f.jobs.jobs) != 0 {
		t.Fatalf("job row created despite rejection")
	}
	if f.ledger.balance != 25 {
		t.Fatalf("balance changed to %d on rejected submission", f.ledger.balance)
	}
}

func TestCreateJobSuccess(t *testing.T) {
	f := newFixture(100)
	result, err := f.orch.CreateJob(context.Background(), "user-1", batch(3))
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if result.UploadedCount != 3 {
		t.Fatalf("uploaded_count = %d, want 3", result.UploadedCount)
	}
	if f.ledger.balance != 70 {
		t.Fatalf("balance = %d, want 70 after 3x10 debit", f.ledger.balance)
	}
	job := f.jobs.jobs[result.JobID]
	if job == nil {
		t.Fatalf("job row missing")
	}
	if job.Status != domain.JobStatusPending || job.TotalItems != 3 {
		t.Fatalf("job = %s/%d items, want pending/3", job.Status, job.TotalItems)
	}
	items, _ := f.items.ListByJobID(context.Background(), result.JobID)
	if len(items) != 3 {
		t.Fatalf("items = %d, want 3", len(items))
	}
	for _, item := range items {
		if item.PromptStatus != domain.StageStatusPending || item.VideoStatus != domain.StageStatusPending {
			t.Fatalf("item %s starts at %s/%s, want pending/pending", item.ID, item.PromptStatus, item.VideoStatus)
		}
	}
}

func TestCreateJobDropsFailedUploads(t *testing.T) {
	f := newFixture(100)
	f.store.failPuts["photo-2.jpg"] = true
	result, err := f.orch.CreateJob(context.Background(), "user-1", batch(3))
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if result.UploadedCount != 2 {
		t.Fatalf("uploaded_count = %d, want 2", result.UploadedCount)
	}
	if job := f.jobs.jobs[result.JobID]; job.TotalItems != 2 {
		t.Fatalf("total_items = %d, want 2", job.TotalItems)
	}
}

func TestCreateJobAllUploadsFailKeepsDebit(t *testing.T) {
	f := newFixture(100)
	f.store.failPuts[".jpg"] = true
	result, err := f.orch.CreateJob(context.Background(), "user-1", batch(2))
	if !errors.Is(err, domain.ErrNoImagesUploaded) {
		t.Fatalf("err = %v, want ErrNoImagesUploaded", err)
	}
	job := f.jobs.jobs[result.JobID]
	if job == nil || job.Status != domain.JobStatusFailed {
		t.Fatalf("job should exist in failed state")
	}
	if job.ErrorMessage != "No images could be uploaded" {
		t.Fatalf("error_message = %q", job.ErrorMessage)
	}
	if f.ledger.balance != 80 {
		t.Fatalf("balance = %d, want 80: debit is never refunded", f.ledger.balance)
	}
}

func createReadyJob(t *testing.T, f *fixture, n int) string {
	t.Helper()
	result, err := f.orch.CreateJob(context.Background(), "user-1", batch(n))
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return result.JobID
}

func TestRunPromptStagePartialFailure(t *testing.T) {
	f := newFixture(100)
	jobID := createReadyJob(t, f, 3)
	f.inference.failDescribe["photo-2.jpg"] = true

	result, err := f.orch.RunPromptStage(context.Background(), jobID, "user-1")
	if err != nil {
		t.Fatalf("prompt stage: %v", err)
	}
	if result.ProcessedImages != 2 || result.TotalImages != 3 {
		t.Fatalf("processed/total = %d/%d, want 2/3", result.ProcessedImages, result.TotalImages)
	}

	items, _ := f.items.ListByJobID(context.Background(), jobID)
	for _, item := range items {
		want := domain.StageStatusCompleted
		if strings.Contains(item.ImageURL, "photo-2.jpg") {
			want = domain.StageStatusFailed
		}
		if item.PromptStatus != want {
			t.Fatalf("item %s prompt_status = %s, want %s", item.ImageName, item.PromptStatus, want)
		}
		if item.PromptStatus == domain.StageStatusCompleted && item.GeneratedPrompt == "" {
			t.Fatalf("completed item %s has no generated prompt", item.ImageName)
		}
	}

	job := f.jobs.jobs[jobID]
	if job.Status != domain.JobStatusProcessingPrompts {
		t.Fatalf("job status = %s, want processing_prompts awaiting video trigger", job.Status)
	}
	if job.CompletedItems != 2 {
		t.Fatalf("completed_items = %d, want 2", job.CompletedItems)
	}
	if job.CompletedItems > job.TotalItems {
		t.Fatalf("completed_items %d exceeds total_items %d", job.CompletedItems, job.TotalItems)
	}
}

func TestRunPromptStageAllFail(t *testing.T) {
	f := newFixture(100)
	jobID := createReadyJob(t, f, 3)
	f.inference.failDescribe[".jpg"] = true

	_, err := f.orch.RunPromptStage(context.Background(), jobID, "user-1")
	if !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("err = %v, want ErrProviderFailure", err)
	}
	job := f.jobs.jobs[jobID]
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("job status = %s, want failed", job.Status)
	}
	if job.ErrorMessage != "Failed to generate any prompts" {
		t.Fatalf("error_message = %q", job.ErrorMessage)
	}
}

func TestRunPromptStageRequiresPendingJob(t *testing.T) {
	f := newFixture(100)
	jobID := createReadyJob(t, f, 2)
	if _, err := f.orch.RunPromptStage(context.Background(), jobID, "user-1"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	_, err := f.orch.RunPromptStage(context.Background(), jobID, "user-1")
	if !errors.Is(err, domain.ErrInvalidJobState) {
		t.Fatalf("re-trigger err = %v, want ErrInvalidJobState", err)
	}
}

func TestRunPromptStageUnknownJob(t *testing.T) {
	f := newFixture(100)
	_, err := f.orch.RunPromptStage(context.Background(), "missing", "user-1")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRunPromptStageEnforcesOwnership(t *testing.T) {
	f := newFixture(100)
	jobID := createReadyJob(t, f, 2)
	_, err := f.orch.RunPromptStage(context.Background(), jobID, "someone-else")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("foreign user err = %v, want ErrNotFound", err)
	}
}

func TestRunVideoStageSkipsFailedPromptItems(t *testing.T) {
	f := newFixture(100)
	jobID := createReadyJob(t, f, 3)
	f.inference.failDescribe["photo-2.jpg"] = true
	if _, err := f.orch.RunPromptStage(context.Background(), jobID, "user-1"); err != nil {
		t.Fatalf("prompt stage: %v", err)
	}

	result, err := f.orch.RunVideoStage(context.Background(), jobID, "user-1")
	if err != nil {
		t.Fatalf("video stage: %v", err)
	}
	if result.CompletedVideos != 2 || result.TotalEligible != 2 {
		t.Fatalf("completed/eligible = %d/%d, want 2/2", result.CompletedVideos, result.TotalEligible)
	}
	if len(f.stitcher.calls) != 1 || len(f.stitcher.calls[0]) != 2 {
		t.Fatalf("stitcher received %v, want one call with 2 clips", f.stitcher.calls)
	}

	items, _ := f.items.ListByJobID(context.Background(), jobID)
	for _, item := range items {
		if strings.Contains(item.ImageURL, "photo-2.jpg") {
			// Prompt failed, so the item must never enter the video stage.
			if item.VideoStatus != domain.StageStatusPending {
				t.Fatalf("skipped item video_status = %s, want pending", item.VideoStatus)
			}
			continue
		}
		if item.VideoStatus != domain.StageStatusCompleted || item.VideoURL == "" {
			t.Fatalf("item %s video_status = %s url=%q", item.ImageName, item.VideoStatus, item.VideoURL)
		}
	}

	job := f.jobs.jobs[jobID]
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("job status = %s, want completed", job.Status)
	}
	if job.FinalVideoURL == "" {
		t.Fatalf("final video url not recorded")
	}
}

func TestRunVideoStageAllFail(t *testing.T) {
	f := newFixture(100)
	jobID := createReadyJob(t, f, 2)
	if _, err := f.orch.RunPromptStage(context.Background(), jobID, "user-1"); err != nil {
		t.Fatalf("prompt stage: %v", err)
	}
	f.inference.failAnimate[".jpg"] = true

	_, err := f.orch.RunVideoStage(context.Background(), jobID, "user-1")
	if !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("err = %v, want ErrProviderFailure", err)
	}
	job := f.jobs.jobs[jobID]
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("job status = %s, want failed", job.Status)
	}
}

func TestRunVideoStageStitchFailureFailsJob(t *testing.T) {
	f := newFixture(100)
	jobID := createReadyJob(t, f, 2)
	if _, err := f.orch.RunPromptStage(context.Background(), jobID, "user-1"); err != nil {
		t.Fatalf("prompt stage: %v", err)
	}
	f.stitcher.err = fmt.Errorf("mux exploded: %w", domain.ErrStitchFailure)

	_, err := f.orch.RunVideoStage(context.Background(), jobID, "user-1")
	if !errors.Is(err, domain.ErrStitchFailure) {
		t.Fatalf("err = %v, want ErrStitchFailure", err)
	}
	job := f.jobs.jobs[jobID]
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("job status = %s, want failed", job.Status)
	}
	if f.ledger.balance != 80 {
		t.Fatalf("balance = %d, want 80: no refund on stitch failure", f.ledger.balance)
	}
}

func TestRunVideoStageRequiresPromptStage(t *testing.T) {
	f := newFixture(100)
	jobID := createReadyJob(t, f, 2)
	_, err := f.orch.RunVideoStage(context.Background(), jobID, "user-1")
	if !errors.Is(err, domain.ErrInvalidJobState) {
		t.Fatalf("err = %v, want ErrInvalidJobState on pending job", err)
	}
}

func TestItemsListInUploadOrder(t *testing.T) {
	f := newFixture(100)
	jobID := createReadyJob(t, f, 8)

	items, err := f.items.ListByJobID(context.Background(), jobID)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) != 8 {
		t.Fatalf("items = %d, want 8", len(items))
	}
	for i, item := range items {
		if item.Position != i {
			t.Fatalf("item %d has position %d", i, item.Position)
		}
		want := fmt.Sprintf("photo-%d.jpg", i+1)
		if item.ImageName != want {
			t.Fatalf("item %d = %s, want %s: listing must follow upload order", i, item.ImageName, want)
		}
	}
}

func TestStitcherReceivesClipsInUploadOrder(t *testing.T) {
	f := newFixture(100)
	jobID := createReadyJob(t, f, 5)
	if _, err := f.orch.RunPromptStage(context.Background(), jobID, "user-1"); err != nil {
		t.Fatalf("prompt stage: %v", err)
	}
	if _, err := f.orch.RunVideoStage(context.Background(), jobID, "user-1"); err != nil {
		t.Fatalf("video stage: %v", err)
	}

	if len(f.stitcher.calls) != 1 {
		t.Fatalf("stitcher called %d times, want 1", len(f.stitcher.calls))
	}
	clips := f.stitcher.calls[0]
	if len(clips) != 5 {
		t.Fatalf("clips = %d, want 5", len(clips))
	}
	for i, clip := range clips {
		want := fmt.Sprintf("photo-%d.jpg", i+1)
		if !strings.Contains(clip, want) {
			t.Fatalf("clip %d = %s, want the one for %s", i, clip, want)
		}
	}
}

func TestDroppedUploadKeepsRemainingOrder(t *testing.T) {
	f := newFixture(100)
	f.store.failPuts["photo-2.jpg"] = true
	result, err := f.orch.CreateJob(context.Background(), "user-1", batch(3))
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	items, err := f.items.ListByJobID(context.Background(), result.JobID)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	// Positions keep the original upload indexes, gap included.
	if items[0].ImageName != "photo-1.jpg" || items[0].Position != 0 {
		t.Fatalf("first item = %s at %d", items[0].ImageName, items[0].Position)
	}
	if items[1].ImageName != "photo-3.jpg" || items[1].Position != 2 {
		t.Fatalf("second item = %s at %d", items[1].ImageName, items[1].Position)
	}
}

func TestTerminalStatusIsSticky(t *testing.T) {
	f := newFixture(100)
	jobID := createReadyJob(t, f, 2)
	f.inference.failDescribe[".jpg"] = true
	if _, err := f.orch.RunPromptStage(context.Background(), jobID, "user-1"); err == nil {
		t.Fatalf("expected stage failure")
	}
	// A late trigger against the failed job must not resurrect it.
	if _, err := f.orch.RunVideoStage(context.Background(), jobID, "user-1"); !errors.Is(err, domain.ErrInvalidJobState) {
		t.Fatalf("err = %v, want ErrInvalidJobState", err)
	}
	if f.jobs.jobs[jobID].Status != domain.JobStatusFailed {
		t.Fatalf("terminal status changed")
	}
}

package stitch

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/propertyreel/server/internal/domain"
	"github.com/propertyreel/server/internal/infra"
)

// Stitcher wraps the external ffmpeg binary used to concatenate per-image
// clips into the final deliverable. Every invocation works inside a job-scoped
// temporary directory that is removed on every exit path.
type Stitcher struct {
	ffmpegBin string
	store     domain.ObjectStore
	logger    infra.Logger
}

// New constructs a Stitcher. ffmpegBin defaults to "ffmpeg" on PATH.
func New(ffmpegBin string, store domain.ObjectStore, logger infra.Logger) *Stitcher {
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	return &Stitcher{ffmpegBin: ffmpegBin, store: store, logger: logger}
}

// Stitch merges the ordered clips into a single video, uploads it, and
// returns its public URL. A single clip is returned unchanged without
// invoking ffmpeg.
func (s *Stitcher) Stitch(ctx context.Context, jobID string, clipURLs []string) (string, error) {
	switch len(clipURLs) {
	case 0:
		return "", fmt.Errorf("no clips to stitch: %w", domain.ErrStitchFailure)
	case 1:
		return clipURLs[0], nil
	}

	if _, err := exec.LookPath(s.ffmpegBin); err != nil {
		return "", fmt.Errorf("ffmpeg binary not found: %w", err)
	}

	workDir, err := os.MkdirTemp("", "stitch-"+jobID+"-")
	if err != nil {
		return "", fmt.Errorf("creating work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	manifestPath, err := s.stageClips(ctx, workDir, clipURLs)
	if err != nil {
		return "", err
	}

	outputPath := filepath.Join(workDir, "final.mp4")
	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", manifestPath,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		outputPath,
	}
	if err := s.runFFmpeg(ctx, args); err != nil {
		return "", fmt.Errorf("running ffmpeg: %w", err)
	}

	info, err := os.Stat(outputPath)
	if err != nil || info.Size() == 0 {
		return "", fmt.Errorf("ffmpeg produced no output: %w", domain.ErrStitchFailure)
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return "", fmt.Errorf("reading stitched output: %w", err)
	}
	finalURL, err := s.store.Put(ctx, fmt.Sprintf("jobs/%s/final.mp4", jobID), data, "video/mp4")
	if err != nil {
		return "", fmt.Errorf("uploading stitched output: %w", err)
	}
	s.logger.Info().
		Str("job_id", jobID).
		Int("clips", len(clipURLs)).
		Int64("bytes", info.Size()).
		Msg("stitch: final video uploaded")
	return finalURL, nil
}

// stageClips downloads each clip into the work directory in order and writes
// the concat manifest ffmpeg consumes.
func (s *Stitcher) stageClips(ctx context.Context, workDir string, clipURLs []string) (string, error) {
	var manifest strings.Builder
	for idx, clipURL := range clipURLs {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		data, err := s.store.Get(ctx, clipURL)
		if err != nil {
			return "", fmt.Errorf("downloading clip %d: %w", idx, err)
		}
		name := fmt.Sprintf("clip_%03d.mp4", idx)
		if err := os.WriteFile(filepath.Join(workDir, name), data, 0o644); err != nil {
			return "", fmt.Errorf("staging clip %d: %w", idx, err)
		}
		fmt.Fprintf(&manifest, "file '%s'\n", name)
	}
	manifestPath := filepath.Join(workDir, "concat.txt")
	if err := os.WriteFile(manifestPath, []byte(manifest.String()), 0o644); err != nil {
		return "", fmt.Errorf("writing concat manifest: %w", err)
	}
	return manifestPath, nil
}

func (s *Stitcher) runFFmpeg(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, s.ffmpegBin, args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	err := cmd.Run()
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("output", truncate(output.String(), 2000)).
			Msg("stitch: ffmpeg failed")
		return err
	}
	s.logger.Debug().Msg("stitch: ffmpeg finished")
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

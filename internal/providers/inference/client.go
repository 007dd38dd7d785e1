package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/propertyreel/server/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("inference: api key is required")

// describeInstruction constrains the model to what is actually in the photo.
// Inventing rooms or furniture that a buyer will not find on site is worse
// than a bland prompt.
const describeInstruction = "Describe only what is visible in this image. " +
	"Focus on the physical contents of the scene and its lighting. " +
	"Do not invent objects, rooms, or features that are not present. " +
	"Write one short paragraph suitable as a video motion prompt."

// animateInstruction wraps the generated prompt for the video model. Camera
// motion only; the scene content must stay exactly as photographed.
const animateInstruction = "Animate this image with subtle, realistic camera motion " +
	"(slow pan or gentle zoom). Reproduce only the existing image content; " +
	"do not add, remove, or alter any elements. Scene: %s"

// PollPolicy bounds a stage's poll loop.
type PollPolicy struct {
	Interval    time.Duration
	MaxAttempts int
}

// Options configures the inference client.
type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger

	// Zero values fall back to the production defaults; tests inject short
	// intervals here.
	Describe PollPolicy
	Animate  PollPolicy
}

// Client performs HTTP calls against the asynchronous inference API. Both
// capabilities (describe and animate) submit a task and poll its status URL
// to a terminal state.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
	describe   PollPolicy
	animate    PollPolicy
}

type taskRequest struct {
	Task  string         `json:"task"`
	Input map[string]any `json:"input"`
}

type task struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Output struct {
		Text     string `json:"text,omitempty"`
		VideoURL string `json:"video_url,omitempty"`
	} `json:"output"`
	Error string `json:"error,omitempty"`
	URLs  struct {
		Get string `json:"get"`
	} `json:"urls"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 45 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.inference.example.com/v1"
	}
	describe := opts.Describe
	if describe.Interval <= 0 {
		describe.Interval = 2 * time.Second
	}
	if describe.MaxAttempts <= 0 {
		describe.MaxAttempts = 30
	}
	animate := opts.Animate
	if animate.Interval <= 0 {
		animate.Interval = 5 * time.Second
	}
	if animate.MaxAttempts <= 0 {
		animate.MaxAttempts = 720
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
		describe:   describe,
		animate:    animate,
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Describe submits an image for motion-prompt synthesis and polls to a
// terminal state. Returns the generated prompt text.
func (c *Client) Describe(ctx context.Context, imageURL string) (string, error) {
	t, err := c.run(ctx, "describe", map[string]any{
		"image":       imageURL,
		"instruction": describeInstruction,
	}, c.describe)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(t.Output.Text)
	if text == "" {
		return "", fmt.Errorf("inference: describe returned empty output")
	}
	return text, nil
}

// Animate submits an image plus its motion prompt for video synthesis and
// polls to a terminal state. Returns the produced clip URL.
func (c *Client) Animate(ctx context.Context, imageURL, prompt string) (string, error) {
	t, err := c.run(ctx, "animate", map[string]any{
		"image":  imageURL,
		"prompt": fmt.Sprintf(animateInstruction, prompt),
	}, c.animate)
	if err != nil {
		return "", err
	}
	videoURL := strings.TrimSpace(t.Output.VideoURL)
	if videoURL == "" {
		return "", fmt.Errorf("inference: animate returned empty output")
	}
	return videoURL, nil
}

func (c *Client) run(ctx context.Context, taskName string, input map[string]any, policy PollPolicy) (*task, error) {
	submitted, err := c.submit(ctx, taskName, input)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().
		Str("task", taskName).
		Str("task_id", submitted.ID).
		Str("status", submitted.Status).
		Msg("inference: task submitted")
	if isTerminal(submitted.Status) {
		return c.check(taskName, submitted)
	}
	pollURL := submitted.URLs.Get
	if pollURL == "" {
		pollURL = c.baseURL + "/tasks/" + submitted.ID
	}
	return c.poll(ctx, taskName, pollURL, policy)
}

func (c *Client) submit(ctx context.Context, taskName string, input map[string]any) (*task, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	body, err := json.Marshal(taskRequest{Task: taskName, Input: input})
	if err != nil {
		return nil, fmt.Errorf("inference: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tasks", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("inference: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference: http request: %w", err)
	}
	defer resp.Body.Close()

	return decodeTask(resp)
}

func (c *Client) getTask(ctx context.Context, pollURL string) (*task, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
	if err != nil {
		return nil, fmt.Errorf("inference: build poll request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference: poll request: %w", err)
	}
	defer resp.Body.Close()

	return decodeTask(resp)
}

func decodeTask(resp *http.Response) (*task, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("inference: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Message != "" {
			return nil, fmt.Errorf("inference: %s (%s)", detail.Message, detail.Code)
		}
		return nil, fmt.Errorf("inference: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var t task
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("inference: decode response: %w", err)
	}
	return &t, nil
}

package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/livewall/api/internal/config"
)

// Runway task statuses
const (
	RunwayStatusPending   = "PENDING"
	RunwayStatusThrottled = "THROTTLED"
	RunwayStatusRunning   = "RUNNING"
	RunwayStatusSucceeded = "SUCCEEDED"
	RunwayStatusFailed    = "FAILED"
	RunwayStatusCancelled = "CANCELLED"
)

var (
	ErrGenerationFailed  = errors.New("video generation failed")
	ErrGenerationTimeout = errors.New("video generation timed out")
	ErrMissingOutput     = errors.New("no output URL in successful task")
	ErrUnsupportedImage  = errors.New("unsupported prompt image type")
)

// Prompt images are re-encoded to fit this square before upload.
const promptImageMaxDimension = 1024

// ImagePreparer re-encodes a prompt image as a JPEG no larger than
// maxDimension on either side. The caller removes the returned file.
type ImagePreparer interface {
	PrepareImage(ctx context.Context, sourcePath string, maxDimension int) (string, error)
}

// VideoGenerator turns a still image into a short video file.
type VideoGenerator interface {
	GenerateVideo(ctx context.Context, imagePath, prompt, dst string) error
}

// RunwayClient implements VideoGenerator for the Runway image_to_video API
type RunwayClient struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	model        string
	version      string
	ratio        string
	duration     int
	pollInterval time.Duration
	pollTimeout  time.Duration
	images       ImagePreparer
	logger       zerolog.Logger
}

// ImageToVideoRequest is the body of POST /v1/image_to_video
type ImageToVideoRequest struct {
	PromptImage string `json:"promptImage"`
	Model       string `json:"model"`
	PromptText  string `json:"promptText,omitempty"`
	Duration    int    `json:"duration"`
	Ratio       string `json:"ratio"`
}

// RunwayTask is the task resource returned by /v1/tasks/:id
type RunwayTask struct {
	ID      string   `json:"id"`
	Status  string   `json:"status"`
	Output  []string `json:"output,omitempty"`
	Failure string   `json:"failure,omitempty"`
}

// NewRunwayClient creates a new Runway API client. Without images, prompt
// images are sent as stored.
func NewRunwayClient(cfg *config.RunwayConfig, images ImagePreparer, logger zerolog.Logger) *RunwayClient {
	pollInterval := time.Duration(cfg.PollInterval) * time.Second
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	pollTimeout := time.Duration(cfg.PollTimeout) * time.Second
	if pollTimeout <= 0 {
		pollTimeout = 10 * time.Minute
	}

	return &RunwayClient{
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		version:      cfg.Version,
		ratio:        cfg.Ratio,
		duration:     cfg.Duration,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
		images:       images,
		logger:       logger.With().Str("component", "runway").Logger(),
	}
}

// IsConfigured returns true if an API key is set
func (c *RunwayClient) IsConfigured() bool {
	return c.apiKey != ""
}

// GenerateVideo submits imagePath, waits for the task and stores the result at dst.
func (c *RunwayClient) GenerateVideo(ctx context.Context, imagePath, prompt, dst string) error {
	if c.images != nil {
		prepared, err := c.images.PrepareImage(ctx, imagePath, promptImageMaxDimension)
		if err != nil {
			return fmt.Errorf("failed to prepare prompt image: %w", err)
		}
		defer os.Remove(prepared)
		imagePath = prepared
	}

	dataURI, err := ImageDataURI(imagePath)
	if err != nil {
		return err
	}

	taskID, err := c.SubmitImageToVideo(ctx, dataURI, prompt)
	if err != nil {
		return err
	}

	outputURL, err := c.WaitForTask(ctx, taskID)
	if err != nil {
		return err
	}

	return c.DownloadOutput(ctx, outputURL, dst)
}

// SubmitImageToVideo starts a generation task and returns its id
func (c *RunwayClient) SubmitImageToVideo(ctx context.Context, promptImage, prompt string) (string, error) {
	req := &ImageToVideoRequest{
		PromptImage: promptImage,
		Model:       c.model,
		PromptText:  prompt,
		Duration:    c.duration,
		Ratio:       c.ratio,
	}

	var task RunwayTask
	if err := c.post(ctx, "/v1/image_to_video", req, &task); err != nil {
		return "", err
	}
	if task.ID == "" {
		return "", fmt.Errorf("runway returned no task id")
	}
	return task.ID, nil
}

// GetTask retrieves a generation task
func (c *RunwayClient) GetTask(ctx context.Context, taskID string) (*RunwayTask, error) {
	var task RunwayTask
	if err := c.get(ctx, "/v1/tasks/"+taskID, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// WaitForTask polls taskID until it finishes and returns the first output URL
func (c *RunwayClient) WaitForTask(ctx context.Context, taskID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		task, err := c.GetTask(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return "", fmt.Errorf("%w: task %s", ErrGenerationTimeout, taskID)
			}
			return "", err
		}

		switch task.Status {
		case RunwayStatusSucceeded:
			if len(task.Output) == 0 {
				return "", ErrMissingOutput
			}
			return task.Output[0], nil
		case RunwayStatusFailed, RunwayStatusCancelled:
			return "", fmt.Errorf("%w: %s %s", ErrGenerationFailed, strings.ToLower(task.Status), task.Failure)
		}

		c.logger.Debug().Str("taskId", taskID).Str("status", task.Status).Msg("waiting for generation")

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: task %s", ErrGenerationTimeout, taskID)
		case <-ticker.C:
		}
	}
}

// DownloadOutput fetches a generated video into dst
func (c *RunwayClient) DownloadOutput(ctx context.Context, outputURL, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, outputURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download output: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("output download failed (status %d)", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to write output: %w", err)
	}
	return f.Close()
}

// ImageDataURI encodes an image file as a data: URI
func ImageDataURI(path string) (string, error) {
	var mime string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		mime = "image/png"
	case ".jpg", ".jpeg":
		mime = "image/jpeg"
	case ".gif":
		mime = "image/gif"
	case ".webp":
		mime = "image/webp"
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedImage, filepath.Ext(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt image: %w", err)
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// post sends a POST request with JSON body
func (c *RunwayClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

// get sends a GET request and parses JSON response
func (c *RunwayClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

// doRequest executes an HTTP request and parses the response
func (c *RunwayClient) doRequest(req *http.Request, result interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Runway-Version", c.version)

	log := c.logger.With().Str("method", req.Method).Str("path", req.URL.Path).Logger()
	log.Debug().Msg("request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Msg("request failed")
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	log.Debug().Int("status", resp.StatusCode).Msg("response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("runway API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

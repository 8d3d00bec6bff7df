package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/digkill/modelstudio/internal/config"
	"github.com/digkill/modelstudio/internal/models"
	"github.com/digkill/modelstudio/internal/storage"
)

const (
	ModelNanoBananaPro     = "nano-banana-pro"
	ModelFlux2ImageToImage = "flux-2/pro-image-to-image"
)

// Client generates images through the KIE async jobs API. KIE only takes
// reference images by URL, so uploads are put in the bucket first.
type Client struct {
	apiKey       string
	baseURL      string
	model        string
	pollInterval time.Duration
	maxAttempts  int
	httpClient   *http.Client
	uploader     storage.ObjectUploader
	log          *slog.Logger
}

func NewClient(cfg config.Config, uploader storage.ObjectUploader, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	pollInterval := cfg.KIEPollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	maxAttempts := cfg.KIEMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 60
	}
	model := cfg.KIEModel
	if model == "" {
		model = ModelNanoBananaPro
	}
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		apiKey:       cfg.KIEAPIKey,
		baseURL:      strings.TrimRight(cfg.KIEBaseURL, "/"),
		model:        model,
		pollInterval: pollInterval,
		maxAttempts:  maxAttempts,
		httpClient:   &http.Client{Timeout: timeout},
		uploader:     uploader,
		log:          log.With("generator", "kie", "model", model),
	}
}

// Generate uploads the product photos and runs one image-to-image task.
func (c *Client) Generate(ctx context.Context, prompt string, images []models.UploadedImage) (*models.GeneratedImage, error) {
	inputURLs := make([]string, 0, len(images))
	for i, img := range images {
		u, err := c.uploader.Upload(ctx, img.Data, img.MimeType, storage.FolderUploads)
		if err != nil {
			return nil, fmt.Errorf("upload reference %d: %w", i, err)
		}
		inputURLs = append(inputURLs, u)
	}

	taskID, err := c.createTask(ctx, c.payload(prompt, inputURLs))
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return c.pollTaskStatus(ctx, taskID)
}

func (c *Client) payload(prompt string, inputURLs []string) map[string]any {
	input := map[string]any{
		"prompt":       prompt,
		"aspect_ratio": "3:4",
		"resolution":   "1K",
	}
	// Flux takes references as input_urls, nano banana as image_input.
	switch {
	case strings.HasPrefix(c.model, "flux-2"):
		if len(inputURLs) > 0 {
			input["input_urls"] = inputURLs
		}
	default:
		input["output_format"] = "png"
		if len(inputURLs) > 0 {
			input["image_input"] = inputURLs
		}
	}
	return map[string]any{
		"model": c.model,
		"input": input,
	}
}

func (c *Client) endpoint(path string, query url.Values) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if query != nil {
		ref.RawQuery = query.Encode()
	}
	return base.ResolveReference(ref).String(), nil
}

func (c *Client) createTask(ctx context.Context, payload map[string]any) (string, error) {
	fullURL, err := c.endpoint("/api/v1/jobs/createTask", nil)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	rawBody, status, err := c.do(req)
	if err != nil {
		return "", err
	}
	if status >= 300 {
		c.log.Error("KIE create task failed", "status", status, "body", truncateBody(rawBody))
		return "", fmt.Errorf("kie error: status=%d body=%s", status, truncateBody(rawBody))
	}

	var createResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID string `json:"taskId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &createResp); err != nil {
		return "", fmt.Errorf("decode create task response: %w (body=%s)", err, truncateBody(rawBody))
	}
	if createResp.Code != http.StatusOK {
		return "", fmt.Errorf("create task failed: code=%d msg=%s", createResp.Code, createResp.Msg)
	}
	if createResp.Data.TaskID == "" {
		return "", fmt.Errorf("empty taskId in response")
	}

	c.log.Info("KIE task created", "task_id", createResp.Data.TaskID)
	return createResp.Data.TaskID, nil
}

type taskStatus struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		TaskID     string `json:"taskId"`
		State      string `json:"state"`
		ResultJSON string `json:"resultJson"`
		FailCode   string `json:"failCode"`
		FailMsg    string `json:"failMsg"`
	} `json:"data"`
}

func (c *Client) pollTaskStatus(ctx context.Context, taskID string) (*models.GeneratedImage, error) {
	fullURL, err := c.endpoint("/api/v1/jobs/recordInfo", url.Values{"taskId": {taskID}})
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, fmt.Errorf("new request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")

		rawBody, status, err := c.do(req)
		if err != nil {
			return nil, fmt.Errorf("get task status: %w", err)
		}
		if status >= 300 {
			c.log.Error("KIE poll task status failed", "status", status, "task_id", taskID, "body", truncateBody(rawBody))
			return nil, fmt.Errorf("kie error: status=%d body=%s", status, truncateBody(rawBody))
		}

		var statusResp taskStatus
		if err := json.Unmarshal(rawBody, &statusResp); err != nil {
			return nil, fmt.Errorf("decode status response: %w (body=%s)", err, truncateBody(rawBody))
		}
		if statusResp.Code != http.StatusOK {
			return nil, fmt.Errorf("get task status failed: code=%d msg=%s", statusResp.Code, statusResp.Msg)
		}

		switch state := statusResp.Data.State; state {
		case "success":
			image, err := parseResult(statusResp.Data.ResultJSON)
			if err != nil {
				return nil, err
			}
			c.log.Info("KIE task completed", "task_id", taskID, "attempt", attempt+1)
			return image, nil

		case "fail":
			c.log.Error("KIE task failed", "task_id", taskID, "fail_code", statusResp.Data.FailCode, "fail_msg", statusResp.Data.FailMsg)
			if msg := strings.TrimSpace(statusResp.Data.FailMsg); msg != "" {
				return nil, &models.RejectedError{Reason: msg}
			}
			return nil, fmt.Errorf("task failed (code: %s)", statusResp.Data.FailCode)

		case "waiting", "generating", "processing", "queued", "queueing":
			if attempt%10 == 0 {
				c.log.Info("KIE task waiting", "task_id", taskID, "attempt", attempt+1, "max_attempts", c.maxAttempts)
			}
			if attempt == c.maxAttempts-1 {
				break
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.pollInterval):
			}

		default:
			return nil, fmt.Errorf("unknown task state: %s", state)
		}
	}

	return nil, fmt.Errorf("task timeout after %d attempts", c.maxAttempts)
}

func parseResult(resultJSON string) (*models.GeneratedImage, error) {
	if resultJSON == "" {
		return nil, fmt.Errorf("empty resultJson in success response")
	}
	var result struct {
		ResultURLs []string `json:"resultUrls"`
	}
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		return nil, fmt.Errorf("parse resultJson: %w", err)
	}
	if len(result.ResultURLs) == 0 {
		return nil, fmt.Errorf("no resultUrls in result")
	}
	return &models.GeneratedImage{URL: result.ResultURLs[0]}, nil
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("call kie: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response body: %w", err)
	}
	return rawBody, resp.StatusCode, nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}

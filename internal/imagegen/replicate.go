package imagegen

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

	"github.com/tidwall/gjson"

	"github.com/illegalcall/emoji-maker/internal/pkg/retry"
)

const (
	defaultBaseURL = "https://api.replicate.com/v1"
	// fofr/sdxl-emoji
	DefaultModelVersion = "dee76b5afde21b0f01ed7925f0665b7e879c50ee718c5f78a9d38e04d523cc5e"

	promptPrefix = "A TOK emoji of "
	imageSize    = 1024
)

// Prediction statuses reported by Replicate.
const (
	statusStarting   = "starting"
	statusProcessing = "processing"
	statusSucceeded  = "succeeded"
	statusFailed     = "failed"
	statusCanceled   = "canceled"
)

var ErrEmptyOutput = errors.New("replicate: prediction returned no image")

type Options struct {
	BaseURL      string
	APIToken     string
	ModelVersion string
	HTTPClient   *http.Client
	PollInterval time.Duration
	// PollRetries bounds retries of a single failed status poll.
	PollRetries int
}

// ReplicateClient runs the emoji model through the Replicate predictions API.
type ReplicateClient struct {
	httpClient   *http.Client
	baseURL      string
	token        string
	version      string
	pollInterval time.Duration
	pollRetries  int
}

func NewReplicateClient(opts Options) *ReplicateClient {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	version := opts.ModelVersion
	if version == "" {
		version = DefaultModelVersion
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	retries := opts.PollRetries
	if retries <= 0 {
		retries = 3
	}
	return &ReplicateClient{
		httpClient:   client,
		baseURL:      base,
		token:        strings.TrimSpace(opts.APIToken),
		version:      version,
		pollInterval: interval,
		pollRetries:  retries,
	}
}

type predictionInput struct {
	Prompt         string `json:"prompt"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	ApplyWatermark bool   `json:"apply_watermark"`
}

type predictionRequest struct {
	Version string          `json:"version"`
	Input   predictionInput `json:"input"`
}

// BuildPrompt applies the model's trigger phrase to a user prompt.
func BuildPrompt(prompt string) string {
	return promptPrefix + strings.TrimSpace(prompt)
}

// Generate creates a prediction for prompt and waits until it settles,
// returning the URL of the first output image. The deadline of ctx bounds the
// whole call.
func (c *ReplicateClient) Generate(ctx context.Context, prompt string) (string, error) {
	if c.token == "" {
		return "", errors.New("replicate: API token is missing")
	}

	body, err := json.Marshal(predictionRequest{
		Version: c.version,
		Input: predictionInput{
			Prompt:         BuildPrompt(prompt),
			Width:          imageSize,
			Height:         imageSize,
			ApplyWatermark: false,
		},
	})
	if err != nil {
		return "", fmt.Errorf("replicate: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predictions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("replicate: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "wait")

	// Creating a prediction is not idempotent and is never retried.
	prediction, err := c.do(req)
	if err != nil {
		return "", err
	}

	for {
		status := prediction.Get("status").String()
		switch status {
		case statusSucceeded:
			return firstOutput(prediction)
		case statusFailed, statusCanceled:
			msg := prediction.Get("error").String()
			if msg == "" {
				msg = "no error reported"
			}
			return "", fmt.Errorf("replicate: prediction %s %s: %s", prediction.Get("id").String(), status, msg)
		case statusStarting, statusProcessing:
		default:
			return "", fmt.Errorf("replicate: unexpected prediction status %q", status)
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("replicate: prediction %s timed out: %w", prediction.Get("id").String(), ctx.Err())
		case <-time.After(c.pollInterval):
		}

		prediction, err = c.poll(ctx, prediction)
		if err != nil {
			return "", err
		}
	}
}

func (c *ReplicateClient) poll(ctx context.Context, prediction gjson.Result) (gjson.Result, error) {
	pollURL := prediction.Get("urls.get").String()
	if pollURL == "" {
		pollURL = c.baseURL + "/predictions/" + prediction.Get("id").String()
	}

	var next gjson.Result
	err := retry.Do(ctx, c.pollRetries, c.pollInterval, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
		if err != nil {
			return retry.Permanent(fmt.Errorf("replicate: failed to create request: %w", err))
		}
		next, err = c.do(req)
		return err
	})
	return next, err
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("replicate: http %d: %s", e.code, e.body)
}

func (c *ReplicateClient) do(req *http.Request) (gjson.Result, error) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("replicate: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("replicate: failed to read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		detail := gjson.GetBytes(body, "detail").String()
		if detail == "" {
			detail = strings.TrimSpace(string(body))
		}
		err := &statusError{code: resp.StatusCode, body: detail}
		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			return gjson.Result{}, err
		}
		return gjson.Result{}, retry.Permanent(err)
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, retry.Permanent(errors.New("replicate: invalid JSON response"))
	}
	return gjson.ParseBytes(body), nil
}

// firstOutput accepts both a single URL and a list of URLs.
func firstOutput(prediction gjson.Result) (string, error) {
	output := prediction.Get("output")
	var url string
	if output.IsArray() {
		url = output.Get("0").String()
	} else {
		url = output.String()
	}
	if strings.TrimSpace(url) == "" {
		return "", ErrEmptyOutput
	}
	return url, nil
}

// Package client uploads batch summaries to a results server.
//
// The client uses hashicorp/go-retryablehttp for automatic retry with
// exponential backoff and jitter, so that a grader on a flaky campus network
// still gets its results through. Summaries that fail every retry stay in
// the local upload queue (see package results) for the next attempt.
//
// Usage:
//
//	c := client.NewClient("https://grades.example.edu/api/batches", token, logger)
//	err := c.SubmitBatchSummaries(ctx, summaries)
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/jvolcy/autograder/internal/report"
	"github.com/jvolcy/autograder/internal/version"
)

// Client is the HTTP client for the results server.
type Client struct {
	httpClient *http.Client
	uploadURL  string
	token      string
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*retryablehttp.Client)

// WithRetry overrides the retry policy.
func WithRetry(retries int, waitMin, waitMax time.Duration) Option {
	return func(rc *retryablehttp.Client) {
		rc.RetryMax = retries
		rc.RetryWaitMin = waitMin
		rc.RetryWaitMax = waitMax
	}
}

// NewClient creates a Client that POSTs to uploadURL. token, when set, is
// sent as a Bearer token.
//
// The client is configured with:
//   - RetryMax: 3 retries
//   - RetryWaitMin: 1 second
//   - RetryWaitMax: 10 seconds
//   - Backoff: Linear jitter
//   - Timeout: 30 seconds per request
func NewClient(uploadURL, token string, logger *slog.Logger, opts ...Option) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Backoff = retryablehttp.LinearJitterBackoff

	// Disable retryablehttp's internal logging - we use slog instead
	retryClient.Logger = nil

	retryClient.HTTPClient.Timeout = 30 * time.Second
	retryClient.HTTPClient.Transport = &http.Transport{
		MaxIdleConns:        4,
		IdleConnTimeout:     60 * time.Second,
		MaxIdleConnsPerHost: 2,
	}

	for _, opt := range opts {
		opt(retryClient)
	}

	return &Client{
		httpClient: retryClient.StandardClient(),
		uploadURL:  uploadURL,
		token:      token,
		logger:     logger.With(slog.String("component", "client")),
	}
}

// batchPayload is the JSON body of an upload.
type batchPayload struct {
	Grader   string            `json:"grader"`
	Batches  []*report.Summary `json:"batches"`
	Platform string            `json:"platform"`
}

// SubmitBatchSummaries uploads summaries in one request. The server must
// answer 200, 201 or 202. The caller keeps the summaries queued on error.
func (c *Client) SubmitBatchSummaries(ctx context.Context, summaries []*report.Summary) error {
	payload := batchPayload{
		Grader:   "autograder/" + version.Version,
		Batches:  summaries,
		Platform: runtime.GOOS + "-" + runtime.GOARCH,
	}

	c.logger.Debug("submitting batch summaries",
		slog.String("url", c.uploadURL),
		slog.Int("count", len(summaries)),
	)

	resp, err := c.doJSONRequest(ctx, http.MethodPost, c.uploadURL, payload)
	if err != nil {
		return fmt.Errorf("batch upload request failed: %w", err)
	}
	defer resp.Body.Close()
	// Drain body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
	default:
		return fmt.Errorf("batch upload failed with status %d", resp.StatusCode)
	}

	c.logger.Debug("batch summaries submitted successfully",
		slog.Int("count", len(summaries)),
	)
	return nil
}

// doJSONRequest sends body as JSON. The caller closes the response body.
func (c *Client) doJSONRequest(ctx context.Context, method, url string, body interface{}) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "autograder/"+version.Version)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	return c.httpClient.Do(req)
}

// Package apify wraps the Apify v2 API for the scraping job lifecycle:
// create a run, poll its status, fetch its dataset items, and archive
// (delete) old runs to keep storage billing down.
package apify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/reviewforge/reviews-cli/internal/resilience"
)

// Default base URL for the Apify v2 API.
const defaultBaseURL = "https://api.apify.com/v2"

// Run statuses reported by the provider.
const (
	StatusReady     = "READY"
	StatusRunning   = "RUNNING"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
	StatusAborted   = "ABORTED"
	StatusTimedOut  = "TIMED-OUT"
)

// Client defines the Apify operations used by the scraping state machine.
type Client interface {
	CreateRun(ctx context.Context, actorID string, input json.RawMessage) (*Run, error)
	GetRun(ctx context.Context, runID string) (*Run, error)
	GetDatasetItems(ctx context.Context, datasetID string) ([]map[string]any, error)
	DeleteRun(ctx context.Context, runID string) error
	ListRuns(ctx context.Context, offset, limit int) (*RunList, error)
}

// Run is a single scraping job run.
type Run struct {
	ID               string     `json:"id"`
	ActorID          string     `json:"actId"`
	Status           string     `json:"status"`
	StartedAt        *time.Time `json:"startedAt"`
	FinishedAt       *time.Time `json:"finishedAt"`
	DefaultDatasetID string     `json:"defaultDatasetId"`
}

// Finished reports whether the run reached a terminal provider state.
func (r *Run) Finished() bool {
	switch r.Status {
	case StatusSucceeded, StatusFailed, StatusAborted, StatusTimedOut:
		return true
	}
	return false
}

// Succeeded reports whether the run finished with results to collect.
func (r *Run) Succeeded() bool {
	return r.Status == StatusSucceeded
}

// RunList is one page of the run listing.
type RunList struct {
	Total  int   `json:"total"`
	Offset int   `json:"offset"`
	Items  []Run `json:"items"`
}

// APIError is returned when Apify responds with a non-2xx status. Only 429
// is retried; everything else surfaces immediately.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("apify: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRateLimited reports whether err is an Apify 429.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit sets the client-side request rate limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetry tunes the 429 retry policy: attempts is the total number of
// tries, base the first backoff delay (doubled each attempt).
func WithRetry(attempts int, base time.Duration) Option {
	return func(c *httpClient) {
		c.retry.MaxAttempts = attempts
		c.retry.InitialBackoff = base
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewClient creates a new Apify client.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(5, 5),
		retry: resilience.RetryConfig{
			MaxAttempts:    5,
			InitialBackoff: time.Second,
			MaxBackoff:     time.Minute,
			Multiplier:     2.0,
			ShouldRetry:    IsRateLimited,
			OnRetry:        resilience.RetryLogger("apify", "request"),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) CreateRun(ctx context.Context, actorID string, input json.RawMessage) (*Run, error) {
	var resp struct {
		Data Run `json:"data"`
	}
	path := fmt.Sprintf("/acts/%s/runs", actorID)
	if err := c.call(ctx, http.MethodPost, path, input, &resp); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("apify: create run for actor %s", actorID))
	}
	return &resp.Data, nil
}

func (c *httpClient) GetRun(ctx context.Context, runID string) (*Run, error) {
	var resp struct {
		Data Run `json:"data"`
	}
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/actor-runs/%s", runID), nil, &resp); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("apify: get run %s", runID))
	}
	return &resp.Data, nil
}

func (c *httpClient) GetDatasetItems(ctx context.Context, datasetID string) ([]map[string]any, error) {
	var items []map[string]any
	path := fmt.Sprintf("/datasets/%s/items?format=json&clean=true", datasetID)
	if err := c.call(ctx, http.MethodGet, path, nil, &items); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("apify: get dataset items %s", datasetID))
	}
	return items, nil
}

func (c *httpClient) DeleteRun(ctx context.Context, runID string) error {
	if err := c.call(ctx, http.MethodDelete, fmt.Sprintf("/actor-runs/%s", runID), nil, nil); err != nil {
		return eris.Wrap(err, fmt.Sprintf("apify: delete run %s", runID))
	}
	return nil
}

func (c *httpClient) ListRuns(ctx context.Context, offset, limit int) (*RunList, error) {
	var resp struct {
		Data RunList `json:"data"`
	}
	path := fmt.Sprintf("/actor-runs?offset=%d&limit=%d&desc=false", offset, limit)
	if err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, eris.Wrap(err, "apify: list runs")
	}
	return &resp.Data, nil
}

// call performs one API request with rate limiting and 429-only retry.
func (c *httpClient) call(ctx context.Context, method, path string, body json.RawMessage, out any) error {
	return resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "rate limit wait")
		}
		return c.doOnce(ctx, method, path, body, out)
	})
}

func (c *httpClient) doOnce(ctx context.Context, method, path string, body json.RawMessage, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}

	return nil
}

// Package voyage provides the client for the Voyage AI embeddings service.
package voyage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mongodb-labs/mongodb-mcp-broker/internal/errs"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/infra"
	"github.com/mongodb-labs/mongodb-mcp-broker/metrics"
)

const (
	// DefaultBaseURL is the production embeddings endpoint
	DefaultBaseURL = "https://api.voyageai.com/v1"

	// DefaultModel is used when embeddingParameters omit a model
	DefaultModel = "voyage-3.5-lite"

	// DefaultTimeout for embedding requests
	DefaultTimeout = 30 * time.Second

	// MaxConcurrentRequests limits parallel embedding calls
	MaxConcurrentRequests = 5
)

// Client calls the Voyage embeddings endpoint with rate limiting, circuit
// breaking, and retries.
type Client struct {
	HTTPClient     *http.Client
	Logger         *slog.Logger
	CircuitBreaker *infra.CircuitBreaker
	Semaphore      chan struct{}

	BaseURL string
	apiKey  string
}

// ClientOption configures the Client
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.HTTPClient = c
	}
}

// WithLogger sets a custom logger
func WithLogger(l *slog.Logger) ClientOption {
	return func(client *Client) {
		client.Logger = l
	}
}

// WithBaseURL overrides the endpoint, used by tests
func WithBaseURL(u string) ClientOption {
	return func(client *Client) {
		client.BaseURL = u
	}
}

// NewClient creates a Voyage client. The API key is sent as a Bearer token
// and never logged.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		HTTPClient:     newHTTPClient(DefaultTimeout),
		Logger:         slog.Default(),
		CircuitBreaker: infra.NewCircuitBreaker("voyage"),
		Semaphore:      make(chan struct{}, MaxConcurrentRequests),
		BaseURL:        DefaultBaseURL,
		apiKey:         apiKey,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// AcquireSlot blocks until a request slot is available or context is canceled
func (c *Client) AcquireSlot(ctx context.Context) error {
	select {
	case c.Semaphore <- struct{}{}:
		return nil
	default:
	}
	metrics.RateLimitWaits.Inc()
	select {
	case c.Semaphore <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context canceled while waiting for rate limiter: %w", ctx.Err())
	}
}

// ReleaseSlot releases a request slot
func (c *Client) ReleaseSlot() {
	<-c.Semaphore
}

// CheckCircuitBreaker returns nil if requests are allowed, or an error if the circuit is open
func (c *Client) CheckCircuitBreaker() error {
	if !c.CircuitBreaker.Allow() {
		stats := c.CircuitBreaker.Stats()
		return &infra.ErrCircuitOpen{
			State:    stats.State,
			RetryAt:  stats.LastFailure.Add(30 * time.Second),
			Failures: stats.ConsecutiveFails,
		}
	}
	return nil
}

// Embed sends one batched embeddings request and returns vectors positionally
// aligned with req.Input. Service failures and empty responses surface as
// EmbeddingServiceError.
func (c *Client) Embed(ctx context.Context, req EmbeddingRequest) ([][]float64, error) {
	if len(req.Input) == 0 {
		return nil, nil
	}
	if req.Model == "" {
		req.Model = DefaultModel
	}

	start := time.Now()
	resp, err := c.doEmbed(ctx, req)
	metrics.RecordEmbeddingRequest(req.InputType, req.Model, len(req.Input), time.Since(start).Seconds(), err == nil)
	if err != nil {
		return nil, err
	}

	if len(resp.Data) != len(req.Input) {
		return nil, errs.Newf(errs.CodeEmbeddingServiceError,
			"embedding service returned %d vectors for %d inputs", len(resp.Data), len(req.Input))
	}

	vectors := make([][]float64, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, errs.Newf(errs.CodeEmbeddingServiceError,
				"embedding service returned out-of-range index %d", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, errs.Newf(errs.CodeEmbeddingServiceError,
				"embedding service returned an empty vector at position %d", i)
		}
	}
	return vectors, nil
}

func (c *Client) doEmbed(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error) {
	if err := c.CheckCircuitBreaker(); err != nil {
		return nil, errs.Wrap(errs.CodeEmbeddingServiceError, "embedding service unavailable", err)
	}

	if err := c.AcquireSlot(ctx); err != nil {
		return nil, err
	}
	defer c.ReleaseSlot()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode embedding request: %w", err)
	}

	const maxRetry = 3
	var lastErr error
	for attempt := 0; attempt < maxRetry; attempt++ {
		if attempt > 0 {
			metrics.EmbeddingRetries.Inc()
			// Quadratic backoff
			backoff := time.Duration(attempt*attempt) * 100 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("context canceled during backoff: %w", ctx.Err())
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/embeddings", bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.HTTPClient.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			c.Logger.Warn("Embedding request failed, retrying",
				"attempt", attempt+1,
				"model", req.Model,
				"error", err)
			continue
		}

		body, err := readAndClose(resp)
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		// Handle rate limiting with Retry-After header
		if resp.StatusCode == http.StatusTooManyRequests {
			if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
				if seconds, parseErr := strconv.Atoi(retryAfter); parseErr == nil {
					select {
					case <-time.After(time.Duration(seconds) * time.Second):
					case <-ctx.Done():
						return nil, ctx.Err()
					}
					continue
				}
			}
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}

		// Server errors (5xx) should be retried
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server error %d: %s", resp.StatusCode, truncate(string(body), 200))
			continue
		}

		if resp.StatusCode != http.StatusOK {
			c.CircuitBreaker.RecordFailure()
			var ae apiError
			detail := truncate(string(body), 200)
			if json.Unmarshal(body, &ae) == nil && ae.Detail != "" {
				detail = ae.Detail
			}
			return nil, errs.Newf(errs.CodeEmbeddingServiceError,
				"embedding service rejected the request (%d): %s", resp.StatusCode, detail)
		}

		var out EmbeddingResponse
		if err := json.Unmarshal(body, &out); err != nil {
			c.CircuitBreaker.RecordFailure()
			return nil, errs.Wrap(errs.CodeEmbeddingServiceError, "failed to decode embedding response", err)
		}

		c.CircuitBreaker.RecordSuccess()
		return &out, nil
	}

	c.CircuitBreaker.RecordFailure()
	return nil, errs.Wrap(errs.CodeEmbeddingServiceError, "embedding service request failed", lastErr)
}

// readAndClose reads the response body and closes it
func readAndClose(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return body, err
}

// truncate shortens a string to maxLen, adding "..." if truncated
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// newHTTPClient creates an HTTP client with optimized transport settings
func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       120 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		DisableCompression:    false,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// Package atlas provides the client for the Atlas administration API.
// Authentication uses service-account credentials exchanged for a bearer
// token through the OAuth client-credentials flow.
package atlas

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
	"sync"
	"time"

	"github.com/mongodb-labs/mongodb-mcp-broker/internal/errs"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/infra"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/keychain"
)

const (
	// DefaultBaseURL is the Atlas administration API endpoint
	DefaultBaseURL = "https://cloud.mongodb.com"

	// DefaultTimeout for API requests
	DefaultTimeout = 30 * time.Second

	// DefaultCacheTTL for cached list responses
	DefaultCacheTTL = 5 * time.Minute

	// MaxConcurrentRequests limits parallel API calls
	MaxConcurrentRequests = 5

	acceptHeader = "application/vnd.atlas.2023-02-01+json"
)

// API is the subset of the Atlas administration API the tools use.
type API interface {
	ListOrganizations(ctx context.Context) ([]Organization, error)
	ListProjects(ctx context.Context, orgID string) ([]Project, error)
	ListClusters(ctx context.Context, projectID string) ([]Cluster, error)
	GetCluster(ctx context.Context, projectID, clusterName string) (*Cluster, error)
	CreateAccessListEntries(ctx context.Context, projectID string, entries []AccessListEntry) error
	CreateDatabaseUser(ctx context.Context, user DatabaseUser) error
	ListDatabaseUsers(ctx context.Context, projectID string) ([]DatabaseUser, error)
}

// Client implements API over HTTP with caching, rate limiting, and circuit
// breaking.
type Client struct {
	HTTPClient     *http.Client
	Logger         *slog.Logger
	Cache          *infra.Cache
	CircuitBreaker *infra.CircuitBreaker
	Semaphore      chan struct{}

	BaseURL      string
	clientID     string
	clientSecret string

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
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
		client.BaseURL = strings.TrimSuffix(u, "/")
	}
}

// NewClient creates an Atlas client from service-account credentials. The
// secret is registered for log redaction and never logged.
func NewClient(clientID, clientSecret string, opts ...ClientOption) *Client {
	keychain.Global().Register(clientSecret, keychain.KindPassword)
	c := &Client{
		HTTPClient:     newHTTPClient(DefaultTimeout),
		Logger:         slog.Default(),
		Cache:          infra.NewCache(1000),
		CircuitBreaker: infra.NewCircuitBreaker("atlas"),
		Semaphore:      make(chan struct{}, MaxConcurrentRequests),
		BaseURL:        DefaultBaseURL,
		clientID:       clientID,
		clientSecret:   clientSecret,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Close releases resources held by the client
func (c *Client) Close() {
	if c.Cache != nil {
		c.Cache.Close()
	}
}

// ListOrganizations returns every organization the credentials can see.
func (c *Client) ListOrganizations(ctx context.Context) ([]Organization, error) {
	return listResource[Organization](ctx, c, "/api/atlas/v2/orgs")
}

// ListProjects returns the projects of one organization, or of every
// organization when orgID is empty.
func (c *Client) ListProjects(ctx context.Context, orgID string) ([]Project, error) {
	path := "/api/atlas/v2/groups"
	if orgID != "" {
		path = "/api/atlas/v2/orgs/" + url.PathEscape(orgID) + "/groups"
	}
	return listResource[Project](ctx, c, path)
}

// ListClusters returns the clusters of a project.
func (c *Client) ListClusters(ctx context.Context, projectID string) ([]Cluster, error) {
	return listResource[Cluster](ctx, c, "/api/atlas/v2/groups/"+url.PathEscape(projectID)+"/clusters")
}

// GetCluster returns one cluster by name.
func (c *Client) GetCluster(ctx context.Context, projectID, clusterName string) (*Cluster, error) {
	path := "/api/atlas/v2/groups/" + url.PathEscape(projectID) + "/clusters/" + url.PathEscape(clusterName)
	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var cluster Cluster
	if err := json.Unmarshal(body, &cluster); err != nil {
		return nil, errs.Wrap(errs.CodeUnexpected, "failed to decode Atlas cluster", err)
	}
	return &cluster, nil
}

// CreateAccessListEntries adds entries to a project's IP access list.
func (c *Client) CreateAccessListEntries(ctx context.Context, projectID string, entries []AccessListEntry) error {
	path := "/api/atlas/v2/groups/" + url.PathEscape(projectID) + "/accessList"
	_, err := c.doRequest(ctx, http.MethodPost, path, entries)
	return err
}

// CreateDatabaseUser creates a database user in the project named by
// user.GroupID. The caller keeps the password; it is never logged.
func (c *Client) CreateDatabaseUser(ctx context.Context, user DatabaseUser) error {
	keychain.Global().Register(user.Password, keychain.KindPassword)
	path := "/api/atlas/v2/groups/" + url.PathEscape(user.GroupID) + "/databaseUsers"
	_, err := c.doRequest(ctx, http.MethodPost, path, user)
	return err
}

// ListDatabaseUsers returns the database users of a project. Passwords are
// never returned by the API.
func (c *Client) ListDatabaseUsers(ctx context.Context, projectID string) ([]DatabaseUser, error) {
	return listResource[DatabaseUser](ctx, c, "/api/atlas/v2/groups/"+url.PathEscape(projectID)+"/databaseUsers")
}

// listResource fetches one paged list endpoint, serving repeats from cache.
func listResource[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	if cached, ok := c.Cache.Get(path); ok {
		return cached.([]T), nil
	}

	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var p page[T]
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, errs.Wrap(errs.CodeUnexpected, "failed to decode Atlas response", err)
	}

	c.Cache.Set(path, p.Results, DefaultCacheTTL)
	return p.Results, nil
}

// token returns a valid bearer token, exchanging the credentials when the
// cached one is missing or about to expire.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/api/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", errs.Wrap(errs.CodeConnectionFailed, "failed to reach the Atlas token endpoint", err)
	}
	body, err := readAndClose(resp)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", errs.Newf(errs.CodeConnectionFailed,
			"Atlas rejected the service-account credentials (%d)", resp.StatusCode)
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil || tok.AccessToken == "" {
		return "", errs.New(errs.CodeConnectionFailed, "Atlas token response could not be decoded")
	}
	keychain.Global().Register(tok.AccessToken, keychain.KindPassword)

	c.accessToken = tok.AccessToken
	// Refresh one minute early so in-flight requests never carry a token
	// that expires mid-request.
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	return c.accessToken, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if !c.CircuitBreaker.Allow() {
		stats := c.CircuitBreaker.Stats()
		return nil, &infra.ErrCircuitOpen{
			State:    stats.State,
			RetryAt:  stats.LastFailure.Add(30 * time.Second),
			Failures: stats.ConsecutiveFails,
		}
	}

	if err := c.acquireSlot(ctx); err != nil {
		return nil, err
	}
	defer c.releaseSlot()

	bearer, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	var encoded []byte
	if payload != nil {
		encoded, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode Atlas request: %w", err)
		}
	}

	const maxRetry = 3
	var lastErr error
	for attempt := 0; attempt < maxRetry; attempt++ {
		if attempt > 0 {
			// Quadratic backoff
			backoff := time.Duration(attempt*attempt) * 100 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("context canceled during backoff: %w", ctx.Err())
			}
		}

		var reqBody io.Reader
		if encoded != nil {
			reqBody = bytes.NewReader(encoded)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", acceptHeader)
		req.Header.Set("Authorization", "Bearer "+bearer)
		if encoded != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			c.Logger.Warn("Atlas API request failed, retrying",
				"attempt", attempt+1,
				"path", path,
				"error", err)
			continue
		}

		body, err := readAndClose(resp)
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		// Server errors (5xx) should be retried
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server error %d: %s", resp.StatusCode, truncate(string(body), 200))
			continue
		}

		if resp.StatusCode >= 400 {
			c.CircuitBreaker.RecordFailure()
			detail := truncate(string(body), 200)
			var ae apiError
			if json.Unmarshal(body, &ae) == nil && ae.Detail != "" {
				detail = ae.Detail
			}
			return nil, errs.Newf(errs.CodeInvalidArguments,
				"Atlas API rejected the request (%d): %s", resp.StatusCode, detail)
		}

		c.CircuitBreaker.RecordSuccess()
		return body, nil
	}

	c.CircuitBreaker.RecordFailure()
	return nil, errs.Wrap(errs.CodeConnectionFailed, "Atlas API request failed", lastErr)
}

func (c *Client) acquireSlot(ctx context.Context) error {
	select {
	case c.Semaphore <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context canceled while waiting for rate limiter: %w", ctx.Err())
	}
}

func (c *Client) releaseSlot() {
	<-c.Semaphore
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
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

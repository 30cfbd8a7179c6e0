// Package directory provides the HTTP client for the remote directory
// service: single and batched member mutations with transport-level
// retries, member listing and API error parsing.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for directory requests.
var (
	directoryRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "directory_requests_total",
		Help: "Total directory requests by operation and status",
	}, []string{"operation", "status"})

	directoryRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "directory_request_duration_seconds",
		Help:    "Directory request duration in seconds by operation, retries included",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"operation"})

	directoryErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "directory_errors_total",
		Help: "Total directory request errors by class",
	}, []string{"class"})
)

// Client is the set of remote calls the membership engine needs.
type Client interface {
	// Execute sends a single mutation. Transport failures and 5xx/429
	// responses are retried with backoff before an error is returned.
	Execute(ctx context.Context, m Mutation) error

	// ExecuteBatch sends all mutations in one batch call and returns exactly
	// one result per mutation, where result i belongs to batch[i]. The error
	// is non-nil only when the batch call itself failed.
	ExecuteBatch(ctx context.Context, batch []Mutation) ([]ItemResult, error)

	// ListMembers returns one page of the group's members.
	ListMembers(ctx context.Context, groupKey, pageToken string) (*MemberPage, error)
}

// ItemResult is the outcome of one sub-request of a batch call.
type ItemResult struct {
	// Index is the position of the mutation within the submitted batch.
	Index int

	// Err is an *APIError when the directory rejected the sub-request.
	Err error
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the directory API, e.g. "https://directory.example.com/v1".
	BaseURL string

	// Token is sent as a bearer token when set.
	Token string

	// UserAgent header (REQUIRED)
	UserAgent string

	// Timeout per HTTP exchange
	Timeout time.Duration

	// PageSize is the maxResults value used when listing members.
	PageSize int

	// Retry
	Retry RetryConfig
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL, userAgent string) Config {
	return Config{
		BaseURL:   baseURL,
		UserAgent: userAgent,
		Timeout:   30 * time.Second,
		PageSize:  200,
		Retry:     DefaultRetryConfig(),
	}
}

// HTTPClient talks to the directory service over HTTP.
type HTTPClient struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a new directory client.
func New(cfg Config) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	if cfg.PageSize <= 0 {
		cfg.PageSize = 200
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &HTTPClient{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
		logger: log.With().Str("component", "directory-client").Logger(),
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *HTTPClient) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Execute sends a single mutation with transport-level retries.
func (c *HTTPClient) Execute(ctx context.Context, m Mutation) error {
	c.logger.Debug().
		Str("kind", m.Kind()).
		Str("group", m.GroupKey()).
		Str("member", m.MemberKey()).
		Msg("Executing member request")

	return c.do(ctx, string(m.Op()), m.method(), m.path(), m.body(), nil)
}

type batchRequest struct {
	Requests []batchItem `json:"requests"`
}

type batchItem struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Path   string `json:"path"`
	Body   any    `json:"body,omitempty"`
}

type batchResponse struct {
	Responses []batchItemResponse `json:"responses"`
}

type batchItemResponse struct {
	ID     string          `json:"id"`
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// ExecuteBatch sends the mutations as one batch call. Sub-responses are
// matched back to their mutation by correlation id, so the service may answer
// in any order.
func (c *HTTPClient) ExecuteBatch(ctx context.Context, batch []Mutation) ([]ItemResult, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	req := batchRequest{Requests: make([]batchItem, 0, len(batch))}
	positions := make(map[string]int, len(batch))

	for i, m := range batch {
		id := uuid.NewString()
		positions[id] = i
		req.Requests = append(req.Requests, batchItem{
			ID:     id,
			Method: m.method(),
			Path:   m.path(),
			Body:   m.body(),
		})
	}

	var resp batchResponse
	if err := c.do(ctx, "batch", http.MethodPost, "/batch", req, &resp); err != nil {
		return nil, fmt.Errorf("execute batch: %w", err)
	}

	results := make([]ItemResult, len(batch))
	answered := make([]bool, len(batch))

	for _, item := range resp.Responses {
		i, ok := positions[item.ID]
		if !ok || answered[i] {
			c.logger.Warn().Str("id", item.ID).Msg("Ignoring unexpected batch sub-response")
			continue
		}

		answered[i] = true
		results[i] = ItemResult{Index: i}
		if item.Status >= 400 {
			results[i].Err = parseAPIError(item.Status, item.Body)
		}
	}

	for i := range results {
		if answered[i] {
			continue
		}
		// An unanswered sub-request is treated like a backend hiccup so the
		// caller retries it individually.
		results[i] = ItemResult{
			Index: i,
			Err: &APIError{
				StatusCode: http.StatusServiceUnavailable,
				Reason:     "backendError",
				Message:    "no response for batch sub-request",
			},
		}
	}

	return results, nil
}

// ListMembers returns one page of the group's members.
func (c *HTTPClient) ListMembers(ctx context.Context, groupKey, pageToken string) (*MemberPage, error) {
	query := url.Values{}
	query.Set("maxResults", strconv.Itoa(c.config.PageSize))
	if pageToken != "" {
		query.Set("pageToken", pageToken)
	}

	path := "/groups/" + url.PathEscape(groupKey) + "/members?" + query.Encode()

	var page MemberPage
	if err := c.do(ctx, "list", http.MethodGet, path, nil, &page); err != nil {
		return nil, fmt.Errorf("list members of %s: %w", groupKey, err)
	}

	return &page, nil
}

// do performs one logical request, retrying transport failures with backoff.
func (c *HTTPClient) do(ctx context.Context, operation, method, path string, in, out any) error {
	startTime := time.Now()
	defer func() {
		directoryRequestDuration.WithLabelValues(operation).Observe(time.Since(startTime).Seconds())
	}()

	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	return retryWithBackoff(ctx, c.config.Retry, func() error {
		return c.roundTrip(ctx, operation, method, path, payload, out)
	}, classifyError)
}

// roundTrip performs a single HTTP exchange.
func (c *HTTPClient) roundTrip(ctx context.Context, operation, method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("operation", operation).Msg("HTTP request failed")
		directoryErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		directoryRequestsTotal.WithLabelValues(operation, "network_error").Inc()
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		directoryErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return fmt.Errorf("read response: %w", err)
	}

	directoryRequestsTotal.WithLabelValues(operation, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		apiErr := parseAPIError(resp.StatusCode, data)
		errClass := classifyError(apiErr)
		directoryErrorsTotal.WithLabelValues(string(errClass)).Inc()

		c.logger.Warn().
			Str("operation", operation).
			Int("status", resp.StatusCode).
			Str("reason", apiErr.Reason).
			Str("error_class", string(errClass)).
			Msg("Directory request error")

		return apiErr
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return &APIError{
				StatusCode: resp.StatusCode,
				Message:    "malformed response body",
				Err:        err,
			}
		}
	}

	return nil
}

// Package client is a Go client for the tebiki HTTP API.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hyperjump/tebiki/internal/models"
	"github.com/hyperjump/tebiki/internal/ragconfig"
)

// DefaultBaseURL is where a local tebiki server listens by default.
const DefaultBaseURL = "http://localhost:8080"

// Client calls a tebiki server.
type Client struct {
	http *resty.Client
}

// Option configures a Client.
type Option func(*resty.Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *resty.Client) { c.SetTimeout(d) }
}

// WithRetries sets how many times transient failures are retried.
func WithRetries(n int) Option {
	return func(c *resty.Client) { c.SetRetryCount(n) }
}

// WithDebug logs requests and responses.
func WithDebug(debug bool) Option {
	return func(c *resty.Client) { c.SetDebug(debug) }
}

// New returns a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("server URL must be an absolute http(s) URL, got %q", baseURL)
	}
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(2 * time.Minute).
		SetHeader("Accept", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(retryCondition)
	for _, opt := range opts {
		opt(rc)
	}
	return &Client{http: rc}, nil
}

// retryCondition retries network errors and responses that signal a
// transient condition. Ingest is idempotent, so POSTs are retried too.
func retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	switch r.StatusCode() {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// APIError is an error response of the server.
type APIError struct {
	Status       int      `json:"-"`
	Summary      string   `json:"error"`
	Message      string   `json:"message"`
	Details      []string `json:"details,omitempty"`
	MaxLength    int      `json:"maxLength,omitempty"`
	ActualLength int      `json:"actualLength,omitempty"`
	Expected     int      `json:"expected,omitempty"`
	Actual       int      `json:"actual,omitempty"`
}

func (e *APIError) Error() string {
	msg := e.Summary
	if e.Message != "" && e.Message != e.Summary {
		msg += ": " + e.Message
	}
	return fmt.Sprintf("%s (status %d)", msg, e.Status)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

func (c *Client) do(ctx context.Context, method, path string, body, result any, configure ...func(*resty.Request)) error {
	req := c.http.R().SetContext(ctx).SetError(&APIError{})
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	for _, fn := range configure {
		fn(req)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return checkResponse(resp)
}

func checkResponse(resp *resty.Response) error {
	if !resp.IsError() {
		return nil
	}
	if apiErr, ok := resp.Error().(*APIError); ok && apiErr.Summary != "" {
		apiErr.Status = resp.StatusCode()
		return apiErr
	}
	return &APIError{Status: resp.StatusCode(), Summary: http.StatusText(resp.StatusCode()), Message: resp.String()}
}

// Ingest submits one document.
func (c *Client) Ingest(ctx context.Context, req models.IngestRequest) (*models.IngestResult, error) {
	var res models.IngestResult
	if err := c.do(ctx, http.MethodPost, "/api/ingest", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// IngestFile uploads the file at path for server-side text extraction. An
// empty key makes the document content-addressed.
func (c *Client) IngestFile(ctx context.Context, path, key string, tags []string) (*models.IngestResult, error) {
	var res models.IngestResult
	err := c.do(ctx, http.MethodPost, "/api/ingest/file", nil, &res, func(r *resty.Request) {
		r.SetFile("file", path)
		form := map[string]string{}
		if key != "" {
			form["key"] = key
		}
		if len(tags) > 0 {
			form["tags"] = strings.Join(tags, ",")
		}
		r.SetFormData(form)
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Status is the aggregate row count of the store.
type Status struct {
	models.Counts
	Timestamp string `json:"timestamp"`
}

// Status returns document, chunk and vector counts.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var st Status
	if err := c.do(ctx, http.MethodGet, "/api/ingest/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Search runs a similarity search. Nil limit and threshold use the server's configuration.
func (c *Client) Search(ctx context.Context, q models.SearchQuery) (*models.SearchResponse, error) {
	var res models.SearchResponse
	err := c.do(ctx, http.MethodGet, "/api/search", nil, &res, func(r *resty.Request) {
		r.SetQueryParam("q", q.Query)
		if q.Limit != nil {
			r.SetQueryParam("limit", strconv.Itoa(*q.Limit))
		}
		if q.Threshold != nil {
			r.SetQueryParam("threshold", strconv.FormatFloat(*q.Threshold, 'f', -1, 64))
		}
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// SearchByTags returns chunks carrying any of tags.
func (c *Client) SearchByTags(ctx context.Context, tags []string) (*models.TagSearchResponse, error) {
	var res models.TagSearchResponse
	err := c.do(ctx, http.MethodGet, "/api/search/tags", nil, &res, func(r *resty.Request) {
		r.SetQueryParam("tags", strings.Join(tags, ","))
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Stats returns corpus counts and the most used tags.
func (c *Client) Stats(ctx context.Context) (*models.CorpusStats, error) {
	var res models.CorpusStats
	if err := c.do(ctx, http.MethodGet, "/api/search/stats", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ConfigUpdate is the answer of a config write.
type ConfigUpdate struct {
	Message string              `json:"message"`
	Config  ragconfig.RagConfig `json:"config"`
	Changes []string            `json:"changes"`
}

// ConfigValidation is the answer of a config validation. Invalid configs
// are not errors: Valid is false and Errors lists the offending fields.
type ConfigValidation struct {
	Valid   bool                `json:"valid"`
	Message string              `json:"message"`
	Errors  []string            `json:"errors"`
	Config  ragconfig.RagConfig `json:"config"`
}

// ConfigDiff lists what a patch would change.
type ConfigDiff struct {
	Changes    []string `json:"changes"`
	HasChanges bool     `json:"hasChanges"`
	Message    string   `json:"message"`
}

// RagConfig returns the effective retrieval configuration.
func (c *Client) RagConfig(ctx context.Context) (ragconfig.RagConfig, error) {
	var res struct {
		Config ragconfig.RagConfig `json:"config"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/config/rag", nil, &res); err != nil {
		return ragconfig.RagConfig{}, err
	}
	return res.Config, nil
}

// UpdateRagConfig applies a partial update.
func (c *Client) UpdateRagConfig(ctx context.Context, p ragconfig.Patch) (*ConfigUpdate, error) {
	var res ConfigUpdate
	if err := c.do(ctx, http.MethodPatch, "/api/config/rag", p, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ValidateRagConfig checks p against the server's current configuration.
func (c *Client) ValidateRagConfig(ctx context.Context, p ragconfig.Patch) (*ConfigValidation, error) {
	var res ConfigValidation
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(p).
		SetResult(&res).
		SetError(&res).
		Post("/api/config/rag/validate")
	if err != nil {
		return nil, fmt.Errorf("POST /api/config/rag/validate: %w", err)
	}
	if resp.StatusCode() == http.StatusBadRequest && !res.Valid && len(res.Errors) > 0 {
		return &res, nil
	}
	if resp.IsError() {
		return nil, &APIError{Status: resp.StatusCode(), Summary: http.StatusText(resp.StatusCode()), Message: resp.String()}
	}
	return &res, nil
}

// DiffRagConfig reports the changes p would make.
func (c *Client) DiffRagConfig(ctx context.Context, p ragconfig.Patch) (*ConfigDiff, error) {
	var res ConfigDiff
	if err := c.do(ctx, http.MethodPost, "/api/config/rag/diff", p, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ResetRagConfig restores the default configuration.
func (c *Client) ResetRagConfig(ctx context.Context) (*ConfigUpdate, error) {
	var res ConfigUpdate
	if err := c.do(ctx, http.MethodPost, "/api/config/rag/reset", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ExportRagConfig returns the configuration file as served for download.
func (c *Client) ExportRagConfig(ctx context.Context) ([]byte, error) {
	resp, err := c.http.R().SetContext(ctx).SetError(&APIError{}).Get("/api/config/rag/export")
	if err != nil {
		return nil, fmt.Errorf("GET /api/config/rag/export: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

// DocumentList is one page of documents, newest first.
type DocumentList struct {
	Documents []*models.DocumentSummary `json:"documents"`
	Count     int                       `json:"count"`
	Limit     int                       `json:"limit"`
	Offset    int                       `json:"offset"`
}

// ListDocuments returns a page of documents.
func (c *Client) ListDocuments(ctx context.Context, offset, limit int) (*DocumentList, error) {
	var res DocumentList
	err := c.do(ctx, http.MethodGet, "/api/documents", nil, &res, func(r *resty.Request) {
		r.SetQueryParam("offset", strconv.Itoa(offset))
		if limit > 0 {
			r.SetQueryParam("limit", strconv.Itoa(limit))
		}
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// GetDocument returns one document with its chunk count.
func (c *Client) GetDocument(ctx context.Context, docID string) (*models.DocumentSummary, error) {
	var res models.DocumentSummary
	if err := c.do(ctx, http.MethodGet, "/api/documents/"+url.PathEscape(docID), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// DeleteDocument removes a document with its chunks and vectors.
func (c *Client) DeleteDocument(ctx context.Context, docID string) error {
	return c.do(ctx, http.MethodDelete, "/api/documents/"+url.PathEscape(docID), nil, nil)
}

// Health returns nil when the server and its store are up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

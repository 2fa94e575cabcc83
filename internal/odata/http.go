package odata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// HTTPClient talks to an OData v4 endpoint over JSON. Server errors and
// transport failures are retried with fibonacci backoff before being
// surfaced to callers.
type HTTPClient struct {
	baseURL     string
	token       string
	client      *http.Client
	maxRetries  uint64
	baseBackoff time.Duration
}

var _ Client = (*HTTPClient)(nil)

// HTTPClientOption configures an HTTPClient.
type HTTPClientOption func(*HTTPClient)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) HTTPClientOption {
	return func(c *HTTPClient) { c.client.Timeout = d }
}

// WithRetries sets the retry count and initial backoff for transient
// failures.
func WithRetries(n uint64, base time.Duration) HTTPClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
		c.baseBackoff = base
	}
}

// NewHTTPClient creates a client for the service root at baseURL.
// The token is sent as a bearer credential on every request.
func NewHTTPClient(baseURL, token string, opts ...HTTPClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		client:      &http.Client{Timeout: 30 * time.Second},
		maxRetries:  3,
		baseBackoff: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// queryEnvelope is the OData JSON collection response shape.
type queryEnvelope struct {
	Count    int      `json:"@odata.count"`
	NextLink string   `json:"@odata.nextLink"`
	Value    []Record `json:"value"`
}

// Query executes q and returns the first page.
func (c *HTTPClient) Query(ctx context.Context, q *SelectQuery) (*QueryResult, error) {
	return c.fetchPage(ctx, c.baseURL+"/"+q.String())
}

// QueryMore follows prev's continuation link.
func (c *HTTPClient) QueryMore(ctx context.Context, prev *QueryResult) (*QueryResult, error) {
	if prev == nil || prev.Done() {
		return nil, ErrNoMorePages
	}
	link := prev.NextLink()
	if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
		link = c.baseURL + "/" + strings.TrimLeft(link, "/")
	}
	return c.fetchPage(ctx, link)
}

func (c *HTTPClient) fetchPage(ctx context.Context, fullURL string) (*QueryResult, error) {
	body, err := c.do(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, err
	}
	var env queryEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}
	return NewQueryResult(env.Value, env.Count, env.NextLink), nil
}

// Describe fetches the schema of objectType.
func (c *HTTPClient) Describe(ctx context.Context, objectType string) (*ObjectDescription, error) {
	body, err := c.do(ctx, http.MethodGet, c.baseURL+"/$describe/"+objectType, nil)
	if err != nil {
		return nil, err
	}
	var desc ObjectDescription
	if err := json.Unmarshal(body, &desc); err != nil {
		return nil, fmt.Errorf("decode object description: %w", err)
	}
	return &desc, nil
}

// Create inserts a record and returns the remote representation.
func (c *HTTPClient) Create(ctx context.Context, objectType string, fields map[string]any) (Record, error) {
	body, err := c.do(ctx, http.MethodPost, c.baseURL+"/"+objectType, fields)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("decode created record: %w", err)
	}
	return rec, nil
}

// Read fetches a single record by resource path.
func (c *HTTPClient) Read(ctx context.Context, path string) (Record, error) {
	body, err := c.do(ctx, http.MethodGet, c.resourceURL(path), nil)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// Update patches the record at path.
func (c *HTTPClient) Update(ctx context.Context, path string, fields map[string]any) error {
	_, err := c.do(ctx, http.MethodPatch, c.resourceURL(path), fields)
	return err
}

// Delete removes the record at path.
func (c *HTTPClient) Delete(ctx context.Context, path string) error {
	_, err := c.do(ctx, http.MethodDelete, c.resourceURL(path), nil)
	return err
}

func (c *HTTPClient) resourceURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// do executes one HTTP exchange with retry on transient failures and
// returns the response body.
func (c *HTTPClient) do(ctx context.Context, method, fullURL string, payload map[string]any) ([]byte, error) {
	var reqBody []byte
	if payload != nil {
		var err error
		reqBody, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request payload: %w", err)
		}
	}

	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewFibonacci(c.baseBackoff))

	var respBody []byte
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var bodyReader io.Reader
		if reqBody != nil {
			bodyReader = bytes.NewReader(reqBody)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("OData-Version", "4.0")
		if reqBody != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("read response: %w", err))
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			respBody = body
			return nil
		case resp.StatusCode == http.StatusNotFound:
			return ErrNotFound
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return retry.RetryableError(&RequestError{
				StatusCode: resp.StatusCode,
				Message:    errorMessage(body),
			})
		default:
			return &RequestError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
		}
	})
	if err != nil {
		return nil, err
	}
	return respBody, nil
}

// errorMessage extracts the OData error message from an error response
// body, falling back to a body prefix.
func errorMessage(body []byte) string {
	var env struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		return env.Error.Message
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

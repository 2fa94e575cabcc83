// Package odata is the client for the remote OData store. It covers the
// query/read/write surface the sync engine needs; metadata document
// parsing and token lifecycle live outside this module.
package odata

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNoMorePages is returned by QueryMore when the previous result
	// was already the final page.
	ErrNoMorePages = errors.New("no more pages")

	// ErrNotFound is returned for reads of records that do not exist
	// remotely.
	ErrNotFound = errors.New("remote record not found")
)

// RequestError is a non-2xx response from the remote store. Status codes
// in the 5xx range are considered transient and retried by the HTTP
// client before surfacing.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote request failed: status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote request failed: status %d: %s", e.StatusCode, e.Message)
}

// IsTransient reports whether the error is worth retrying at the queue
// level: network failures and server-side errors are transient, client
// errors are not.
func IsTransient(err error) bool {
	var re *RequestError
	if errors.As(err, &re) {
		return re.StatusCode >= 500 || re.StatusCode == 429
	}
	// Transport-level failures carry no status code.
	return err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrNoMorePages)
}

// QueryResult is one page of a query's result set.
type QueryResult struct {
	records  []Record
	total    int
	nextLink string
}

// NewQueryResult assembles a result page. Intended for the HTTP client
// and for test stubs.
func NewQueryResult(records []Record, total int, nextLink string) *QueryResult {
	return &QueryResult{records: records, total: total, nextLink: nextLink}
}

// Records returns the records on this page.
func (r *QueryResult) Records() []Record { return r.records }

// Size returns the total number of records available across all pages,
// when the remote store reports a count; otherwise the page size.
func (r *QueryResult) Size() int {
	if r.total > 0 {
		return r.total
	}
	return len(r.records)
}

// Done reports whether this is the final page.
func (r *QueryResult) Done() bool { return r.nextLink == "" }

// NextLink returns the opaque continuation link for the next page.
func (r *QueryResult) NextLink() string { return r.nextLink }

// Client is the remote store operation surface consumed by the sync
// engine. Implementations must be safe for concurrent use.
type Client interface {
	// Query executes a select query and returns the first result page.
	Query(ctx context.Context, q *SelectQuery) (*QueryResult, error)

	// QueryMore fetches the page following prev.
	QueryMore(ctx context.Context, prev *QueryResult) (*QueryResult, error)

	// Describe fetches the schema of a remote object type.
	Describe(ctx context.Context, objectType string) (*ObjectDescription, error)

	// Create inserts a new record of the given object type and returns
	// the remote representation, including its resource path.
	Create(ctx context.Context, objectType string, fields map[string]any) (Record, error)

	// Read fetches a single record by its resource path.
	Read(ctx context.Context, path string) (Record, error)

	// Update patches the record at the given resource path.
	Update(ctx context.Context, path string, fields map[string]any) error

	// Delete removes the record at the given resource path.
	Delete(ctx context.Context, path string) error
}

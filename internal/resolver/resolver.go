// Package resolver holds the contract shared by the identifier resolvers:
// the HTTP fetcher they depend on, the transient error taxonomy and the
// single-retry wrapper.
package resolver

import (
	"context"
	"net/http"
	"time"

	"github.com/JakeFAU/bangumi-scanner/internal/scan"
)

// Mode selects the resolver backend.
type Mode string

// Supported resolver modes.
const (
	ModeAPI  Mode = "api"
	ModePage Mode = "page"
)

// Valid reports whether m names a known backend.
func (m Mode) Valid() bool {
	return m == ModeAPI || m == ModePage
}

// Response captures a fetched HTTP response. Error statuses are delivered
// as responses, not errors.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Fetcher performs a single HTTP GET.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) (Response, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, url string) (Response, error) {
	return f(ctx, url)
}

// Func adapts a function to scan.Resolver.
type Func func(ctx context.Context, id int64) (scan.Record, bool, error)

// Resolve calls f.
func (f Func) Resolve(ctx context.Context, id int64) (scan.Record, bool, error) {
	return f(ctx, id)
}

package integrations

import (
	"errors"
	"net/http"
	"time"
)

const (
	httpTimeout     = 10 * time.Second
	downloadTimeout = 5 * time.Minute
)

var (
	// ErrNotFound is returned when a package or resource doesn't exist in the registry.
	ErrNotFound = errors.New("resource not found")

	// ErrNetwork is returned for HTTP failures (timeouts, connection errors, 5xx responses).
	ErrNetwork = errors.New("network error")

	// ErrTooLarge is returned by [Client.Download] when a body exceeds the size limit.
	ErrTooLarge = errors.New("response too large")

	// ErrTruncated is returned when fewer bytes arrive than Content-Length announced.
	ErrTruncated = errors.New("response truncated")
)

// NewHTTPClient creates an HTTP client with a standard timeout for registry requests.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: httpTimeout}
}

// NewDownloadClient creates an HTTP client for archive downloads. Archives can
// be tens of megabytes, so the timeout is much longer than for API calls.
func NewDownloadClient() *http.Client {
	return &http.Client{Timeout: downloadTimeout}
}

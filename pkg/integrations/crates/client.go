package crates

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matzehuels/cratescan/pkg/buildinfo"
	"github.com/matzehuels/cratescan/pkg/cache"
	cerrors "github.com/matzehuels/cratescan/pkg/errors"
	"github.com/matzehuels/cratescan/pkg/httputil"
	"github.com/matzehuels/cratescan/pkg/integrations"
)

const (
	// DefaultBaseURL is the crates.io API root.
	DefaultBaseURL = "https://crates.io/api/v1"

	// DefaultDownloadURL is the CDN serving .crate archives.
	DefaultDownloadURL = "https://static.crates.io/crates"

	// maxPageSize is the largest per_page value crates.io accepts.
	maxPageSize = 100
)

// Crate is one entry of the registry listing.
//
// Version is the version a scan should fetch: MaxStableVersion, or
// MaxVersion when the crate has no stable release.
type Crate struct {
	Name             string
	Version          string
	MaxVersion       string
	MaxStableVersion string
	Downloads        int64
}

// Version holds the metadata of one published crate version.
type Version struct {
	Num       string
	Checksum  string // sha256 of the .crate file, hex encoded
	CrateSize int64  // size of the .crate file in bytes
}

// Client provides access to the crates.io registry API.
// It handles HTTP requests with caching, throttling and automatic retries.
//
// All methods are safe for concurrent use by multiple goroutines.
//
// Note: crates.io requires a User-Agent header; this client sets one automatically.
type Client struct {
	*integrations.Client
	baseURL     string
	downloadURL string
}

type options struct {
	baseURL     string
	downloadURL string
	userAgent   string
	rate        float64
	attempts    int
	delay       time.Duration
}

// Option configures a [Client].
type Option func(*options)

// WithBaseURL overrides the API root (used by tests and mirrors).
func WithBaseURL(u string) Option { return func(o *options) { o.baseURL = u } }

// WithDownloadURL overrides the archive CDN root.
func WithDownloadURL(u string) Option { return func(o *options) { o.downloadURL = u } }

// WithUserAgent overrides the User-Agent sent with every request.
func WithUserAgent(ua string) Option { return func(o *options) { o.userAgent = ua } }

// WithRateLimit throttles API calls to perSecond requests per second.
// Zero disables throttling.
func WithRateLimit(perSecond float64) Option { return func(o *options) { o.rate = perSecond } }

// WithRetry sets the number of attempts and initial backoff for transient failures.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(o *options) { o.attempts, o.delay = attempts, delay }
}

// NewClient creates a crates.io client with the given cache backend.
//
// Parameters:
//   - backend: Cache backend for API response caching (use cache.NewNullCache() for no caching)
//   - cacheTTL: How long responses are cached (typical: 1-24 hours)
//
// By default the client identifies itself with a cratescan User-Agent, as
// required by crates.io API policy, and stays at one request per second.
func NewClient(backend cache.Cache, cacheTTL time.Duration, opts ...Option) *Client {
	o := options{
		baseURL:     DefaultBaseURL,
		downloadURL: DefaultDownloadURL,
		userAgent:   fmt.Sprintf("cratescan/%s (https://github.com/matzehuels/cratescan)", buildinfo.Version),
		rate:        1,
		attempts:    3,
		delay:       time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	base := integrations.NewClient(backend, "crates:", cacheTTL, map[string]string{
		"User-Agent": o.userAgent,
	})
	base.SetLimiter(httputil.NewLimiter(o.rate, 1))
	base.SetRetry(o.attempts, o.delay)

	return &Client{
		Client:      base,
		baseURL:     o.baseURL,
		downloadURL: o.downloadURL,
	}
}

// TopCrates returns the n most downloaded crates, most downloaded first.
//
// Listing pages use a fixed page size of min(100, n) so page offsets line
// up across requests. Names repeated across pages (the ranking can shift
// while paging) are kept only once.
//
// If refresh is true, cached listing pages are ignored.
//
// Returns:
//   - exactly n crates on success
//   - an INVALID_INPUT error if n <= 0
//   - a REGISTRY_ERROR if a page cannot be fetched after retries, or if
//     the registry runs out of crates before n
func (c *Client) TopCrates(ctx context.Context, n int, refresh bool) ([]Crate, error) {
	if n <= 0 {
		return nil, cerrors.New(cerrors.ErrCodeInvalidInput, "number of crates must be positive, got %d", n)
	}

	perPage := min(maxPageSize, n)
	out := make([]Crate, 0, n)
	seen := make(map[string]bool, n)

	for page := 1; len(out) < n; page++ {
		var resp listResponse
		key := fmt.Sprintf("listing:%d:%d", perPage, page)
		url := fmt.Sprintf("%s/crates?sort=downloads&per_page=%d&page=%d", c.baseURL, perPage, page)
		err := c.Cached(ctx, key, refresh, &resp, func() error {
			return c.Get(ctx, url, &resp)
		})
		if err != nil {
			return nil, cerrors.Wrap(cerrors.ErrCodeRegistry, err, "list crates page %d", page)
		}
		if len(resp.Crates) == 0 {
			break
		}

		for _, rc := range resp.Crates {
			if len(out) == n {
				break
			}
			if seen[rc.Name] {
				continue
			}
			seen[rc.Name] = true
			out = append(out, rc.toCrate())
		}
	}

	if len(out) < n {
		return nil, cerrors.New(cerrors.ErrCodeRegistry, "registry listed only %d crates, %d requested", len(out), n)
	}
	return out, nil
}

// FetchVersion retrieves checksum and size of one published version.
//
// Returns [integrations.ErrNotFound] (wrapped) if the version doesn't exist.
func (c *Client) FetchVersion(ctx context.Context, name, version string, refresh bool) (*Version, error) {
	var resp versionResponse
	key := fmt.Sprintf("version:%s@%s", name, version)
	url := fmt.Sprintf("%s/crates/%s/%s", c.baseURL, integrations.URLEncode(name), integrations.URLEncode(version))
	err := c.Cached(ctx, key, refresh, &resp, func() error {
		return c.Get(ctx, url, &resp)
	})
	if err != nil {
		if errors.Is(err, integrations.ErrNotFound) {
			return nil, fmt.Errorf("%w: crate %s %s", err, name, version)
		}
		return nil, err
	}
	return &Version{
		Num:       resp.Version.Num,
		Checksum:  resp.Version.Checksum,
		CrateSize: resp.Version.CrateSize,
	}, nil
}

// DownloadURL returns the archive URL of a crate version.
func (c *Client) DownloadURL(name, version string) string {
	return fmt.Sprintf("%s/%s/%s-%s.crate", c.downloadURL, name, name, version)
}

type listResponse struct {
	Crates []crateEntry `json:"crates"`
	Meta   struct {
		Total int `json:"total"`
	} `json:"meta"`
}

type crateEntry struct {
	Name             string `json:"name"`
	MaxVersion       string `json:"max_version"`
	MaxStableVersion string `json:"max_stable_version"`
	Downloads        int64  `json:"downloads"`
}

func (e crateEntry) toCrate() Crate {
	v := e.MaxStableVersion
	if v == "" {
		v = e.MaxVersion
	}
	return Crate{
		Name:             e.Name,
		Version:          v,
		MaxVersion:       e.MaxVersion,
		MaxStableVersion: e.MaxStableVersion,
		Downloads:        e.Downloads,
	}
}

type versionResponse struct {
	Version struct {
		Num       string `json:"num"`
		Checksum  string `json:"checksum"`
		CrateSize int64  `json:"crate_size"`
	} `json:"version"`
}

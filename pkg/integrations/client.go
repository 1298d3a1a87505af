package integrations

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

	"github.com/matzehuels/cratescan/pkg/cache"
	cerrors "github.com/matzehuels/cratescan/pkg/errors"
	"github.com/matzehuels/cratescan/pkg/httputil"
	"github.com/matzehuels/cratescan/pkg/observability"
)

// Client provides shared HTTP functionality for registry API clients.
// It handles caching, throttling, retry logic, and common request headers.
//
// All methods are safe for concurrent use.
type Client struct {
	http     *http.Client
	download *http.Client
	cache    cache.Cache
	prefix   string
	ttl      time.Duration
	headers  map[string]string
	limiter  *httputil.Limiter
	attempts int
	delay    time.Duration
}

// NewClient creates a Client with the given cache and default headers.
// Cache keys are namespaced with prefix and stored for ttl.
// Headers are applied to all requests made through this client.
// Pass nil for headers if no default headers are needed.
func NewClient(backend cache.Cache, prefix string, ttl time.Duration, headers map[string]string) *Client {
	if backend == nil {
		backend = cache.NewNullCache()
	}
	return &Client{
		http:     NewHTTPClient(),
		download: NewDownloadClient(),
		cache:    backend,
		prefix:   prefix,
		ttl:      ttl,
		headers:  headers,
		attempts: 3,
		delay:    time.Second,
	}
}

// SetLimiter throttles API requests made through [Client.Get]. Downloads
// are served by a CDN and are not throttled.
func (c *Client) SetLimiter(l *httputil.Limiter) { c.limiter = l }

// SetRetry configures how often transient failures are retried and the
// initial backoff delay.
func (c *Client) SetRetry(attempts int, delay time.Duration) {
	c.attempts = max(attempts, 1)
	c.delay = delay
}

// Retry runs fn with the client's retry policy.
func (c *Client) Retry(ctx context.Context, fn func() error) error {
	return httputil.Retry(ctx, c.attempts, c.delay, fn)
}

// Cached retrieves a value from cache or executes fetch and caches the result.
// If refresh is true, the cache is bypassed and fetch is always called.
// The fetch function should populate v; on success, v is stored in the cache.
// fetch is retried according to the client's retry policy.
func (c *Client) Cached(ctx context.Context, key string, refresh bool, v any, fetch func() error) error {
	keyType, _, _ := strings.Cut(key, ":")
	hooks := observability.Cache()

	if !refresh {
		if data, ok, _ := c.cache.Get(ctx, c.prefix+key); ok {
			if json.Unmarshal(data, v) == nil {
				hooks.OnCacheHit(ctx, keyType)
				return nil
			}
		}
	}
	hooks.OnCacheMiss(ctx, keyType)

	if err := c.Retry(ctx, fetch); err != nil {
		return err
	}
	if data, err := json.Marshal(v); err == nil {
		if c.cache.Set(ctx, c.prefix+key, data, c.ttl) == nil {
			hooks.OnCacheSet(ctx, keyType, len(data))
		}
	}
	return nil
}

// Get performs a single throttled HTTP GET request and JSON-decodes the
// response into v. Wrap it in [Client.Cached] or [Client.Retry] to retry.
func (c *Client) Get(ctx context.Context, url string, v any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	body, err := c.doRequest(ctx, c.http, url)
	if err != nil {
		return err
	}
	defer body.Close()
	return json.NewDecoder(body).Decode(v)
}

// Download fetches url and returns the whole body, retrying transient
// failures. It fails with [ErrTooLarge] when the announced or actual size
// exceeds maxBytes, and with [ErrTruncated] when fewer bytes arrive than
// Content-Length announced.
func (c *Client) Download(ctx context.Context, url string, maxBytes int64) ([]byte, error) {
	var data []byte
	err := c.Retry(ctx, func() error {
		var err error
		data, err = c.fetchBody(ctx, url, maxBytes)
		return err
	})
	return data, err
}

func (c *Client) fetchBody(ctx context.Context, url string, maxBytes int64) ([]byte, error) {
	req, err := c.newRequest(ctx, url)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, c.download, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrTooLarge, resp.ContentLength, maxBytes)
	}

	var buf bytes.Buffer
	if resp.ContentLength > 0 {
		buf.Grow(int(resp.ContentLength))
	}
	var r io.Reader = resp.Body
	if maxBytes > 0 {
		r = io.LimitReader(resp.Body, maxBytes+1)
	}
	n, err := buf.ReadFrom(r)
	if err != nil {
		return nil, &httputil.RetryableError{Err: fmt.Errorf("%w: read body: %v", ErrNetwork, err)}
	}
	if maxBytes > 0 && n > maxBytes {
		return nil, fmt.Errorf("%w: body exceeds limit of %d bytes", ErrTooLarge, maxBytes)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return nil, &httputil.RetryableError{Err: fmt.Errorf("%w: got %d of %d bytes", ErrTruncated, n, resp.ContentLength)}
	}
	return buf.Bytes(), nil
}

func (c *Client) doRequest(ctx context.Context, hc *http.Client, url string) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, url)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, hc, req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) newRequest(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// do sends req, reports it to the HTTP hooks and maps non-200 statuses to
// errors. On success the caller owns resp.Body.
func (c *Client) do(ctx context.Context, hc *http.Client, req *http.Request) (*http.Response, error) {
	hooks := observability.HTTP()
	host, path := req.URL.Host, req.URL.Path
	hooks.OnRequest(ctx, req.Method, host, path)

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		hooks.OnError(ctx, req.Method, host, path, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &httputil.RetryableError{Err: fmt.Errorf("%w: %v", ErrNetwork, err)}
	}
	hooks.OnResponse(ctx, req.Method, host, path, resp.StatusCode, time.Since(start))

	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusTooManyRequests:
		wait := retryAfter(resp.Header.Get("Retry-After"), time.Now())
		limited := &cerrors.RateLimitedError{RetryAfter: int(wait / time.Second)}
		return &httputil.RetryableError{Err: fmt.Errorf("%w: %w", ErrNetwork, limited), RetryAfter: wait}
	case code >= 500:
		return &httputil.RetryableError{Err: fmt.Errorf("%w: status %d", ErrNetwork, code)}
	default:
		return fmt.Errorf("%w: status %d", ErrNetwork, code)
	}
}

// retryAfter parses a Retry-After header given either as delay-seconds or
// as an HTTP date. Unparseable or past values yield zero.
func retryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return time.Duration(max(secs, 0)) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

// URLEncode percent-encodes a string for use in URL paths.
func URLEncode(s string) string { return url.PathEscape(s) }

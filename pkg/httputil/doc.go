// Package httputil provides HTTP utilities for registry clients.
//
// # Overview
//
// This package provides infrastructure used by the registry API client:
//
//   - [Retry]: Automatic retry with exponential backoff
//   - [Limiter]: Token-bucket throttling of outgoing requests
//
// Response caching lives in package cache.
//
// # Retry
//
// [Retry] re-runs an operation for transient failures. Callers mark an
// error as transient by wrapping it in [RetryableError]:
//
//   - Network errors
//   - 5xx server errors
//   - 429 rate limit responses (with the Retry-After delay, if any)
//
// Anything else is returned immediately:
//
//	err := httputil.Retry(ctx, 3, time.Second, func() error {
//	    resp, err := client.Do(req)
//	    if err != nil {
//	        return &httputil.RetryableError{Err: err}
//	    }
//	    ...
//	})
//
// # Rate limiting
//
// crates.io asks crawlers to stay at about one request per second. A
// [Limiter] is shared by every worker that talks to the API:
//
//	lim := httputil.NewLimiter(1, 1)
//	if err := lim.Wait(ctx); err != nil {
//	    return err
//	}
//
// # Configuration
//
// Default settings:
//
//   - Max attempts: 3
//   - Base backoff: 1 second
//   - Rate: 1 request/second, burst 1
package httputil

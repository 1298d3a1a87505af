// Package integrations provides the HTTP plumbing for package registry APIs.
//
// # Overview
//
// Registry-specific clients live in subpackages:
//
//   - [crates]: Rust crates.io
//
// # Client Pattern
//
// Registry clients embed [Client] and add typed methods:
//
//	client := crates.NewClient(backend, 24*time.Hour)
//	top, err := client.TopCrates(ctx, 100, false)  // false = use cache
//
// [Client] handles:
//   - Response caching through [cache.Cache], keyed by registry prefix
//   - Token-bucket throttling of API calls ([httputil.Limiter])
//   - Retry with exponential backoff on network errors, 5xx and 429,
//     honouring Retry-After
//   - Size-bounded downloads with Content-Length verification
//
// # Errors
//
// Failures are reported with sentinel errors that callers test with
// errors.Is:
//
//   - [ErrNotFound]: 404 from the registry
//   - [ErrNetwork]: transport failures and unexpected statuses
//   - [ErrTooLarge]: a download exceeded its size limit
//   - [ErrTruncated]: a download ended before Content-Length
package integrations

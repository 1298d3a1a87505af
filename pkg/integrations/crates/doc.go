// Package crates provides an HTTP client for the crates.io API.
//
// # Overview
//
// This package lists the most downloaded crates on crates.io
// (https://crates.io), the Rust community's package registry, and resolves
// where their source archives live.
//
// # Usage
//
//	client := crates.NewClient(backend, 24*time.Hour)
//
//	top, err := client.TopCrates(ctx, 100, false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, c := range top {
//	    fmt.Println(c.Name, c.Version, client.DownloadURL(c.Name, c.Version))
//	}
//
// # Version Selection
//
// [Crate.Version] is the highest stable version, falling back to the
// highest version overall for crates that only have pre-releases.
//
// # Caching
//
// Listing pages and version metadata are cached to reduce load on
// crates.io. The cache TTL is set when creating the client. Pass
// refresh=true to bypass the cache. Archives are never cached.
//
// # User-Agent and Rate Limits
//
// The client sends a User-Agent header and throttles itself to one API
// request per second, as requested by the crates.io crawler policy.
package crates

// Package buildinfo provides build-time version information.
//
// Variables are set via ldflags during build:
//
//	go build -ldflags "-X github.com/matzehuels/cratescan/pkg/buildinfo.Version=v0.3.0 \
//	    -X github.com/matzehuels/cratescan/pkg/buildinfo.Commit=$(git rev-parse HEAD)" \
//	    ./cmd/cratescan
//
// Version also ends up in the User-Agent sent to crates.io.
package buildinfo

import "fmt"

var (
	// Version is the semantic version (e.g., "v1.2.3").
	Version = "dev"

	// Commit is the git commit SHA.
	Commit = "none"
)

// Template returns the version template string for cobra.
func Template() string {
	return fmt.Sprintf("{{.Name}} version %s (commit %s)\n", Version, Commit)
}

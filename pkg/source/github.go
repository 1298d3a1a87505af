package source

import (
	"fmt"
	"strings"

	cerrors "github.com/matzehuels/cratescan/pkg/errors"
)

const (
	// DefaultGitHubURL serves repository source archives.
	DefaultGitHubURL = "https://github.com"

	// DefaultGitRef selects the repository's default branch.
	DefaultGitRef = "HEAD"
)

// ParseRepository turns owner/name or owner/name@ref into a reference to
// the repository's gzip tarball below baseURL. The archive holds a single
// top-level directory, like a .crate file.
func ParseRepository(spec, baseURL string) (PackageRef, error) {
	repo, gitRef, found := strings.Cut(strings.TrimSpace(spec), "@")
	if !found || gitRef == "" {
		gitRef = DefaultGitRef
	}
	ref := PackageRef{Kind: Repository, Name: repo, Version: gitRef}
	if err := ref.validate(); err != nil {
		return PackageRef{}, cerrors.Wrap(cerrors.ErrCodeInvalidInput, err, "repository %q", spec)
	}
	ref.DownloadURL = fmt.Sprintf("%s/%s/archive/%s.tar.gz", strings.TrimSuffix(baseURL, "/"), repo, gitRef)
	return ref, nil
}

// ParseRepositories parses every spec and drops repeated repositories.
func ParseRepositories(specs []string, baseURL string) ([]PackageRef, error) {
	var refs []PackageRef
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		ref, err := ParseRepository(spec, baseURL)
		if err != nil {
			return nil, err
		}
		if seen[ref.Name] {
			continue
		}
		seen[ref.Name] = true
		refs = append(refs, ref)
	}
	return refs, nil
}

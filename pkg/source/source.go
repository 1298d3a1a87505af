// Package source lists packages from a registry and materialises their
// source trees on local disk.
//
// # Overview
//
// A scan starts with a [Registry] that names the most popular packages as
// [PackageRef] values; [ParseRepository] adds GitHub repositories to scan
// alongside them. A [Fetcher] downloads each package's archive,
// verifies it, and unpacks the files worth scanning into a [Workspace]:
//
//	refs, err := registry.TopPackages(ctx, 100)
//	for _, ref := range refs {
//	    err := fetcher.Use(ctx, ref, func(ws *source.Workspace) error {
//	        for _, path := range ws.Files() {
//	            file, err := ws.ReadFile(path)
//	            ...
//	        }
//	        return nil
//	    })
//	}
//
// Workspaces are transient: [Workspace.Release] deletes the files, and
// [Fetcher.Use] guarantees the release even when the callback fails.
//
// # Errors
//
// Fetch failures carry pkg/errors codes that become skip reasons:
//
//   - FETCH_ERROR: network failure, HTTP error, truncated download
//   - ARCHIVE_ERROR: corrupt gzip/tar, unsafe entry path, size limit,
//     checksum mismatch
//   - READ_ERROR: an extracted file could not be read back
package source

import (
	"context"
	"strings"

	cerrors "github.com/matzehuels/cratescan/pkg/errors"
)

// Kind tells where a package comes from.
type Kind int

const (
	// Crate is a crate published on the registry. Version is its semver
	// version.
	Crate Kind = iota

	// Repository is a GitHub repository scanned from its source archive.
	// Name is owner/name and Version the branch or tag.
	Repository
)

// PackageRef identifies one version of a published package.
//
// Name is the identity of the package within a run. Checksum (sha256, hex)
// and Size are only known when checksum verification is enabled.
type PackageRef struct {
	Kind        Kind
	Name        string
	Version     string
	DownloadURL string
	Checksum    string
	Size        int64
}

// String returns name@version.
func (r PackageRef) String() string {
	return r.Name + "@" + r.Version
}

// validate checks that the reference is safe to use in URLs and paths.
func (r PackageRef) validate() error {
	if r.Kind == Repository {
		if err := cerrors.ValidateRepository(r.Name); err != nil {
			return err
		}
		return cerrors.ValidateGitRef(r.Version)
	}
	if err := cerrors.ValidateCratesPackageName(r.Name); err != nil {
		return err
	}
	return cerrors.ValidateCrateVersion(r.Version)
}

// dirName is the workspace directory of the package below the run root.
func (r PackageRef) dirName() string {
	return strings.ReplaceAll(r.Name, "/", "_") + "-" + r.Version
}

// SourceFile is one file of a package. Path is relative to the package root
// and always uses forward slashes.
type SourceFile struct {
	Path string
	Text []byte
}

// Registry lists packages by popularity.
type Registry interface {
	// TopPackages returns exactly n packages, most popular first, or a
	// REGISTRY_ERROR.
	TopPackages(ctx context.Context, n int) ([]PackageRef, error)
}

// Verifier looks up the published checksum and size of a package archive.
type Verifier interface {
	ArchiveInfo(ctx context.Context, ref PackageRef) (checksum string, size int64, err error)
}

// Downloader fetches a whole response body of at most maxBytes.
// integrations.Client satisfies it.
type Downloader interface {
	Download(ctx context.Context, url string, maxBytes int64) ([]byte, error)
}

package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"

	cerrors "github.com/matzehuels/cratescan/pkg/errors"
	"github.com/matzehuels/cratescan/pkg/integrations"
)

const (
	// DefaultMaxArchiveBytes bounds a single archive download (100 MiB).
	DefaultMaxArchiveBytes int64 = 100 << 20

	// DefaultMaxFileBytes bounds a single extracted source file (4 MiB).
	DefaultMaxFileBytes int64 = 4 << 20
)

// FetchOptions configures a [Fetcher]. Zero values select defaults.
type FetchOptions struct {
	Include         []string // glob patterns of files to extract (default: Rust sources)
	Exclude         []string // glob patterns of files to leave out
	MaxArchiveBytes int64
	MaxFileBytes    int64

	// Verifier, when set, is consulted for the published checksum and size
	// of every archive before it is unpacked.
	Verifier Verifier
}

// Fetcher downloads package archives and unpacks them below a root
// directory, one subdirectory per package.
//
// A Fetcher is safe for concurrent use as long as every concurrent Fetch
// is for a different package.
type Fetcher struct {
	downloader Downloader
	root       string
	filter     *Filter
	opts       FetchOptions
}

// NewFetcher creates a fetcher extracting below root, which must exist.
// It fails with INVALID_CONFIG when a glob pattern does not compile.
func NewFetcher(d Downloader, root string, opts FetchOptions) (*Fetcher, error) {
	filter, err := NewFilter(opts.Include, opts.Exclude)
	if err != nil {
		return nil, err
	}
	if opts.MaxArchiveBytes <= 0 {
		opts.MaxArchiveBytes = DefaultMaxArchiveBytes
	}
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = DefaultMaxFileBytes
	}
	return &Fetcher{downloader: d, root: root, filter: filter, opts: opts}, nil
}

// Fetch downloads ref, verifies it and unpacks it into a fresh workspace.
// Nothing is left on disk when Fetch returns an error.
func (f *Fetcher) Fetch(ctx context.Context, ref PackageRef) (*Workspace, error) {
	if err := ref.validate(); err != nil {
		return nil, cerrors.Wrap(cerrors.ErrCodeFetch, err, "bad package reference %s", ref)
	}

	// Only registry crates have a published checksum.
	if f.opts.Verifier != nil && ref.Kind == Crate && ref.Checksum == "" {
		sum, size, err := f.opts.Verifier.ArchiveInfo(ctx, ref)
		if err != nil {
			return nil, fetchError(ctx, err, "look up checksum of %s", ref)
		}
		ref.Checksum, ref.Size = sum, size
	}

	data, err := f.downloader.Download(ctx, ref.DownloadURL, f.opts.MaxArchiveBytes)
	if err != nil {
		if errors.Is(err, integrations.ErrTooLarge) {
			return nil, cerrors.Wrap(cerrors.ErrCodeArchive, err, "archive of %s", ref)
		}
		return nil, fetchError(ctx, err, "download %s", ref)
	}
	if err := verify(ref, data); err != nil {
		return nil, err
	}

	dir := filepath.Join(f.root, ref.dirName())
	if err := os.RemoveAll(dir); err != nil {
		return nil, cerrors.Wrap(cerrors.ErrCodeArchive, err, "prepare workspace for %s", ref)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, cerrors.Wrap(cerrors.ErrCodeArchive, err, "create workspace for %s", ref)
	}

	ex, err := unpack(data, dir, f.filter, f.opts.MaxFileBytes)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	return NewWorkspace(ref, dir, ex.files, ex.oversized), nil
}

// Use fetches ref, runs fn on the workspace and releases it, whatever fn
// returns. The first error of fetch, fn or release is returned.
func (f *Fetcher) Use(ctx context.Context, ref PackageRef, fn func(*Workspace) error) (err error) {
	ws, err := f.Fetch(ctx, ref)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := ws.Release(); err == nil {
			err = rerr
		}
	}()
	return fn(ws)
}

func verify(ref PackageRef, data []byte) error {
	if ref.Size > 0 && int64(len(data)) != ref.Size {
		return cerrors.New(cerrors.ErrCodeArchive, "archive of %s is %d bytes, registry says %d", ref, len(data), ref.Size)
	}
	if ref.Checksum != "" {
		sum := sha256.Sum256(data)
		if got := hex.EncodeToString(sum[:]); !strings.EqualFold(got, ref.Checksum) {
			return cerrors.New(cerrors.ErrCodeArchive, "checksum mismatch for %s: got %s, want %s", ref, got, ref.Checksum)
		}
	}
	return nil
}

func fetchError(ctx context.Context, err error, format string, args ...any) error {
	if ctx.Err() != nil {
		return cerrors.Wrap(cerrors.ErrCodeCancelled, err, format, args...)
	}
	return cerrors.Wrap(cerrors.ErrCodeFetch, err, format, args...)
}

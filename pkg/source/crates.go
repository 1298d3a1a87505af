package source

import (
	"context"

	"github.com/matzehuels/cratescan/pkg/integrations/crates"
)

// CratesRegistry adapts a crates.io client to [Registry] and [Verifier].
type CratesRegistry struct {
	client  *crates.Client
	refresh bool
}

// NewCratesRegistry wraps client. When refresh is true, cached listings
// and version metadata are ignored.
func NewCratesRegistry(client *crates.Client, refresh bool) *CratesRegistry {
	return &CratesRegistry{client: client, refresh: refresh}
}

// TopPackages lists the n most downloaded crates.
func (r *CratesRegistry) TopPackages(ctx context.Context, n int) ([]PackageRef, error) {
	top, err := r.client.TopCrates(ctx, n, r.refresh)
	if err != nil {
		return nil, err
	}
	refs := make([]PackageRef, len(top))
	for i, c := range top {
		refs[i] = PackageRef{
			Name:        c.Name,
			Version:     c.Version,
			DownloadURL: r.client.DownloadURL(c.Name, c.Version),
		}
	}
	return refs, nil
}

// ArchiveInfo returns the sha256 checksum and size crates.io recorded for
// the .crate file.
func (r *CratesRegistry) ArchiveInfo(ctx context.Context, ref PackageRef) (string, int64, error) {
	v, err := r.client.FetchVersion(ctx, ref.Name, ref.Version, r.refresh)
	if err != nil {
		return "", 0, err
	}
	return v.Checksum, v.CrateSize, nil
}

var (
	_ Registry = (*CratesRegistry)(nil)
	_ Verifier = (*CratesRegistry)(nil)
)

package source

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"

	cerrors "github.com/matzehuels/cratescan/pkg/errors"
)

// extracted lists what unpack wrote and what it left out for size.
type extracted struct {
	files     []string
	oversized []string
}

// unpack gunzips and untars archive into dir. Every entry must live under a
// single top-level directory, which is stripped. Only regular files passing
// filter are written; files larger than maxFileBytes are recorded as
// oversized instead.
func unpack(archive []byte, dir string, filter *Filter, maxFileBytes int64) (*extracted, error) {
	gz, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return nil, cerrors.Wrap(cerrors.ErrCodeArchive, err, "open gzip stream")
	}
	defer gz.Close()

	files := make(map[string]bool)
	oversized := make(map[string]bool)
	var top string

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, cerrors.Wrap(cerrors.ErrCodeArchive, err, "read tar entry")
		}
		if hdr.Typeflag == tar.TypeXGlobalHeader {
			continue
		}

		name := strings.TrimPrefix(hdr.Name, "./")
		if err := cerrors.ValidatePath(name); err != nil {
			return nil, cerrors.Wrap(cerrors.ErrCodeArchive, err, "unsafe entry %q", hdr.Name)
		}

		root, rel, _ := strings.Cut(name, "/")
		if top == "" {
			top = root
		} else if root != top {
			return nil, cerrors.New(cerrors.ErrCodeArchive, "entry %q outside top-level directory %q", hdr.Name, top)
		}
		rel = strings.TrimSuffix(rel, "/")
		if rel == "" || hdr.Typeflag != tar.TypeReg || !filter.Match(rel) {
			continue
		}

		if maxFileBytes > 0 && hdr.Size > maxFileBytes {
			oversized[rel] = true
			continue
		}

		target := filepath.Join(dir, filepath.FromSlash(rel))
		if !strings.HasPrefix(target, filepath.Clean(dir)+string(filepath.Separator)) {
			return nil, cerrors.New(cerrors.ErrCodeArchive, "entry %q escapes workspace", hdr.Name)
		}
		if err := writeEntry(target, tr, hdr.Size); err != nil {
			return nil, cerrors.Wrap(cerrors.ErrCodeArchive, err, "extract %s", rel)
		}
		files[rel] = true
		delete(oversized, rel)
	}

	return &extracted{files: sortedKeys(files), oversized: sortedKeys(oversized)}, nil
}

func writeEntry(target string, r io.Reader, size int64) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, io.LimitReader(r, size)); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

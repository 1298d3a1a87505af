package source

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/klauspost/compress/gzip"

	cerrors "github.com/matzehuels/cratescan/pkg/errors"
	"github.com/matzehuels/cratescan/pkg/integrations"
)

type entry struct {
	name string
	body string
	typ  byte
}

func makeArchive(t *testing.T, entries ...entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		typ := e.typ
		if typ == 0 {
			typ = tar.TypeReg
		}
		hdr := &tar.Header{Name: e.name, Mode: 0o644, Size: int64(len(e.body)), Typeflag: typ}
		if typ != tar.TypeReg {
			hdr.Size = 0
		}
		if typ == tar.TypeSymlink {
			hdr.Linkname = e.body
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if typ == tar.TypeReg {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type fakeDownloader struct {
	data map[string][]byte
	err  error
}

func (f *fakeDownloader) Download(_ context.Context, url string, maxBytes int64) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.data[url]
	if !ok {
		return nil, integrations.ErrNotFound
	}
	if int64(len(data)) > maxBytes {
		return nil, integrations.ErrTooLarge
	}
	return data, nil
}

type fakeVerifier struct {
	sum  string
	size int64
}

func (v fakeVerifier) ArchiveInfo(context.Context, PackageRef) (string, int64, error) {
	return v.sum, v.size, nil
}

var demoRef = PackageRef{Name: "demo", Version: "0.1.0", DownloadURL: "mem://demo-0.1.0.crate"}

func newTestFetcher(t *testing.T, archive []byte, opts FetchOptions) (*Fetcher, string) {
	t.Helper()
	root := t.TempDir()
	d := &fakeDownloader{data: map[string][]byte{demoRef.DownloadURL: archive}}
	f, err := NewFetcher(d, root, opts)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	return f, root
}

func TestFetch_ExtractsFilteredSources(t *testing.T) {
	archive := makeArchive(t,
		entry{name: "demo-0.1.0/", typ: tar.TypeDir},
		entry{name: "demo-0.1.0/Cargo.toml", body: "[package]"},
		entry{name: "demo-0.1.0/build.rs", body: "fn main() {}"},
		entry{name: "demo-0.1.0/src/lib.rs", body: "pub struct A(u8);"},
		entry{name: "demo-0.1.0/src/de/mod.rs", body: "mod x;"},
		entry{name: "demo-0.1.0/tests/it.rs", body: "#[test] fn t() {}"},
		entry{name: "demo-0.1.0/src/link.rs", body: "lib.rs", typ: tar.TypeSymlink},
	)
	f, root := newTestFetcher(t, archive, FetchOptions{Exclude: []string{"tests/**"}})

	ws, err := f.Fetch(context.Background(), demoRef)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	defer ws.Release()

	want := []string{"build.rs", "src/de/mod.rs", "src/lib.rs"}
	if !reflect.DeepEqual(ws.Files(), want) {
		t.Errorf("Files() = %v, want %v", ws.Files(), want)
	}
	if ws.Dir != filepath.Join(root, "demo-0.1.0") {
		t.Errorf("Dir = %s", ws.Dir)
	}

	file, err := ws.ReadFile("src/lib.rs")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(file.Text) != "pub struct A(u8);" || file.Path != "src/lib.rs" {
		t.Errorf("ReadFile = %+v", file)
	}
}

func TestFetch_Oversized(t *testing.T) {
	archive := makeArchive(t,
		entry{name: "demo-0.1.0/src/lib.rs", body: "mod big;"},
		entry{name: "demo-0.1.0/src/big.rs", body: string(bytes.Repeat([]byte("x"), 64))},
	)
	f, _ := newTestFetcher(t, archive, FetchOptions{MaxFileBytes: 32})

	ws, err := f.Fetch(context.Background(), demoRef)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	defer ws.Release()

	if !reflect.DeepEqual(ws.Files(), []string{"src/lib.rs"}) {
		t.Errorf("Files() = %v", ws.Files())
	}
	if !reflect.DeepEqual(ws.Oversized(), []string{"src/big.rs"}) {
		t.Errorf("Oversized() = %v", ws.Oversized())
	}
}

func TestFetch_RejectsUnsafeArchives(t *testing.T) {
	tests := []struct {
		name    string
		entries []entry
	}{
		{"parent traversal", []entry{{name: "demo-0.1.0/../../evil.rs", body: "x"}}},
		{"absolute path", []entry{{name: "/etc/evil.rs", body: "x"}}},
		{"mixed top-level", []entry{
			{name: "demo-0.1.0/src/lib.rs", body: "x"},
			{name: "other/src/lib.rs", body: "x"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, root := newTestFetcher(t, makeArchive(t, tt.entries...), FetchOptions{})
			_, err := f.Fetch(context.Background(), demoRef)
			if !cerrors.Is(err, cerrors.ErrCodeArchive) {
				t.Fatalf("err = %v, want ARCHIVE_ERROR", err)
			}
			left, _ := os.ReadDir(root)
			if len(left) != 0 {
				t.Errorf("partial extraction left behind: %v", left)
			}
		})
	}
}

func TestFetch_CorruptArchive(t *testing.T) {
	f, _ := newTestFetcher(t, []byte("definitely not gzip"), FetchOptions{})
	if _, err := f.Fetch(context.Background(), demoRef); !cerrors.Is(err, cerrors.ErrCodeArchive) {
		t.Errorf("err = %v, want ARCHIVE_ERROR", err)
	}
}

func TestFetch_Checksum(t *testing.T) {
	archive := makeArchive(t, entry{name: "demo-0.1.0/src/lib.rs", body: "x"})
	sum := sha256.Sum256(archive)
	good := hex.EncodeToString(sum[:])

	tests := []struct {
		name     string
		verifier Verifier
		wantErr  bool
	}{
		{"matching", fakeVerifier{sum: good, size: int64(len(archive))}, false},
		{"checksum mismatch", fakeVerifier{sum: fmt.Sprintf("%064d", 0)}, true},
		{"size mismatch", fakeVerifier{sum: good, size: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, _ := newTestFetcher(t, archive, FetchOptions{Verifier: tt.verifier})
			ws, err := f.Fetch(context.Background(), demoRef)
			if tt.wantErr {
				if !cerrors.Is(err, cerrors.ErrCodeArchive) {
					t.Errorf("err = %v, want ARCHIVE_ERROR", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if ws.Ref.Checksum != good {
				t.Errorf("Ref.Checksum = %q", ws.Ref.Checksum)
			}
			ws.Release()
		})
	}
}

func TestFetch_DownloadErrors(t *testing.T) {
	root := t.TempDir()

	f, _ := NewFetcher(&fakeDownloader{err: integrations.ErrNetwork}, root, FetchOptions{})
	if _, err := f.Fetch(context.Background(), demoRef); !cerrors.Is(err, cerrors.ErrCodeFetch) {
		t.Errorf("network: err = %v, want FETCH_ERROR", err)
	}

	f, _ = NewFetcher(&fakeDownloader{err: integrations.ErrTooLarge}, root, FetchOptions{})
	if _, err := f.Fetch(context.Background(), demoRef); !cerrors.Is(err, cerrors.ErrCodeArchive) {
		t.Errorf("too large: err = %v, want ARCHIVE_ERROR", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f, _ = NewFetcher(&fakeDownloader{err: context.Canceled}, root, FetchOptions{})
	if _, err := f.Fetch(ctx, demoRef); !cerrors.Is(err, cerrors.ErrCodeCancelled) {
		t.Errorf("cancelled: err = %v, want CANCELLED", err)
	}

	bad := demoRef
	bad.Name = "../escape"
	if _, err := f.Fetch(context.Background(), bad); !cerrors.Is(err, cerrors.ErrCodeFetch) {
		t.Errorf("bad name: err = %v, want FETCH_ERROR", err)
	}
}

func TestUse_ReleasesWorkspace(t *testing.T) {
	archive := makeArchive(t, entry{name: "demo-0.1.0/src/lib.rs", body: "x"})
	f, root := newTestFetcher(t, archive, FetchOptions{})

	boom := errors.New("boom")
	var dir string
	err := f.Use(context.Background(), demoRef, func(ws *Workspace) error {
		dir = ws.Dir
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Use() = %v, want callback error", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("workspace %s not released", dir)
	}
	if left, _ := os.ReadDir(root); len(left) != 0 {
		t.Errorf("root not empty: %v", left)
	}
}

func TestWorkspace_ReadAfterRelease(t *testing.T) {
	ws := NewWorkspace(demoRef, t.TempDir(), nil, nil)
	if err := ws.Release(); err != nil {
		t.Fatal(err)
	}
	if err := ws.Release(); err != nil {
		t.Errorf("second Release() = %v", err)
	}
	if _, err := ws.ReadFile("src/lib.rs"); !cerrors.Is(err, cerrors.ErrCodeRead) {
		t.Errorf("err = %v, want READ_ERROR", err)
	}
}

func TestFilter(t *testing.T) {
	f, err := NewFilter(nil, []string{"benches/**", "**/generated_*.rs"})
	if err != nil {
		t.Fatal(err)
	}
	tests := map[string]bool{
		"build.rs":                  true,
		"src/lib.rs":                true,
		"src/a/b/c.rs":              true,
		"Cargo.toml":                false,
		"benches/x.rs":              false,
		"src/proto/generated_pb.rs": false,
	}
	for path, want := range tests {
		if got := f.Match(path); got != want {
			t.Errorf("Match(%q) = %v, want %v", path, got, want)
		}
	}

	if _, err := NewFilter([]string{"[unclosed"}, nil); !cerrors.Is(err, cerrors.ErrCodeInvalidConfig) {
		t.Errorf("bad pattern: err = %v, want INVALID_CONFIG", err)
	}
}

func TestFetch_Repository(t *testing.T) {
	ref, err := ParseRepository("rust-lang/regex@master", "https://github.com")
	if err != nil {
		t.Fatalf("ParseRepository: %v", err)
	}
	archive := makeArchive(t,
		entry{name: "regex-master/", typ: tar.TypeDir},
		entry{name: "regex-master/src/lib.rs", body: "pub struct Regex(String);"},
		entry{name: "regex-master/README.md", body: "# regex"},
	)
	root := t.TempDir()
	d := &fakeDownloader{data: map[string][]byte{ref.DownloadURL: archive}}
	// Repositories publish no checksum, so the verifier must not be asked.
	f, err := NewFetcher(d, root, FetchOptions{Verifier: fakeVerifier{sum: "00", size: 1}})
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	ws, err := f.Fetch(context.Background(), ref)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	defer ws.Release()

	if !reflect.DeepEqual(ws.Files(), []string{"src/lib.rs"}) {
		t.Errorf("Files() = %v", ws.Files())
	}
	if ws.Dir != filepath.Join(root, "rust-lang_regex-master") {
		t.Errorf("Dir = %s", ws.Dir)
	}
}

func TestFetch_RepositoryNotFound(t *testing.T) {
	ref, err := ParseRepository("owner/missing", "https://github.com")
	if err != nil {
		t.Fatalf("ParseRepository: %v", err)
	}
	f, err := NewFetcher(&fakeDownloader{}, t.TempDir(), FetchOptions{})
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	if _, err := f.Fetch(context.Background(), ref); !cerrors.Is(err, cerrors.ErrCodeFetch) {
		t.Errorf("err = %v, want FETCH_ERROR", err)
	}
}

func TestFetch_RejectsBadReferences(t *testing.T) {
	f, err := NewFetcher(&fakeDownloader{}, t.TempDir(), FetchOptions{})
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	refs := []PackageRef{
		{Name: "../evil", Version: "1.0.0"},
		{Kind: Repository, Name: "owner/..", Version: "HEAD"},
		{Kind: Repository, Name: "serde", Version: "HEAD"},
	}
	for _, ref := range refs {
		if _, err := f.Fetch(context.Background(), ref); !cerrors.Is(err, cerrors.ErrCodeFetch) {
			t.Errorf("Fetch(%s) err = %v, want FETCH_ERROR", ref, err)
		}
	}
}

package source

import (
	"os"
	"path"
	"path/filepath"

	cerrors "github.com/matzehuels/cratescan/pkg/errors"
)

// Workspace is the extracted source tree of one package.
type Workspace struct {
	Ref PackageRef
	Dir string

	files     []string
	oversized []string
}

// NewWorkspace describes an already extracted tree. files and oversized
// are slash-separated paths relative to dir.
func NewWorkspace(ref PackageRef, dir string, files, oversized []string) *Workspace {
	return &Workspace{Ref: ref, Dir: dir, files: files, oversized: oversized}
}

// Files returns the extracted files in lexical order.
func (w *Workspace) Files() []string { return w.files }

// Oversized returns the files that matched the filter but were too large
// to extract, in lexical order.
func (w *Workspace) Oversized() []string { return w.oversized }

// ReadFile loads one extracted file. It fails with READ_ERROR.
func (w *Workspace) ReadFile(rel string) (SourceFile, error) {
	if w.Dir == "" {
		return SourceFile{}, cerrors.New(cerrors.ErrCodeRead, "read %s: workspace released", rel)
	}
	clean := path.Clean(rel)
	if err := cerrors.ValidatePath(clean); err != nil {
		return SourceFile{}, cerrors.Wrap(cerrors.ErrCodeRead, err, "read %s", rel)
	}
	data, err := os.ReadFile(filepath.Join(w.Dir, filepath.FromSlash(clean)))
	if err != nil {
		return SourceFile{}, cerrors.Wrap(cerrors.ErrCodeRead, err, "read %s", rel)
	}
	return SourceFile{Path: clean, Text: data}, nil
}

// Release deletes the workspace directory. It is safe to call more than once.
func (w *Workspace) Release() error {
	if w.Dir == "" {
		return nil
	}
	err := os.RemoveAll(w.Dir)
	w.Dir = ""
	return err
}

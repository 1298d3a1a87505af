package source

import (
	"github.com/gobwas/glob"

	cerrors "github.com/matzehuels/cratescan/pkg/errors"
)

// DefaultInclude selects Rust sources anywhere in a package.
var DefaultInclude = []string{"*.rs", "**/*.rs"}

// Filter decides which archive entries are extracted. Patterns use glob
// syntax with '/' as separator: '*' stays within one path segment, '**'
// crosses segments.
type Filter struct {
	include []glob.Glob
	exclude []glob.Glob
}

// NewFilter compiles include and exclude patterns. An empty include list
// means [DefaultInclude].
func NewFilter(include, exclude []string) (*Filter, error) {
	if len(include) == 0 {
		include = DefaultInclude
	}
	inc, err := compileGlobs(include)
	if err != nil {
		return nil, err
	}
	exc, err := compileGlobs(exclude)
	if err != nil {
		return nil, err
	}
	return &Filter{include: inc, exclude: exc}, nil
}

// Match reports whether path (relative, slash-separated) is included and
// not excluded.
func (f *Filter) Match(path string) bool {
	return matchAny(f.include, path) && !matchAny(f.exclude, path)
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, cerrors.Wrap(cerrors.ErrCodeInvalidConfig, err, "invalid file pattern %q", p)
		}
		out = append(out, g)
	}
	return out, nil
}

func matchAny(globs []glob.Glob, path string) bool {
	for _, g := range globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

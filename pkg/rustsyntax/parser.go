// Package rustsyntax parses Rust source files with tree-sitter.
//
// Trees are concrete syntax trees from the tree-sitter-rust grammar; node
// kinds (struct_item, impl_item, macro_invocation, ...) are the grammar's.
// A [Tree] must be closed once the caller is done with it.
package rustsyntax

import (
	"sync"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"

	cerrors "github.com/matzehuels/cratescan/pkg/errors"
	"github.com/matzehuels/cratescan/pkg/source"
)

// Parser parses Rust source. Parser instances are recycled through a pool,
// so one Parser can be shared by all workers.
type Parser struct {
	lang *sitter.Language
	pool sync.Pool
}

// NewParser creates a Rust parser.
func NewParser() *Parser {
	lang := sitter.NewLanguage(tree_sitter_rust.Language())
	p := &Parser{lang: lang}
	p.pool.New = func() any {
		sp := sitter.NewParser()
		sp.SetLanguage(lang)
		return sp
	}
	return p
}

// Parse parses one file. Files containing syntax errors are rejected with
// PARSE_ERROR so that matchers only ever see well-formed trees.
func (p *Parser) Parse(file source.SourceFile) (*Tree, error) {
	tree, err := p.ParseBytes(file.Text)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.ErrCodeParse, err, "parse %s", file.Path)
	}
	if tree.Root().HasError() {
		tree.Close()
		return nil, cerrors.New(cerrors.ErrCodeParse, "parse %s: syntax error", file.Path)
	}
	tree.Path = file.Path
	return tree, nil
}

// ParseBytes parses src without rejecting syntax errors; callers inspect
// the tree themselves.
func (p *Parser) ParseBytes(src []byte) (*Tree, error) {
	sp := p.pool.Get().(*sitter.Parser)
	defer func() {
		sp.Reset()
		p.pool.Put(sp)
	}()

	t := sp.Parse(src, nil)
	if t == nil {
		return nil, cerrors.New(cerrors.ErrCodeParse, "parser returned no tree")
	}
	return &Tree{tree: t, Source: src}, nil
}

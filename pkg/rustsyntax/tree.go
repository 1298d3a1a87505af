package rustsyntax

import (
	"strings"
	"unicode"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// Tree is a parsed file together with the bytes it was parsed from.
type Tree struct {
	Path   string
	Source []byte

	tree *sitter.Tree
}

// Root returns the source_file node.
func (t *Tree) Root() *sitter.Node { return t.tree.RootNode() }

// Text returns the source text covered by n.
func (t *Tree) Text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return string(t.Source[n.StartByte():n.EndByte()])
}

// Line returns the 1-based line n starts on.
func (t *Tree) Line(n *sitter.Node) int {
	return int(n.StartPosition().Row) + 1
}

// Close frees the tree-sitter tree. The Tree must not be used afterwards.
func (t *Tree) Close() {
	if t.tree != nil {
		t.tree.Close()
		t.tree = nil
	}
}

// Walk calls fn for n and every named descendant in document order.
// Returning false from fn skips the node's children.
func Walk(n *sitter.Node, fn func(*sitter.Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for i := uint(0); i < n.NamedChildCount(); i++ {
		Walk(n.NamedChild(i), fn)
	}
}

// NamedChildren returns the named children of n.
func NamedChildren(n *sitter.Node) []*sitter.Node {
	out := make([]*sitter.Node, 0, n.NamedChildCount())
	for i := uint(0); i < n.NamedChildCount(); i++ {
		out = append(out, n.NamedChild(i))
	}
	return out
}

// Normalize removes all whitespace so that type texts written with
// different spacing (Vec<u8> and Vec< u8 >) compare equal.
func Normalize(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

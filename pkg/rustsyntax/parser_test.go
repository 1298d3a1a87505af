package rustsyntax

import (
	"sync"
	"testing"

	sitter "github.com/tree-sitter/go-tree-sitter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/matzehuels/cratescan/pkg/errors"
	"github.com/matzehuels/cratescan/pkg/source"
)

func TestParse(t *testing.T) {
	p := NewParser()
	tree, err := p.Parse(source.SourceFile{
		Path: "src/lib.rs",
		Text: []byte("pub struct Meters(f64);\n\nfn main() {\n    println!(\"{}\", 1);\n}\n"),
	})
	require.NoError(t, err)
	defer tree.Close()

	root := tree.Root()
	assert.Equal(t, "source_file", root.Kind())
	assert.Equal(t, "src/lib.rs", tree.Path)

	var kinds []string
	Walk(root, func(n *sitter.Node) bool {
		if n.Kind() == "struct_item" || n.Kind() == "macro_invocation" {
			kinds = append(kinds, n.Kind())
			if n.Kind() == "struct_item" {
				assert.Equal(t, "Meters", tree.Text(n.ChildByFieldName("name")))
				assert.Equal(t, 1, tree.Line(n))
			} else {
				assert.Equal(t, 4, tree.Line(n))
			}
		}
		return true
	})
	assert.Equal(t, []string{"struct_item", "macro_invocation"}, kinds)
}

func TestParse_SyntaxError(t *testing.T) {
	p := NewParser()
	_, err := p.Parse(source.SourceFile{Path: "bad.rs", Text: []byte("fn main( {")})
	require.Error(t, err)
	assert.True(t, cerrors.Is(err, cerrors.ErrCodeParse))
}

func TestParseBytes_KeepsErrorTrees(t *testing.T) {
	tree, err := NewParser().ParseBytes([]byte("fn main( {"))
	require.NoError(t, err)
	defer tree.Close()
	assert.True(t, tree.Root().HasError())
}

func TestParser_Concurrent(t *testing.T) {
	p := NewParser()
	src := source.SourceFile{Path: "x.rs", Text: []byte("struct A(u8); impl From<u8> for A { fn from(v: u8) -> Self { A(v) } }")}

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				tree, err := p.Parse(src)
				if assert.NoError(t, err) {
					tree.Close()
				}
			}
		}()
	}
	wg.Wait()
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "Vec<u8>", Normalize("Vec< u8 >"))
	assert.Equal(t, "HashMap<String,Vec<u8>>", Normalize("HashMap<String,\n\tVec<u8>>"))
	assert.Equal(t, "", Normalize(" \n"))
}

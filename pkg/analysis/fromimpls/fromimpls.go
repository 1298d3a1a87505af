// Package fromimpls counts single-field tuple structs that can be built
// from their field with From.
//
// For every struct of the form
//
//	struct Meters(f64);
//
// anywhere in a crate (top level, inside modules or function bodies) one
// [Record] is produced, in one of three categories:
//
//   - implements-from: the crate contains `impl From<f64> for Meters`
//   - derives-from: the struct derives From (derive_more and friends)
//   - missing-from: neither
//
// The impl may live in any file of the crate. Matching is textual on the
// parsed type: the impl's type argument must equal the field type after
// whitespace is removed. Type aliases, re-exports and differently spelled
// paths (f64 vs core::primitive::f64) are not resolved and show up as
// missing-from.
package fromimpls

import (
	"sort"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/matzehuels/cratescan/pkg/analysis"
	"github.com/matzehuels/cratescan/pkg/rustsyntax"
	"github.com/matzehuels/cratescan/pkg/source"
)

// Categories.
const (
	ImplementsFrom analysis.Category = "implements-from"
	DerivesFrom    analysis.Category = "derives-from"
	MissingFrom    analysis.Category = "missing-from"
)

// Notes.
const (
	NoteFromImpls = "from-impls"
)

// Record describes one single-field tuple struct.
type Record struct {
	File          string
	Line          int
	Struct        string
	FieldType     string
	HasConversion bool // a matching impl exists or From is derived
	Derived       bool
	Implemented   bool
}

// Category implements analysis.Record.
func (r Record) Category() analysis.Category {
	switch {
	case r.Implemented:
		return ImplementsFrom
	case r.Derived:
		return DerivesFrom
	default:
		return MissingFrom
	}
}

// Matcher is the from-impls matcher.
type Matcher struct{}

// New returns the from-impls matcher.
func New() *Matcher { return &Matcher{} }

func (*Matcher) Name() string { return "from-impls" }

func (*Matcher) Description() string {
	return "Count single-field tuple structs that implement From<FieldType>"
}

func (*Matcher) Categories() []analysis.Category {
	return []analysis.Category{ImplementsFrom, DerivesFrom, MissingFrom}
}

func (*Matcher) NewScanner(source.PackageRef) analysis.Scanner {
	return &scanner{impls: make(map[string]map[string]bool)}
}

// candidate is a struct collected in the first pass.
type candidate struct {
	file      string
	line      int
	name      string
	fieldType string
	derived   bool
}

// scanner collects candidates and impls across all files of a crate and
// joins them in Finish.
type scanner struct {
	structs []candidate
	// impls maps a struct name to the normalised type arguments of every
	// From impl targeting it.
	impls    map[string]map[string]bool
	implSeen int
}

func (s *scanner) ScanFile(tree *rustsyntax.Tree) func() {
	type impl struct{ target, arg string }
	var (
		structs []candidate
		impls   []impl
	)
	rustsyntax.Walk(tree.Root(), func(n *sitter.Node) bool {
		switch n.Kind() {
		case "struct_item":
			if c, ok := tupleStruct(tree, n); ok {
				structs = append(structs, c)
			}
		case "impl_item":
			if target, arg, ok := fromImpl(tree, n); ok {
				impls = append(impls, impl{target, arg})
			}
		}
		return true
	})

	return func() {
		s.structs = append(s.structs, structs...)
		for _, im := range impls {
			if s.impls[im.target] == nil {
				s.impls[im.target] = make(map[string]bool)
			}
			s.impls[im.target][im.arg] = true
		}
		s.implSeen += len(impls)
	}
}

func (s *scanner) Finish() analysis.Findings {
	sort.SliceStable(s.structs, func(i, j int) bool {
		if s.structs[i].file != s.structs[j].file {
			return s.structs[i].file < s.structs[j].file
		}
		return s.structs[i].line < s.structs[j].line
	})

	var f analysis.Findings
	for _, c := range s.structs {
		implemented := s.impls[c.name][c.fieldType]
		f.Records = append(f.Records, Record{
			File:          c.file,
			Line:          c.line,
			Struct:        c.name,
			FieldType:     c.fieldType,
			HasConversion: implemented || c.derived,
			Derived:       c.derived,
			Implemented:   implemented,
		})
	}
	f.Note(NoteFromImpls, s.implSeen)
	return f
}

// tupleStruct recognises `struct Name(Type);` with exactly one field.
func tupleStruct(tree *rustsyntax.Tree, n *sitter.Node) (candidate, bool) {
	body := n.ChildByFieldName("body")
	if body == nil || body.Kind() != "ordered_field_declaration_list" {
		return candidate{}, false
	}

	var fields []*sitter.Node
	for _, child := range rustsyntax.NamedChildren(body) {
		switch child.Kind() {
		case "attribute_item", "visibility_modifier", "line_comment", "block_comment":
			continue
		}
		fields = append(fields, child)
	}
	if len(fields) != 1 {
		return candidate{}, false
	}

	return candidate{
		file:      tree.Path,
		line:      tree.Line(n),
		name:      tree.Text(n.ChildByFieldName("name")),
		fieldType: rustsyntax.Normalize(tree.Text(fields[0])),
		derived:   derivesFrom(tree, n),
	}, true
}

// derivesFrom reports whether one of the attributes directly above the
// struct is a derive list naming From.
func derivesFrom(tree *rustsyntax.Tree, n *sitter.Node) bool {
	for sib := n.PrevNamedSibling(); sib != nil; sib = sib.PrevNamedSibling() {
		switch sib.Kind() {
		case "line_comment", "block_comment":
			continue
		case "attribute_item":
			if deriveListHasFrom(rustsyntax.Normalize(tree.Text(sib))) {
				return true
			}
			continue
		}
		break
	}
	return false
}

// deriveListHasFrom inspects attribute text like #[derive(Debug,From)].
func deriveListHasFrom(attr string) bool {
	attr = strings.TrimPrefix(attr, "#[")
	attr = strings.TrimSuffix(attr, "]")
	inner, ok := strings.CutPrefix(attr, "derive(")
	if !ok {
		return false
	}
	inner = strings.TrimSuffix(inner, ")")
	for _, item := range strings.Split(inner, ",") {
		if lastSegment(item) == "From" {
			return true
		}
	}
	return false
}

// fromImpl recognises `impl From<Arg> for Target` (the trait may be path
// qualified, e.g. std::convert::From) and returns the target's bare name
// and the normalised argument.
func fromImpl(tree *rustsyntax.Tree, n *sitter.Node) (target, arg string, ok bool) {
	trait := n.ChildByFieldName("trait")
	if trait == nil || trait.Kind() != "generic_type" {
		return "", "", false
	}
	if lastSegment(tree.Text(trait.ChildByFieldName("type"))) != "From" {
		return "", "", false
	}

	typeArgs := trait.ChildByFieldName("type_arguments")
	if typeArgs == nil {
		return "", "", false
	}
	var args []*sitter.Node
	for _, child := range rustsyntax.NamedChildren(typeArgs) {
		switch child.Kind() {
		case "line_comment", "block_comment":
			continue
		case "lifetime", "type_binding", "trait_bounds":
			return "", "", false
		}
		args = append(args, child)
	}
	if len(args) != 1 {
		return "", "", false
	}

	self := n.ChildByFieldName("type")
	if self == nil {
		return "", "", false
	}
	if self.Kind() == "generic_type" {
		self = self.ChildByFieldName("type")
	}
	switch self.Kind() {
	case "type_identifier", "scoped_type_identifier":
	default:
		return "", "", false
	}

	return lastSegment(tree.Text(self)), rustsyntax.Normalize(tree.Text(args[0])), true
}

func lastSegment(path string) string {
	path = strings.TrimSpace(path)
	if i := strings.LastIndex(path, "::"); i >= 0 {
		return path[i+2:]
	}
	return path
}

// Package fmtargs classifies the arguments passed to formatting macros.
//
// Every invocation of a known formatting macro (println!, format!, write!,
// log::info!, assert_eq!, ...) contributes one [Record] per interpolated
// argument and one per implicit capture in its format string:
//
//	println!("{} {}", x.len(), user.name);   // method-call, field-access
//	println!("{count} items");                // inline-capture
//
// Macro bodies are token trees, so each body is re-parsed on its own as a
// call argument list. Invocations nested inside another macro's body are
// not looked at.
package fmtargs

import (
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/matzehuels/cratescan/pkg/analysis"
	"github.com/matzehuels/cratescan/pkg/rustsyntax"
	"github.com/matzehuels/cratescan/pkg/source"
)

// Notes.
const (
	NoteInvocations               = "invocations"
	NoteInvocationsWithArguments  = "invocations-with-arguments"
	NoteInlineableToday           = "inlineable-today"
	NoteInlineableWithFieldAccess = "inlineable-with-field-access"
	NoteUnparsed                  = "unparsed-invocations"
)

// firstArgument maps each recognised macro to the position of its first
// interpolated argument. The format string sits just before it.
var firstArgument = map[string]int{
	"format_args":   1,
	"format":        1,
	"panic":         1,
	"unreachable":   1,
	"unimplemented": 1,
	"todo":          1,
	"info":          1,
	"debug":         1,
	"warn":          1,
	"error":         1,
	"trace":         1,
	"print":         1,
	"println":       1,
	"eprint":        1,
	"eprintln":      1,
	"write":         2,
	"writeln":       2,
	"assert":        2,
	"assert_eq":     3,
	"assert_ne":     3,
}

// pathRoots are the crates whose qualified macro paths are accepted.
var pathRoots = map[string]bool{
	"std":     true,
	"core":    true,
	"alloc":   true,
	"log":     true,
	"tracing": true,
}

// logMacros accept a leading `target: expr,`.
var logMacros = map[string]bool{
	"info":  true,
	"debug": true,
	"warn":  true,
	"error": true,
	"trace": true,
}

// Record is one classified argument or implicit capture.
type Record struct {
	File  string
	Line  int
	Macro string
	// Index is the argument's position among the interpolated arguments,
	// or -1 for implicit captures.
	Index int
	Named string
	Kind  ArgKind
	Text  string
}

// Category implements analysis.Record.
func (r Record) Category() analysis.Category {
	return analysis.Category(r.Kind.String())
}

// Matcher is the format-args matcher.
type Matcher struct {
	parser *rustsyntax.Parser
}

// New returns the format-args matcher. Macro bodies are re-parsed with p.
func New(p *rustsyntax.Parser) *Matcher {
	return &Matcher{parser: p}
}

func (*Matcher) Name() string { return "format-args" }

func (*Matcher) Description() string {
	return "Classify the arguments of formatting macros (println!, format!, write!, ...)"
}

func (*Matcher) Categories() []analysis.Category {
	out := make([]analysis.Category, 0, len(kindNames))
	for _, k := range Kinds() {
		out = append(out, analysis.Category(k.String()))
	}
	return out
}

func (m *Matcher) NewScanner(source.PackageRef) analysis.Scanner {
	return &scanner{parser: m.parser}
}

type scanner struct {
	parser   *rustsyntax.Parser
	findings analysis.Findings
}

func (s *scanner) ScanFile(tree *rustsyntax.Tree) func() {
	var file analysis.Findings
	rustsyntax.Walk(tree.Root(), func(n *sitter.Node) bool {
		if n.Kind() != "macro_invocation" {
			return true
		}
		s.invocation(&file, tree, n)
		// Nested invocations live inside the token tree and are not
		// parsed as nodes; nothing below is worth visiting.
		return false
	})

	return func() {
		s.findings.Records = append(s.findings.Records, file.Records...)
		for name, n := range file.Notes {
			s.findings.Note(name, n)
		}
	}
}

func (s *scanner) Finish() analysis.Findings {
	for _, name := range []string{
		NoteInvocations, NoteInvocationsWithArguments, NoteInlineableToday,
		NoteInlineableWithFieldAccess, NoteUnparsed,
	} {
		s.findings.Note(name, 0)
	}
	return s.findings
}

func (s *scanner) invocation(f *analysis.Findings, tree *rustsyntax.Tree, n *sitter.Node) {
	name, ok := macroName(tree.Text(n.ChildByFieldName("macro")))
	if !ok {
		return
	}
	start := firstArgument[name]

	var body *sitter.Node
	for _, child := range rustsyntax.NamedChildren(n) {
		if child.Kind() == "token_tree" {
			body = child
			break
		}
	}
	if body == nil {
		return
	}

	args, err := s.parseArgs(tree.Text(body), logMacros[name])
	if err != nil {
		f.Note(NoteUnparsed, 1)
		return
	}
	if len(args) < start {
		return
	}

	line := tree.Line(n)
	f.Note(NoteInvocations, 1)

	named := make(map[string]bool)
	for _, a := range args {
		if a.name != "" {
			named[a.name] = true
		}
	}

	explicit := args[start:]
	today, withFields := true, true
	for i, a := range explicit {
		kind, rooted := a.kind, a.rooted
		f.Records = append(f.Records, Record{
			File:  tree.Path,
			Line:  line,
			Macro: name,
			Index: i,
			Named: a.name,
			Kind:  kind,
			Text:  a.text,
		})
		if kind != Identifier {
			today = false
		}
		if kind != Identifier && !rooted {
			withFields = false
		}
	}
	if len(explicit) > 0 {
		f.Note(NoteInvocationsWithArguments, 1)
		if today {
			f.Note(NoteInlineableToday, 1)
		}
		if withFields {
			f.Note(NoteInlineableWithFieldAccess, 1)
		}
	}

	for _, capture := range Captures(args[start-1].literal) {
		if named[capture] {
			continue
		}
		f.Records = append(f.Records, Record{
			File:  tree.Path,
			Line:  line,
			Macro: name,
			Index: -1,
			Named: capture,
			Kind:  InlineCapture,
			Text:  capture,
		})
	}
}

// macroName returns the bare macro name for a recognised macro path:
// either a single identifier or a path rooted at a standard or logging
// crate (std::println, ::core::panic, log::info).
func macroName(path string) (string, bool) {
	path = strings.TrimPrefix(rustsyntax.Normalize(path), "::")
	segments := strings.Split(path, "::")
	name := segments[len(segments)-1]
	if _, ok := firstArgument[name]; !ok {
		return "", false
	}
	if len(segments) > 1 && !pathRoots[segments[0]] {
		return "", false
	}
	return name, true
}

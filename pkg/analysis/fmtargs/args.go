package fmtargs

import (
	"regexp"

	sitter "github.com/tree-sitter/go-tree-sitter"

	cerrors "github.com/matzehuels/cratescan/pkg/errors"
	"github.com/matzehuels/cratescan/pkg/rustsyntax"
)

// ArgKind is the shape of an argument expression.
type ArgKind int

const (
	Other ArgKind = iota
	Literal
	Identifier
	FieldAccess
	NestedFieldAccess
	MethodCall
	FunctionCall
	Operator
	MacroCall
	InlineCapture
)

var kindNames = map[ArgKind]string{
	Literal:           "literal",
	Identifier:        "identifier",
	FieldAccess:       "field-access",
	NestedFieldAccess: "nested-field-access",
	MethodCall:        "method-call",
	FunctionCall:      "function-call",
	Operator:          "operator",
	MacroCall:         "macro-call",
	InlineCapture:     "inline-capture",
	Other:             "other",
}

func (k ArgKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[Other]
}

// Kinds returns every kind in report order, with Other last.
func Kinds() []ArgKind {
	return []ArgKind{
		Literal, Identifier, FieldAccess, NestedFieldAccess, MethodCall,
		FunctionCall, Operator, MacroCall, InlineCapture, Other,
	}
}

// arg is one parsed macro argument.
type arg struct {
	name string // set for `name = expr`
	text string
	kind ArgKind
	// rooted is true for identifiers and field chains that start at an
	// identifier: the shapes an inline capture could express.
	rooted bool
	// literal holds the contents of a string literal argument.
	literal string
}

// targetPrefix matches the `target:` key accepted by log macros (and not
// a path like target::X).
var targetPrefix = regexp.MustCompile(`^\s*target\s*:([^:]|$)`)

// parseArgs parses the body of a macro invocation, delimiters included, as
// the argument list of a call expression.
func (s *scanner) parseArgs(body string, acceptsTarget bool) ([]arg, error) {
	if len(body) < 2 {
		return nil, cerrors.New(cerrors.ErrCodeParse, "empty token tree")
	}
	inner := body[1 : len(body)-1]

	skipTarget := false
	if acceptsTarget && targetPrefix.MatchString(inner) {
		inner = targetPrefix.ReplaceAllString(inner, "$1")
		skipTarget = true
	}

	src := []byte("fn __f() {\n__args(" + inner + "\n);\n}\n")
	tree, err := s.parser.ParseBytes(src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()
	if tree.Root().HasError() {
		return nil, cerrors.New(cerrors.ErrCodeParse, "macro body is not an argument list")
	}

	var list *sitter.Node
	rustsyntax.Walk(tree.Root(), func(n *sitter.Node) bool {
		if list != nil {
			return false
		}
		if n.Kind() == "call_expression" && tree.Text(n.ChildByFieldName("function")) == "__args" {
			list = n.ChildByFieldName("arguments")
			return false
		}
		return true
	})
	if list == nil {
		return nil, cerrors.New(cerrors.ErrCodeParse, "macro body is not an argument list")
	}

	var args []arg
	for _, n := range rustsyntax.NamedChildren(list) {
		switch n.Kind() {
		case "line_comment", "block_comment", "attribute_item":
			continue
		}
		args = append(args, newArg(tree, n))
	}
	if skipTarget {
		if len(args) == 0 {
			return nil, cerrors.New(cerrors.ErrCodeParse, "missing log target")
		}
		args = args[1:]
	}
	return args, nil
}

func newArg(tree *rustsyntax.Tree, n *sitter.Node) arg {
	var a arg
	if n.Kind() == "assignment_expression" {
		if left := n.ChildByFieldName("left"); left != nil && left.Kind() == "identifier" {
			a.name = tree.Text(left)
			n = n.ChildByFieldName("right")
		}
	}
	a.text = tree.Text(n)
	a.kind, a.rooted = classify(n)
	if lit, ok := stringContents(n, a.text); ok {
		a.literal = lit
	}
	return a
}

// classify maps an expression node to its kind. Shapes the classifier
// cannot handle end up as Other.
func classify(n *sitter.Node) (kind ArgKind, rooted bool) {
	defer func() {
		if recover() != nil {
			kind, rooted = Other, false
		}
	}()

	switch n.Kind() {
	case "parenthesized_expression":
		for _, child := range rustsyntax.NamedChildren(n) {
			switch child.Kind() {
			case "line_comment", "block_comment":
				continue
			}
			return classify(child)
		}
		return Other, false
	case "string_literal", "raw_string_literal", "char_literal", "integer_literal",
		"float_literal", "boolean_literal", "negative_literal":
		return Literal, false
	case "identifier", "self":
		return Identifier, true
	case "field_expression":
		base := n.ChildByFieldName("value")
		if isIdent(base) {
			return FieldAccess, true
		}
		leaf := base
		for leaf.Kind() == "field_expression" {
			leaf = leaf.ChildByFieldName("value")
		}
		if isIdent(leaf) {
			return NestedFieldAccess, true
		}
		return FieldAccess, false
	case "call_expression":
		fn := n.ChildByFieldName("function")
		if fn.Kind() == "generic_function" {
			fn = fn.ChildByFieldName("function")
		}
		if fn.Kind() == "field_expression" {
			return MethodCall, false
		}
		return FunctionCall, false
	case "unary_expression":
		if isNegativeNumber(n) {
			return Literal, false
		}
		return Operator, false
	case "binary_expression", "reference_expression",
		"type_cast_expression", "range_expression":
		return Operator, false
	case "macro_invocation":
		return MacroCall, false
	}
	return Other, false
}

// isNegativeNumber reports whether n is `-` applied to a numeric literal,
// which the grammar parses as a unary expression in expression position.
func isNegativeNumber(n *sitter.Node) bool {
	if n.ChildCount() != 2 || n.Child(0).Kind() != "-" {
		return false
	}
	switch n.Child(1).Kind() {
	case "integer_literal", "float_literal":
		return true
	}
	return false
}

func isIdent(n *sitter.Node) bool {
	k := n.Kind()
	return k == "identifier" || k == "self"
}

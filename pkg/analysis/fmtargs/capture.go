package fmtargs

import (
	"regexp"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

var (
	identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	// countRef matches `name$` in a width or precision.
	countRef = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\$`)
)

// Captures returns the distinct identifiers a format string refers to
// implicitly, in order of first appearance: `{name}`, `{name:?}` and the
// `name$` form of width and precision. Positional references and escaped
// braces are ignored.
func Captures(format string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(name string) {
		if name == "_" || !identPattern.MatchString(name) || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}

	for i := 0; i < len(format); i++ {
		switch format[i] {
		case '{':
			if i+1 < len(format) && format[i+1] == '{' {
				i++
				continue
			}
			end := strings.IndexByte(format[i:], '}')
			if end < 0 {
				return out
			}
			spec := format[i+1 : i+end]
			i += end

			argument, options, _ := strings.Cut(spec, ":")
			add(strings.TrimSpace(argument))
			for _, m := range countRef.FindAllStringSubmatch(options, -1) {
				add(m[1])
			}
		case '}':
			if i+1 < len(format) && format[i+1] == '}' {
				i++
			}
		}
	}
	return out
}

// stringContents returns the contents of a string literal node with
// escapes neutralised, so that `\u{..}` cannot be mistaken for a
// placeholder.
func stringContents(n *sitter.Node, text string) (string, bool) {
	kind := n.Kind()
	if kind != "string_literal" && kind != "raw_string_literal" {
		return "", false
	}
	open := strings.IndexByte(text, '"')
	closing := strings.LastIndexByte(text, '"')
	if open < 0 || closing <= open {
		return "", false
	}
	body := text[open+1 : closing]
	if kind == "raw_string_literal" {
		return body, true
	}
	return unescape(body), true
}

// unescape replaces every escape sequence with a single '_'.
func unescape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		if s[i] == 'u' && i+1 < len(s) && s[i+1] == '{' {
			if end := strings.IndexByte(s[i:], '}'); end >= 0 {
				i += end
			}
		}
		b.WriteByte('_')
	}
	return b.String()
}

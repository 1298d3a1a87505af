// Package analysis defines the contract between the scan pipeline and the
// syntactic pattern matchers.
//
// A [Matcher] describes one kind of scan (its name and its closed set of
// categories) and creates a [Scanner] per package. The pipeline feeds every
// parsed file of the package to the scanner and collects the [Findings]
// once the package is complete, so matchers that need to join information
// across files (a struct declared in one file, its impls in another) can do
// so in [Scanner.Finish].
//
// Every [Record] belongs to exactly one category of its matcher.
package analysis

import (
	"github.com/matzehuels/cratescan/pkg/rustsyntax"
	"github.com/matzehuels/cratescan/pkg/source"
)

// Category labels one bucket of a matcher's tally.
type Category string

// Record is one classified observation.
type Record interface {
	Category() Category
}

// Findings is what a scanner produced for one package.
//
// Notes are secondary counters that are not categories: they do not take
// part in the records-equal-counts invariant (for example, how many
// invocations could be rewritten).
type Findings struct {
	Records []Record
	Notes   map[string]int
}

// Note adds n to a secondary counter, allocating Notes on first use.
func (f *Findings) Note(name string, n int) {
	if f.Notes == nil {
		f.Notes = make(map[string]int)
	}
	f.Notes[name] += n
}

// Scanner accumulates observations for a single package. It is used by one
// goroutine at a time.
type Scanner interface {
	// ScanFile inspects one parsed file and returns a function that adds
	// the file's observations to the package. The pipeline calls commit
	// only when ScanFile returned normally, so a file abandoned halfway
	// contributes nothing. The tree is closed after the call returns, so
	// scanners must copy any text they keep.
	ScanFile(tree *rustsyntax.Tree) (commit func())

	// Finish returns everything found in the package.
	Finish() Findings
}

// Matcher is one pattern matching strategy.
type Matcher interface {
	// Name is the command name and report title (e.g. "from-impls").
	Name() string

	// Description is a one-line summary for help output.
	Description() string

	// Categories lists the matcher's closed set of categories. Reports
	// include every one of them, even with a zero count.
	Categories() []Category

	// NewScanner starts a scan of one package.
	NewScanner(pkg source.PackageRef) Scanner
}

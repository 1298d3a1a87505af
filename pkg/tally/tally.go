// Package tally aggregates matcher records into per-category counts.
//
// A [Tally] is owned by one goroutine. The pipeline gives every worker its
// own Tally and merges them once all workers are done; merging is
// commutative, so the final [Report] does not depend on which worker
// handled which package.
package tally

import (
	"sort"

	"github.com/matzehuels/cratescan/pkg/analysis"
)

// Tally counts records by category, secondary notes, and the outcome of
// every package and file that was looked at.
type Tally struct {
	counts map[analysis.Category]int
	notes  map[string]int

	packagesDone    int
	packagesSkipped map[string]int
	filesParsed     int
	filesSkipped    map[string]int
}

// New returns an empty Tally.
func New() *Tally {
	return &Tally{
		counts:          make(map[analysis.Category]int),
		notes:           make(map[string]int),
		packagesSkipped: make(map[string]int),
		filesSkipped:    make(map[string]int),
	}
}

// Record counts one record under its category.
func (t *Tally) Record(r analysis.Record) {
	t.counts[r.Category()]++
}

// Note adds n to a secondary counter.
func (t *Tally) Note(name string, n int) {
	t.notes[name] += n
}

// Add records everything in f.
func (t *Tally) Add(f analysis.Findings) {
	for _, r := range f.Records {
		t.Record(r)
	}
	for name, n := range f.Notes {
		t.Note(name, n)
	}
}

// PackageDone counts a package whose files were all looked at.
func (t *Tally) PackageDone() { t.packagesDone++ }

// PackageSkipped counts a package that was not scanned.
func (t *Tally) PackageSkipped(reason string) { t.packagesSkipped[reason]++ }

// FileParsed counts a file that was parsed and scanned.
func (t *Tally) FileParsed() { t.filesParsed++ }

// FileSkipped counts a file that was not scanned.
func (t *Tally) FileSkipped(reason string) { t.filesSkipped[reason]++ }

// Records returns the number of records counted so far.
func (t *Tally) Records() int {
	total := 0
	for _, n := range t.counts {
		total += n
	}
	return total
}

// Merge adds other into t. other is left unchanged.
func (t *Tally) Merge(other *Tally) {
	for c, n := range other.counts {
		t.counts[c] += n
	}
	for name, n := range other.notes {
		t.notes[name] += n
	}
	t.packagesDone += other.packagesDone
	for r, n := range other.packagesSkipped {
		t.packagesSkipped[r] += n
	}
	t.filesParsed += other.filesParsed
	for r, n := range other.filesSkipped {
		t.filesSkipped[r] += n
	}
}

// Entry is one named count in a report.
type Entry struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Outcome summarises how many units were processed and why the rest were
// skipped.
type Outcome struct {
	Processed int     `json:"processed"`
	Skipped   int     `json:"skipped"`
	Reasons   []Entry `json:"reasons"`
}

// Report is the final, deterministic view of a Tally.
type Report struct {
	Matcher    string  `json:"matcher"`
	Requested  int     `json:"requested"`
	Categories []Entry `json:"categories"`
	Total      int     `json:"total"`
	Notes      []Entry `json:"notes"`
	Packages   Outcome `json:"packages"`
	Files      Outcome `json:"files"`
}

// Report builds the report for matcher. Categories are sorted by count,
// descending, then by name; every category of the matcher is listed, even
// when nothing was counted for it.
func (t *Tally) Report(m analysis.Matcher, requested int) *Report {
	counts := make(map[string]int, len(t.counts))
	for _, c := range m.Categories() {
		counts[string(c)] = 0
	}
	for c, n := range t.counts {
		counts[string(c)] += n
	}

	r := &Report{
		Matcher:    m.Name(),
		Requested:  requested,
		Categories: byCount(counts),
		Total:      t.Records(),
		Notes:      byName(t.notes),
		Packages:   outcome(t.packagesDone, t.packagesSkipped),
		Files:      outcome(t.filesParsed, t.filesSkipped),
	}
	return r
}

func outcome(processed int, skipped map[string]int) Outcome {
	o := Outcome{Processed: processed, Reasons: byCount(skipped)}
	for _, n := range skipped {
		o.Skipped += n
	}
	return o
}

func byCount(m map[string]int) []Entry {
	out := make([]Entry, 0, len(m))
	for name, n := range m {
		out = append(out, Entry{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func byName(m map[string]int) []Entry {
	out := make([]Entry, 0, len(m))
	for name, n := range m {
		out = append(out, Entry{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

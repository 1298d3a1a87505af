// Package report renders a tally report as a text table or as JSON.
//
// Both formats are deterministic: the same report always renders to the
// same bytes. Neither includes timestamps or run identifiers.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	cerrors "github.com/matzehuels/cratescan/pkg/errors"
	"github.com/matzehuels/cratescan/pkg/tally"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// ValidateFormat checks that format is a known output format.
func ValidateFormat(format string) error {
	switch format {
	case FormatText, FormatJSON:
		return nil
	}
	return cerrors.New(cerrors.ErrCodeInvalidInput, "invalid format: %q (must be one of: text, json)", format)
}

// Write renders r to w in the given format.
func Write(w io.Writer, r *tally.Report, format string) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, r)
	case FormatText, "":
		return WriteText(w, r)
	}
	return ValidateFormat(format)
}

// WriteJSON writes r as indented JSON.
func WriteJSON(w io.Writer, r *tally.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteText writes r as a table followed by notes and skip counts. The
// last line is always the package skip summary.
func WriteText(w io.Writer, r *tally.Report) error {
	renderer := lipgloss.NewRenderer(w)
	header := renderer.NewStyle().Bold(true).Padding(0, 1)
	cell := renderer.NewStyle().Padding(0, 1)
	number := cell.Align(lipgloss.Right)

	rows := make([][]string, 0, len(r.Categories))
	for _, e := range r.Categories {
		rows = append(rows, []string{e.Name, fmt.Sprint(e.Count), share(e.Count, r.Total)})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(renderer.NewStyle()).
		Headers("Category", "Count", "Share").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == -1:
				return header
			case col > 0:
				return number
			}
			return cell
		})

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d packages requested\n\n", r.Matcher, r.Requested)
	b.WriteString(t.Render())
	b.WriteString("\n")
	fmt.Fprintf(&b, "records: %d\n", r.Total)

	if len(r.Notes) > 0 {
		b.WriteString("\nnotes:\n")
		width := 0
		for _, n := range r.Notes {
			width = max(width, len(n.Name))
		}
		for _, n := range r.Notes {
			fmt.Fprintf(&b, "  %-*s  %d\n", width, n.Name, n.Count)
		}
	}

	b.WriteString("\n")
	fmt.Fprintf(&b, "files: %d parsed, %s\n", r.Files.Processed, skipped(r.Files))
	fmt.Fprintf(&b, "packages: %d processed\n", r.Packages.Processed)
	fmt.Fprintf(&b, "skipped: %s\n", skippedCount(r.Packages))

	_, err := io.WriteString(w, b.String())
	return err
}

func share(n, total int) string {
	if total == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", 100*float64(n)/float64(total))
}

func skipped(o tally.Outcome) string {
	return fmt.Sprintf("%s skipped", skippedCount(o))
}

func skippedCount(o tally.Outcome) string {
	if o.Skipped == 0 {
		return "0"
	}
	reasons := make([]string, 0, len(o.Reasons))
	for _, e := range o.Reasons {
		reasons = append(reasons, fmt.Sprintf("%s=%d", e.Name, e.Count))
	}
	return fmt.Sprintf("%d (reasons: %s)", o.Skipped, strings.Join(reasons, ", "))
}

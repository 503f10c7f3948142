package report

import (
	"fmt"
	"io"
	"strings"
)

// MarkdownGenerator renders the report as Markdown
type MarkdownGenerator struct{}

// Generate writes the report to w
func (g *MarkdownGenerator) Generate(r *Report, w io.Writer) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", r.Title)
	fmt.Fprintf(&b, "- Run: `%s`\n", r.RunID)
	fmt.Fprintf(&b, "- Seed: `%d`\n", r.Seed)
	fmt.Fprintf(&b, "- Generated: %s\n\n", r.GeneratedAt.Format("2006-01-02 15:04:05"))

	s := r.Statistics
	b.WriteString("## Statistics\n\n")
	b.WriteString("| Iterations | Controls | Failures | Faults | Reproduced | Duration |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %d | %d | %d | %d | %d | %s |\n\n", s.Iterations, s.Controls, s.Failures, s.Faults, s.Reproduced, s.Duration)

	fmt.Fprintf(&b, "## Faults (%d)\n\n", len(r.Faults))
	if len(r.Faults) == 0 {
		b.WriteString("No faults detected.\n")
	}
	for _, f := range r.Faults {
		fmt.Fprintf(&b, "### Iteration %d: %s (%s)\n\n", f.Iteration, f.Title, f.Status)
		if f.Source != "" {
			fmt.Fprintf(&b, "Source: %s\n\n", f.Source)
		}
		if f.Description != "" {
			fmt.Fprintf(&b, "%s\n\n", f.Description)
		}
		for _, m := range f.Mutations {
			fmt.Fprintf(&b, "- `%s` %s #%d\n", m.Element, m.Mutator, m.Choice)
		}
		if len(f.Mutations) > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Replay: `fluxcore replay --seed %d --iteration %d`\n\n", r.Seed, f.Iteration)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// Extension returns the file extension
func (g *MarkdownGenerator) Extension() string {
	return "md"
}

// TextGenerator renders a plain one-screen summary
type TextGenerator struct{}

// Generate writes the report to w
func (g *TextGenerator) Generate(r *Report, w io.Writer) error {
	s := r.Statistics
	_, err := fmt.Fprintf(w, "test %s run %s seed %d: %d iterations, %d controls, %d failures, %d faults (%d reproduced) in %s\n",
		r.Test, r.RunID, r.Seed, s.Iterations, s.Controls, s.Failures, s.Faults, s.Reproduced, s.Duration)
	if err != nil {
		return err
	}
	for _, f := range r.Faults {
		if _, err := fmt.Fprintf(w, "  %8d  %-9s  %s\n", f.Iteration, f.Status, f.Title); err != nil {
			return err
		}
	}
	return nil
}

// Extension returns the file extension
func (g *TextGenerator) Extension() string {
	return "txt"
}

// Package report renders validation results and rule suggestions for the
// terminal (lipgloss) or as JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	rc "github.com/gofhir/rulecheck"
	"github.com/gofhir/rulecheck/pkg/suggest"
	"github.com/gofhir/rulecheck/pkg/worker"
)

// File is the validation outcome of one bundle file, as written in JSON
// output.
type File struct {
	Name   string     `json:"name"`
	Error  string     `json:"error,omitempty"`
	Result *rc.Result `json:"result,omitempty"`
}

// Summary totals a batch.
type Summary struct {
	Files  int `json:"files"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
	Errors int `json:"errors"`
}

// Batch is the JSON document for a validation batch.
type Batch struct {
	Files   []File  `json:"files"`
	Summary Summary `json:"summary"`
}

// FromBatch converts worker results into a report document.
func FromBatch(br *worker.BatchResult) Batch {
	doc := Batch{Files: make([]File, 0, len(br.Results))}
	for _, r := range br.Results {
		f := File{Name: r.Name, Result: r.Result}
		if r.Err != nil {
			f.Error = r.Err.Error()
		}
		doc.Files = append(doc.Files, f)
	}
	doc.Summary = Summary{
		Files:  len(br.Results),
		Passed: br.Passed(),
		Failed: len(br.Results) - br.Passed(),
		Errors: br.ErrorCount(),
	}
	return doc
}

// JSON writes v as indented JSON.
func JSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// RenderBatch renders a validation batch as styled text.
func RenderBatch(br *worker.BatchResult) string {
	doc := FromBatch(br)
	var b strings.Builder
	for _, f := range doc.Files {
		renderFile(&b, f)
	}

	status := passStyle.Render("PASS")
	if doc.Summary.Failed > 0 {
		status = failStyle.Render("FAIL")
	}
	b.WriteString(separatorLine + "\n")
	b.WriteString(fmt.Sprintf("  %s  %d files, %d passed, %d failed, %d errors\n",
		status, doc.Summary.Files, doc.Summary.Passed, doc.Summary.Failed, doc.Summary.Errors))
	return b.String()
}

func renderFile(b *strings.Builder, f File) {
	name := f.Name
	if name == "" {
		name = "(stdin)"
	}

	var status string
	switch {
	case f.Error != "":
		status = failStyle.Render("REJECTED")
	case f.Result.Passed:
		status = passStyle.Render("PASS")
	default:
		status = failStyle.Render("FAIL")
	}
	header := titleStyle.Render(name) + "  " + status
	if f.Result != nil {
		c := f.Result.Counts
		header += "\n" + dimStyle.Render(fmt.Sprintf("%d errors  %d warnings  %d info", c.Error, c.Warning, c.Info))
	}
	b.WriteString(boxStyle.Render(header))
	b.WriteString("\n")

	if f.Error != "" {
		b.WriteString("  " + errorTagStyle.Render(f.Error) + "\n\n")
		return
	}
	for _, e := range f.Result.Errors {
		b.WriteString(renderError(e))
	}
	b.WriteString("\n")
}

func severityTag(s rc.Severity) string {
	switch s {
	case rc.SeverityError:
		return errorTagStyle.Render("ERROR")
	case rc.SeverityWarning:
		return warnTagStyle.Render(" WARN")
	}
	return infoTagStyle.Render(" INFO")
}

func renderError(e rc.UnifiedError) string {
	line := fmt.Sprintf("  %s %s  %s", severityTag(e.Severity), pathStyle.Render(e.Path), e.Message)
	var meta []string
	if e.RuleID != "" {
		meta = append(meta, "rule "+e.RuleID)
	}
	meta = append(meta, string(e.Category))
	if e.Occurrences > 1 {
		meta = append(meta, fmt.Sprintf("x%d", e.Occurrences))
	}
	if e.Evidence != "" {
		meta = append(meta, "value "+e.Evidence)
	}
	return line + "  " + dimStyle.Render("("+strings.Join(meta, ", ")+")") + "\n"
}

// RenderSuggestions renders rule suggestions as styled text, best first.
func RenderSuggestions(suggestions []suggest.Suggestion) string {
	var b strings.Builder
	b.WriteString(sectionStyle.Render("Rule suggestions") + " " +
		dimStyle.Render(fmt.Sprintf("(%d)", len(suggestions))) + "\n")

	for _, s := range suggestions {
		score := lipgloss.NewStyle().Bold(true).Foreground(levelColors[string(s.Level)]).
			Render(fmt.Sprintf("%6.2f %-6s", s.Score.Total, s.Level))
		b.WriteString(fmt.Sprintf("  %s  %-13s %s\n", score, s.RuleType, pathStyle.Render(s.TargetPath)))
		b.WriteString("         " + dimStyle.Render(fmt.Sprintf("%s; coverage %.0f%%, %d samples", s.Rationale, s.Coverage, s.SampleSize)) + "\n")
	}
	return b.String()
}

// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/jonathan/applymate/internal/scoring"
	"github.com/jonathan/applymate/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// clip shortens s to n runes, marking the cut with "...".
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, clip(line, boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// writeList writes up to limit items under heading, then a remainder line.
func writeList(sb *strings.Builder, heading string, items []string, limit int) {
	if len(items) == 0 {
		return
	}
	sb.WriteString(heading + ":\n")
	for _, item := range items[:min(len(items), limit)] {
		sb.WriteString(fmt.Sprintf("  • %s\n", clip(item, 50)))
	}
	if len(items) > limit {
		sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(items)-limit))
	}
}

// PrintJobExtraction outputs the fields located on a job posting page.
func (p *Printer) PrintJobExtraction(job *types.JobExtraction) {
	if job == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Title:    %s\n", job.Title))
	if job.Company != nil {
		sb.WriteString(fmt.Sprintf("Company:  %s\n", *job.Company))
	}
	if job.Platform != "" {
		sb.WriteString(fmt.Sprintf("Platform: %s\n", job.Platform))
	}
	if job.SourceDomain != "" {
		sb.WriteString(fmt.Sprintf("Domain:   %s\n", job.SourceDomain))
	}
	if job.ApplyAffordanceFound {
		sb.WriteString(fmt.Sprintf("Apply:    %s\n", job.ApplySelector))
	} else {
		sb.WriteString("Apply:    not found\n")
	}
	if job.FetchError != "" {
		sb.WriteString(fmt.Sprintf("Error:    %s\n", job.FetchError))
	}
	sb.WriteString(fmt.Sprintf("\nDescription (%d chars):\n", utf8.RuneCountInString(job.Description)))
	sb.WriteString(clip(job.Description, 150))

	p.printBox("EXTRACTED JOB POSTING", sb.String())
}

// PrintScore outputs a match score and whether it is a fallback.
func (p *Printer) PrintScore(res scoring.Result) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Score:  %d/100\n", res.Score))
	sb.WriteString(fmt.Sprintf("Status: %s", res.Status))
	if res.Degraded() {
		sb.WriteString(" (fallback)")
	}
	if res.Err != nil {
		sb.WriteString(fmt.Sprintf("\nError:  %v", res.Err))
	}
	if res.Raw != "" {
		sb.WriteString(fmt.Sprintf("\nRaw:    %q", clip(res.Raw, 40)))
	}

	p.printBox("MATCH SCORE", sb.String())
}

// PrintTailoredDocument outputs a summary of a tailored resume.
func (p *Printer) PrintTailoredDocument(doc *types.TailoredDocument) {
	if doc == nil {
		return
	}

	var sb strings.Builder
	if doc.ModelName != "" {
		sb.WriteString(fmt.Sprintf("Model:    %s\n", doc.ModelName))
	}
	sb.WriteString(fmt.Sprintf("ATS est.: %d\n\n", doc.ATSScoreEstimate))
	sb.WriteString(clip(doc.Summary, 150) + "\n\n")

	writeList(&sb, "Key Skills", doc.KeySkills, maxItemsToShow)

	roles := make([]string, 0, len(doc.WorkExperience))
	for _, w := range doc.WorkExperience {
		roles = append(roles, fmt.Sprintf("%s, %s (%d achievements)", w.Title, w.Company, len(w.Achievements)))
	}
	writeList(&sb, "Experience", roles, 3)

	p.printBox("TAILORED RESUME", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintApplication outputs the state of one application.
func (p *Printer) PrintApplication(app *types.Application) {
	if app == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("ID:      %s\n", app.ID))
	sb.WriteString(fmt.Sprintf("Mode:    %s\n", app.Mode))
	sb.WriteString(fmt.Sprintf("Status:  %s\n", app.Status))
	sb.WriteString(fmt.Sprintf("URL:     %s\n", app.JobURL))
	if app.JobTitle != nil {
		sb.WriteString(fmt.Sprintf("Title:   %s\n", *app.JobTitle))
	}
	if app.MatchScore != nil {
		sb.WriteString(fmt.Sprintf("Score:   %d\n", *app.MatchScore))
	}
	if app.RetryCount > 0 {
		sb.WriteString(fmt.Sprintf("Retries: %d\n", app.RetryCount))
	}
	if app.ErrorMessage != nil {
		sb.WriteString(fmt.Sprintf("Error:   %s\n", *app.ErrorMessage))
	}

	p.printBox("APPLICATION", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintEvents outputs a subject's event trail.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintEvents(evs []types.PipelineEvent) {
	if len(evs) == 0 {
		fmt.Fprintf(p.out, "┌%s┐\n", strings.Repeat("─", boxWidth-2))
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, "NO EVENTS RECORDED")
		fmt.Fprintf(p.out, "└%s┘\n", strings.Repeat("─", boxWidth-2))
		return
	}

	var sb strings.Builder
	for i, ev := range evs {
		sb.WriteString(fmt.Sprintf("%s  %s", ev.CreatedAt.Format("15:04:05"), ev.EventType))
		if ev.Message != "" && ev.Message != ev.EventType {
			sb.WriteString(fmt.Sprintf("\n          %s", ev.Message))
		}
		if i < len(evs)-1 {
			sb.WriteString("\n")
		}
	}

	p.printBox(fmt.Sprintf("EVENTS (%d)", len(evs)), sb.String())
}

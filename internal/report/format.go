// Package report renders the outcome of a retag run.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dyluth/retag/internal/retag"
	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

// OutputFormat selects how a RunResult is rendered.
type OutputFormat string

const (
	// OutputFormatText prints one status line per finding and a summary line
	OutputFormatText OutputFormat = "text"

	// OutputFormatJSON prints the full result as indented JSON
	OutputFormatJSON OutputFormat = "json"

	// OutputFormatYAML prints the full result as YAML
	OutputFormatYAML OutputFormat = "yaml"
)

// ParseOutputFormat maps a flag value to an OutputFormat.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case OutputFormatText, "":
		return OutputFormatText, nil
	case OutputFormatJSON:
		return OutputFormatJSON, nil
	case OutputFormatYAML, "yml":
		return OutputFormatYAML, nil
	default:
		return "", fmt.Errorf("unknown output format %q (expected text, json or yaml)", s)
	}
}

var (
	green = color.New(color.FgGreen)
	red   = color.New(color.FgRed, color.Bold)
	cyan  = color.New(color.FgCyan)
)

// Write renders result to w in the given format.
func Write(w io.Writer, result *retag.RunResult, format OutputFormat) error {
	switch format {
	case OutputFormatText:
		FormatText(w, result)
		return nil
	case OutputFormatJSON:
		return FormatJSON(w, result)
	case OutputFormatYAML:
		return FormatYAML(w, result)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

// FormatText writes a line per finding followed by the summary.
func FormatText(w io.Writer, result *retag.RunResult) {
	text := NewText(w, result.OldTag, result.NewTag)
	for _, fr := range result.Findings {
		text.Finding(fr)
	}
	text.Summary(result)
}

// Text renders a run as human-readable lines. Finding may be called as each
// finding completes; Summary ends the report.
type Text struct {
	w      io.Writer
	oldTag string
	newTag string
}

// NewText creates a text renderer for a replacement of oldTag by newTag.
func NewText(w io.Writer, oldTag, newTag string) *Text {
	return &Text{w: w, oldTag: oldTag, newTag: newTag}
}

// Finding writes the detail lines for a single finding. Every finding gets a
// status line, whatever its outcome.
func (t *Text) Finding(fr retag.FindingResult) {
	if fr.RemovedOld {
		fmt.Fprintf(t.w, "   Removed tag '%s' from finding %s\n", t.oldTag, fr.ID)
	}
	if fr.AddedNew {
		fmt.Fprintf(t.w, "   Added tag '%s' to finding %s\n", t.newTag, fr.ID)
	}

	suffix := ""
	if fr.NoOp() {
		suffix = " (no tag changes)"
	}

	switch fr.Status {
	case retag.StatusFailed:
		red.Fprintf(t.w, "❌ Failed to update finding %s: %s\n", fr.ID, fr.Error)
	case retag.StatusPlanned:
		cyan.Fprintf(t.w, "→ Would update finding %s to [%s]%s\n", fr.ID, strings.Join(fr.Tags, ", "), suffix)
	default:
		green.Fprintf(t.w, "✅ Successfully updated finding %s%s\n", fr.ID, suffix)
	}
}

// Summary writes the totals line: succeeded, total and failed counts.
func (t *Text) Summary(result *retag.RunResult) {
	if result.Total == 0 {
		fmt.Fprintf(t.w, "No findings found with tag '%s' in project %s\n", result.OldTag, result.ProjectUUID)
	} else {
		fmt.Fprintln(t.w)
	}

	noun := "findings"
	if result.Total == 1 {
		noun = "finding"
	}

	switch {
	case result.DryRun:
		cyan.Fprintf(t.w, "→ Dry run: %d out of %d %s would be updated\n", result.Succeeded, result.Total, noun)
	case result.Failed > 0:
		red.Fprintf(t.w, "❌ Updated %d out of %d %s (%d failed)\n", result.Succeeded, result.Total, noun, result.Failed)
	default:
		green.Fprintf(t.w, "✅ Updated %d out of %d %s (0 failed)\n", result.Succeeded, result.Total, noun)
	}
}

// FormatJSON writes result as pretty-printed JSON.
func FormatJSON(w io.Writer, result *retag.RunResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result to JSON: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}

	fmt.Fprintln(w)
	return nil
}

// FormatYAML writes result as a YAML document.
func FormatYAML(w io.Writer, result *retag.RunResult) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("failed to write YAML output: %w", err)
	}
	return enc.Close()
}

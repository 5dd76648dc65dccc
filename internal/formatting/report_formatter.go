// Package formatting renders persisted research runs as markdown
// reports.
package formatting

import (
	"fmt"
	"strings"
	"time"

	"github.com/colloquyhq/colloquy/internal/audit"
	"github.com/colloquyhq/colloquy/internal/pipeline"
)

// RenderReport builds a markdown report from a stored run result. It:
//  1. Titles the report with the final (possibly narrowed) topic
//  2. Emits one section per finding, points as bullet lists
//  3. Lists the open questions the run left behind
//  4. Appends a round trace when round records are provided
//  5. Closes with a footer identifying the run
//
// Error results produce a short report carrying the failure message
// instead of findings.
func RenderReport(rec audit.RunRecord, rounds []audit.RoundRecord) string {
	var b strings.Builder

	title := "Research Report"
	if topic := metadataString(rec.Metadata, "final_topic"); topic != "" {
		title += ": " + topic
	}
	b.WriteString("# " + title + "\n")

	if rec.Status != pipeline.StatusSuccess {
		msg := rec.Message
		if msg == "" {
			msg = "no failure detail recorded"
		}
		fmt.Fprintf(&b, "\nThe run ended with status `%s`: %s\n", rec.Status, msg)
		writeFooter(&b, rec)
		return b.String()
	}

	for _, f := range rec.Findings {
		b.WriteString("\n## " + f.Section + "\n\n")
		for _, p := range f.Points {
			b.WriteString("- " + p + "\n")
		}
	}

	b.WriteString("\n## Open Questions\n\n")
	if len(rec.Questions) == 0 {
		b.WriteString("No open questions were recorded.\n")
	} else {
		for _, q := range rec.Questions {
			b.WriteString("- " + q + "\n")
		}
	}

	if len(rounds) > 0 {
		b.WriteString("\n## Round Trace\n\n")
		for _, rr := range rounds {
			fmt.Fprintf(&b, "- Round %d (%s): %s\n", rr.Round, rr.Role, roundSummary(rr))
		}
	}

	writeFooter(&b, rec)
	return b.String()
}

// ReportFilename names the markdown file for a run, used when reports
// are written to an output directory.
func ReportFilename(runID string) string {
	return fmt.Sprintf("report-%s.md", runID)
}

func roundSummary(rr audit.RoundRecord) string {
	if len(rr.Findings) == 0 {
		return "no findings recorded"
	}
	sections := make([]string, 0, len(rr.Findings))
	for _, f := range rr.Findings {
		sections = append(sections, f.Section)
	}
	s := strings.Join(sections, ", ")
	switch n := len(rr.Questions); n {
	case 0:
		return s
	case 1:
		return s + " (1 question raised)"
	default:
		return fmt.Sprintf("%s (%d questions raised)", s, n)
	}
}

func writeFooter(b *strings.Builder, rec audit.RunRecord) {
	b.WriteString("\n---\n\n")
	line := fmt.Sprintf("Run `%s` finished with status %s", rec.RunID, rec.Status)
	if n, ok := metadataInt(rec.Metadata, "num_rounds"); ok {
		line += fmt.Sprintf(" after %d rounds", n)
	}
	if !rec.CreatedAt.IsZero() {
		line += " at " + rec.CreatedAt.UTC().Format(time.RFC3339)
	}
	b.WriteString(line + ".\n")
}

func metadataString(md map[string]any, key string) string {
	if s, ok := md[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// metadataInt tolerates the numeric widening a JSON round trip through
// the audit store applies to metadata values.
func metadataInt(md map[string]any, key string) (int, bool) {
	switch v := md[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

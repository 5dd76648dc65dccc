package formatting

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/colloquyhq/colloquy/internal/audit"
	"github.com/colloquyhq/colloquy/internal/pipeline"
	"github.com/colloquyhq/colloquy/internal/response"
)

func successRecord() audit.RunRecord {
	return audit.RunRecord{
		RunID:  "a1b2c3d4",
		Status: pipeline.StatusSuccess,
		Findings: []response.Finding{
			{Section: "Carbonate chemistry", Points: []string{"CO2 uptake lowers pH", "Aragonite saturation drops"}},
			{Section: "Reef impacts", Points: []string{"Calcification slows under low saturation"}},
		},
		Questions: []string{"How fast do reefs adapt?"},
		Metadata: map[string]any{
			"run_id":      "a1b2c3d4",
			"num_rounds":  3,
			"final_topic": "ocean acidification effects on coral reefs",
		},
		CreatedAt: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

func TestRenderReportSuccess(t *testing.T) {
	out := RenderReport(successRecord(), nil)

	assert.True(t, strings.HasPrefix(out, "# Research Report: ocean acidification effects on coral reefs\n"))
	assert.Contains(t, out, "\n## Carbonate chemistry\n\n- CO2 uptake lowers pH\n- Aragonite saturation drops\n")
	assert.Contains(t, out, "\n## Reef impacts\n\n- Calcification slows under low saturation\n")
	assert.Contains(t, out, "\n## Open Questions\n\n- How fast do reefs adapt?\n")
	assert.Contains(t, out, "Run `a1b2c3d4` finished with status success after 3 rounds at 2026-03-14T09:30:00Z.")
	assert.NotContains(t, out, "## Round Trace")
}

func TestRenderReportError(t *testing.T) {
	rec := audit.RunRecord{
		RunID:   "dead-beef",
		Status:  pipeline.StatusError,
		Message: "agent round 2 failed: runtime unreachable",
	}
	out := RenderReport(rec, nil)

	assert.True(t, strings.HasPrefix(out, "# Research Report\n"))
	assert.Contains(t, out, "The run ended with status `error`: agent round 2 failed: runtime unreachable\n")
	assert.Contains(t, out, "Run `dead-beef` finished with status error.")
	assert.NotContains(t, out, "## Open Questions")
}

func TestRenderReportNoQuestions(t *testing.T) {
	rec := successRecord()
	rec.Questions = nil
	out := RenderReport(rec, nil)

	assert.Contains(t, out, "\n## Open Questions\n\nNo open questions were recorded.\n")
}

func TestRenderReportRoundTrace(t *testing.T) {
	rounds := []audit.RoundRecord{
		{
			Round: 1,
			Role:  "researcher",
			Findings: []response.Finding{
				{Section: "Carbonate chemistry", Points: []string{"a"}},
				{Section: "Observed trends", Points: []string{"b"}},
			},
			Questions: []string{"q1", "q2"},
		},
		{
			Round:     2,
			Role:      "analyst",
			Findings:  []response.Finding{{Section: "Reef impacts", Points: []string{"c"}}},
			Questions: []string{"q3"},
		},
		{Round: 3, Role: "synthesizer"},
	}
	out := RenderReport(successRecord(), rounds)

	assert.Contains(t, out, "\n## Round Trace\n\n")
	assert.Contains(t, out, "- Round 1 (researcher): Carbonate chemistry, Observed trends (2 questions raised)\n")
	assert.Contains(t, out, "- Round 2 (analyst): Reef impacts (1 question raised)\n")
	assert.Contains(t, out, "- Round 3 (synthesizer): no findings recorded\n")
}

// Metadata read back from the audit store arrives with JSON numeric
// types, not the ints the orchestrator stored.
func TestRenderReportRoundTripMetadata(t *testing.T) {
	rec := successRecord()
	rec.Metadata = map[string]any{
		"num_rounds":  float64(3),
		"final_topic": "ocean acidification effects on coral reefs",
	}
	out := RenderReport(rec, nil)

	assert.Contains(t, out, "after 3 rounds")
	assert.Contains(t, out, "# Research Report: ocean acidification effects on coral reefs\n")
}

func TestRenderReportMissingMetadata(t *testing.T) {
	rec := successRecord()
	rec.Metadata = nil
	rec.CreatedAt = time.Time{}
	out := RenderReport(rec, nil)

	assert.True(t, strings.HasPrefix(out, "# Research Report\n"))
	assert.Contains(t, out, "Run `a1b2c3d4` finished with status success.\n")
}

func TestReportFilename(t *testing.T) {
	assert.Equal(t, "report-a1b2c3d4.md", ReportFilename("a1b2c3d4"))
}

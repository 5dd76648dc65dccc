package response

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStructuredText(t *testing.T) {
	payload := map[string]any{
		"findings": []any{
			"Section: Benefits",
			"- Engineered microbes can produce medicine at industrial scale today",
			"- Crops gain drought resistance",
			"Section: Risks",
			"- Escaped organisms may disrupt ecosystems in ways that are hard to reverse",
			"* Dual use concerns remain",
		},
		"questions": []any{
			"How should regulators respond?",
			"What containment methods work?",
		},
		"metadata": map[string]any{"round": float64(1)},
	}

	rec := Parse(payload)

	require.Len(t, rec.Findings, 2)
	assert.Equal(t, "Benefits", rec.Findings[0].Section)
	assert.Len(t, rec.Findings[0].Points, 2)
	assert.Equal(t, "Risks", rec.Findings[1].Section)
	assert.Equal(t, []string{
		"How should regulators respond?",
		"What containment methods work?",
	}, rec.Questions)
	assert.Equal(t, RoleInitialResearcher, rec.Metadata["role"])
}

func TestParseHeadingMarkers(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		section string
	}{
		{"section prefix", "Section: Ocean Currents", "Ocean Currents"},
		{"findings for prefix", "Findings for: deep sea mining", "deep sea mining"},
		{"triple hash", "### Energy Storage", "Energy Storage"},
		{"single hash", "# Energy Storage", "Energy Storage"},
		{"bold marker", "**Policy Gaps**", "Policy Gaps"},
		{"numbered heading", "1. Introduction", "Introduction"},
		{"double digit heading", "10. Closing Notes", "Closing Notes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Parse(map[string]any{
				"findings": []any{tt.line, "- a sufficiently detailed point"},
			})
			require.Len(t, rec.Findings, 1)
			assert.Equal(t, tt.section, rec.Findings[0].Section)
		})
	}
}

func TestParseFirstPlainLineBecomesHeading(t *testing.T) {
	rec := Parse(map[string]any{
		"findings": []any{
			"General observations",
			"the first free line attaches to the open section",
			"- so does this bullet",
		},
	})
	require.Len(t, rec.Findings, 1)
	assert.Equal(t, "General observations", rec.Findings[0].Section)
	assert.Len(t, rec.Findings[0].Points, 2)
}

func TestParseBulletWithoutSectionDropped(t *testing.T) {
	rec := Parse(map[string]any{
		"findings": []any{
			"- orphan bullet",
			"Section: Real",
			"- kept point",
		},
	})
	require.Len(t, rec.Findings, 1)
	assert.Equal(t, "Real", rec.Findings[0].Section)
	assert.Equal(t, []string{"kept point"}, rec.Findings[0].Points)
}

func TestParseFlatBlobSplitsLines(t *testing.T) {
	rec := Parse(map[string]any{
		"findings": "Section: Alpha\n- first point\n- second point\nSection: Beta\n- third point",
	})
	require.Len(t, rec.Findings, 2)
	assert.Equal(t, "Alpha", rec.Findings[0].Section)
	assert.Equal(t, "Beta", rec.Findings[1].Section)
}

func TestParseQuestionGroupingFallback(t *testing.T) {
	// No heading markers and no bullets: lines only group under the
	// questions whose words they mention.
	rec := Parse(map[string]any{
		"findings": []any{
			"regulation lags behind laboratory capability",
			"containment protocols vary widely between jurisdictions",
		},
		"questions_to_answer": []any{
			"How is regulation evolving?",
			"Which containment protocols exist?",
			"zzz unrelated query qqq",
		},
	})

	require.Len(t, rec.Findings, 2)
	assert.Equal(t, "Findings for How is regulation evolving?", rec.Findings[0].Section)
	assert.Equal(t, "Findings for Which containment protocols exist?", rec.Findings[1].Section)
	assert.Equal(t, []string{
		"How is regulation evolving?",
		"Which containment protocols exist?",
		"zzz unrelated query qqq",
	}, rec.QuestionsToAnswer)
}

func TestParseKeyFindingsFallback(t *testing.T) {
	rec := Parse(map[string]any{
		"findings": []any{
			"- stray bullet with nothing to attach to",
		},
	})
	require.Len(t, rec.Findings, 1)
	assert.Equal(t, "Key Findings", rec.Findings[0].Section)
	assert.Equal(t, []string{"- stray bullet with nothing to attach to"}, rec.Findings[0].Points[:1])
}

func TestParseObjectFindings(t *testing.T) {
	rec := Parse(map[string]any{
		"findings": []any{
			map[string]any{"section": "Named", "points": []any{"one point", "two point"}},
			map[string]any{"points": []any{"section name backfilled"}},
			map[string]any{"section": "Content Only", "content": "single content value"},
			map[string]any{"section": "Dropped"},
		},
	})

	require.Len(t, rec.Findings, 3)
	assert.Equal(t, "Named", rec.Findings[0].Section)
	assert.Equal(t, "Key Findings", rec.Findings[1].Section)
	assert.Equal(t, []string{"single content value"}, rec.Findings[2].Points)
}

func TestParseMixedFindingsKeepsObjects(t *testing.T) {
	rec := Parse(map[string]any{
		"findings": []any{
			"a loose string line",
			map[string]any{"section": "Kept", "points": []any{"object entries survive"}},
		},
	})
	require.Len(t, rec.Findings, 1)
	assert.Equal(t, "Kept", rec.Findings[0].Section)
}

func TestParseJSONString(t *testing.T) {
	raw := `{"findings":[{"section":"Wire","points":["decoded from a JSON string"]}],"questions":["next?"],"metadata":{"round":2}}`

	for _, input := range []any{raw, []byte(raw), json.RawMessage(raw)} {
		rec := Parse(input)
		require.Len(t, rec.Findings, 1)
		assert.Equal(t, "Wire", rec.Findings[0].Section)
		assert.Equal(t, RoleCriticalAnalyst, rec.Metadata["role"])
	}
}

func TestParseGarbageText(t *testing.T) {
	rec := Parse("I could not produce JSON today, sorry! (model note)")

	require.Len(t, rec.Findings, 1)
	assert.Equal(t, "Key Findings", rec.Findings[0].Section)
	assert.Equal(t, []string{"I could not produce JSON today, sorry! model note"}, rec.Findings[0].Points)
	assert.Empty(t, rec.Questions)
	assert.Empty(t, rec.Metadata)
}

func TestParseNonMappingJSON(t *testing.T) {
	rec := Parse(`["a","list","payload"]`)
	require.Len(t, rec.Findings, 1)
	assert.Equal(t, "Key Findings", rec.Findings[0].Section)
}

func TestParseStringWrappedPayload(t *testing.T) {
	raw := json.RawMessage(`"{\"findings\": [{\"section\": \"Costs\", \"points\": [\"p1\"]}], \"questions\": [\"q1\"]}"`)
	rec := Parse(raw)

	require.Len(t, rec.Findings, 1)
	assert.Equal(t, "Costs", rec.Findings[0].Section)
	assert.Equal(t, []string{"p1"}, rec.Findings[0].Points)
	assert.Equal(t, []string{"q1"}, rec.Questions)
}

func TestParseCleaning(t *testing.T) {
	rec := Parse(map[string]any{
		"findings": []any{
			map[string]any{"section": "  Spaced   Out  ", "points": []any{"first\\npoint", "   ", "@@@"}},
			map[string]any{"section": "***", "points": []any{"points survive an unusable title"}},
		},
		"questions": []any{"  keep me  ", "###", ""},
	})

	require.Len(t, rec.Findings, 2)
	assert.Equal(t, "Spaced Out", rec.Findings[0].Section)
	assert.Equal(t, []string{"first point"}, rec.Findings[0].Points)
	assert.Equal(t, "Key Findings", rec.Findings[1].Section)
	assert.Equal(t, []string{"keep me"}, rec.Questions)
}

func TestParseRoleLabels(t *testing.T) {
	tests := []struct {
		name  string
		round any
		role  string
	}{
		{"round one", float64(1), RoleInitialResearcher},
		{"round two", 2, RoleCriticalAnalyst},
		{"round three", float64(3), RolePracticalImplementer},
		{"later round", int64(7), RolePracticalImplementer},
		{"digit string round", "1", RoleInitialResearcher},
		{"digit string round two", "2", RoleCriticalAnalyst},
		{"unparseable round", "first", RolePracticalImplementer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Parse(map[string]any{"metadata": map[string]any{"round": tt.round}})
			assert.Equal(t, tt.role, rec.Metadata["role"])
		})
	}

	t.Run("no round key", func(t *testing.T) {
		rec := Parse(map[string]any{"metadata": map[string]any{"topic": "bees"}})
		_, ok := rec.Metadata["role"]
		assert.False(t, ok)
	})
}

func TestParseNeverPanics(t *testing.T) {
	inputs := []any{
		nil,
		42,
		"",
		"null",
		`{"findings": 7}`,
		map[string]any{"findings": map[string]any{"not": "a list"}},
		map[string]any{"questions": []any{1, 2, 3}},
		json.RawMessage(`{"metadata":"not a map"}`),
	}
	for _, input := range inputs {
		assert.NotPanics(t, func() { Parse(input) })
	}
}

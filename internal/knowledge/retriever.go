package knowledge

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/colloquyhq/colloquy/internal/metrics"
	"github.com/colloquyhq/colloquy/internal/response"
	"github.com/colloquyhq/colloquy/internal/textnorm"
	"github.com/colloquyhq/colloquy/internal/util"
)

// substantivePointLength is the threshold above which a point counts
// as carrying real content for the quality filter.
const substantivePointLength = 50

// genericQuestions pad the context when prior rounds produced fewer
// than three unique questions.
var genericQuestions = []string{
	"What are the key challenges and limitations in this area?",
	"How can these findings be applied in real-world scenarios?",
	"What future developments or trends should be considered?",
}

// Retriever assembles the context bundle for a round from stored
// entries. Store failures propagate to the caller; the retriever never
// substitutes an empty bundle for a broken store.
type Retriever struct {
	store  Store
	logger *zap.Logger
}

func NewRetriever(store Store, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{store: store, logger: logger.Named("retriever")}
}

// GetContext queries the store for entries relevant to topic within
// the run, deduplicates and quality-filters their findings, and
// collects the previous round's questions, padded with generic ones
// so the result always carries at least three.
func (r *Retriever) GetContext(ctx context.Context, topic, runID string) (Bundle, error) {
	entries, err := r.store.Query(ctx, QueryRequest{RunID: runID, Topic: topic})
	if err != nil {
		metrics.RecordContextRetrieval("error")
		r.logger.Error("Knowledge store query failed",
			zap.String("run_id", runID),
			zap.String("topic", util.TruncateString(topic, 120)),
			zap.Error(err),
		)
		return Bundle{}, fmt.Errorf("query knowledge store: %w", err)
	}

	findings := filterFindings(flattenFindings(entries))
	questions := padQuestions(uniqueQuestions(priorQuestions(entries)))

	metrics.RecordContextRetrieval("ok")
	r.logger.Debug("Context assembled",
		zap.String("run_id", runID),
		zap.Int("entries", len(entries)),
		zap.Int("findings", len(findings)),
		zap.Int("questions", len(questions)),
	)

	return Bundle{PreviousQuestions: questions, RelevantFindings: findings}, nil
}

func flattenFindings(entries []Entry) []response.Finding {
	var out []response.Finding
	for _, e := range entries {
		out = append(out, e.Findings...)
	}
	return out
}

// filterFindings keeps the first finding per section family (section
// titles that contain one another are one family) that has at least
// two points, one of them substantive. Findings failing the quality
// bar do not claim their section.
func filterFindings(findings []response.Finding) []response.Finding {
	var seen []string
	var unique []response.Finding
	for _, f := range findings {
		section := strings.ToLower(f.Section)
		if overlapsSeen(seen, section) {
			continue
		}
		if len(f.Points) < 2 {
			continue
		}
		if !hasSubstantivePoint(f.Points) {
			continue
		}
		seen = append(seen, section)
		unique = append(unique, f)
	}
	return unique
}

func overlapsSeen(seen []string, section string) bool {
	for _, s := range seen {
		if strings.Contains(s, section) || strings.Contains(section, s) {
			return true
		}
	}
	return false
}

func hasSubstantivePoint(points []string) bool {
	for _, p := range points {
		if len(strings.TrimSpace(p)) > substantivePointLength {
			return true
		}
	}
	return false
}

// priorQuestions picks the questions of the round before the most
// recent one. Entries carrying round numbers are matched by round;
// otherwise the positional second-to-last entry is used. A single
// aggregate entry contributes its own questions.
func priorQuestions(entries []Entry) []string {
	switch len(entries) {
	case 0:
		return nil
	case 1:
		if entries[0].Round == 0 {
			return entries[0].Questions
		}
		return nil
	}

	last, prev := -1, -1
	for i, e := range entries {
		if e.Round <= 0 {
			continue
		}
		switch {
		case last == -1 || e.Round >= entries[last].Round:
			prev = last
			last = i
		case prev == -1 || e.Round >= entries[prev].Round:
			prev = i
		}
	}
	if prev >= 0 {
		return entries[prev].Questions
	}
	return entries[len(entries)-2].Questions
}

func uniqueQuestions(questions []string) []string {
	var out []string
	for _, q := range questions {
		cq := textnorm.Normalize(q)
		if cq == "" || util.ContainsString(out, cq) {
			continue
		}
		out = append(out, cq)
	}
	return out
}

func padQuestions(questions []string) []string {
	if len(questions) >= 3 {
		return questions
	}
	for _, g := range genericQuestions {
		if !util.ContainsString(questions, g) {
			questions = append(questions, g)
		}
	}
	return questions
}

// Package knowledge defines the store used to persist per-round
// pipeline records and the retriever that turns stored rounds into
// context for the next agent.
package knowledge

import (
	"context"

	"github.com/colloquyhq/colloquy/internal/response"
)

// Entry is one stored round record. Round is 1-based; a Round of zero
// marks an aggregate entry assembled by the backing service rather
// than a single round.
type Entry struct {
	RunID     string             `json:"run_id"`
	Round     int                `json:"round,omitempty"`
	Topic     string             `json:"topic"`
	Findings  []response.Finding `json:"findings"`
	Questions []string           `json:"questions"`
	Metadata  map[string]any     `json:"metadata,omitempty"`
}

// QueryRequest selects entries relevant to a topic within one run.
// Limit of zero means backend default.
type QueryRequest struct {
	RunID string
	Topic string
	Limit int
}

// Store persists round entries and retrieves them for context
// building. Query returns a run's entries in insertion (round) order.
type Store interface {
	Write(ctx context.Context, entry Entry) error
	Query(ctx context.Context, req QueryRequest) ([]Entry, error)
}

// Bundle is the context handed to agents in rounds after the first.
type Bundle struct {
	PreviousQuestions []string           `json:"previous_questions"`
	RelevantFindings  []response.Finding `json:"relevant_findings"`
}

// Package response decodes raw agent output into structured round
// records. Agents return loosely structured JSON; this package is the
// single place that shape is interpreted.
package response

// Finding is one titled group of points extracted from agent output.
// After parsing, Section is non-empty and Points holds at least one
// normalized entry.
type Finding struct {
	Section string   `json:"section"`
	Points  []string `json:"points"`
}

// Record is the structured form of one agent round response.
type Record struct {
	Findings          []Finding      `json:"findings"`
	Questions         []string       `json:"questions"`
	Metadata          map[string]any `json:"metadata"`
	QuestionsToAnswer []string       `json:"questions_to_answer,omitempty"`
}

// Role labels derived from the round number in response metadata.
const (
	RoleInitialResearcher    = "Initial Researcher"
	RoleCriticalAnalyst      = "Critical Analyst"
	RolePracticalImplementer = "Practical Implementer"
)

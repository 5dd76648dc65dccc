package audit

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/colloquyhq/colloquy/internal/response"
)

// JSONB represents a PostgreSQL jsonb column
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}

	return json.Unmarshal(bytes, j)
}

// RoundRecord is one persisted agent round: the prompt that was sent,
// the raw reply, and the structured record parsed from it.
type RoundRecord struct {
	ID          uuid.UUID
	RunID       string
	Round       int
	Role        string
	Prompt      string
	RawResponse json.RawMessage
	Findings    []response.Finding
	Questions   []string
	Metadata    map[string]interface{}
	CreatedAt   time.Time
}

// RunRecord is the final outcome of a run, success or error.
type RunRecord struct {
	RunID     string
	Status    string
	Findings  []response.Finding
	Questions []string
	Metadata  map[string]interface{}
	Message   string
	CreatedAt time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS round_records (
	id UUID PRIMARY KEY,
	run_id TEXT NOT NULL,
	round INT NOT NULL,
	role TEXT NOT NULL,
	prompt TEXT NOT NULL DEFAULT '',
	raw_response JSONB,
	findings JSONB NOT NULL DEFAULT '[]',
	questions JSONB NOT NULL DEFAULT '[]',
	metadata JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_round_records_run ON round_records (run_id, round);

CREATE TABLE IF NOT EXISTS run_results (
	run_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	findings JSONB NOT NULL DEFAULT '[]',
	questions JSONB NOT NULL DEFAULT '[]',
	metadata JSONB,
	message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// roundRow is the scan target for round_records
type roundRow struct {
	ID          uuid.UUID `db:"id"`
	RunID       string    `db:"run_id"`
	Round       int       `db:"round"`
	Role        string    `db:"role"`
	Prompt      string    `db:"prompt"`
	RawResponse []byte    `db:"raw_response"`
	Findings    []byte    `db:"findings"`
	Questions   []byte    `db:"questions"`
	Metadata    JSONB     `db:"metadata"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r roundRow) toRecord() (RoundRecord, error) {
	rec := RoundRecord{
		ID:        r.ID,
		RunID:     r.RunID,
		Round:     r.Round,
		Role:      r.Role,
		Prompt:    r.Prompt,
		Metadata:  r.Metadata,
		CreatedAt: r.CreatedAt,
	}
	if len(r.RawResponse) > 0 {
		rec.RawResponse = json.RawMessage(r.RawResponse)
	}
	if len(r.Findings) > 0 {
		if err := json.Unmarshal(r.Findings, &rec.Findings); err != nil {
			return RoundRecord{}, fmt.Errorf("audit: decode findings: %w", err)
		}
	}
	if len(r.Questions) > 0 {
		if err := json.Unmarshal(r.Questions, &rec.Questions); err != nil {
			return RoundRecord{}, fmt.Errorf("audit: decode questions: %w", err)
		}
	}
	return rec, nil
}

// runRow is the scan target for run_results
type runRow struct {
	RunID     string    `db:"run_id"`
	Status    string    `db:"status"`
	Findings  []byte    `db:"findings"`
	Questions []byte    `db:"questions"`
	Metadata  JSONB     `db:"metadata"`
	Message   string    `db:"message"`
	CreatedAt time.Time `db:"created_at"`
}

func (r runRow) toRecord() (RunRecord, error) {
	rec := RunRecord{
		RunID:     r.RunID,
		Status:    r.Status,
		Metadata:  r.Metadata,
		Message:   r.Message,
		CreatedAt: r.CreatedAt,
	}
	if len(r.Findings) > 0 {
		if err := json.Unmarshal(r.Findings, &rec.Findings); err != nil {
			return RunRecord{}, fmt.Errorf("audit: decode findings: %w", err)
		}
	}
	if len(r.Questions) > 0 {
		if err := json.Unmarshal(r.Questions, &rec.Questions); err != nil {
			return RunRecord{}, fmt.Errorf("audit: decode questions: %w", err)
		}
	}
	return rec, nil
}

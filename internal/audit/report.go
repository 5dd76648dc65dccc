package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound reports that a run has no persisted result
var ErrNotFound = errors.New("audit: run not found")

const selectResultSQL = `
	SELECT run_id, status, findings, questions, metadata, message, created_at
	FROM run_results
	WHERE run_id = $1`

// GetRunResult loads the persisted outcome of one run
func (w *Writer) GetRunResult(ctx context.Context, runID string) (RunRecord, error) {
	var row runRow
	err := w.db.GetContext(ctx, &row, selectResultSQL, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, ErrNotFound
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("audit: load run result: %w", err)
	}
	return row.toRecord()
}

const selectRoundsSQL = `
	SELECT id, run_id, round, role, prompt, raw_response,
	       findings, questions, metadata, created_at
	FROM round_records
	WHERE run_id = $1
	ORDER BY round, created_at`

// GetRoundRecords loads a run's round records in round order
func (w *Writer) GetRoundRecords(ctx context.Context, runID string) ([]RoundRecord, error) {
	var rows []roundRow
	if err := w.db.SelectContext(ctx, &rows, selectRoundsSQL, runID); err != nil {
		return nil, fmt.Errorf("audit: load round records: %w", err)
	}

	records := make([]RoundRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

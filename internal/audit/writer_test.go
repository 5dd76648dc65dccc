package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/colloquyhq/colloquy/internal/response"
)

// newMockWriter builds a writer over sqlmock with an unbuffered queue
// and no running workers, so every save takes the synchronous path and
// the tests stay deterministic.
func newMockWriter(t *testing.T) (*Writer, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	w := newWriter(sqlx.NewDb(db, "sqlmock"), Config{}, zaptest.NewLogger(t))
	w.writeQueue = make(chan writeRequest)
	return w, mock
}

func TestSaveRoundSynchronousArgs(t *testing.T) {
	w, mock := newMockWriter(t)

	findings := []response.Finding{{Section: "Chemistry", Points: []string{"CO2 uptake lowers pH"}}}
	wantFindings, err := json.Marshal(findings)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO round_records").
		WithArgs(
			sqlmock.AnyArg(), "run-1", 2, "analyst", "prompt text",
			[]byte(`{"findings":[]}`), wantFindings, []byte(`["What next?"]`),
			sqlmock.AnyArg(), sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = w.SaveRound(context.Background(), RoundRecord{
		RunID:       "run-1",
		Round:       2,
		Role:        "analyst",
		Prompt:      "prompt text",
		RawResponse: json.RawMessage(`{"findings":[]}`),
		Findings:    findings,
		Questions:   []string{"What next?"},
		Metadata:    map[string]interface{}{"round": 2},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRoundNilSlicesBecomeEmptyArrays(t *testing.T) {
	w, mock := newMockWriter(t)

	mock.ExpectExec("INSERT INTO round_records").
		WithArgs(
			sqlmock.AnyArg(), "run-1", 1, "researcher", "",
			nil, []byte(`[]`), []byte(`[]`),
			sqlmock.AnyArg(), sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := w.SaveRound(context.Background(), RoundRecord{RunID: "run-1", Round: 1, Role: "researcher"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRoundAsyncViaWorkers(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	w := newWriter(sqlx.NewDb(db, "sqlmock"), Config{QueueSize: 8, Workers: 1}, zaptest.NewLogger(t))
	w.start()

	mock.ExpectExec("INSERT INTO round_records").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	err = w.SaveRound(context.Background(), RoundRecord{RunID: "run-async", Round: 1, Role: "researcher"})
	require.NoError(t, err)

	// Close drains the queue before shutting the pool down
	require.NoError(t, w.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveResultUpsert(t *testing.T) {
	w, mock := newMockWriter(t)

	mock.ExpectExec("INSERT INTO run_results").
		WithArgs(
			"run-1", "success",
			[]byte(`[{"section":"Key Findings","points":["p1"]}]`),
			[]byte(`["q1","q2"]`),
			sqlmock.AnyArg(), "", sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := w.SaveResult(context.Background(), RunRecord{
		RunID:     "run-1",
		Status:    "success",
		Findings:  []response.Finding{{Section: "Key Findings", Points: []string{"p1"}}},
		Questions: []string{"q1", "q2"},
		Metadata:  map[string]interface{}{"num_rounds": 3},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunResult(t *testing.T) {
	w, mock := newMockWriter(t)

	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"run_id", "status", "findings", "questions", "metadata", "message", "created_at"}).
		AddRow("run-1", "success",
			[]byte(`[{"section":"Risks","points":["a","b"]}]`),
			[]byte(`["q1"]`),
			[]byte(`{"num_rounds":3,"final_topic":"storage"}`),
			"", created)

	mock.ExpectQuery("SELECT (.+) FROM run_results").
		WithArgs("run-1").
		WillReturnRows(rows)

	rec, err := w.GetRunResult(context.Background(), "run-1")
	require.NoError(t, err)

	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, "success", rec.Status)
	require.Len(t, rec.Findings, 1)
	assert.Equal(t, "Risks", rec.Findings[0].Section)
	assert.Equal(t, []string{"a", "b"}, rec.Findings[0].Points)
	assert.Equal(t, []string{"q1"}, rec.Questions)
	assert.Equal(t, "storage", rec.Metadata["final_topic"])
	assert.Equal(t, created, rec.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunResultNotFound(t *testing.T) {
	w, mock := newMockWriter(t)

	mock.ExpectQuery("SELECT (.+) FROM run_results").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := w.GetRunResult(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetRoundRecords(t *testing.T) {
	w, mock := newMockWriter(t)

	rows := sqlmock.NewRows([]string{
		"id", "run_id", "round", "role", "prompt", "raw_response",
		"findings", "questions", "metadata", "created_at",
	}).
		AddRow(uuid.New(), "run-1", 1, "researcher", "research prompt", []byte(`{"raw":1}`),
			[]byte(`[{"section":"Benefits","points":["x"]}]`), []byte(`["q1"]`),
			[]byte(`{"type":"research"}`), time.Now()).
		AddRow(uuid.New(), "run-1", 2, "analyst", "agent prompt", nil,
			[]byte(`[]`), []byte(`[]`), nil, time.Now())

	mock.ExpectQuery("SELECT (.+) FROM round_records").
		WithArgs("run-1").
		WillReturnRows(rows)

	records, err := w.GetRoundRecords(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, 1, records[0].Round)
	assert.Equal(t, "researcher", records[0].Role)
	assert.JSONEq(t, `{"raw":1}`, string(records[0].RawResponse))
	require.Len(t, records[0].Findings, 1)
	assert.Equal(t, "Benefits", records[0].Findings[0].Section)

	assert.Equal(t, 2, records[1].Round)
	assert.Empty(t, records[1].Findings)
	assert.Nil(t, records[1].RawResponse)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueFullFallsBackToSync(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	// Workers never started: the first record parks in the queue, the
	// second must take the synchronous path.
	w := newWriter(sqlx.NewDb(db, "sqlmock"), Config{QueueSize: 1, Workers: 1}, zaptest.NewLogger(t))

	mock.ExpectExec("INSERT INTO round_records").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, w.SaveRound(context.Background(), RoundRecord{RunID: "run-1", Round: 1, Role: "researcher"}))
	require.NoError(t, w.SaveRound(context.Background(), RoundRecord{RunID: "run-1", Round: 2, Role: "analyst"}))

	assert.NoError(t, mock.ExpectationsWereMet())
}

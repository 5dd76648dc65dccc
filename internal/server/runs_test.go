package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/colloquyhq/colloquy/internal/audit"
	"github.com/colloquyhq/colloquy/internal/auth"
	"github.com/colloquyhq/colloquy/internal/config"
	"github.com/colloquyhq/colloquy/internal/pipeline"
	"github.com/colloquyhq/colloquy/internal/policy"
	"github.com/colloquyhq/colloquy/internal/response"
)

type fakeRunner struct {
	lastInput pipeline.RunInput
	calls     int
	result    pipeline.Result
}

func (f *fakeRunner) Run(ctx context.Context, input pipeline.RunInput) pipeline.Result {
	f.lastInput = input
	f.calls++
	return f.result
}

type fakeReports struct {
	rec       audit.RunRecord
	rounds    []audit.RoundRecord
	resultErr error
	roundsErr error
}

func (f *fakeReports) GetRunResult(ctx context.Context, runID string) (audit.RunRecord, error) {
	if f.resultErr != nil {
		return audit.RunRecord{}, f.resultErr
	}
	return f.rec, nil
}

func (f *fakeReports) GetRoundRecords(ctx context.Context, runID string) ([]audit.RoundRecord, error) {
	if f.roundsErr != nil {
		return nil, f.roundsErr
	}
	return f.rounds, nil
}

func successResult() pipeline.Result {
	return pipeline.Result{
		Status:    pipeline.StatusSuccess,
		Findings:  []response.Finding{{Section: "Background", Points: []string{"a", "b"}}},
		Questions: []string{"q1"},
		Metadata: map[string]any{
			"run_id":      "run-1",
			"num_rounds":  3,
			"final_topic": "solid state batteries",
		},
	}
}

func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = zaptest.NewLogger(t)
	}
	srv, err := New(*config.Default(), deps)
	require.NoError(t, err)
	return srv
}

func TestNewRequiresRunner(t *testing.T) {
	_, err := New(*config.Default(), Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runner is required")
}

func TestCreateRunDefaultsApplied(t *testing.T) {
	runner := &fakeRunner{result: successResult()}
	srv := newTestServer(t, Deps{Runner: runner})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(`{"topic":"  solid state batteries  "}`))
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "solid state batteries", runner.lastInput.Topic)
	assert.Equal(t, config.Default().Pipeline.Temperature, runner.lastInput.Temperature)
	assert.Equal(t, config.Default().Pipeline.MaxTokens, runner.lastInput.MaxTokens)

	var got pipeline.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, pipeline.StatusSuccess, got.Status)
	require.Len(t, got.Findings, 1)
	assert.Equal(t, "Background", got.Findings[0].Section)
	assert.Equal(t, []string{"q1"}, got.Questions)
}

func TestCreateRunExplicitParams(t *testing.T) {
	runner := &fakeRunner{result: successResult()}
	srv := newTestServer(t, Deps{Runner: runner})

	body := `{"topic":"fusion power","temperature":0.2,"max_tokens":800}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.2, runner.lastInput.Temperature)
	assert.Equal(t, 800, runner.lastInput.MaxTokens)
}

func TestCreateRunEmptyTopic(t *testing.T) {
	runner := &fakeRunner{result: successResult()}
	srv := newTestServer(t, Deps{Runner: runner})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(`{"topic":"   "}`))
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"topic is required"}`, rec.Body.String())
	assert.Zero(t, runner.calls)
}

func TestCreateRunRejectsUnknownFields(t *testing.T) {
	runner := &fakeRunner{result: successResult()}
	srv := newTestServer(t, Deps{Runner: runner})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(`{"topic":"x","rounds":5}`))
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, runner.calls)
}

func TestCreateRunErrorResultRelayed(t *testing.T) {
	runner := &fakeRunner{result: pipeline.Result{
		Status:  pipeline.StatusError,
		Message: "agent round 1 failed: runtime unreachable",
	}}
	srv := newTestServer(t, Deps{Runner: runner})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(`{"topic":"x"}`))
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"status":"error","message":"agent round 1 failed: runtime unreachable"}`, rec.Body.String())
}

func TestCreateRunPolicyDenied(t *testing.T) {
	dir := t.TempDir()
	denyPolicy := "package colloquy.run\n\ndefault decision := {\"allow\": false, \"reason\": \"runs are disabled\"}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "deny.rego"), []byte(denyPolicy), 0o644))

	eng, err := policy.New(policy.Config{
		Enabled:     true,
		Mode:        policy.ModeEnforce,
		Path:        dir,
		Environment: "dev",
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	runner := &fakeRunner{result: successResult()}
	srv := newTestServer(t, Deps{Runner: runner, Policy: eng})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(`{"topic":"x"}`))
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "runs are disabled")
	assert.Zero(t, runner.calls)
}

func TestGetReport(t *testing.T) {
	reports := &fakeReports{
		rec: audit.RunRecord{
			RunID:  "run-1",
			Status: pipeline.StatusSuccess,
			Findings: []response.Finding{
				{Section: "Background", Points: []string{"a"}},
			},
			Questions: []string{"q1"},
			Metadata:  map[string]any{"num_rounds": float64(3), "final_topic": "solid state batteries"},
			CreatedAt: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
		},
		rounds: []audit.RoundRecord{
			{Round: 1, Role: "researcher", Findings: []response.Finding{{Section: "Background", Points: []string{"a"}}}},
		},
	}
	srv := newTestServer(t, Deps{Runner: &fakeRunner{}, Reports: reports})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-1/report", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/markdown; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "# Research Report: solid state batteries")
	assert.Contains(t, rec.Body.String(), "## Round Trace")
}

func TestGetReportRoundsFailureStillRenders(t *testing.T) {
	reports := &fakeReports{
		rec:       audit.RunRecord{RunID: "run-1", Status: pipeline.StatusSuccess},
		roundsErr: assert.AnError,
	}
	srv := newTestServer(t, Deps{Runner: &fakeRunner{}, Reports: reports})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-1/report", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# Research Report")
	assert.NotContains(t, rec.Body.String(), "## Round Trace")
}

func TestGetReportNotFound(t *testing.T) {
	reports := &fakeReports{resultErr: audit.ErrNotFound}
	srv := newTestServer(t, Deps{Runner: &fakeRunner{}, Reports: reports})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/nope/report", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"run not found"}`, rec.Body.String())
}

func TestGetReportStorageDisabled(t *testing.T) {
	srv := newTestServer(t, Deps{Runner: &fakeRunner{}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-1/report", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"report storage is not enabled"}`, rec.Body.String())
}

func TestAuthEnforcedOnRoutes(t *testing.T) {
	jm := auth.NewJWTManager("0123456789abcdef0123456789abcdef", time.Hour)
	mw := auth.NewMiddleware(jm, false)

	runner := &fakeRunner{result: successResult()}
	reports := &fakeReports{rec: audit.RunRecord{RunID: "run-1", Status: pipeline.StatusSuccess}}
	srv := newTestServer(t, Deps{Runner: runner, Reports: reports, Auth: mw})

	// No token at all.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(`{"topic":"x"}`))
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, runner.calls)

	// A user token may start runs but not read reports.
	pair, _, err := jm.GenerateTokenPair(&auth.User{
		ID:       uuid.New(),
		Email:    "ada@example.com",
		Username: "ada",
		TenantID: uuid.New(),
		Role:     auth.RoleUser,
	})
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(`{"topic":"x"}`))
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec = httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-1/report", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec = httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "reports:read")
}

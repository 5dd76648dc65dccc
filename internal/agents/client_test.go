package agents

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/colloquyhq/colloquy/internal/response"
)

func TestInvokeSuccess(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results": [{"partial": true}, {"findings": [], "questions": []}]}`))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, Timeout: 5 * time.Second}, nil, zaptest.NewLogger(t))

	result, err := client.Invoke(context.Background(), "researcher", RunRequest{
		Topic:       "ocean acidification",
		Round:       1,
		Temperature: 0.8,
		MaxTokens:   1500,
	})
	require.NoError(t, err)

	assert.Equal(t, "/agents/researcher/run", gotPath)
	assert.Equal(t, "ocean acidification", gotBody["topic"])
	assert.Equal(t, float64(1), gotBody["round"])
	assert.Equal(t, 0.8, gotBody["temperature"])
	assert.Equal(t, float64(1500), gotBody["max_tokens"])

	// nil context slices must arrive as empty lists, not null
	reqCtx, ok := gotBody["context"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, []interface{}{}, reqCtx["previous_questions"])
	assert.Equal(t, []interface{}{}, reqCtx["relevant_findings"])

	require.Len(t, result.Results, 2)
	assert.JSONEq(t, `{"findings": [], "questions": []}`, string(result.Last()))
}

func TestInvokeSendsContext(t *testing.T) {
	var gotBody RunRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"results": [{}]}`))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, nil, zaptest.NewLogger(t))

	_, err := client.Invoke(context.Background(), "analyst", RunRequest{
		Topic: "ocean acidification",
		Round: 2,
		Context: RunContext{
			PreviousQuestions: []string{"What drives local pH variance?"},
			RelevantFindings: []response.Finding{
				{Section: "Chemistry", Points: []string{"CO2 uptake lowers pH"}},
			},
			FormattedContent: "Topic: reef impact",
		},
	})
	require.NoError(t, err)

	require.Len(t, gotBody.Context.PreviousQuestions, 1)
	assert.Equal(t, "What drives local pH variance?", gotBody.Context.PreviousQuestions[0])
	require.Len(t, gotBody.Context.RelevantFindings, 1)
	assert.Equal(t, "Chemistry", gotBody.Context.RelevantFindings[0].Section)
	assert.Equal(t, "Topic: reef impact", gotBody.Context.FormattedContent)
}

func TestInvokeEmptyResultsIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results": []}`))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, nil, zaptest.NewLogger(t))

	result, err := client.Invoke(context.Background(), "synthesizer", RunRequest{Topic: "t", Round: 3})
	require.NoError(t, err)
	assert.Nil(t, result.Last())
}

func TestInvokeErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown agent", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, nil, zaptest.NewLogger(t))

	_, err := client.Invoke(context.Background(), "oracle", RunRequest{Topic: "t", Round: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Contains(t, err.Error(), "unknown agent")
}

func TestRunResultLast(t *testing.T) {
	empty := RunResult{}
	assert.Nil(t, empty.Last())

	one := RunResult{Results: []json.RawMessage{json.RawMessage(`{"a":1}`)}}
	assert.JSONEq(t, `{"a":1}`, string(one.Last()))
}

package knowledge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/colloquyhq/colloquy/internal/response"
)

type fakeStore struct {
	entries []Entry
	err     error
	lastReq QueryRequest
}

func (f *fakeStore) Write(ctx context.Context, entry Entry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeStore) Query(ctx context.Context, req QueryRequest) ([]Entry, error) {
	f.lastReq = req
	return f.entries, f.err
}

const longPoint = "A sufficiently detailed point that easily clears the substance threshold for context building."

func TestGetContextQualityFilter(t *testing.T) {
	store := &fakeStore{entries: []Entry{
		{
			RunID: "run-1",
			Round: 1,
			Findings: []response.Finding{
				{Section: "Benefits", Points: []string{longPoint, "second supporting point", "third point"}},
				{Section: "Risks", Points: []string{"too short"}},
				{Section: "Costs", Points: []string{"short one", "short two"}},
			},
		},
	}}
	r := NewRetriever(store, zap.NewNop())

	bundle, err := r.GetContext(context.Background(), "gene editing", "run-1")
	require.NoError(t, err)

	require.Len(t, bundle.RelevantFindings, 1)
	assert.Equal(t, "Benefits", bundle.RelevantFindings[0].Section)
	assert.Equal(t, "gene editing", store.lastReq.Topic)
	assert.Equal(t, "run-1", store.lastReq.RunID)
}

func TestGetContextSectionDedup(t *testing.T) {
	store := &fakeStore{entries: []Entry{
		{
			RunID: "run-1",
			Round: 1,
			Findings: []response.Finding{
				{Section: "Risks of AI", Points: []string{longPoint, "another point"}},
			},
		},
		{
			RunID: "run-1",
			Round: 2,
			Findings: []response.Finding{
				// "risks" is contained in "risks of ai", so this is a duplicate.
				{Section: "Risks", Points: []string{longPoint, "different angle point"}},
				{Section: "Opportunities", Points: []string{longPoint, "second one"}},
			},
		},
	}}
	r := NewRetriever(store, zap.NewNop())

	bundle, err := r.GetContext(context.Background(), "ai safety", "run-1")
	require.NoError(t, err)

	sections := make([]string, 0, len(bundle.RelevantFindings))
	for _, f := range bundle.RelevantFindings {
		sections = append(sections, f.Section)
	}
	assert.Equal(t, []string{"Risks of AI", "Opportunities"}, sections)
}

func TestGetContextRejectedFindingDoesNotClaimSection(t *testing.T) {
	store := &fakeStore{entries: []Entry{
		{
			RunID: "run-1",
			Round: 1,
			Findings: []response.Finding{
				{Section: "Ethics", Points: []string{"lone point"}},
				{Section: "Ethics", Points: []string{longPoint, "a second usable point"}},
			},
		},
	}}
	r := NewRetriever(store, zap.NewNop())

	bundle, err := r.GetContext(context.Background(), "ethics", "run-1")
	require.NoError(t, err)

	require.Len(t, bundle.RelevantFindings, 1)
	assert.Len(t, bundle.RelevantFindings[0].Points, 2)
}

func TestGetContextQuestionsFromPreviousRound(t *testing.T) {
	store := &fakeStore{entries: []Entry{
		{RunID: "r", Round: 1, Questions: []string{"How does containment work?", "Who regulates this field?", "What are the long-term costs?"}},
		{RunID: "r", Round: 2, Questions: []string{"Newer question that must not surface yet?"}},
	}}
	r := NewRetriever(store, zap.NewNop())

	bundle, err := r.GetContext(context.Background(), "topic", "r")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"How does containment work?",
		"Who regulates this field?",
		"What are the long-term costs?",
	}, bundle.PreviousQuestions)
}

func TestGetContextQuestionsPositionalFallback(t *testing.T) {
	// Entries without round numbers fall back to the second-to-last
	// entry in insertion order.
	store := &fakeStore{entries: []Entry{
		{RunID: "r", Questions: []string{"first round question?"}},
		{RunID: "r", Questions: []string{"How does containment work?", "Who regulates this?", "What changes next year?"}},
		{RunID: "r", Questions: []string{"latest question?"}},
	}}
	r := NewRetriever(store, zap.NewNop())

	bundle, err := r.GetContext(context.Background(), "topic", "r")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"How does containment work?",
		"Who regulates this?",
		"What changes next year?",
	}, bundle.PreviousQuestions)
}

func TestGetContextAggregateEntryQuestions(t *testing.T) {
	store := &fakeStore{entries: []Entry{
		{RunID: "r", Questions: []string{"Aggregate question one?", "Aggregate question two?", "Aggregate question three?"}},
	}}
	r := NewRetriever(store, zap.NewNop())

	bundle, err := r.GetContext(context.Background(), "topic", "r")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Aggregate question one?",
		"Aggregate question two?",
		"Aggregate question three?",
	}, bundle.PreviousQuestions)
}

func TestGetContextPadsGenericQuestions(t *testing.T) {
	tests := []struct {
		name    string
		entries []Entry
		wantLen int
	}{
		{
			name:    "no entries",
			entries: nil,
			wantLen: 3,
		},
		{
			name: "single round entry contributes nothing",
			entries: []Entry{
				{RunID: "r", Round: 1, Questions: []string{"Only stored after this round?"}},
			},
			wantLen: 3,
		},
		{
			name: "two unique questions get padded",
			entries: []Entry{
				{RunID: "r", Round: 1, Questions: []string{"One?", "Two?", "One?"}},
				{RunID: "r", Round: 2, Questions: []string{"ignored newest?"}},
			},
			wantLen: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRetriever(&fakeStore{entries: tt.entries}, zap.NewNop())
			bundle, err := r.GetContext(context.Background(), "topic", "r")
			require.NoError(t, err)
			assert.GreaterOrEqual(t, len(bundle.PreviousQuestions), 3)
			assert.Len(t, bundle.PreviousQuestions, tt.wantLen)
			assert.Contains(t, bundle.PreviousQuestions, "What are the key challenges and limitations in this area?")
		})
	}
}

func TestGetContextNormalizesAndDedupesQuestions(t *testing.T) {
	store := &fakeStore{entries: []Entry{
		{RunID: "r", Round: 1, Questions: []string{
			"  What   about (scaling)?  ",
			"What about scaling?",
			"Second question here?",
			"Third question here?",
		}},
		{RunID: "r", Round: 2, Questions: []string{"newest?"}},
	}}
	r := NewRetriever(store, zap.NewNop())

	bundle, err := r.GetContext(context.Background(), "topic", "r")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"What about scaling?",
		"Second question here?",
		"Third question here?",
	}, bundle.PreviousQuestions)
}

func TestGetContextStoreErrorPropagates(t *testing.T) {
	storeErr := errors.New("connection refused")
	r := NewRetriever(&fakeStore{err: storeErr}, zap.NewNop())

	_, err := r.GetContext(context.Background(), "topic", "r")
	require.Error(t, err)
	assert.ErrorIs(t, err, storeErr)
}

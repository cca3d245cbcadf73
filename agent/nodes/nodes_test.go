package orchestratornode

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	contractx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/contract"
)

type fakeClassifier struct {
	category   string
	confidence float64
	tags       []string
	err        error
	calls      int
}

func (f *fakeClassifier) Classify(context.Context, string) (string, float64, error) {
	f.calls++
	return f.category, f.confidence, f.err
}

func (f *fakeClassifier) Tags(context.Context, string) ([]string, error) {
	f.calls++
	return f.tags, f.err
}

func (f *fakeClassifier) Analyze(context.Context, string) (contractx.Analysis, error) {
	f.calls++
	return contractx.Analysis{Category: f.category, Confidence: f.confidence, Tags: f.tags}, f.err
}

func pair(c *fakeClassifier) Labelers {
	return Labelers{Classifier: c, Tagger: c}
}

type fakeProfiles map[string]contractx.CustomerProfile

func (f fakeProfiles) Profile(id string) (contractx.CustomerProfile, bool) {
	p, ok := f[id]
	return p, ok
}

type fakeSink struct {
	saved []contractx.DecisionRecord
	err   error
}

func (f *fakeSink) SaveDecision(_ context.Context, rec contractx.DecisionRecord) error {
	f.saved = append(f.saved, rec)
	return f.err
}

type fakeObserver struct {
	seconds []float64
}

func (f *fakeObserver) ObserveDecision(_ contractx.DecisionRecord, seconds float64) {
	f.seconds = append(f.seconds, seconds)
}

func state(text string) *GraphState {
	return &GraphState{
		Conversation: contractx.Conversation{ID: "c1", CustomerID: "cust"},
		Text:         text,
	}
}

func TestValidateRequest(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st, err := ValidateRequest(GraphInput{Conversation: contractx.Conversation{
		ID:         " c1 ",
		CustomerID: " cust ",
		Messages: []contractx.Message{
			{Sender: contractx.SenderCustomer, Text: "price?"},
			{Sender: contractx.SenderBusiness, Text: "which plan?"},
		},
	}}, func() time.Time { return now })
	require.NoError(t, err)
	assert.Equal(t, "c1", st.Conversation.ID)
	assert.Equal(t, "cust", st.Conversation.CustomerID)
	assert.Equal(t, "price?", st.Text)
	assert.Equal(t, now, st.StartedAt)

	_, err = ValidateRequest(GraphInput{Conversation: contractx.Conversation{ID: " "}}, time.Now)
	assert.ErrorIs(t, err, contractx.ErrValidation)
}

func TestClassifyIfMissingFillsEmptyFields(t *testing.T) {
	t.Parallel()

	c := &fakeClassifier{category: "support", confidence: 0.8, tags: []string{"login"}}
	st, err := ClassifyIfMissing(context.Background(), state("cannot log in"), pair(c))
	require.NoError(t, err)
	assert.Equal(t, "support", st.Conversation.Category)
	assert.Equal(t, 0.8, st.Conversation.Confidence)
	assert.Equal(t, []string{"login"}, st.Conversation.Tags)
}

func TestClassifyIfMissingKeepsProvidedFields(t *testing.T) {
	t.Parallel()

	c := &fakeClassifier{category: "support", confidence: 0.8}
	in := state("price?")
	in.Conversation.Category = "sales"
	in.Conversation.Confidence = 0.9
	in.Conversation.Tags = []string{"price"}

	st, err := ClassifyIfMissing(context.Background(), in, Labelers{Analyzer: c, Classifier: c, Tagger: c})
	require.NoError(t, err)
	assert.Equal(t, "sales", st.Conversation.Category)
	assert.Equal(t, 0, c.calls)
}

func TestClassifyIfMissingToleratesFailure(t *testing.T) {
	t.Parallel()

	c := &fakeClassifier{err: errors.New("model down")}
	st, err := ClassifyIfMissing(context.Background(), state("hello"), pair(c))
	require.NoError(t, err)
	assert.Empty(t, st.Conversation.Category)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ClassifyIfMissing(ctx, state("hello"), Labelers{Classifier: c})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = ClassifyIfMissing(ctx, state("hello"), Labelers{Analyzer: c})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClassifyIfMissingAnalyzesOnce(t *testing.T) {
	t.Parallel()

	c := &fakeClassifier{category: "sales", confidence: 0.9, tags: []string{"price"}}
	st, err := ClassifyIfMissing(context.Background(), state("how much is it"), Labelers{Analyzer: c, Classifier: c, Tagger: c})
	require.NoError(t, err)
	assert.Equal(t, 1, c.calls)
	assert.Equal(t, "sales", st.Conversation.Category)
	assert.Equal(t, 0.9, st.Conversation.Confidence)
	assert.Equal(t, []string{"price"}, st.Conversation.Tags)

	tagged := state("how much is it")
	tagged.Conversation.Tags = []string{"quote"}
	st, err = ClassifyIfMissing(context.Background(), tagged, Labelers{Analyzer: c})
	require.NoError(t, err)
	assert.Equal(t, 2, c.calls)
	assert.Equal(t, []string{"quote"}, st.Conversation.Tags)
}

func TestClassifyIfMissingClampsConfidence(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   float64
		want float64
	}{
		{name: "above one", in: 1.7, want: 1},
		{name: "negative", in: -0.2, want: 0},
		{name: "not a number", in: math.NaN(), want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := &fakeClassifier{category: "support", confidence: tc.in}
			st, err := ClassifyIfMissing(context.Background(), state("help"), Labelers{Classifier: c})
			require.NoError(t, err)
			assert.Equal(t, tc.want, st.Conversation.Confidence)
			require.NoError(t, st.Conversation.Validate())
		})
	}
}

func TestLoadProfile(t *testing.T) {
	t.Parallel()

	profiles := fakeProfiles{"cust": {CustomerID: "cust", Interactions: 3}}
	st, err := LoadProfile(state("x"), profiles)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), st.Profile.Interactions)

	in := state("x")
	in.Conversation.CustomerID = "new"
	st, err = LoadProfile(in, profiles)
	require.NoError(t, err)
	assert.Equal(t, "new", st.Profile.CustomerID)
	assert.Zero(t, st.Profile.Interactions)
}

func TestRecordDecisionSurvivesAuditFailure(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	in := state("x")
	in.StartedAt = start
	in.Record = contractx.DecisionRecord{ID: "d1", UnitID: contractx.UnitSales}

	sink := &fakeSink{err: errors.New("db down")}
	obs := &fakeObserver{}
	st, err := RecordDecision(context.Background(), in, sink, obs, func() time.Time { return start.Add(250 * time.Millisecond) })
	require.NoError(t, err)
	assert.Len(t, sink.saved, 1)
	assert.Equal(t, []float64{0.25}, obs.seconds)

	out, err := FinalizeDecision(st)
	require.NoError(t, err)
	assert.Equal(t, "d1", out.Record.ID)
}

func TestFinalizeDecisionRejectsIncompleteRecord(t *testing.T) {
	t.Parallel()

	_, err := FinalizeDecision(state("x"))
	assert.ErrorIs(t, err, contractx.ErrValidation)
	_, err = FinalizeDecision(nil)
	assert.ErrorIs(t, err, contractx.ErrValidation)
}

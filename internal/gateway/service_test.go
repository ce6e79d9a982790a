package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtual-therapist/backend/internal/analysis"
	"github.com/virtual-therapist/backend/internal/routing"
	"github.com/virtual-therapist/backend/internal/storage/models"
	"github.com/virtual-therapist/backend/internal/storage/sqlite"
)

type fakeAnalyzer struct {
	result *models.AnalysisResult
	err    error
	calls  int
}

func (f *fakeAnalyzer) Analyze(_ context.Context, _ string) (*models.AnalysisResult, error) {
	f.calls++
	return f.result, f.err
}

type fakeStore struct {
	patients map[string]*models.Patient
	owners   map[string]string
	saveErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		patients: map[string]*models.Patient{},
		owners:   map[string]string{},
	}
}

func (f *fakeStore) add(ownerID, id string) {
	f.patients[id] = &models.Patient{ID: id, Name: "Pat", CreatedBy: ownerID, History: []models.HistoryEntry{}}
	f.owners[id] = ownerID
}

func (f *fakeStore) GetPatient(ownerID, id string) (*models.Patient, error) {
	p, ok := f.patients[id]
	if !ok || f.owners[id] != ownerID {
		return nil, sqlite.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) PrependHistory(ownerID, patientID string, entry *models.HistoryEntry) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	p, err := f.GetPatient(ownerID, patientID)
	if err != nil {
		return err
	}
	p.History = append([]models.HistoryEntry{*entry}, p.History...)
	return nil
}

type fakeCache struct {
	entries map[string]*models.AnalysisResult
	getErr  error
}

func (f *fakeCache) GetAnalysis(_ context.Context, text string) (*models.AnalysisResult, bool, error) {
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	r, ok := f.entries[text]
	return r, ok, nil
}

func (f *fakeCache) SetAnalysis(_ context.Context, text string, result *models.AnalysisResult) error {
	f.entries[text] = result
	return nil
}

type fakeGenerator struct {
	text  string
	ok    bool
	calls int
}

func (f *fakeGenerator) Generate(_ context.Context, _, _ string) (string, bool) {
	f.calls++
	return f.text, f.ok
}

func lowConfidence() *models.AnalysisResult {
	return &models.AnalysisResult{
		TopPattern:       "Anxiety",
		ConfidenceScores: []models.ScoreEntry{{Label: "Anxiety", Score: 0.3}},
	}
}

func TestAnalyzeRejectsShortText(t *testing.T) {
	for _, text := range []string{"", "   ", "hi", "  abcd  ", "日本語", "😢😢", "ééé "} {
		analyzer := &fakeAnalyzer{result: lowConfidence()}
		svc := NewService(analyzer, routing.NewRouter(nil), newFakeStore())

		_, err := svc.Analyze(context.Background(), text)

		assert.ErrorIs(t, err, ErrValidation, "text %q", text)
		assert.Zero(t, analyzer.calls)
	}
}

func TestAnalyzeCountsCharactersNotBytes(t *testing.T) {
	analyzer := &fakeAnalyzer{result: lowConfidence()}
	svc := NewService(analyzer, routing.NewRouter(nil), newFakeStore())

	_, err := svc.Analyze(context.Background(), "日本語です。")

	require.NoError(t, err)
	assert.Equal(t, 1, analyzer.calls)
}

func TestAnalyzeRoutesResult(t *testing.T) {
	analyzer := &fakeAnalyzer{result: lowConfidence()}
	gen := &fakeGenerator{text: "Be gentle with yourself.", ok: true}
	svc := NewService(analyzer, routing.NewRouter(gen), newFakeStore())

	result, err := svc.Analyze(context.Background(), "I cannot focus on anything")
	require.NoError(t, err)

	assert.Equal(t, routing.SourceGroq, result.Source)
	assert.Equal(t, routing.NonePattern, result.TopPattern)
	assert.Equal(t, routing.Disclaimer+"Be gentle with yourself.", result.AIResponse)
	assert.Equal(t, 1, gen.calls)
}

func TestAnalyzeUpstreamFailure(t *testing.T) {
	analyzer := &fakeAnalyzer{err: fmt.Errorf("%w: status 500", analysis.ErrUpstreamUnavailable)}
	gen := &fakeGenerator{ok: true}
	svc := NewService(analyzer, routing.NewRouter(gen), newFakeStore())

	_, err := svc.Analyze(context.Background(), "I cannot focus on anything")

	assert.ErrorIs(t, err, ErrUpstream)
	assert.ErrorIs(t, err, analysis.ErrUpstreamUnavailable)
	assert.Zero(t, gen.calls)
}

func TestAnalyzeUsesCache(t *testing.T) {
	analyzer := &fakeAnalyzer{result: lowConfidence()}
	cache := &fakeCache{entries: map[string]*models.AnalysisResult{}}
	svc := NewService(analyzer, routing.NewRouter(nil), newFakeStore(), WithCache(cache))

	for i := 0; i < 3; i++ {
		result, err := svc.Analyze(context.Background(), "the same entry again")
		require.NoError(t, err)
		assert.Equal(t, "Anxiety", result.TopPattern)
	}

	assert.Equal(t, 1, analyzer.calls)
}

func TestAnalyzeIgnoresCacheErrors(t *testing.T) {
	analyzer := &fakeAnalyzer{result: lowConfidence()}
	cache := &fakeCache{entries: map[string]*models.AnalysisResult{}, getErr: errors.New("connection refused")}
	svc := NewService(analyzer, routing.NewRouter(nil), newFakeStore(), WithCache(cache))

	result, err := svc.Analyze(context.Background(), "still analyzed")
	require.NoError(t, err)

	assert.Equal(t, routing.SourceModelFallback, result.Source)
	assert.Equal(t, 1, analyzer.calls)
}

func TestAnalyzeForPatientPrependsRawResult(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.add("owner-1", "p1")
	analyzer := &fakeAnalyzer{result: lowConfidence()}
	gen := &fakeGenerator{text: "unused", ok: true}
	svc := NewService(analyzer, routing.NewRouter(gen), store, WithClock(func() time.Time { return now }))

	first, err := svc.AnalyzeForPatient(context.Background(), "owner-1", "p1", "first entry text")
	require.NoError(t, err)
	second, err := svc.AnalyzeForPatient(context.Background(), "owner-1", "p1", "second entry text")
	require.NoError(t, err)

	assert.Equal(t, "Anxiety", first.TopPattern)
	assert.Equal(t, []models.ScoreEntry{{Label: "Anxiety", Score: 0.3}}, first.ConfidenceScores)
	assert.Equal(t, now, first.CreatedAt)
	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Zero(t, gen.calls, "patient analysis is never routed")

	history := store.patients["p1"].History
	require.Len(t, history, 2)
	assert.Equal(t, "second entry text", history[0].Text)
	assert.Equal(t, "first entry text", history[1].Text)
}

func TestAnalyzeForPatientValidatesBeforeLookup(t *testing.T) {
	analyzer := &fakeAnalyzer{result: lowConfidence()}
	svc := NewService(analyzer, routing.NewRouter(nil), newFakeStore())

	_, err := svc.AnalyzeForPatient(context.Background(), "owner-1", "missing", "hey")

	assert.ErrorIs(t, err, ErrValidation)
	assert.Zero(t, analyzer.calls)
}

func TestAnalyzeForPatientNotFound(t *testing.T) {
	store := newFakeStore()
	store.add("owner-1", "p1")
	analyzer := &fakeAnalyzer{result: lowConfidence()}
	svc := NewService(analyzer, routing.NewRouter(nil), store)

	_, err := svc.AnalyzeForPatient(context.Background(), "owner-2", "p1", "somebody else's patient")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.AnalyzeForPatient(context.Background(), "owner-1", "p2", "no such patient")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Zero(t, analyzer.calls)
}

func TestAnalyzeForPatientUpstreamFailureLeavesHistory(t *testing.T) {
	store := newFakeStore()
	store.add("owner-1", "p1")
	analyzer := &fakeAnalyzer{err: fmt.Errorf("%w: status 503", analysis.ErrUpstreamUnavailable)}
	svc := NewService(analyzer, routing.NewRouter(nil), store)

	_, err := svc.AnalyzeForPatient(context.Background(), "owner-1", "p1", "a valid journal entry")

	assert.ErrorIs(t, err, ErrUpstream)
	assert.Empty(t, store.patients["p1"].History)
}

func TestAnalyzeForPatientStoreError(t *testing.T) {
	store := newFakeStore()
	store.add("owner-1", "p1")
	store.saveErr = errors.New("disk full")
	svc := NewService(&fakeAnalyzer{result: lowConfidence()}, routing.NewRouter(nil), store)

	_, err := svc.AnalyzeForPatient(context.Background(), "owner-1", "p1", "a valid journal entry")

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrUpstream)
}

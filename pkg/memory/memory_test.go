package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseops/casepilot/pkg/config"
	"github.com/caseops/casepilot/pkg/models"
	"github.com/caseops/casepilot/pkg/taxonomy"
)

type fakeEmbedder struct {
	vec      []float32
	lastText string
	err      error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.lastText = text
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

func (f *fakeEmbedder) Dimensions() int { return len(f.vec) }

type fakeStore struct {
	candidates []*models.Exemplar
	listErr    error
	createErr  error

	listType  models.InteractionType
	listMinQ  float64
	listLimit int

	created    []*models.Exemplar
	updatedID  string
	updatedSig models.QualitySignals
	updatedOut string
}

func (f *fakeStore) ListCandidates(_ context.Context, it models.InteractionType, minQuality float64, limit int) ([]*models.Exemplar, error) {
	f.listType, f.listMinQ, f.listLimit = it, minQuality, limit
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.candidates, nil
}

func (f *fakeStore) Create(_ context.Context, ex *models.Exemplar) error {
	if f.createErr != nil {
		return f.createErr
	}
	if ex.ID == "" {
		ex.ID = "ex-new"
	}
	ex.QualityScore = ex.Signals.Score()
	f.created = append(f.created, ex)
	return nil
}

func (f *fakeStore) UpdateSignals(_ context.Context, id string, signals models.QualitySignals, outcome string) (*models.Exemplar, error) {
	f.updatedID, f.updatedSig, f.updatedOut = id, signals, outcome
	return &models.Exemplar{
		ID:           id,
		Signals:      signals,
		QualityScore: signals.Score(),
		Outcome:      outcome,
	}, nil
}

func candidate(id string, vec []float32) *models.Exemplar {
	return &models.Exemplar{
		ID:              id,
		CaseNumber:      "SCS0" + id,
		InteractionType: models.InteractionCategorization,
		InputContext:    "context " + id,
		Embedding:       vec,
		QualityScore:    0.8,
	}
}

func memoryConfig() *config.MemoryConfig {
	return &config.MemoryConfig{
		TopK:              3,
		MaxDistance:       0.5,
		MinQuality:        0.7,
		DuplicateDistance: 0.05,
	}
}

func TestRetrieveRanksByDistanceAndCapsTopK(t *testing.T) {
	store := &fakeStore{candidates: []*models.Exemplar{
		candidate("far", []float32{0.7, 0.7, 0}),
		candidate("exact", []float32{1, 0, 0}),
		candidate("orthogonal", []float32{0, 1, 0}),
		candidate("near", []float32{1, 0.05, 0}),
		candidate("close", []float32{0.9, 0.1, 0}),
	}}
	embedder := &fakeEmbedder{vec: []float32{1, 0, 0}}
	svc := NewService(store, embedder, memoryConfig())

	matches, err := svc.Retrieve(t.Context(), "vpn keeps dropping", models.InteractionCategorization)
	require.NoError(t, err)

	// Orthogonal sits at distance 1 so the ceiling drops it; the
	// remaining four rank ascending and top-K keeps three.
	require.Len(t, matches, 3)
	assert.Equal(t, "exact", matches[0].Exemplar.ID)
	assert.Equal(t, "near", matches[1].Exemplar.ID)
	assert.Equal(t, "close", matches[2].Exemplar.ID)
	assert.InDelta(t, 0, matches[0].Distance, 1e-6)
	assert.Less(t, matches[0].Distance, matches[1].Distance)
	assert.Less(t, matches[1].Distance, matches[2].Distance)
}

func TestRetrievePassesQualityFloorToStore(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store, &fakeEmbedder{vec: []float32{1, 0}}, memoryConfig())

	_, err := svc.Retrieve(t.Context(), "printer offline", models.InteractionEscalation)
	require.NoError(t, err)

	assert.Equal(t, models.InteractionEscalation, store.listType)
	assert.Equal(t, 0.7, store.listMinQ)
	assert.Equal(t, retrieveCandidateLimit, store.listLimit)
}

func TestRetrieveSkipsCandidatesWithoutEmbeddings(t *testing.T) {
	store := &fakeStore{candidates: []*models.Exemplar{
		candidate("empty", nil),
		candidate("ok", []float32{1, 0}),
	}}
	svc := NewService(store, &fakeEmbedder{vec: []float32{1, 0}}, memoryConfig())

	matches, err := svc.Retrieve(t.Context(), "query", models.InteractionCategorization)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "ok", matches[0].Exemplar.ID)
}

func TestRetrieveEmbedsQueryText(t *testing.T) {
	embedder := &fakeEmbedder{vec: []float32{1, 0}}
	svc := NewService(&fakeStore{}, embedder, memoryConfig())

	_, err := svc.Retrieve(t.Context(), "mailbox quota exceeded", models.InteractionCategorization)
	require.NoError(t, err)
	assert.Equal(t, "mailbox quota exceeded", embedder.lastText)
}

func TestRetrieveRejectsEmptyQuery(t *testing.T) {
	svc := NewService(&fakeStore{}, &fakeEmbedder{vec: []float32{1}}, memoryConfig())

	_, err := svc.Retrieve(t.Context(), "", models.InteractionCategorization)
	require.Error(t, err)
	assert.Equal(t, taxonomy.KindValidation, taxonomy.KindOf(err))
}

func TestRetrieveEmbedFailure(t *testing.T) {
	embedder := &fakeEmbedder{err: errors.New("api down")}
	svc := NewService(&fakeStore{}, embedder, memoryConfig())

	_, err := svc.Retrieve(t.Context(), "query", models.InteractionCategorization)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to embed memory query")
}

func TestRetrieveNilService(t *testing.T) {
	var svc *Service
	matches, err := svc.Retrieve(t.Context(), "query", models.InteractionCategorization)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestWriteCreatesNewExemplar(t *testing.T) {
	store := &fakeStore{candidates: []*models.Exemplar{
		// cos(20 degrees) from the input vector, just past the
		// duplicate ceiling.
		candidate("neighbor", []float32{0.93969, 0.34202}),
	}}
	embedder := &fakeEmbedder{vec: []float32{1, 0}}
	svc := NewService(store, embedder, memoryConfig())

	ex, created, err := svc.Write(t.Context(), WriteInput{
		CaseNumber:      "SCS1001",
		InteractionType: models.InteractionCategorization,
		InputContext:    "vpn drops on wifi",
		ActionTaken:     "categorized as Network/VPN",
		Outcome:         "resolved",
		Signals:         models.QualitySignals{OutcomeSuccess: 1},
	})
	require.NoError(t, err)

	assert.True(t, created)
	require.Len(t, store.created, 1)
	assert.Equal(t, "SCS1001", ex.CaseNumber)
	assert.Equal(t, []float32{1, 0}, ex.Embedding)
	assert.Equal(t, "vpn drops on wifi", embedder.lastText)
	assert.Empty(t, store.updatedID)
}

func TestWriteMergesNearDuplicate(t *testing.T) {
	store := &fakeStore{candidates: []*models.Exemplar{
		candidate("far", []float32{0, 1}),
		candidate("incumbent", []float32{1, 0}),
	}}
	embedder := &fakeEmbedder{vec: []float32{1, 0}}
	svc := NewService(store, embedder, memoryConfig())

	signals := models.QualitySignals{SupervisorApproved: 1, OutcomeSuccess: 1}
	ex, created, err := svc.Write(t.Context(), WriteInput{
		CaseNumber:      "SCS1002",
		InteractionType: models.InteractionCategorization,
		InputContext:    "vpn drops on wifi",
		Outcome:         "resolved",
		Signals:         signals,
	})
	require.NoError(t, err)

	assert.False(t, created)
	assert.Empty(t, store.created)
	assert.Equal(t, "incumbent", store.updatedID)
	assert.Equal(t, signals, store.updatedSig)
	assert.Equal(t, "resolved", store.updatedOut)
	assert.Equal(t, "incumbent", ex.ID)
	assert.Equal(t, signals.Score(), ex.QualityScore)
}

func TestWriteDuplicateScanIgnoresQualityFloor(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store, &fakeEmbedder{vec: []float32{1, 0}}, memoryConfig())

	_, _, err := svc.Write(t.Context(), WriteInput{
		CaseNumber:      "SCS1003",
		InteractionType: models.InteractionResolution,
		InputContext:    "password reset loop",
	})
	require.NoError(t, err)

	assert.Equal(t, models.InteractionResolution, store.listType)
	assert.Zero(t, store.listMinQ)
	assert.Equal(t, duplicateScanLimit, store.listLimit)
}

func TestWriteValidation(t *testing.T) {
	svc := NewService(&fakeStore{}, &fakeEmbedder{vec: []float32{1}}, memoryConfig())

	tests := []struct {
		name  string
		input WriteInput
	}{
		{"missing case number", WriteInput{InteractionType: models.InteractionCategorization, InputContext: "x"}},
		{"missing input context", WriteInput{CaseNumber: "SCS1", InteractionType: models.InteractionCategorization}},
		{"missing interaction type", WriteInput{CaseNumber: "SCS1", InputContext: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Write(t.Context(), tt.input)
			require.Error(t, err)
			assert.Equal(t, taxonomy.KindValidation, taxonomy.KindOf(err))
		})
	}
}

func TestWriteNilService(t *testing.T) {
	var svc *Service
	_, _, err := svc.Write(t.Context(), WriteInput{CaseNumber: "SCS1", InteractionType: models.InteractionCategorization, InputContext: "x"})
	require.Error(t, err)
	assert.Equal(t, taxonomy.KindDependencyDisabled, taxonomy.KindOf(err))
}

func TestRecordSignals(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store, &fakeEmbedder{vec: []float32{1}}, memoryConfig())

	signals := models.QualitySignals{SupervisorApproved: 1}
	ex, err := svc.RecordSignals(t.Context(), "ex-7", signals, "confirmed")
	require.NoError(t, err)

	assert.Equal(t, "ex-7", store.updatedID)
	assert.Equal(t, signals, store.updatedSig)
	assert.Equal(t, signals.Score(), ex.QualityScore)

	_, err = svc.RecordSignals(t.Context(), "", signals, "")
	require.Error(t, err)
	assert.Equal(t, taxonomy.KindValidation, taxonomy.KindOf(err))
}

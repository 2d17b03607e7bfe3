package contextpack

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseops/casepilot/pkg/masking"
	"github.com/caseops/casepilot/pkg/memory"
	"github.com/caseops/casepilot/pkg/models"
	"github.com/caseops/casepilot/pkg/servicenow"
)

type fakeSources struct {
	kase     *models.Case
	business *models.BusinessContext
	similar  []models.SimilarCase
	kb       []models.KBArticle

	caseErr     error
	businessErr error
	similarErr  error
	kbErr       error

	kbQuery      string
	similarLimit int
}

func (f *fakeSources) GetCase(_ context.Context, _ string) (*models.Case, error) {
	if f.caseErr != nil {
		return nil, f.caseErr
	}
	kase := *f.kase
	return &kase, nil
}

func (f *fakeSources) GetBusinessContext(_ context.Context, _ string) (*models.BusinessContext, error) {
	if f.businessErr != nil {
		return nil, f.businessErr
	}
	return f.business, nil
}

func (f *fakeSources) QuerySimilarCases(_ context.Context, _ *models.Case, limit int) ([]models.SimilarCase, error) {
	f.similarLimit = limit
	if f.similarErr != nil {
		return nil, f.similarErr
	}
	return f.similar, nil
}

func (f *fakeSources) SearchKB(_ context.Context, query string, _ int) ([]models.KBArticle, error) {
	f.kbQuery = query
	if f.kbErr != nil {
		return nil, f.kbErr
	}
	return f.kb, nil
}

type fakeRetriever struct {
	matches []memory.Match
	err     error
	query   string
}

func (f *fakeRetriever) Retrieve(_ context.Context, query string, _ models.InteractionType) ([]memory.Match, error) {
	f.query = query
	if f.err != nil {
		return nil, f.err
	}
	return f.matches, nil
}

func sampleSources() *fakeSources {
	return &fakeSources{
		kase: &models.Case{
			SysID:            "sys-1",
			Number:           "SCS1001",
			ShortDescription: "VPN drops every hour",
			Description:      "Users lose VPN connectivity on office wifi.",
			Priority:         "2 - High",
			Company:          "Acme Corp",
			Category:         "Network",
		},
		business: &models.BusinessContext{
			Company:     "Acme Corp",
			AccountTier: "Gold",
			CriticalCIs: []string{"acme-vpn-01"},
		},
		similar: []models.SimilarCase{
			{Number: "SCS0900", ShortDescription: "Recurring VPN drops", Category: "Network", Resolution: "Updated client profile"},
		},
		kb: []models.KBArticle{
			{Number: "KB0042", Title: "VPN tunnel troubleshooting", Snippet: "Check MTU first."},
		},
	}
}

func TestBuildAssemblesAllSections(t *testing.T) {
	sources := sampleSources()
	retriever := &fakeRetriever{matches: []memory.Match{
		{Exemplar: &models.Exemplar{ID: "ex-1", InteractionType: models.InteractionCategorization, InputContext: "vpn issue", ActionTaken: "Network/VPN", QualityScore: 0.85}, Distance: 0.1},
	}}
	builder := NewBuilder(retriever, nil)

	pack, err := builder.Build(t.Context(), sources, "sys-1")
	require.NoError(t, err)

	assert.Equal(t, "SCS1001", pack.Case.Number)
	require.NotNil(t, pack.Business)
	assert.Equal(t, "Gold", pack.Business.AccountTier)
	require.Len(t, pack.SimilarCases, 1)
	require.Len(t, pack.KBArticles, 1)
	require.Len(t, pack.Exemplars, 1)
	assert.Equal(t, "ex-1", pack.Exemplars[0].ID)
	assert.False(t, pack.BuiltAt.IsZero())
	assert.Equal(t, defaultSectionLimit, sources.similarLimit)
}

func TestBuildMasksCaseTextBeforePack(t *testing.T) {
	sources := sampleSources()
	sources.kase.Description = `User says the password is "hunter2secret99" and cannot log in.`
	masker := masking.NewService(nil)
	builder := NewBuilder(nil, masker)

	pack, err := builder.Build(t.Context(), sources, "sys-1")
	require.NoError(t, err)

	assert.NotContains(t, pack.Case.Description, "hunter2secret99")
	assert.Contains(t, pack.Case.Description, "__MASKED_PASSWORD__")

	prompt := Render(pack)
	assert.NotContains(t, prompt, "hunter2secret99")
}

func TestBuildDropsFailingSectionsOnly(t *testing.T) {
	sources := sampleSources()
	sources.similarErr = errors.New("query timeout")
	sources.businessErr = servicenow.ErrNotFound
	builder := NewBuilder(nil, nil)

	pack, err := builder.Build(t.Context(), sources, "sys-1")
	require.NoError(t, err)

	assert.Nil(t, pack.Business)
	assert.Empty(t, pack.SimilarCases)
	require.Len(t, pack.KBArticles, 1)
}

func TestBuildCaseFetchFailureIsFatal(t *testing.T) {
	sources := sampleSources()
	sources.caseErr = servicenow.ErrNotFound
	builder := NewBuilder(nil, nil)

	_, err := builder.Build(t.Context(), sources, "sys-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, servicenow.ErrNotFound)
}

func TestBuildCapsSections(t *testing.T) {
	sources := sampleSources()
	sources.similar = []models.SimilarCase{
		{Number: "SCS1"}, {Number: "SCS2"}, {Number: "SCS3"}, {Number: "SCS4"}, {Number: "SCS5"},
	}
	builder := NewBuilder(nil, nil)

	pack, err := builder.Build(t.Context(), sources, "sys-1")
	require.NoError(t, err)
	assert.Len(t, pack.SimilarCases, defaultSectionLimit)
}

func TestBuildExemplarQueryUsesMaskedText(t *testing.T) {
	sources := sampleSources()
	sources.kase.Description = "the password is hunter2secret99"
	retriever := &fakeRetriever{}
	builder := NewBuilder(retriever, masking.NewService(nil))

	_, err := builder.Build(t.Context(), sources, "sys-1")
	require.NoError(t, err)

	assert.Contains(t, retriever.query, "VPN drops every hour")
	assert.NotContains(t, retriever.query, "hunter2secret99")
}

func TestRenderSectionOrder(t *testing.T) {
	pack := &models.ContextPack{
		Case:         models.Case{Number: "SCS1001", ShortDescription: "VPN drops"},
		Business:     &models.BusinessContext{AccountTier: "Gold"},
		SimilarCases: []models.SimilarCase{{Number: "SCS0900", ShortDescription: "prior"}},
		KBArticles:   []models.KBArticle{{Number: "KB0042", Title: "VPN guide"}},
		Exemplars:    []models.Exemplar{{InteractionType: models.InteractionCategorization, InputContext: "vpn", QualityScore: 0.8}},
	}

	prompt := Render(pack)
	headers := []string{headerCaseDetails, headerBusiness, headerSimilar, headerKB, headerMuscleMemory}
	last := -1
	for _, h := range headers {
		idx := strings.Index(prompt, h)
		require.GreaterOrEqual(t, idx, 0, "missing header %s", h)
		assert.Greater(t, idx, last, "header %s out of order", h)
		last = idx
	}
}

func TestRenderIsPureConcatenation(t *testing.T) {
	base := &models.ContextPack{
		Case: models.Case{Number: "SCS1001", ShortDescription: "VPN drops"},
	}
	withKB := &models.ContextPack{
		Case:       base.Case,
		KBArticles: []models.KBArticle{{Number: "KB0042", Title: "VPN guide", Snippet: "Check MTU."}},
	}

	short := Render(base)
	long := Render(withKB)

	require.True(t, strings.HasPrefix(long, short))
	tail := long[len(short):]
	assert.True(t, strings.HasPrefix(tail, headerKB))
	assert.Equal(t, len(short)+len(tail), len(long))
}

func TestRenderSkipsAbsentSections(t *testing.T) {
	pack := &models.ContextPack{Case: models.Case{Number: "SCS1001", ShortDescription: "VPN drops"}}

	prompt := Render(pack)
	assert.Contains(t, prompt, headerCaseDetails)
	assert.NotContains(t, prompt, headerBusiness)
	assert.NotContains(t, prompt, headerSimilar)
	assert.NotContains(t, prompt, headerKB)
	assert.NotContains(t, prompt, headerMuscleMemory)
}

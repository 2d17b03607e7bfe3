// Package contextpack assembles the per-run enrichment bundle for a
// case and renders the deterministic shared prompt the pipeline stages
// consume.
package contextpack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/caseops/casepilot/pkg/masking"
	"github.com/caseops/casepilot/pkg/memory"
	"github.com/caseops/casepilot/pkg/models"
	"github.com/caseops/casepilot/pkg/servicenow"
)

const (
	defaultSectionLimit = 3
	defaultFetchTimeout = 10 * time.Second
)

// Sources is the slice of the repository the builder reads from.
type Sources interface {
	GetCase(ctx context.Context, sysID string) (*models.Case, error)
	GetBusinessContext(ctx context.Context, company string) (*models.BusinessContext, error)
	QuerySimilarCases(ctx context.Context, kase *models.Case, limit int) ([]models.SimilarCase, error)
	SearchKB(ctx context.Context, query string, limit int) ([]models.KBArticle, error)
}

// ExemplarRetriever surfaces muscle-memory matches for the case text.
type ExemplarRetriever interface {
	Retrieve(ctx context.Context, query string, interactionType models.InteractionType) ([]memory.Match, error)
}

// Builder fetches the enrichment sections in parallel. Every section
// except the case itself is optional: a failed or partial fetch drops
// the whole section and the pipeline runs with what remains.
type Builder struct {
	memory       ExemplarRetriever
	masker       *masking.Service
	sectionLimit int
	fetchTimeout time.Duration
	logger       *slog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithSectionLimit caps entries per optional section.
func WithSectionLimit(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.sectionLimit = n
		}
	}
}

// WithFetchTimeout bounds each section fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(b *Builder) {
		if d > 0 {
			b.fetchTimeout = d
		}
	}
}

// NewBuilder creates a context builder. The retriever may be nil when
// muscle memory is not configured.
func NewBuilder(retriever ExemplarRetriever, masker *masking.Service, opts ...Option) *Builder {
	b := &Builder{
		memory:       retriever,
		masker:       masker,
		sectionLimit: defaultSectionLimit,
		fetchTimeout: defaultFetchTimeout,
		logger:       slog.Default().With("component", "contextpack"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build loads the case through the repository and fetches the optional
// sections in parallel. Case text is masked before it lands in the
// pack, so nothing downstream ever sees raw secrets.
func (b *Builder) Build(ctx context.Context, sources Sources, caseSysID string) (*models.ContextPack, error) {
	if caseSysID == "" {
		return nil, errors.New("case sys_id is required")
	}

	kase, err := b.fetchCase(ctx, sources, caseSysID)
	if err != nil {
		return nil, fmt.Errorf("failed to load case %s: %w", caseSysID, err)
	}

	kase.ShortDescription = b.masker.MaskText(kase.ShortDescription)
	kase.Description = b.masker.MaskText(kase.Description)

	pack := &models.ContextPack{Case: *kase}

	// Sections are independent: fetch goroutines record their result
	// or drop the section, never fail the group.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		pack.Business = b.fetchBusiness(gctx, sources, kase.Company)
		return nil
	})
	g.Go(func() error {
		pack.SimilarCases = b.fetchSimilar(gctx, sources, kase)
		return nil
	})
	g.Go(func() error {
		pack.KBArticles = b.fetchKB(gctx, sources, kase.ShortDescription)
		return nil
	})
	g.Go(func() error {
		pack.Exemplars = b.fetchExemplars(gctx, kase)
		return nil
	})

	_ = g.Wait()

	pack.BuiltAt = time.Now().UTC()
	b.logger.Info("context pack built",
		"case", kase.Number,
		"business", pack.Business != nil,
		"similar", len(pack.SimilarCases),
		"kb", len(pack.KBArticles),
		"exemplars", len(pack.Exemplars))
	return pack, nil
}

func (b *Builder) fetchCase(ctx context.Context, sources Sources, sysID string) (*models.Case, error) {
	ctx, cancel := context.WithTimeout(ctx, b.fetchTimeout)
	defer cancel()
	return sources.GetCase(ctx, sysID)
}

func (b *Builder) fetchBusiness(ctx context.Context, sources Sources, company string) *models.BusinessContext {
	if company == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, b.fetchTimeout)
	defer cancel()

	bc, err := sources.GetBusinessContext(ctx, company)
	if err != nil {
		if errors.Is(err, servicenow.ErrNotFound) {
			b.logger.Debug("no business context on file", "company", company)
		} else {
			b.logger.Warn("dropping business context section", "company", company, "error", err)
		}
		return nil
	}
	return bc
}

func (b *Builder) fetchSimilar(ctx context.Context, sources Sources, kase *models.Case) []models.SimilarCase {
	ctx, cancel := context.WithTimeout(ctx, b.fetchTimeout)
	defer cancel()

	similar, err := sources.QuerySimilarCases(ctx, kase, b.sectionLimit)
	if err != nil {
		b.logger.Warn("dropping similar-cases section", "case", kase.Number, "error", err)
		return nil
	}
	if len(similar) > b.sectionLimit {
		similar = similar[:b.sectionLimit]
	}
	return similar
}

func (b *Builder) fetchKB(ctx context.Context, sources Sources, query string) []models.KBArticle {
	if query == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, b.fetchTimeout)
	defer cancel()

	articles, err := sources.SearchKB(ctx, query, b.sectionLimit)
	if err != nil {
		b.logger.Warn("dropping knowledge-base section", "error", err)
		return nil
	}
	if len(articles) > b.sectionLimit {
		articles = articles[:b.sectionLimit]
	}
	return articles
}

func (b *Builder) fetchExemplars(ctx context.Context, kase *models.Case) []models.Exemplar {
	if b.memory == nil {
		return nil
	}
	query := kase.ShortDescription
	if kase.Description != "" {
		query += "\n" + kase.Description
	}
	if query == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, b.fetchTimeout)
	defer cancel()

	matches, err := b.memory.Retrieve(ctx, query, models.InteractionCategorization)
	if err != nil {
		b.logger.Warn("dropping muscle-memory section", "case", kase.Number, "error", err)
		return nil
	}
	exemplars := make([]models.Exemplar, 0, len(matches))
	for _, m := range matches {
		exemplars = append(exemplars, *m.Exemplar)
	}
	if len(exemplars) > b.sectionLimit {
		exemplars = exemplars[:b.sectionLimit]
	}
	return exemplars
}

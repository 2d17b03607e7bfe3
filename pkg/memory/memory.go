// Package memory retrieves and writes muscle-memory exemplars: past
// case decisions embedded for similarity lookup so the classification
// pipeline can lean on what worked before.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/caseops/casepilot/pkg/config"
	"github.com/caseops/casepilot/pkg/embedding"
	"github.com/caseops/casepilot/pkg/models"
	"github.com/caseops/casepilot/pkg/taxonomy"
)

// Candidate fetch bounds. Ranking happens in Go, so both paths pull a
// generous slice of the table and narrow it locally.
const (
	retrieveCandidateLimit = 200
	duplicateScanLimit     = 500
)

// Store is the slice of the exemplar store the service needs.
type Store interface {
	ListCandidates(ctx context.Context, interactionType models.InteractionType, minQuality float64, limit int) ([]*models.Exemplar, error)
	Create(ctx context.Context, ex *models.Exemplar) error
	UpdateSignals(ctx context.Context, id string, signals models.QualitySignals, outcome string) (*models.Exemplar, error)
}

// Match pairs a retrieved exemplar with its cosine distance from the
// query. Lower distance means closer.
type Match struct {
	Exemplar *models.Exemplar
	Distance float64
}

// Service ranks exemplars against an embedded query and writes new ones
// with near-duplicate merging.
type Service struct {
	store    Store
	embedder embedding.Client
	cfg      *config.MemoryConfig
	logger   *slog.Logger
}

// NewService creates a memory service. A nil config falls back to the
// built-in defaults.
func NewService(store Store, embedder embedding.Client, cfg *config.MemoryConfig) *Service {
	if cfg == nil {
		cfg = config.DefaultMemoryConfig()
	}
	return &Service{
		store:    store,
		embedder: embedder,
		cfg:      cfg,
		logger:   slog.Default().With("component", "memory"),
	}
}

// Retrieve embeds the query text and returns the closest exemplars:
// quality-filtered candidates within the distance ceiling, ranked
// ascending by distance, capped at the configured top-K. A nil service
// returns no matches so callers can treat muscle memory as optional.
func (s *Service) Retrieve(ctx context.Context, query string, interactionType models.InteractionType) ([]Match, error) {
	if s == nil {
		return nil, nil
	}
	if query == "" {
		return nil, taxonomy.Validation(errors.New("memory query text is empty"))
	}

	if timeout := s.cfg.FetchTimeout.Duration(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed memory query: %w", err)
	}

	candidates, err := s.store.ListCandidates(ctx, interactionType, s.cfg.MinQuality, retrieveCandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load exemplar candidates: %w", err)
	}

	matches := make([]Match, 0, len(candidates))
	for _, ex := range candidates {
		if len(ex.Embedding) == 0 {
			continue
		}
		distance := embedding.CosineDistance(queryVec, ex.Embedding)
		if distance > s.cfg.MaxDistance {
			continue
		}
		matches = append(matches, Match{Exemplar: ex, Distance: distance})
	}

	// Candidates arrive best-quality first; a stable sort keeps that
	// order for distance ties.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})
	if len(matches) > s.cfg.TopK {
		matches = matches[:s.cfg.TopK]
	}

	s.logger.Debug("retrieved exemplars",
		"interaction_type", string(interactionType),
		"candidates", len(candidates),
		"matches", len(matches))
	return matches, nil
}

// WriteInput describes a new exemplar candidate.
type WriteInput struct {
	CaseNumber      string
	InteractionType models.InteractionType
	InputContext    string
	ActionTaken     string
	Outcome         string
	Signals         models.QualitySignals
}

// Write stores a new exemplar unless one of the same interaction type
// already sits within the duplicate distance, in which case the
// incumbent absorbs the latest signal bundle instead. Returns the
// stored exemplar and whether a new row was created.
func (s *Service) Write(ctx context.Context, in WriteInput) (*models.Exemplar, bool, error) {
	if s == nil {
		return nil, false, taxonomy.DependencyDisabled(errors.New("memory service not configured"))
	}
	if in.CaseNumber == "" || in.InputContext == "" {
		return nil, false, taxonomy.Validation(errors.New("exemplar case number and input context are required"))
	}
	if in.InteractionType == "" {
		return nil, false, taxonomy.Validation(errors.New("exemplar interaction type is required"))
	}

	if timeout := s.cfg.FetchTimeout.Duration(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	vec, err := s.embedder.Embed(ctx, in.InputContext)
	if err != nil {
		return nil, false, fmt.Errorf("failed to embed exemplar context: %w", err)
	}

	// The duplicate scan ignores the quality floor: a low-quality
	// incumbent still blocks a same-type near-duplicate insert.
	candidates, err := s.store.ListCandidates(ctx, in.InteractionType, 0, duplicateScanLimit)
	if err != nil {
		return nil, false, fmt.Errorf("failed to scan for duplicate exemplars: %w", err)
	}

	incumbent, distance := nearest(vec, candidates)
	if incumbent != nil && distance <= s.cfg.DuplicateDistance {
		updated, err := s.store.UpdateSignals(ctx, incumbent.ID, in.Signals, in.Outcome)
		if err != nil {
			return nil, false, fmt.Errorf("failed to refresh duplicate exemplar %s: %w", incumbent.ID, err)
		}
		s.logger.Info("merged exemplar into near duplicate",
			"exemplar_id", incumbent.ID,
			"case_number", in.CaseNumber,
			"distance", distance)
		return updated, false, nil
	}

	ex := &models.Exemplar{
		CaseNumber:      in.CaseNumber,
		InteractionType: in.InteractionType,
		InputContext:    in.InputContext,
		ActionTaken:     in.ActionTaken,
		Outcome:         in.Outcome,
		Embedding:       vec,
		Signals:         in.Signals,
	}
	if err := s.store.Create(ctx, ex); err != nil {
		return nil, false, fmt.Errorf("failed to store exemplar: %w", err)
	}
	s.logger.Info("stored exemplar",
		"exemplar_id", ex.ID,
		"case_number", in.CaseNumber,
		"interaction_type", string(in.InteractionType),
		"quality_score", ex.QualityScore)
	return ex, true, nil
}

// RecordSignals applies a reviewed signal bundle to an existing
// exemplar, recomputing its quality score. Used by the supervisor
// review endpoint.
func (s *Service) RecordSignals(ctx context.Context, id string, signals models.QualitySignals, outcome string) (*models.Exemplar, error) {
	if s == nil {
		return nil, taxonomy.DependencyDisabled(errors.New("memory service not configured"))
	}
	if id == "" {
		return nil, taxonomy.Validation(errors.New("exemplar id is required"))
	}
	updated, err := s.store.UpdateSignals(ctx, id, signals, outcome)
	if err != nil {
		return nil, err
	}
	s.logger.Info("updated exemplar signals",
		"exemplar_id", id,
		"quality_score", updated.QualityScore)
	return updated, nil
}

func nearest(vec []float32, candidates []*models.Exemplar) (*models.Exemplar, float64) {
	var best *models.Exemplar
	bestDistance := 2.0
	for _, ex := range candidates {
		if len(ex.Embedding) == 0 {
			continue
		}
		if d := embedding.CosineDistance(vec, ex.Embedding); d < bestDistance {
			best, bestDistance = ex, d
		}
	}
	return best, bestDistance
}

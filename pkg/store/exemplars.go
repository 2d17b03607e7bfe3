package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/caseops/casepilot/pkg/models"
)

// ExemplarStore persists muscle-memory exemplars. Embeddings are stored
// as little-endian float32 BYTEA; similarity ranking happens in Go.
type ExemplarStore struct {
	db *sqlx.DB
}

// NewExemplarStore creates a new ExemplarStore.
func NewExemplarStore(db *sqlx.DB) *ExemplarStore {
	return &ExemplarStore{db: db}
}

// EncodeEmbedding packs a float32 vector into little-endian bytes.
func EncodeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeEmbedding unpacks little-endian bytes into a float32 vector.
func DecodeEmbedding(raw []byte) ([]float32, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(raw))
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return vec, nil
}

// exemplarRow mirrors the table shape; the embedding column needs manual
// conversion so it gets its own field.
type exemplarRow struct {
	ID              string                 `db:"id"`
	CaseNumber      string                 `db:"case_number"`
	InteractionType models.InteractionType `db:"interaction_type"`
	InputContext    string                 `db:"input_context"`
	ActionTaken     string                 `db:"action_taken"`
	Outcome         string                 `db:"outcome"`
	Embedding       []byte                 `db:"embedding"`
	QualityScore    float64                `db:"quality_score"`
	Signals         models.QualitySignals  `db:"signals"`
	CreatedAt       time.Time              `db:"created_at"`
	UpdatedAt       time.Time              `db:"updated_at"`
}

func (r *exemplarRow) toModel() (*models.Exemplar, error) {
	vec, err := DecodeEmbedding(r.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to decode embedding for exemplar %s: %w", r.ID, err)
	}
	return &models.Exemplar{
		ID:              r.ID,
		CaseNumber:      r.CaseNumber,
		InteractionType: r.InteractionType,
		InputContext:    r.InputContext,
		ActionTaken:     r.ActionTaken,
		Outcome:         r.Outcome,
		Embedding:       vec,
		QualityScore:    r.QualityScore,
		Signals:         r.Signals,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}, nil
}

const exemplarColumns = `id, case_number, interaction_type, input_context, action_taken,
	outcome, embedding, quality_score, signals, created_at, updated_at`

// Create inserts a new exemplar. The quality score is computed from the
// signal bundle.
func (s *ExemplarStore) Create(ctx context.Context, ex *models.Exemplar) error {
	if ex.CaseNumber == "" {
		return NewValidationError("case_number", "required")
	}
	if ex.InteractionType == "" {
		return NewValidationError("interaction_type", "required")
	}
	if ex.InputContext == "" {
		return NewValidationError("input_context", "required")
	}
	if len(ex.Embedding) == 0 {
		return NewValidationError("embedding", "required")
	}
	if ex.ID == "" {
		ex.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	ex.QualityScore = ex.Signals.Score()
	ex.CreatedAt = now
	ex.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exemplars (id, case_number, interaction_type, input_context, action_taken,
			outcome, embedding, quality_score, signals, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		ex.ID, ex.CaseNumber, ex.InteractionType, ex.InputContext, ex.ActionTaken,
		ex.Outcome, EncodeEmbedding(ex.Embedding), ex.QualityScore, ex.Signals,
		ex.CreatedAt, ex.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create exemplar: %w", err)
	}
	return nil
}

// Get returns the exemplar with the given id.
func (s *ExemplarStore) Get(ctx context.Context, id string) (*models.Exemplar, error) {
	var row exemplarRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+exemplarColumns+` FROM exemplars WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get exemplar: %w", err)
	}
	return row.toModel()
}

// ListCandidates returns exemplars eligible for similarity ranking:
// optionally filtered by interaction type, at or above minQuality,
// best-quality first. The caller ranks by cosine distance.
func (s *ExemplarStore) ListCandidates(ctx context.Context, interactionType models.InteractionType, minQuality float64, limit int) ([]*models.Exemplar, error) {
	if limit <= 0 {
		limit = 200
	}
	var rows []exemplarRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+exemplarColumns+` FROM exemplars
		WHERE ($1 = '' OR interaction_type = $1) AND quality_score >= $2
		ORDER BY quality_score DESC, created_at DESC
		LIMIT $3`, string(interactionType), minQuality, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list exemplar candidates: %w", err)
	}

	exemplars := make([]*models.Exemplar, 0, len(rows))
	for i := range rows {
		ex, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		exemplars = append(exemplars, ex)
	}
	return exemplars, nil
}

// UpdateSignals replaces the signal bundle and recomputes the quality
// score from it. Outcome is refreshed when non-empty.
func (s *ExemplarStore) UpdateSignals(ctx context.Context, id string, signals models.QualitySignals, outcome string) (*models.Exemplar, error) {
	now := time.Now().UTC()
	score := signals.Score()

	res, err := s.db.ExecContext(ctx, `
		UPDATE exemplars
		SET signals = $1, quality_score = $2,
			outcome = CASE WHEN $3 <> '' THEN $3 ELSE outcome END,
			updated_at = $4
		WHERE id = $5`,
		signals, score, outcome, now, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update exemplar signals: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read signal update result: %w", err)
	}
	if rows == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

// Count returns the total number of exemplars.
func (s *ExemplarStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM exemplars`); err != nil {
		return 0, fmt.Errorf("failed to count exemplars: %w", err)
	}
	return count, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/caseops/casepilot/pkg/models"
)

// GateStore persists quality gates and enforces their transition graph.
type GateStore struct {
	db *sqlx.DB
}

// NewGateStore creates a new GateStore.
func NewGateStore(db *sqlx.DB) *GateStore {
	return &GateStore{db: db}
}

const gateColumns = `id, case_sys_id, case_number, assignment_group, status, blocked,
	risk_level, reviewer_id, review_reason, decision, version, created_at, reviewed_at, updated_at`

// Create inserts a new gate. ID, version, and timestamps are filled in;
// the initial status defaults to NEW.
func (s *GateStore) Create(ctx context.Context, gate *models.QualityGate) error {
	if gate.CaseSysID == "" {
		return NewValidationError("case_sys_id", "required")
	}
	if gate.CaseNumber == "" {
		return NewValidationError("case_number", "required")
	}
	if gate.Status == "" {
		gate.Status = models.GateStatusNew
	}
	if !gate.Status.IsValid() {
		return NewValidationError("status", fmt.Sprintf("unknown status %q", gate.Status))
	}
	if gate.RiskLevel == "" {
		gate.RiskLevel = models.RiskLow
	}
	if gate.ID == "" {
		gate.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	gate.Version = 1
	gate.CreatedAt = now
	gate.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quality_gates (id, case_sys_id, case_number, assignment_group, status,
			blocked, risk_level, reviewer_id, review_reason, decision, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		gate.ID, gate.CaseSysID, gate.CaseNumber, gate.AssignmentGroup, gate.Status,
		gate.Blocked, gate.RiskLevel, gate.ReviewerID, gate.ReviewReason, gate.Decision,
		gate.Version, gate.CreatedAt, gate.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create gate: %w", err)
	}
	return nil
}

// Get returns the gate with the given id.
func (s *GateStore) Get(ctx context.Context, id string) (*models.QualityGate, error) {
	var gate models.QualityGate
	err := s.db.GetContext(ctx, &gate,
		`SELECT `+gateColumns+` FROM quality_gates WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get gate: %w", err)
	}
	return &gate, nil
}

// GetActiveByCase returns the most recent non-terminal gate for a case,
// or ErrNotFound when every gate for the case has reached a terminal
// status.
func (s *GateStore) GetActiveByCase(ctx context.Context, caseSysID string) (*models.QualityGate, error) {
	var gate models.QualityGate
	err := s.db.GetContext(ctx, &gate, `
		SELECT `+gateColumns+` FROM quality_gates
		WHERE case_sys_id = $1 AND status IN ('NEW', 'CLARIFICATION_NEEDED', 'BLOCKED')
		ORDER BY created_at DESC
		LIMIT 1`, caseSysID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query active gate: %w", err)
	}
	return &gate, nil
}

// GetLatestByCaseNumber returns the newest gate for a case number.
func (s *GateStore) GetLatestByCaseNumber(ctx context.Context, caseNumber string) (*models.QualityGate, error) {
	var gate models.QualityGate
	err := s.db.GetContext(ctx, &gate, `
		SELECT `+gateColumns+` FROM quality_gates
		WHERE case_number = $1
		ORDER BY created_at DESC
		LIMIT 1`, caseNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query gate by case number: %w", err)
	}
	return &gate, nil
}

// TransitionParams carries the mutable fields of a gate transition.
type TransitionParams struct {
	ReviewerID   string
	ReviewReason string
	RiskLevel    models.RiskLevel
	Decision     *models.GateDecision
}

// Transition moves gate to next under optimistic locking. The gate's
// in-memory status and version must match the stored row; a stale
// version returns ErrConcurrentModification, a move outside the
// transition graph returns ErrInvalidTransition. Every committed
// transition writes a gate audit entry in the same transaction, so
// the trail cannot miss a state change. On success the gate is
// updated in place with the new status and version.
func (s *GateStore) Transition(ctx context.Context, gate *models.QualityGate, next models.GateStatus, params TransitionParams) error {
	if !next.IsValid() {
		return NewValidationError("status", fmt.Sprintf("unknown status %q", next))
	}
	if !gate.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, gate.Status, next)
	}

	blocked := next == models.GateStatusBlocked || next == models.GateStatusExpired
	riskLevel := gate.RiskLevel
	if params.RiskLevel != "" {
		riskLevel = params.RiskLevel
	}
	reviewerID := gate.ReviewerID
	if params.ReviewerID != "" {
		reviewerID = params.ReviewerID
	}
	reviewReason := gate.ReviewReason
	if params.ReviewReason != "" {
		reviewReason = params.ReviewReason
	}
	decision := gate.Decision
	if params.Decision != nil {
		decision = *params.Decision
	}

	now := time.Now().UTC()
	var reviewedAt *time.Time
	if reviewerID != "" && next.IsTerminal() {
		reviewedAt = &now
	} else {
		reviewedAt = gate.ReviewedAt
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transition transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE quality_gates
		SET status = $1, blocked = $2, risk_level = $3, reviewer_id = $4,
			review_reason = $5, decision = $6, reviewed_at = $7,
			version = version + 1, updated_at = $8
		WHERE id = $9 AND version = $10 AND status = $11`,
		next, blocked, riskLevel, reviewerID, reviewReason, decision, reviewedAt,
		now, gate.ID, gate.Version, gate.Status)
	if err != nil {
		return fmt.Errorf("failed to transition gate: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read transition result: %w", err)
	}
	if rows == 0 {
		// Distinguish a missing row from a lost race.
		if _, getErr := s.Get(ctx, gate.ID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConcurrentModification
	}

	actor := reviewerID
	if actor == "" {
		actor = "system"
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_entries (entity_type, entity_id, action, prior_state, new_state,
			reason, actor, performed_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		models.AuditEntityGate, gate.ID, "gate_transition", string(gate.Status), string(next),
		reviewReason, actor, now,
		models.JSONMap{"case_number": gate.CaseNumber, "risk_level": string(riskLevel)})
	if err != nil {
		return fmt.Errorf("failed to record gate transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit gate transition: %w", err)
	}

	gate.Status = next
	gate.Blocked = blocked
	gate.RiskLevel = riskLevel
	gate.ReviewerID = reviewerID
	gate.ReviewReason = reviewReason
	gate.Decision = decision
	gate.ReviewedAt = reviewedAt
	gate.Version++
	gate.UpdatedAt = now
	return nil
}

// ListStuck returns BLOCKED gates whose last update is not after the
// cutoff, oldest first. The monitor partitions them into buckets.
func (s *GateStore) ListStuck(ctx context.Context, cutoff time.Time) ([]*models.QualityGate, error) {
	var gates []*models.QualityGate
	err := s.db.SelectContext(ctx, &gates, `
		SELECT `+gateColumns+` FROM quality_gates
		WHERE status = 'BLOCKED' AND updated_at <= $1
		ORDER BY updated_at ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stuck gates: %w", err)
	}
	return gates, nil
}

// ListPendingReview returns BLOCKED gates awaiting supervisor review,
// oldest first.
func (s *GateStore) ListPendingReview(ctx context.Context, limit int) ([]*models.QualityGate, error) {
	if limit <= 0 {
		limit = 50
	}
	var gates []*models.QualityGate
	err := s.db.SelectContext(ctx, &gates, `
		SELECT `+gateColumns+` FROM quality_gates
		WHERE status = 'BLOCKED'
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list gates pending review: %w", err)
	}
	return gates, nil
}

// StatusCounts returns the number of gates per status.
func (s *GateStore) StatusCounts(ctx context.Context) (map[models.GateStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM quality_gates GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count gates by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.GateStatus]int)
	for rows.Next() {
		var status models.GateStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate status counts: %w", err)
	}
	return counts, nil
}

// GateRates summarize gate outcomes over a window.
type GateRates struct {
	Total    int     `db:"total" json:"total"`
	Approved int     `db:"approved" json:"approved"`
	Blocked  int     `db:"blocked" json:"blocked"`
	Expired  int     `db:"expired" json:"expired"`
	AvgAge   float64 `db:"avg_blocked_age_seconds" json:"avg_blocked_age_seconds"`
}

// ApprovalRate returns approved/total in [0,1]; zero when no gates.
func (r GateRates) ApprovalRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Approved) / float64(r.Total)
}

// BlockRate returns blocked/total in [0,1]; zero when no gates.
func (r GateRates) BlockRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Blocked) / float64(r.Total)
}

// RatesSince aggregates gate outcomes created after since.
func (s *GateStore) RatesSince(ctx context.Context, since time.Time) (*GateRates, error) {
	var rates GateRates
	err := s.db.GetContext(ctx, &rates, `
		SELECT COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'APPROVED') AS approved,
			COUNT(*) FILTER (WHERE status = 'BLOCKED') AS blocked,
			COUNT(*) FILTER (WHERE status = 'EXPIRED') AS expired,
			COALESCE(EXTRACT(EPOCH FROM AVG(NOW() - updated_at) FILTER (WHERE status = 'BLOCKED')), 0) AS avg_blocked_age_seconds
		FROM quality_gates
		WHERE created_at >= $1`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate gate rates: %w", err)
	}
	return &rates, nil
}

// LeaderboardRow is one reviewer's approved-gate count.
type LeaderboardRow struct {
	Actor    string `db:"actor" json:"actor"`
	Approved int    `db:"approved" json:"approved"`
}

// Leaderboard returns the top reviewers by approved gates since the
// given time.
func (s *GateStore) Leaderboard(ctx context.Context, since time.Time, limit int) ([]LeaderboardRow, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []LeaderboardRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT reviewer_id AS actor, COUNT(*) AS approved
		FROM quality_gates
		WHERE status = 'APPROVED' AND reviewer_id <> '' AND updated_at >= $1
		GROUP BY reviewer_id
		ORDER BY approved DESC, reviewer_id ASC
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to build leaderboard: %w", err)
	}
	return rows, nil
}

// GroupCount is the open-gate count for one assignment group.
type GroupCount struct {
	AssignmentGroup string `db:"assignment_group" json:"assignment_group"`
	Count           int    `db:"count" json:"count"`
}

// OpenByAssignmentGroup returns open (non-terminal) gate counts grouped
// by assignment group, largest first.
func (s *GateStore) OpenByAssignmentGroup(ctx context.Context) ([]GroupCount, error) {
	var rows []GroupCount
	err := s.db.SelectContext(ctx, &rows, `
		SELECT assignment_group, COUNT(*) AS count
		FROM quality_gates
		WHERE status IN ('NEW', 'CLARIFICATION_NEEDED', 'BLOCKED')
		GROUP BY assignment_group
		ORDER BY count DESC, assignment_group ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to group open gates: %w", err)
	}
	return rows, nil
}

// CatalogRedirects returns approved gates whose classification suggested
// a record type other than Case, newest first. These feed the
// catalog-redirect report.
func (s *GateStore) CatalogRedirects(ctx context.Context, since time.Time, limit int) ([]*models.QualityGate, error) {
	if limit <= 0 {
		limit = 50
	}
	var gates []*models.QualityGate
	err := s.db.SelectContext(ctx, &gates, `
		SELECT `+gateColumns+` FROM quality_gates
		WHERE created_at >= $1
			AND decision #>> '{classification,categorization,record_type_suggestion,type}' IS NOT NULL
			AND decision #>> '{classification,categorization,record_type_suggestion,type}' <> 'Case'
		ORDER BY created_at DESC
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog redirects: %w", err)
	}
	return gates, nil
}

// MissingCategories returns gates whose classification produced no
// category, newest first. These feed the missing-category report.
func (s *GateStore) MissingCategories(ctx context.Context, since time.Time, limit int) ([]*models.QualityGate, error) {
	if limit <= 0 {
		limit = 50
	}
	var gates []*models.QualityGate
	err := s.db.SelectContext(ctx, &gates, `
		SELECT `+gateColumns+` FROM quality_gates
		WHERE created_at >= $1
			AND COALESCE(decision #>> '{classification,categorization,category}', '') = ''
		ORDER BY created_at DESC
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query missing categories: %w", err)
	}
	return gates, nil
}

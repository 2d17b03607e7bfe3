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

// activeEscalationIndex is the partial unique index that holds the
// one-active-escalation-per-case invariant against races.
const activeEscalationIndex = "escalations_active_case_number_idx"

// EscalationStore persists escalations. The active-escalation invariant
// is enforced twice: HasActiveSince for the cheap pre-check and the
// partial unique index for the race.
type EscalationStore struct {
	db *sqlx.DB
}

// NewEscalationStore creates a new EscalationStore.
func NewEscalationStore(db *sqlx.DB) *EscalationStore {
	return &EscalationStore{db: db}
}

const escalationColumns = `id, case_number, case_sys_id, triggers, bi_score, rule_name, channel,
	reason, message_channel, message_ts, status, acknowledged_by, version, created_at,
	acknowledged_at, updated_at`

// Create inserts a new escalation in PENDING status. A concurrent active
// escalation for the same case number returns ErrAlreadyExists.
func (s *EscalationStore) Create(ctx context.Context, esc *models.Escalation) error {
	if esc.CaseNumber == "" {
		return NewValidationError("case_number", "required")
	}
	if esc.Channel == "" {
		return NewValidationError("channel", "required")
	}
	if len(esc.Triggers) == 0 {
		return NewValidationError("triggers", "at least one trigger required")
	}
	if esc.ID == "" {
		esc.ID = uuid.New().String()
	}
	if esc.Status == "" {
		esc.Status = models.EscalationStatusPending
	}

	now := time.Now().UTC()
	esc.Version = 1
	esc.CreatedAt = now
	esc.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO escalations (id, case_number, case_sys_id, triggers, bi_score, rule_name,
			channel, reason, message_channel, message_ts, status, acknowledged_by, version,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		esc.ID, esc.CaseNumber, esc.CaseSysID, esc.Triggers, esc.BIScore, esc.RuleName,
		esc.Channel, esc.Reason, esc.MessageChannel, esc.MessageTS, esc.Status,
		esc.AcknowledgedBy, esc.Version, esc.CreatedAt, esc.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, activeEscalationIndex) || isUniqueViolation(err, "") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create escalation: %w", err)
	}
	return nil
}

// Get returns the escalation with the given id.
func (s *EscalationStore) Get(ctx context.Context, id string) (*models.Escalation, error) {
	var esc models.Escalation
	err := s.db.GetContext(ctx, &esc,
		`SELECT `+escalationColumns+` FROM escalations WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get escalation: %w", err)
	}
	return &esc, nil
}

// HasActiveSince reports whether an active (PENDING or POSTED)
// escalation exists for the case number created after since.
func (s *EscalationStore) HasActiveSince(ctx context.Context, caseNumber string, since time.Time) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM escalations
			WHERE case_number = $1 AND status IN ('PENDING', 'POSTED') AND created_at >= $2
		)`, caseNumber, since)
	if err != nil {
		return false, fmt.Errorf("failed to check active escalation: %w", err)
	}
	return exists, nil
}

// GetActiveByCase returns the PENDING or POSTED escalation holding the
// active slot for the case number. The partial unique index guarantees
// at most one.
func (s *EscalationStore) GetActiveByCase(ctx context.Context, caseNumber string) (*models.Escalation, error) {
	var esc models.Escalation
	err := s.db.GetContext(ctx, &esc, `
		SELECT `+escalationColumns+` FROM escalations
		WHERE case_number = $1 AND status IN ('PENDING', 'POSTED')`, caseNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get active escalation: %w", err)
	}
	return &esc, nil
}

// MarkPosted records the Slack message coordinates and moves the
// escalation to POSTED.
func (s *EscalationStore) MarkPosted(ctx context.Context, esc *models.Escalation, channel, ts string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE escalations
		SET status = 'POSTED', message_channel = $1, message_ts = $2,
			version = version + 1, updated_at = $3
		WHERE id = $4 AND version = $5 AND status = 'PENDING'`,
		channel, ts, now, esc.ID, esc.Version)
	if err != nil {
		return fmt.Errorf("failed to mark escalation posted: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read post update result: %w", err)
	}
	if rows == 0 {
		if _, getErr := s.Get(ctx, esc.ID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConcurrentModification
	}

	esc.Status = models.EscalationStatusPosted
	esc.MessageChannel = channel
	esc.MessageTS = ts
	esc.Version++
	esc.UpdatedAt = now
	return nil
}

// Acknowledge moves a POSTED escalation to ACKNOWLEDGED on behalf of the
// given user. Acknowledging twice is a no-op for the second caller.
func (s *EscalationStore) Acknowledge(ctx context.Context, id, userID string) (*models.Escalation, error) {
	esc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if esc.Status == models.EscalationStatusAcknowledged {
		return esc, nil
	}
	if esc.Status != models.EscalationStatusPosted {
		return nil, fmt.Errorf("%w: %s -> ACKNOWLEDGED", ErrInvalidTransition, esc.Status)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE escalations
		SET status = 'ACKNOWLEDGED', acknowledged_by = $1, acknowledged_at = $2,
			version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4 AND status = 'POSTED'`,
		userID, now, esc.ID, esc.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to acknowledge escalation: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read acknowledge result: %w", err)
	}
	if rows == 0 {
		return nil, ErrConcurrentModification
	}

	esc.Status = models.EscalationStatusAcknowledged
	esc.AcknowledgedBy = userID
	esc.AcknowledgedAt = &now
	esc.Version++
	esc.UpdatedAt = now
	return esc, nil
}

// Cancel moves a PENDING escalation to CANCELLED, releasing the active
// slot. Used when the Slack post fails permanently.
func (s *EscalationStore) Cancel(ctx context.Context, esc *models.Escalation, reason string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE escalations
		SET status = 'CANCELLED', reason = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4 AND status = 'PENDING'`,
		reason, now, esc.ID, esc.Version)
	if err != nil {
		return fmt.Errorf("failed to cancel escalation: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read cancel result: %w", err)
	}
	if rows == 0 {
		if _, getErr := s.Get(ctx, esc.ID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConcurrentModification
	}

	esc.Status = models.EscalationStatusCancelled
	esc.Reason = reason
	esc.Version++
	esc.UpdatedAt = now
	return nil
}

// Supersede moves an active (PENDING or POSTED) escalation to CANCELLED,
// releasing the slot for a replacement. Unlike Cancel it also applies to
// posted rows: the router retires escalations that aged past the dedup
// window without an acknowledgement.
func (s *EscalationStore) Supersede(ctx context.Context, esc *models.Escalation, reason string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE escalations
		SET status = 'CANCELLED', reason = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4 AND status IN ('PENDING', 'POSTED')`,
		reason, now, esc.ID, esc.Version)
	if err != nil {
		return fmt.Errorf("failed to supersede escalation: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read supersede result: %w", err)
	}
	if rows == 0 {
		if _, getErr := s.Get(ctx, esc.ID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConcurrentModification
	}

	esc.Status = models.EscalationStatusCancelled
	esc.Reason = reason
	esc.Version++
	esc.UpdatedAt = now
	return nil
}

// CountPostedSince returns the number of escalations posted after since.
func (s *EscalationStore) CountPostedSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM escalations
		WHERE status IN ('POSTED', 'ACKNOWLEDGED') AND created_at >= $1`, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count posted escalations: %w", err)
	}
	return count, nil
}

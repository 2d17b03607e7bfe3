package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/caseops/casepilot/pkg/models"
)

// AuditStore persists append-only audit entries. The bigserial seq
// column is the insertion-order tiebreaker when performed_at collides.
type AuditStore struct {
	db *sqlx.DB
}

// NewAuditStore creates a new AuditStore.
func NewAuditStore(db *sqlx.DB) *AuditStore {
	return &AuditStore{db: db}
}

// Insert appends one audit entry and fills in its sequence number.
func (s *AuditStore) Insert(ctx context.Context, entry *models.AuditEntry) error {
	if entry.EntityType == "" {
		return NewValidationError("entity_type", "required")
	}
	if entry.Action == "" {
		return NewValidationError("action", "required")
	}
	if entry.Actor == "" {
		entry.Actor = "system"
	}
	if entry.PerformedAt.IsZero() {
		entry.PerformedAt = time.Now().UTC()
	}

	err := s.db.GetContext(ctx, &entry.Seq, `
		INSERT INTO audit_entries (entity_type, entity_id, action, prior_state, new_state,
			reason, actor, performed_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING seq`,
		entry.EntityType, entry.EntityID, entry.Action, entry.PriorState, entry.NewState,
		entry.Reason, entry.Actor, entry.PerformedAt, entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// ListByEntity returns the audit trail for one entity in event order.
func (s *AuditStore) ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]*models.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []*models.AuditEntry
	err := s.db.SelectContext(ctx, &entries, `
		SELECT seq, entity_type, entity_id, action, prior_state, new_state, reason, actor,
			performed_at, metadata
		FROM audit_entries
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY performed_at ASC, seq ASC
		LIMIT $3`, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return entries, nil
}

// DeleteBefore removes audit entries older than the cutoff. Returns the
// number deleted.
func (s *AuditStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_entries WHERE performed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old audit entries: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read audit retention result: %w", err)
	}
	return rows, nil
}

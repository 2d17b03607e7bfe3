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

// ProjectStore persists per-project orchestration settings.
type ProjectStore struct {
	db *sqlx.DB
}

// NewProjectStore creates a new ProjectStore.
func NewProjectStore(db *sqlx.DB) *ProjectStore {
	return &ProjectStore{db: db}
}

// Get returns the config for a project.
func (s *ProjectStore) Get(ctx context.Context, projectID string) (*models.ProjectConfig, error) {
	var cfg models.ProjectConfig
	err := s.db.GetContext(ctx, &cfg, `
		SELECT project_id, display_name, escalation_rule, standup_channel, standup_hour_utc,
			settings, version, created_at, updated_at
		FROM project_configs
		WHERE project_id = $1`, projectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get project config: %w", err)
	}
	return &cfg, nil
}

// Upsert creates or replaces a project config, bumping the version on
// replace.
func (s *ProjectStore) Upsert(ctx context.Context, cfg *models.ProjectConfig) error {
	if cfg.ProjectID == "" {
		return NewValidationError("project_id", "required")
	}
	if cfg.StandupHourUTC < 0 || cfg.StandupHourUTC > 23 {
		return NewValidationError("standup_hour_utc", "must be between 0 and 23")
	}

	now := time.Now().UTC()
	err := s.db.GetContext(ctx, &cfg.Version, `
		INSERT INTO project_configs (project_id, display_name, escalation_rule, standup_channel,
			standup_hour_utc, settings, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $7)
		ON CONFLICT (project_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			escalation_rule = EXCLUDED.escalation_rule,
			standup_channel = EXCLUDED.standup_channel,
			standup_hour_utc = EXCLUDED.standup_hour_utc,
			settings = EXCLUDED.settings,
			version = project_configs.version + 1,
			updated_at = EXCLUDED.updated_at
		RETURNING version`,
		cfg.ProjectID, cfg.DisplayName, cfg.EscalationRule, cfg.StandupChannel,
		cfg.StandupHourUTC, cfg.Settings, now)
	if err != nil {
		return fmt.Errorf("failed to upsert project config: %w", err)
	}
	cfg.UpdatedAt = now
	return nil
}

// ClientStore persists per-client clarification and notification knobs.
type ClientStore struct {
	db *sqlx.DB
}

// NewClientStore creates a new ClientStore.
func NewClientStore(db *sqlx.DB) *ClientStore {
	return &ClientStore{db: db}
}

// Get returns the settings for a client. Absent rows return ErrNotFound;
// callers fall back to config defaults.
func (s *ClientStore) Get(ctx context.Context, clientID string) (*models.ClientSettings, error) {
	var settings models.ClientSettings
	err := s.db.GetContext(ctx, &settings, `
		SELECT client_id, display_name, reminder_lead_minutes, max_reminders,
			clarification_ttl_minutes, escalation_channel, version, created_at, updated_at
		FROM client_settings
		WHERE client_id = $1`, clientID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get client settings: %w", err)
	}
	return &settings, nil
}

// Upsert creates or replaces client settings, bumping the version on
// replace.
func (s *ClientStore) Upsert(ctx context.Context, settings *models.ClientSettings) error {
	if settings.ClientID == "" {
		return NewValidationError("client_id", "required")
	}
	if settings.ReminderLeadMinutes < 0 {
		return NewValidationError("reminder_lead_minutes", "must not be negative")
	}
	if settings.MaxReminders < 0 {
		return NewValidationError("max_reminders", "must not be negative")
	}
	if settings.ClarificationTTL < 0 {
		return NewValidationError("clarification_ttl_minutes", "must not be negative")
	}

	now := time.Now().UTC()
	err := s.db.GetContext(ctx, &settings.Version, `
		INSERT INTO client_settings (client_id, display_name, reminder_lead_minutes,
			max_reminders, clarification_ttl_minutes, escalation_channel, version,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $7)
		ON CONFLICT (client_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			reminder_lead_minutes = EXCLUDED.reminder_lead_minutes,
			max_reminders = EXCLUDED.max_reminders,
			clarification_ttl_minutes = EXCLUDED.clarification_ttl_minutes,
			escalation_channel = EXCLUDED.escalation_channel,
			version = client_settings.version + 1,
			updated_at = EXCLUDED.updated_at
		RETURNING version`,
		settings.ClientID, settings.DisplayName, settings.ReminderLeadMinutes,
		settings.MaxReminders, settings.ClarificationTTL, settings.EscalationChannel, now)
	if err != nil {
		return fmt.Errorf("failed to upsert client settings: %w", err)
	}
	settings.UpdatedAt = now
	return nil
}

// SnapshotStore persists point-in-time queue measurements.
type SnapshotStore struct {
	db *sqlx.DB
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(db *sqlx.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Insert writes one snapshot row.
func (s *SnapshotStore) Insert(ctx context.Context, snap *models.QueueSnapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queue_snapshots (id, open_gates, blocked_gates, active_sessions,
			pending_jobs, running_jobs, taken_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		snap.ID, snap.OpenGates, snap.BlockedGates, snap.ActiveSessions,
		snap.PendingJobs, snap.RunningJobs, snap.TakenAt)
	if err != nil {
		return fmt.Errorf("failed to insert queue snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recent snapshot.
func (s *SnapshotStore) Latest(ctx context.Context) (*models.QueueSnapshot, error) {
	var snap models.QueueSnapshot
	err := s.db.GetContext(ctx, &snap, `
		SELECT id, open_gates, blocked_gates, active_sessions, pending_jobs, running_jobs, taken_at
		FROM queue_snapshots
		ORDER BY taken_at DESC
		LIMIT 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	return &snap, nil
}

// DeleteBefore removes snapshots taken before the cutoff.
func (s *SnapshotStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM queue_snapshots WHERE taken_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old snapshots: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read snapshot retention result: %w", err)
	}
	return rows, nil
}

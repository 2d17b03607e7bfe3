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

// SessionStore persists clarification sessions and enforces their FSM.
type SessionStore struct {
	db *sqlx.DB
}

// NewSessionStore creates a new SessionStore.
func NewSessionStore(db *sqlx.DB) *SessionStore {
	return &SessionStore{db: db}
}

const sessionColumns = `id, case_sys_id, case_number, gate_id, questions, responses, status,
	channel_id, thread_ts, expires_at, reminders_sent, version, created_at, updated_at`

// Create inserts a new session in ACTIVE status.
func (s *SessionStore) Create(ctx context.Context, session *models.ClarificationSession) error {
	if session.CaseSysID == "" {
		return NewValidationError("case_sys_id", "required")
	}
	if session.GateID == "" {
		return NewValidationError("gate_id", "required")
	}
	if len(session.Questions) == 0 {
		return NewValidationError("questions", "at least one question required")
	}
	if session.ExpiresAt.IsZero() {
		return NewValidationError("expires_at", "required")
	}
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if session.Status == "" {
		session.Status = models.SessionStatusActive
	}
	if session.Responses == nil {
		session.Responses = models.Responses{}
	}

	now := time.Now().UTC()
	session.Version = 1
	session.CreatedAt = now
	session.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clarification_sessions (id, case_sys_id, case_number, gate_id, questions,
			responses, status, channel_id, thread_ts, expires_at, reminders_sent, version,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		session.ID, session.CaseSysID, session.CaseNumber, session.GateID, session.Questions,
		session.Responses, session.Status, session.ChannelID, session.ThreadTS,
		session.ExpiresAt, session.RemindersSent, session.Version,
		session.CreatedAt, session.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// Get returns the session with the given id.
func (s *SessionStore) Get(ctx context.Context, id string) (*models.ClarificationSession, error) {
	var session models.ClarificationSession
	err := s.db.GetContext(ctx, &session,
		`SELECT `+sessionColumns+` FROM clarification_sessions WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

// GetOpenByCase returns the newest session still collecting answers for
// a case (ACTIVE or RESPONDED).
func (s *SessionStore) GetOpenByCase(ctx context.Context, caseSysID string) (*models.ClarificationSession, error) {
	var session models.ClarificationSession
	err := s.db.GetContext(ctx, &session, `
		SELECT `+sessionColumns+` FROM clarification_sessions
		WHERE case_sys_id = $1 AND status IN ('ACTIVE', 'RESPONDED')
		ORDER BY created_at DESC
		LIMIT 1`, caseSysID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query open session: %w", err)
	}
	return &session, nil
}

// FindByThread locates the session whose questions were posted to the
// given Slack thread. Thread replies route through this lookup.
func (s *SessionStore) FindByThread(ctx context.Context, channelID, threadTS string) (*models.ClarificationSession, error) {
	var session models.ClarificationSession
	err := s.db.GetContext(ctx, &session, `
		SELECT `+sessionColumns+` FROM clarification_sessions
		WHERE channel_id = $1 AND thread_ts = $2
		ORDER BY created_at DESC
		LIMIT 1`, channelID, threadTS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find session by thread: %w", err)
	}
	return &session, nil
}

// Transition moves session to next under optimistic locking, following
// the same contract as GateStore.Transition.
func (s *SessionStore) Transition(ctx context.Context, session *models.ClarificationSession, next models.SessionStatus) error {
	if !next.IsValid() {
		return NewValidationError("status", fmt.Sprintf("unknown status %q", next))
	}
	if !session.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, session.Status, next)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE clarification_sessions
		SET status = $1, responses = $2, version = version + 1, updated_at = $3
		WHERE id = $4 AND version = $5 AND status = $6`,
		next, session.Responses, now, session.ID, session.Version, session.Status)
	if err != nil {
		return fmt.Errorf("failed to transition session: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read transition result: %w", err)
	}
	if rows == 0 {
		if _, getErr := s.Get(ctx, session.ID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConcurrentModification
	}

	session.Status = next
	session.Version++
	session.UpdatedAt = now
	return nil
}

// SaveResponses persists the session's responses map, moving to
// RESPONDED when every required question is answered. Response keys
// must be a subset of the session's question ids.
func (s *SessionStore) SaveResponses(ctx context.Context, session *models.ClarificationSession) error {
	for qid := range session.Responses {
		if !session.HasQuestion(qid) {
			return NewValidationError("responses", fmt.Sprintf("unknown question id %q", qid))
		}
	}

	next := session.Status
	if session.Status == models.SessionStatusActive && session.AllRequiredAnswered() {
		next = models.SessionStatusResponded
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE clarification_sessions
		SET responses = $1, status = $2, version = version + 1, updated_at = $3
		WHERE id = $4 AND version = $5`,
		session.Responses, next, now, session.ID, session.Version)
	if err != nil {
		return fmt.Errorf("failed to save responses: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read save result: %w", err)
	}
	if rows == 0 {
		if _, getErr := s.Get(ctx, session.ID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConcurrentModification
	}

	session.Status = next
	session.Version++
	session.UpdatedAt = now
	return nil
}

// SetThread records the Slack coordinates the questions were posted to.
func (s *SessionStore) SetThread(ctx context.Context, session *models.ClarificationSession, channelID, threadTS string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE clarification_sessions
		SET channel_id = $1, thread_ts = $2, version = version + 1, updated_at = $3
		WHERE id = $4 AND version = $5`,
		channelID, threadTS, now, session.ID, session.Version)
	if err != nil {
		return fmt.Errorf("failed to set session thread: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read thread update result: %w", err)
	}
	if rows == 0 {
		return ErrConcurrentModification
	}
	session.ChannelID = channelID
	session.ThreadTS = threadTS
	session.Version++
	session.UpdatedAt = now
	return nil
}

// IncrementReminders bumps the reminder counter under optimistic locking
// so concurrent sweeps cannot double-send.
func (s *SessionStore) IncrementReminders(ctx context.Context, session *models.ClarificationSession) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE clarification_sessions
		SET reminders_sent = reminders_sent + 1, version = version + 1, updated_at = $1
		WHERE id = $2 AND version = $3 AND status = 'ACTIVE'`,
		now, session.ID, session.Version)
	if err != nil {
		return fmt.Errorf("failed to increment reminders: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read reminder update result: %w", err)
	}
	if rows == 0 {
		return ErrConcurrentModification
	}
	session.RemindersSent++
	session.Version++
	session.UpdatedAt = now
	return nil
}

// ListExpired returns ACTIVE sessions past their deadline, oldest first.
func (s *SessionStore) ListExpired(ctx context.Context, now time.Time) ([]*models.ClarificationSession, error) {
	var sessions []*models.ClarificationSession
	err := s.db.SelectContext(ctx, &sessions, `
		SELECT `+sessionColumns+` FROM clarification_sessions
		WHERE status = 'ACTIVE' AND expires_at <= $1
		ORDER BY expires_at ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired sessions: %w", err)
	}
	return sessions, nil
}

// ListActive returns every ACTIVE session, soonest deadline first. The
// reminder sweep filters these against per-client settings.
func (s *SessionStore) ListActive(ctx context.Context) ([]*models.ClarificationSession, error) {
	var sessions []*models.ClarificationSession
	err := s.db.SelectContext(ctx, &sessions, `
		SELECT `+sessionColumns+` FROM clarification_sessions
		WHERE status = 'ACTIVE'
		ORDER BY expires_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	return sessions, nil
}

// CountActive returns the number of ACTIVE sessions.
func (s *SessionStore) CountActive(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM clarification_sessions WHERE status = 'ACTIVE'`)
	if err != nil {
		return 0, fmt.Errorf("failed to count active sessions: %w", err)
	}
	return count, nil
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseops/casepilot/pkg/models"
)

func escalationRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "case_number", "case_sys_id", "triggers", "bi_score", "rule_name", "channel",
		"reason", "message_channel", "message_ts", "status", "acknowledged_by", "version",
		"created_at", "acknowledged_at", "updated_at",
	})
}

func addEscalationRow(rows *sqlmock.Rows, id string, status models.EscalationStatus, version int64) *sqlmock.Rows {
	now := time.Now().UTC()
	return rows.AddRow(id, "CS0001001", "sys-1", []byte(`["compliance_impact"]`), 0.55,
		"acme-high", "C-ESCALATION", "", "", "", string(status), "", version, now, nil, now)
}

func TestEscalationStore_Create(t *testing.T) {
	t.Run("rejects missing triggers", func(t *testing.T) {
		db, _ := newMockDB(t)
		s := NewEscalationStore(db)

		err := s.Create(context.Background(), &models.Escalation{
			CaseNumber: "CS0001001",
			Channel:    "C-ESCALATION",
		})
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	})

	t.Run("inserts pending escalation", func(t *testing.T) {
		db, mock := newMockDB(t)
		s := NewEscalationStore(db)

		mock.ExpectExec("INSERT INTO escalations").
			WillReturnResult(sqlmock.NewResult(0, 1))

		esc := &models.Escalation{
			CaseNumber: "CS0001001",
			Channel:    "C-ESCALATION",
			Triggers:   models.Triggers{"compliance_impact"},
			BIScore:    0.55,
			RuleName:   "acme-high",
		}
		require.NoError(t, s.Create(context.Background(), esc))
		assert.Equal(t, models.EscalationStatusPending, esc.Status)
		assert.NotEmpty(t, esc.ID)
	})

	t.Run("active-index conflict maps to ErrAlreadyExists", func(t *testing.T) {
		db, mock := newMockDB(t)
		s := NewEscalationStore(db)

		mock.ExpectExec("INSERT INTO escalations").
			WillReturnError(&pgconn.PgError{
				Code:           pgUniqueViolation,
				ConstraintName: activeEscalationIndex,
			})

		esc := &models.Escalation{
			CaseNumber: "CS0001001",
			Channel:    "C-ESCALATION",
			Triggers:   models.Triggers{"compliance_impact"},
		}
		err := s.Create(context.Background(), esc)
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})
}

func TestEscalationStore_HasActiveSince(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewEscalationStore(db)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("CS0001001", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	active, err := s.HasActiveSince(context.Background(), "CS0001001", time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.True(t, active)
}

func TestEscalationStore_GetActiveByCase(t *testing.T) {
	t.Run("returns the active row", func(t *testing.T) {
		db, mock := newMockDB(t)
		s := NewEscalationStore(db)

		mock.ExpectQuery("FROM escalations").
			WithArgs("CS0001001").
			WillReturnRows(addEscalationRow(escalationRows(), "esc-1", models.EscalationStatusPosted, 2))

		esc, err := s.GetActiveByCase(context.Background(), "CS0001001")
		require.NoError(t, err)
		assert.Equal(t, "esc-1", esc.ID)
		assert.Equal(t, models.EscalationStatusPosted, esc.Status)
	})

	t.Run("no active row maps to ErrNotFound", func(t *testing.T) {
		db, mock := newMockDB(t)
		s := NewEscalationStore(db)

		mock.ExpectQuery("FROM escalations").
			WithArgs("CS0001001").
			WillReturnRows(escalationRows())

		_, err := s.GetActiveByCase(context.Background(), "CS0001001")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestEscalationStore_Supersede(t *testing.T) {
	t.Run("cancels a posted row", func(t *testing.T) {
		db, mock := newMockDB(t)
		s := NewEscalationStore(db)

		mock.ExpectExec("UPDATE escalations").
			WillReturnResult(sqlmock.NewResult(0, 1))

		esc := &models.Escalation{ID: "esc-1", Status: models.EscalationStatusPosted, Version: 2}
		require.NoError(t, s.Supersede(context.Background(), esc, "superseded: unacknowledged for 25h0m0s"))

		assert.Equal(t, models.EscalationStatusCancelled, esc.Status)
		assert.Contains(t, esc.Reason, "superseded")
		assert.Equal(t, int64(3), esc.Version)
	})

	t.Run("version conflict maps to ErrConcurrentModification", func(t *testing.T) {
		db, mock := newMockDB(t)
		s := NewEscalationStore(db)

		mock.ExpectExec("UPDATE escalations").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("FROM escalations WHERE id").
			WithArgs("esc-1").
			WillReturnRows(addEscalationRow(escalationRows(), "esc-1", models.EscalationStatusAcknowledged, 3))

		esc := &models.Escalation{ID: "esc-1", Status: models.EscalationStatusPosted, Version: 2}
		err := s.Supersede(context.Background(), esc, "superseded")
		assert.ErrorIs(t, err, ErrConcurrentModification)
	})
}

func TestEscalationStore_MarkPosted(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewEscalationStore(db)

	mock.ExpectExec("UPDATE escalations").
		WillReturnResult(sqlmock.NewResult(0, 1))

	esc := &models.Escalation{ID: "esc-1", Status: models.EscalationStatusPending, Version: 1}
	require.NoError(t, s.MarkPosted(context.Background(), esc, "C-ESCALATION", "1724580000.000200"))

	assert.Equal(t, models.EscalationStatusPosted, esc.Status)
	assert.Equal(t, "C-ESCALATION", esc.MessageChannel)
	assert.Equal(t, "1724580000.000200", esc.MessageTS)
	assert.Equal(t, int64(2), esc.Version)
}

func TestEscalationStore_Acknowledge(t *testing.T) {
	t.Run("POSTED becomes ACKNOWLEDGED", func(t *testing.T) {
		db, mock := newMockDB(t)
		s := NewEscalationStore(db)

		mock.ExpectQuery("FROM escalations WHERE id").
			WithArgs("esc-1").
			WillReturnRows(addEscalationRow(escalationRows(), "esc-1", models.EscalationStatusPosted, 2))
		mock.ExpectExec("UPDATE escalations").
			WillReturnResult(sqlmock.NewResult(0, 1))

		esc, err := s.Acknowledge(context.Background(), "esc-1", "U123")
		require.NoError(t, err)
		assert.Equal(t, models.EscalationStatusAcknowledged, esc.Status)
		assert.Equal(t, "U123", esc.AcknowledgedBy)
		require.NotNil(t, esc.AcknowledgedAt)
	})

	t.Run("already acknowledged is a no-op", func(t *testing.T) {
		db, mock := newMockDB(t)
		s := NewEscalationStore(db)

		mock.ExpectQuery("FROM escalations WHERE id").
			WithArgs("esc-1").
			WillReturnRows(addEscalationRow(escalationRows(), "esc-1", models.EscalationStatusAcknowledged, 3))

		esc, err := s.Acknowledge(context.Background(), "esc-1", "U456")
		require.NoError(t, err)
		assert.Equal(t, models.EscalationStatusAcknowledged, esc.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("PENDING cannot be acknowledged", func(t *testing.T) {
		db, mock := newMockDB(t)
		s := NewEscalationStore(db)

		mock.ExpectQuery("FROM escalations WHERE id").
			WithArgs("esc-1").
			WillReturnRows(addEscalationRow(escalationRows(), "esc-1", models.EscalationStatusPending, 1))

		_, err := s.Acknowledge(context.Background(), "esc-1", "U123")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

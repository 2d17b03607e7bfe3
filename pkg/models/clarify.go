package models

import (
	"database/sql/driver"
	"time"
)

// Question is one clarification question tracked by a session.
type Question struct {
	ID       string `json:"id"`
	Prompt   string `json:"prompt"`
	Required bool   `json:"required"`
}

// Questions is the jsonb-backed question list.
type Questions []Question

// Value implements driver.Valuer.
func (q Questions) Value() (driver.Value, error) { return jsonbValue(q) }

// Scan implements sql.Scanner.
func (q *Questions) Scan(src any) error { return jsonbScan(src, q) }

// IDs returns the question ids in order.
func (q Questions) IDs() []string {
	ids := make([]string, len(q))
	for i, question := range q {
		ids[i] = question.ID
	}
	return ids
}

// Responses maps question id to the caller's answer. Keys are always a
// subset of the session's question ids; the store rejects strays.
type Responses map[string]string

// Value implements driver.Valuer.
func (r Responses) Value() (driver.Value, error) { return jsonbValue(r) }

// Scan implements sql.Scanner.
func (r *Responses) Scan(src any) error { return jsonbScan(src, r) }

// ClarificationSession is a persisted question/answer cycle tied to a
// quality gate. Slack coordinates locate the thread the questions were
// posted to.
type ClarificationSession struct {
	ID            string        `json:"id" db:"id"`
	CaseSysID     string        `json:"case_sys_id" db:"case_sys_id"`
	CaseNumber    string        `json:"case_number" db:"case_number"`
	GateID        string        `json:"gate_id" db:"gate_id"`
	Questions     Questions     `json:"questions" db:"questions"`
	Responses     Responses     `json:"responses" db:"responses"`
	Status        SessionStatus `json:"status" db:"status"`
	ChannelID     string        `json:"channel_id,omitempty" db:"channel_id"`
	ThreadTS      string        `json:"thread_ts,omitempty" db:"thread_ts"`
	ExpiresAt     time.Time     `json:"expires_at" db:"expires_at"`
	RemindersSent int           `json:"reminders_sent" db:"reminders_sent"`
	Version       int64         `json:"version" db:"version"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
}

// UnansweredRequired returns the required questions that do not yet
// have a response.
func (s *ClarificationSession) UnansweredRequired() []Question {
	var open []Question
	for _, q := range s.Questions {
		if !q.Required {
			continue
		}
		if _, ok := s.Responses[q.ID]; !ok {
			open = append(open, q)
		}
	}
	return open
}

// AllRequiredAnswered reports whether every required question has a
// response.
func (s *ClarificationSession) AllRequiredAnswered() bool {
	return len(s.UnansweredRequired()) == 0
}

// HasQuestion reports whether id names one of the session's questions.
func (s *ClarificationSession) HasQuestion(id string) bool {
	for _, q := range s.Questions {
		if q.ID == id {
			return true
		}
	}
	return false
}

package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of a queued job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusDead      JobStatus = "dead"
)

// IsValid checks if the job status is valid
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusDead:
		return true
	default:
		return false
	}
}

// Job kinds dispatched through the queue.
const (
	JobKindCaseEvent      = "case_event"
	JobKindSlackEvent     = "slack_event"
	JobKindSlashCommand   = "slash_command"
	JobKindInteraction    = "interaction"
	JobKindResumeCase     = "resume_case"
	JobKindCancelSession  = "cancel_session"
	JobKindSupervisorNote = "supervisor_note"
)

// JobPayload is the raw payload carried by a job, stored as jsonb.
type JobPayload json.RawMessage

// Value implements driver.Valuer.
func (p JobPayload) Value() (driver.Value, error) {
	if len(p) == 0 {
		return []byte("{}"), nil
	}
	return []byte(p), nil
}

// Scan implements sql.Scanner.
func (p *JobPayload) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*p = nil
		return nil
	case []byte:
		*p = append((*p)[:0], v...)
		return nil
	case string:
		*p = JobPayload(v)
		return nil
	}
	return jsonbScan(src, p)
}

// Job is one durable unit of work. CaseSysID serializes processing per
// case; DedupKey ties the job back to the intake dedup decision.
type Job struct {
	ID          string     `json:"id" db:"id"`
	Kind        string     `json:"kind" db:"kind"`
	CaseSysID   string     `json:"case_sys_id,omitempty" db:"case_sys_id"`
	DedupKey    string     `json:"dedup_key,omitempty" db:"dedup_key"`
	Payload     JobPayload `json:"payload" db:"payload"`
	Status      JobStatus  `json:"status" db:"status"`
	Attempts    int        `json:"attempts" db:"attempts"`
	MaxAttempts int        `json:"max_attempts" db:"max_attempts"`
	NextRunAt   time.Time  `json:"next_run_at" db:"next_run_at"`
	PodID       string     `json:"pod_id,omitempty" db:"pod_id"`
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty" db:"heartbeat_at"`
	LastError   string     `json:"last_error,omitempty" db:"last_error"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

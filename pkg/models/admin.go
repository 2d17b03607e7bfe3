package models

import "time"

// ProjectConfig holds per-project orchestration settings managed by
// admin tooling.
type ProjectConfig struct {
	ProjectID      string    `json:"project_id" db:"project_id"`
	DisplayName    string    `json:"display_name" db:"display_name"`
	EscalationRule string    `json:"escalation_rule,omitempty" db:"escalation_rule"`
	StandupChannel string    `json:"standup_channel,omitempty" db:"standup_channel"`
	StandupHourUTC int       `json:"standup_hour_utc" db:"standup_hour_utc"`
	Settings       JSONMap   `json:"settings,omitempty" db:"settings"`
	Version        int64     `json:"version" db:"version"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// ClientSettings holds per-client clarification and notification knobs.
// Zero values defer to the config defaults.
type ClientSettings struct {
	ClientID            string    `json:"client_id" db:"client_id"`
	DisplayName         string    `json:"display_name" db:"display_name"`
	ReminderLeadMinutes int       `json:"reminder_lead_minutes" db:"reminder_lead_minutes"`
	MaxReminders        int       `json:"max_reminders" db:"max_reminders"`
	ClarificationTTL    int       `json:"clarification_ttl_minutes" db:"clarification_ttl_minutes"`
	EscalationChannel   string    `json:"escalation_channel,omitempty" db:"escalation_channel"`
	Version             int64     `json:"version" db:"version"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}

// QueueSnapshot is one persisted point-in-time measurement of gate and
// job volumes, written by the case-queue-snapshot cron for trending.
type QueueSnapshot struct {
	ID             string    `json:"id" db:"id"`
	OpenGates      int       `json:"open_gates" db:"open_gates"`
	BlockedGates   int       `json:"blocked_gates" db:"blocked_gates"`
	ActiveSessions int       `json:"active_sessions" db:"active_sessions"`
	PendingJobs    int       `json:"pending_jobs" db:"pending_jobs"`
	RunningJobs    int       `json:"running_jobs" db:"running_jobs"`
	TakenAt        time.Time `json:"taken_at" db:"taken_at"`
}

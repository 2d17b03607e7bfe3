package config

// CasePilotYAMLConfig represents the complete casepilot.yaml file structure
type CasePilotYAMLConfig struct {
	Thresholds    *Thresholds          `yaml:"thresholds"`
	Categories    *Categories          `yaml:"categories"`
	Clarification *ClarificationConfig `yaml:"clarification"`
	Escalation    *EscalationConfig    `yaml:"escalation"`
	Queue         *QueueConfig         `yaml:"queue"`
	Repositories  *RepositoriesConfig  `yaml:"repositories"`
	Masking       *MaskingYAMLConfig   `yaml:"masking"`
	LLM           *LLMConfig           `yaml:"llm"`
	Memory        *MemoryConfig        `yaml:"memory"`
	Monitor       *MonitorConfig       `yaml:"monitor"`
	Retention     *RetentionConfig     `yaml:"retention"`
}

// MaskingYAMLConfig holds masking settings from YAML. Enabled is a
// pointer so an explicit `enabled: false` survives the defaults merge.
type MaskingYAMLConfig struct {
	Enabled      *bool  `yaml:"enabled,omitempty"`
	PatternGroup string `yaml:"pattern_group,omitempty"`
}

// Thresholds are the decision cutoffs shared by the validator and the
// escalation router. BIScore is the single source for both.
type Thresholds struct {
	ClassificationConfidence float64 `yaml:"classification_confidence" validate:"gte=0,lte=1"`
	BIScore                  float64 `yaml:"bi_score" validate:"gte=0,lte=1"`
}

// Categories are the configured category sets the validator checks
// classifications against.
type Categories struct {
	HRRequired []string `yaml:"hr_required"`
	HighRisk   []string `yaml:"high_risk"`
	NonBAU     []string `yaml:"non_bau"`
}

// ClarificationConfig controls session lifetimes and reminders.
// Per-client settings in the store override these defaults.
type ClarificationConfig struct {
	TTL                 Duration `yaml:"ttl"`
	ReminderLeadMinutes int      `yaml:"reminder_lead_minutes" validate:"gte=0"`
	MaxReminders        int      `yaml:"max_reminders" validate:"gte=0"`
	SweepInterval       Duration `yaml:"sweep_interval"`
}

// EscalationRule routes matching cases to a Slack channel. Empty
// predicate lists match everything; Client "*" matches any client.
type EscalationRule struct {
	Name             string   `yaml:"name" validate:"required"`
	Client           string   `yaml:"client" validate:"required"`
	Categories       []string `yaml:"categories,omitempty"`
	AssignmentGroups []string `yaml:"assignment_groups,omitempty"`
	Channel          string   `yaml:"channel" validate:"required"`
	Priority         int      `yaml:"priority"`
}

// Matches reports whether the rule applies to the given case facets.
func (r *EscalationRule) Matches(client, category, assignmentGroup string) bool {
	if r.Client != "*" && r.Client != client {
		return false
	}
	if len(r.Categories) > 0 && !contains(r.Categories, category) {
		return false
	}
	if len(r.AssignmentGroups) > 0 && !contains(r.AssignmentGroups, assignmentGroup) {
		return false
	}
	return true
}

// IsDefault reports whether the rule is the mandatory catch-all.
func (r *EscalationRule) IsDefault() bool {
	return r.Client == "*" && len(r.Categories) == 0 && len(r.AssignmentGroups) == 0
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// EscalationConfig is the ordered rule set plus the fallback channel
// for expiry notices and stuck-case alerts.
type EscalationConfig struct {
	Rules          []EscalationRule `yaml:"rules"`
	DefaultChannel string           `yaml:"default_channel,omitempty"`
}

// RepositoriesConfig controls the feature-flagged repository layer.
// StrictMode disables the legacy fallback so NEW-path failures surface.
type RepositoriesConfig struct {
	StrictMode bool     `yaml:"strict_mode"`
	CacheTTL   Duration `yaml:"cache_ttl"`
}

// MaskingConfig controls case-text masking before prompts and audit.
type MaskingConfig struct {
	Enabled      bool   `yaml:"enabled"`
	PatternGroup string `yaml:"pattern_group"`
}

// LLMConfig selects the model and bounds for the pipeline stages.
type LLMConfig struct {
	Model           string   `yaml:"model"`
	MaxTokens       int      `yaml:"max_tokens" validate:"gte=1"`
	StageTimeout    Duration `yaml:"stage_timeout"`
	PipelineTimeout Duration `yaml:"pipeline_timeout"`
}

// MemoryConfig bounds muscle-memory retrieval and write dedup.
type MemoryConfig struct {
	TopK              int      `yaml:"top_k" validate:"gte=1"`
	MaxDistance       float64  `yaml:"max_distance" validate:"gte=0,lte=1"`
	MinQuality        float64  `yaml:"min_quality" validate:"gte=0,lte=1"`
	DuplicateDistance float64  `yaml:"duplicate_distance" validate:"gte=0,lte=1"`
	FetchTimeout      Duration `yaml:"fetch_timeout"`
}

// MonitorConfig sets the stuck-case severity bucket thresholds.
type MonitorConfig struct {
	WarningAfter  Duration `yaml:"warning_after"`
	CriticalAfter Duration `yaml:"critical_after"`
	AlertAfter    Duration `yaml:"alert_after"`
	SummaryLimit  int      `yaml:"summary_limit" validate:"gte=1"`
}

// RetentionConfig controls data retention and cleanup behavior.
type RetentionConfig struct {
	// CompletedJobTTL is the maximum age of completed/dead job rows
	// before the sweeper deletes them.
	CompletedJobTTL Duration `yaml:"completed_job_ttl"`

	// SnapshotRetentionDays is how many days of queue snapshots to keep.
	SnapshotRetentionDays int `yaml:"snapshot_retention_days"`

	// AuditRetentionDays is how many days of audit entries to keep.
	// Zero keeps everything.
	AuditRetentionDays int `yaml:"audit_retention_days"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval Duration `yaml:"cleanup_interval"`
}

package config

import "sync/atomic"

// Config is the umbrella configuration object returned by Initialize()
// and passed throughout the application. Most sections are fixed for
// the process lifetime; feature flags and thresholds are refreshable
// snapshots swapped atomically by Refresh().
type Config struct {
	configDir string // Configuration directory path (for reference)

	// Process environment and secrets
	Env *Env

	// Static sections
	Categories    *Categories
	Clarification *ClarificationConfig
	Escalation    *EscalationConfig
	Queue         *QueueConfig
	Repositories  *RepositoriesConfig
	Masking       *MaskingConfig
	LLM           *LLMConfig
	Memory        *MemoryConfig
	Monitor       *MonitorConfig
	Retention     *RetentionConfig

	// Refreshable snapshots
	flags      atomic.Pointer[FeatureFlags]
	thresholds atomic.Pointer[Thresholds]
}

// Flags returns the current feature-flag snapshot.
func (c *Config) Flags() *FeatureFlags {
	return c.flags.Load()
}

// Thresholds returns the current threshold snapshot.
func (c *Config) Thresholds() *Thresholds {
	return c.thresholds.Load()
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// EscalationChannel returns the fallback escalation channel: the YAML
// default if set, else ESCALATION_CHANNEL_ID.
func (c *Config) EscalationChannel() string {
	if c.Escalation != nil && c.Escalation.DefaultChannel != "" {
		return c.Escalation.DefaultChannel
	}
	return c.Env.EscalationChannelID
}

// Stats contains statistics about loaded configuration
type Stats struct {
	EscalationRules      int
	HRRequiredCategories int
	HighRiskCategories   int
	NonBAUCategories     int
	RolloutPct           int
}

// Stats returns configuration statistics for logging/monitoring
func (c *Config) Stats() Stats {
	s := Stats{}
	if c.Escalation != nil {
		s.EscalationRules = len(c.Escalation.Rules)
	}
	if c.Categories != nil {
		s.HRRequiredCategories = len(c.Categories.HRRequired)
		s.HighRiskCategories = len(c.Categories.HighRisk)
		s.NonBAUCategories = len(c.Categories.NonBAU)
	}
	if flags := c.Flags(); flags != nil {
		s.RolloutPct = flags.RolloutPct
	}
	return s
}

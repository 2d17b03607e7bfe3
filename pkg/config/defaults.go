package config

import "time"

// Built-in section defaults. YAML values merge on top; zero values in
// the file keep these.

// DefaultThresholds returns the built-in decision cutoffs.
func DefaultThresholds() *Thresholds {
	return &Thresholds{
		ClassificationConfidence: 0.7,
		BIScore:                  0.5,
	}
}

// DefaultCategories returns the built-in category sets.
func DefaultCategories() *Categories {
	return &Categories{
		HRRequired: []string{"HR", "Access Management", "Onboarding", "Offboarding"},
		HighRisk:   []string{"Security", "Compliance", "Data Privacy"},
		NonBAU:     []string{"Project Request", "New Implementation", "Migration"},
	}
}

// DefaultClarificationConfig returns the built-in clarification defaults.
func DefaultClarificationConfig() *ClarificationConfig {
	return &ClarificationConfig{
		TTL:                 Duration(24 * time.Hour),
		ReminderLeadMinutes: 120,
		MaxReminders:        2,
		SweepInterval:       Duration(15 * time.Minute),
	}
}

// DefaultRepositoriesConfig returns the built-in repository-layer defaults.
func DefaultRepositoriesConfig() *RepositoriesConfig {
	return &RepositoriesConfig{
		StrictMode: false,
		CacheTTL:   Duration(10 * time.Minute),
	}
}

// DefaultMaskingConfig returns the built-in masking defaults.
func DefaultMaskingConfig() *MaskingConfig {
	return &MaskingConfig{
		Enabled:      true,
		PatternGroup: "security",
	}
}

// DefaultLLMConfig returns the built-in LLM defaults.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		Model:           "claude-sonnet-4-5",
		MaxTokens:       4096,
		StageTimeout:    Duration(30 * time.Second),
		PipelineTimeout: Duration(60 * time.Second),
	}
}

// DefaultMemoryConfig returns the built-in muscle-memory defaults.
func DefaultMemoryConfig() *MemoryConfig {
	return &MemoryConfig{
		TopK:              3,
		MaxDistance:       0.5,
		MinQuality:        0.7,
		DuplicateDistance: 0.05,
		FetchTimeout:      Duration(10 * time.Second),
	}
}

// DefaultMonitorConfig returns the built-in stuck-case bucket defaults.
func DefaultMonitorConfig() *MonitorConfig {
	return &MonitorConfig{
		WarningAfter:  Duration(4 * time.Hour),
		CriticalAfter: Duration(8 * time.Hour),
		AlertAfter:    Duration(24 * time.Hour),
		SummaryLimit:  5,
	}
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		CompletedJobTTL:       Duration(72 * time.Hour),
		SnapshotRetentionDays: 90,
		AuditRetentionDays:    0,
		CleanupInterval:       Duration(12 * time.Hour),
	}
}

package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig builds a Config that passes ValidateAll, for mutating in
// individual tests.
func validConfig() *Config {
	cfg := &Config{
		Env:           &Env{},
		Categories:    DefaultCategories(),
		Clarification: DefaultClarificationConfig(),
		Queue:         DefaultQueueConfig(),
		Repositories:  DefaultRepositoriesConfig(),
		Masking:       DefaultMaskingConfig(),
		LLM:           DefaultLLMConfig(),
		Memory:        DefaultMemoryConfig(),
		Monitor:       DefaultMonitorConfig(),
		Retention:     DefaultRetentionConfig(),
		Escalation: &EscalationConfig{
			Rules: []EscalationRule{
				{Name: "compliance", Client: "*", Categories: []string{"Security"}, Channel: "#compliance", Priority: 100},
				{Name: "default", Client: "*", Channel: "#triage", Priority: 0},
			},
		},
	}
	cfg.thresholds.Store(DefaultThresholds())
	cfg.flags.Store(&FeatureFlags{})
	return cfg
}

func TestValidateAllPasses(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, NewValidator(cfg).ValidateAll())
}

func TestValidateEscalationRequiresDefaultRule(t *testing.T) {
	tests := []struct {
		name  string
		rules []EscalationRule
	}{
		{"no rules at all", nil},
		{
			"no catch-all rule",
			[]EscalationRule{
				{Name: "acme-only", Client: "acme", Channel: "#acme", Priority: 10},
			},
		},
		{
			"wildcard rule with predicates is not a default",
			[]EscalationRule{
				{Name: "security", Client: "*", Categories: []string{"Security"}, Channel: "#sec", Priority: 5},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Escalation.Rules = tt.rules
			err := NewValidator(cfg).ValidateAll()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrNoDefaultRule))
		})
	}
}

func TestValidateEscalationDefaultMustHaveLowestPriority(t *testing.T) {
	cfg := validConfig()
	cfg.Escalation.Rules = []EscalationRule{
		{Name: "default", Client: "*", Channel: "#triage", Priority: 50},
		{Name: "acme", Client: "acme", Channel: "#acme", Priority: 10},
	}
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lowest priority")
}

func TestValidateEscalationRuleFields(t *testing.T) {
	cfg := validConfig()
	cfg.Escalation.Rules = []EscalationRule{
		{Name: "", Client: "*", Channel: "#triage", Priority: 0},
	}
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "escalation", ve.Component)
}

func TestValidateThresholdRanges(t *testing.T) {
	cfg := validConfig()
	cfg.thresholds.Store(&Thresholds{ClassificationConfidence: 1.4, BIScore: 0.5})
	require.Error(t, NewValidator(cfg).ValidateAll())

	cfg.thresholds.Store(&Thresholds{ClassificationConfidence: 0.7, BIScore: -0.1})
	require.Error(t, NewValidator(cfg).ValidateAll())

	cfg.thresholds.Store(&Thresholds{ClassificationConfidence: 0.7, BIScore: 0.5})
	require.NoError(t, NewValidator(cfg).ValidateAll())
}

func TestValidateQueue(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*QueueConfig)
	}{
		{"zero workers", func(q *QueueConfig) { q.WorkerCount = 0 }},
		{"zero concurrency", func(q *QueueConfig) { q.MaxConcurrentJobs = 0 }},
		{"zero poll interval", func(q *QueueConfig) { q.PollInterval = 0 }},
		{"jitter above poll interval", func(q *QueueConfig) {
			q.PollInterval = Duration(time.Second)
			q.PollIntervalJitter = Duration(2 * time.Second)
		}},
		{"zero job timeout", func(q *QueueConfig) { q.JobTimeout = 0 }},
		{"zero heartbeat interval", func(q *QueueConfig) { q.HeartbeatInterval = 0 }},
		{"heartbeat above orphan threshold", func(q *QueueConfig) {
			q.OrphanThreshold = Duration(time.Minute)
			q.HeartbeatInterval = Duration(2 * time.Minute)
		}},
		{"zero max attempts", func(q *QueueConfig) { q.MaxAttempts = 0 }},
		{"zero retry base", func(q *QueueConfig) { q.RetryBase = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg.Queue)
			require.Error(t, NewValidator(cfg).ValidateAll())
		})
	}
}

func TestValidateMonitorBucketsMustIncrease(t *testing.T) {
	cfg := validConfig()
	cfg.Monitor.WarningAfter = Duration(8 * time.Hour)
	cfg.Monitor.CriticalAfter = Duration(4 * time.Hour)
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "critical_after")

	cfg = validConfig()
	cfg.Monitor.AlertAfter = cfg.Monitor.CriticalAfter
	err = NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alert_after")
}

func TestValidateMemoryDuplicateDistance(t *testing.T) {
	cfg := validConfig()
	cfg.Memory.DuplicateDistance = cfg.Memory.MaxDistance
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate_distance")
}

func TestValidateClarification(t *testing.T) {
	cfg := validConfig()
	cfg.Clarification.TTL = 0
	require.Error(t, NewValidator(cfg).ValidateAll())

	cfg = validConfig()
	cfg.Clarification.SweepInterval = 0
	require.Error(t, NewValidator(cfg).ValidateAll())
}

func TestEscalationRuleMatchesValidator(t *testing.T) {
	rule := EscalationRule{
		Name:             "net-acme",
		Client:           "acme",
		Categories:       []string{"Network"},
		AssignmentGroups: []string{"NOC"},
		Channel:          "#net",
		Priority:         10,
	}

	assert.True(t, rule.Matches("acme", "Network", "NOC"))
	assert.False(t, rule.Matches("globex", "Network", "NOC"))
	assert.False(t, rule.Matches("acme", "HR", "NOC"))
	assert.False(t, rule.Matches("acme", "Network", "Service Desk"))

	wildcard := EscalationRule{Name: "default", Client: "*", Channel: "#triage"}
	assert.True(t, wildcard.Matches("anyone", "Anything", "Any Group"))
	assert.True(t, wildcard.IsDefault())
	assert.False(t, rule.IsDefault())
}

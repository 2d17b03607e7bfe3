package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// structValidator checks the `validate` tags on config structs.
var structValidator = validator.New()

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	if err := validateThresholds(v.cfg.Thresholds()); err != nil {
		return fmt.Errorf("threshold validation failed: %w", err)
	}

	if err := v.validateEscalation(); err != nil {
		return fmt.Errorf("escalation validation failed: %w", err)
	}

	if err := v.validateQueue(); err != nil {
		return fmt.Errorf("queue validation failed: %w", err)
	}

	if err := v.validateClarification(); err != nil {
		return fmt.Errorf("clarification validation failed: %w", err)
	}

	if err := v.validateMonitor(); err != nil {
		return fmt.Errorf("monitor validation failed: %w", err)
	}

	if err := v.validateMemory(); err != nil {
		return fmt.Errorf("memory validation failed: %w", err)
	}

	return nil
}

func validateThresholds(t *Thresholds) error {
	if err := structValidator.Struct(t); err != nil {
		return NewValidationError("thresholds", "", "", err)
	}
	return nil
}

// validateEscalation enforces the mandatory default rule: a client "*"
// rule with no other predicates and the lowest priority must exist so
// every case has a route.
func (v *ConfigValidator) validateEscalation() error {
	esc := v.cfg.Escalation
	if len(esc.Rules) == 0 {
		return NewValidationError("escalation", "rules", "", ErrNoDefaultRule)
	}

	lowestPriority := esc.Rules[0].Priority
	var defaultRule *EscalationRule
	for i := range esc.Rules {
		rule := &esc.Rules[i]
		if err := structValidator.Struct(rule); err != nil {
			return NewValidationError("escalation", rule.Name, "", err)
		}
		if rule.Priority < lowestPriority {
			lowestPriority = rule.Priority
		}
		if rule.IsDefault() {
			if defaultRule == nil || rule.Priority < defaultRule.Priority {
				defaultRule = rule
			}
		}
	}

	if defaultRule == nil {
		return NewValidationError("escalation", "rules", "", ErrNoDefaultRule)
	}
	if defaultRule.Priority != lowestPriority {
		return NewValidationError("escalation", defaultRule.Name, "priority",
			fmt.Errorf("%w: default rule must have the lowest priority", ErrInvalidValue))
	}

	return nil
}

func (v *ConfigValidator) validateQueue() error {
	q := v.cfg.Queue
	if q.WorkerCount < 1 {
		return NewValidationError("queue", "", "worker_count", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if q.MaxConcurrentJobs < 1 {
		return NewValidationError("queue", "", "max_concurrent_jobs", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if q.PollInterval <= 0 {
		return NewValidationError("queue", "", "poll_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if q.PollIntervalJitter < 0 || q.PollIntervalJitter >= q.PollInterval {
		return NewValidationError("queue", "", "poll_interval_jitter",
			fmt.Errorf("%w: must be non-negative and below poll_interval", ErrInvalidValue))
	}
	if q.JobTimeout <= 0 {
		return NewValidationError("queue", "", "job_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if q.HeartbeatInterval <= 0 || q.HeartbeatInterval >= q.OrphanThreshold {
		return NewValidationError("queue", "", "heartbeat_interval",
			fmt.Errorf("%w: must be positive and below orphan_threshold", ErrInvalidValue))
	}
	if q.MaxAttempts < 1 {
		return NewValidationError("queue", "", "max_attempts", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if q.RetryBase <= 0 {
		return NewValidationError("queue", "", "retry_base", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateClarification() error {
	c := v.cfg.Clarification
	if err := structValidator.Struct(c); err != nil {
		return NewValidationError("clarification", "", "", err)
	}
	if c.TTL <= 0 {
		return NewValidationError("clarification", "", "ttl", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if c.SweepInterval <= 0 {
		return NewValidationError("clarification", "", "sweep_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

// validateMonitor requires strictly increasing bucket thresholds so the
// subtraction of higher buckets stays well-defined.
func (v *ConfigValidator) validateMonitor() error {
	m := v.cfg.Monitor
	if err := structValidator.Struct(m); err != nil {
		return NewValidationError("monitor", "", "", err)
	}
	if m.WarningAfter <= 0 {
		return NewValidationError("monitor", "", "warning_after", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if m.CriticalAfter <= m.WarningAfter {
		return NewValidationError("monitor", "", "critical_after",
			fmt.Errorf("%w: must exceed warning_after", ErrInvalidValue))
	}
	if m.AlertAfter <= m.CriticalAfter {
		return NewValidationError("monitor", "", "alert_after",
			fmt.Errorf("%w: must exceed critical_after", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateMemory() error {
	m := v.cfg.Memory
	if err := structValidator.Struct(m); err != nil {
		return NewValidationError("memory", "", "", err)
	}
	if m.DuplicateDistance >= m.MaxDistance {
		return NewValidationError("memory", "", "duplicate_distance",
			fmt.Errorf("%w: must be below max_distance", ErrInvalidValue))
	}
	return nil
}

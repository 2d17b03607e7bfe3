package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationErrorError(t *testing.T) {
	baseErr := errors.New("base error")

	tests := []struct {
		name     string
		err      *ValidationError
		contains []string
	}{
		{
			name: "full error",
			err:  NewValidationError("escalation", "compliance-route", "channel", baseErr),
			contains: []string{
				"escalation",
				"compliance-route",
				"channel",
				"base error",
			},
		},
		{
			name: "error without field",
			err:  NewValidationError("thresholds", "bi_score", "", errors.New("out of range")),
			contains: []string{
				"thresholds",
				"bi_score",
				"out of range",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errStr := tt.err.Error()
			for _, substr := range tt.contains {
				assert.Contains(t, errStr, substr)
			}
		})
	}
}

func TestValidationErrorUnwrap(t *testing.T) {
	baseErr := errors.New("base error")
	validationErr := NewValidationError("queue", "", "worker_count", baseErr)

	unwrapped := validationErr.Unwrap()
	assert.Equal(t, baseErr, unwrapped)
	assert.True(t, errors.Is(validationErr, baseErr))
}

func TestLoadErrorError(t *testing.T) {
	baseErr := errors.New("yaml: line 3: mapping values are not allowed")
	loadErr := NewLoadError(ConfigFileName, baseErr)

	errStr := loadErr.Error()
	assert.Contains(t, errStr, ConfigFileName)
	assert.Contains(t, errStr, "mapping values")
	assert.True(t, errors.Is(loadErr, baseErr))
}

func TestSentinelErrorsAreDistinct(t *testing.T) {
	sentinels := []error{
		ErrConfigNotFound,
		ErrInvalidYAML,
		ErrValidationFailed,
		ErrMissingRequiredField,
		ErrInvalidValue,
		ErrNoDefaultRule,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i == j {
				continue
			}
			assert.False(t, errors.Is(a, b), "%v should not match %v", a, b)
		}
	}
}

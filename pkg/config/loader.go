package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the YAML file expected in the config directory.
const ConfigFileName = "casepilot.yaml"

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load casepilot.yaml from configDir
//  2. Expand environment variables ({{.VAR}} template syntax)
//  3. Parse YAML into structs
//  4. Merge section defaults (user values override built-ins)
//  5. Read process env and feature flags
//  6. Validate all configuration
//  7. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"escalation_rules", stats.EscalationRules,
		"hr_categories", stats.HRRequiredCategories,
		"high_risk_categories", stats.HighRiskCategories,
		"repositories_rollout_pct", stats.RolloutPct)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	yamlConfig, err := loader.loadCasePilotYAML()
	if err != nil {
		return nil, NewLoadError(ConfigFileName, err)
	}

	cfg := &Config{
		configDir: configDir,
		Env:       LoadEnv(),
	}

	cfg.Categories, err = mergeSection(DefaultCategories(), yamlConfig.Categories)
	if err != nil {
		return nil, fmt.Errorf("failed to merge categories config: %w", err)
	}
	cfg.Clarification, err = mergeSection(DefaultClarificationConfig(), yamlConfig.Clarification)
	if err != nil {
		return nil, fmt.Errorf("failed to merge clarification config: %w", err)
	}
	cfg.Queue, err = mergeSection(DefaultQueueConfig(), yamlConfig.Queue)
	if err != nil {
		return nil, fmt.Errorf("failed to merge queue config: %w", err)
	}
	cfg.Repositories, err = mergeSection(DefaultRepositoriesConfig(), yamlConfig.Repositories)
	if err != nil {
		return nil, fmt.Errorf("failed to merge repositories config: %w", err)
	}
	cfg.LLM, err = mergeSection(DefaultLLMConfig(), yamlConfig.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to merge llm config: %w", err)
	}
	cfg.Memory, err = mergeSection(DefaultMemoryConfig(), yamlConfig.Memory)
	if err != nil {
		return nil, fmt.Errorf("failed to merge memory config: %w", err)
	}
	cfg.Monitor, err = mergeSection(DefaultMonitorConfig(), yamlConfig.Monitor)
	if err != nil {
		return nil, fmt.Errorf("failed to merge monitor config: %w", err)
	}
	cfg.Retention, err = mergeSection(DefaultRetentionConfig(), yamlConfig.Retention)
	if err != nil {
		return nil, fmt.Errorf("failed to merge retention config: %w", err)
	}

	cfg.Masking = resolveMaskingConfig(yamlConfig.Masking)
	cfg.Escalation = yamlConfig.Escalation
	if cfg.Escalation == nil {
		cfg.Escalation = &EscalationConfig{}
	}

	thresholds, err := mergeSection(DefaultThresholds(), yamlConfig.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("failed to merge thresholds config: %w", err)
	}
	cfg.thresholds.Store(thresholds)

	flags, err := LoadFlags()
	if err != nil {
		return nil, fmt.Errorf("failed to load feature flags: %w", err)
	}
	cfg.flags.Store(flags)

	return cfg, nil
}

// mergeSection merges user YAML values over the built-in defaults.
// Zero-valued user fields keep the default.
func mergeSection[T any](defaults *T, user *T) (*T, error) {
	if user == nil {
		return defaults, nil
	}
	if err := mergo.Merge(defaults, user, mergo.WithOverride); err != nil {
		return nil, err
	}
	return defaults, nil
}

// resolveMaskingConfig resolves masking configuration from YAML,
// applying defaults. Enabled is a pointer in YAML so an explicit false
// is distinguishable from unset.
func resolveMaskingConfig(yml *MaskingYAMLConfig) *MaskingConfig {
	cfg := DefaultMaskingConfig()
	if yml == nil {
		return cfg
	}
	if yml.Enabled != nil {
		cfg.Enabled = *yml.Enabled
	}
	if yml.PatternGroup != "" {
		cfg.PatternGroup = yml.PatternGroup
	}
	return cfg
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

// Refresh re-reads the refreshable subset (feature flags from env,
// thresholds from YAML) and swaps the snapshots atomically. Static
// sections are untouched; a restart picks those up.
func (c *Config) Refresh() error {
	flags, err := LoadFlags()
	if err != nil {
		return fmt.Errorf("refreshing feature flags: %w", err)
	}

	loader := &configLoader{configDir: c.configDir}
	yamlConfig, err := loader.loadCasePilotYAML()
	if err != nil {
		return NewLoadError(ConfigFileName, err)
	}
	thresholds, err := mergeSection(DefaultThresholds(), yamlConfig.Thresholds)
	if err != nil {
		return fmt.Errorf("refreshing thresholds: %w", err)
	}
	if err := validateThresholds(thresholds); err != nil {
		return err
	}

	c.flags.Store(flags)
	c.thresholds.Store(thresholds)
	return nil
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax
	// Note: ExpandEnv passes through original data on parse/execution errors,
	// allowing YAML parser to handle the content (or fail with clearer error message)
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadCasePilotYAML() (*CasePilotYAMLConfig, error) {
	var config CasePilotYAMLConfig
	if err := l.loadYAML(ConfigFileName, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

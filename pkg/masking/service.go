package masking

import (
	"fmt"
	"log/slog"

	"github.com/caseops/casepilot/pkg/config"
)

// RedactionNotice replaces content when masking itself fails. Fail
// closed: unmaskable text never reaches a prompt or the audit trail.
const RedactionNotice = "[REDACTED: data masking failure, content withheld]"

// Service applies the configured pattern group to case text and context
// output. Created once at startup; thread-safe and stateless aside from
// compiled patterns. A nil *Service masks nothing.
type Service struct {
	enabled  bool
	group    string
	patterns []*CompiledPattern
}

// NewService compiles the configured pattern group eagerly. A nil config
// falls back to the built-in defaults.
func NewService(cfg *config.MaskingConfig) *Service {
	if cfg == nil {
		cfg = config.DefaultMaskingConfig()
	}

	s := &Service{
		enabled: cfg.Enabled,
		group:   cfg.PatternGroup,
	}
	if s.enabled {
		s.patterns = compileGroup(cfg.PatternGroup)
	}

	slog.Info("Masking service initialized",
		"enabled", s.enabled,
		"pattern_group", s.group,
		"compiled_patterns", len(s.patterns))

	return s
}

// Enabled reports whether any masking is active.
func (s *Service) Enabled() bool {
	return s != nil && s.enabled && len(s.patterns) > 0
}

// MaskText applies the compiled patterns to text. On masking failure the
// whole text is replaced with RedactionNotice.
func (s *Service) MaskText(text string) string {
	if !s.Enabled() || text == "" {
		return text
	}

	masked, err := s.apply(text)
	if err != nil {
		slog.Error("Masking failed, redacting content", "error", err)
		return RedactionNotice
	}
	return masked
}

// MaskValues masks every string value of a metadata map in place and
// returns it. Non-string values pass through untouched.
func (s *Service) MaskValues(values map[string]any) map[string]any {
	if !s.Enabled() || len(values) == 0 {
		return values
	}
	for k, v := range values {
		if str, ok := v.(string); ok {
			values[k] = s.MaskText(str)
		}
	}
	return values
}

// apply runs every pattern over the text. Regex application cannot
// return an error, so the only failure mode is a runtime panic from a
// pathological pattern; recover converts that into the fail-closed path.
func (s *Service) apply(text string) (masked string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("masking panic: %v", r)
		}
	}()

	masked = text
	for _, p := range s.patterns {
		masked = p.Regex.ReplaceAllString(masked, p.Replacement)
	}
	return masked, nil
}

// Package masking redacts secrets and configured PII from case text
// before it reaches prompts, and from context output before it lands in
// audit metadata. Patterns compile eagerly at startup; masking failures
// fail closed with a redaction notice.
package masking

import (
	"log/slog"
	"regexp"
)

// MaskingPattern is one named regex with its replacement.
type MaskingPattern struct {
	Pattern     string
	Replacement string
	Description string
}

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// builtinPatterns returns the regex library. Case descriptions routinely
// quote credentials verbatim ("the password is ..."), so the patterns
// target key/value shapes as well as bare token formats.
func builtinPatterns() map[string]MaskingPattern {
	return map[string]MaskingPattern{
		"api_key": {
			Pattern:     `(?i)(?:api[_-]?key|apikey)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-]{20,})["']?`,
			Replacement: `"api_key": "__MASKED_API_KEY__"`,
			Description: "API keys",
		},
		"password": {
			Pattern:     `(?i)(?:password|pwd|passwd)["']?\s*(?:[:=]|is)\s*["']?([^"'\s\n]{6,})["']?`,
			Replacement: `"password": "__MASKED_PASSWORD__"`,
			Description: "Passwords",
		},
		"token": {
			Pattern:     `(?i)(?:token|bearer|jwt)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`,
			Replacement: `"token": "__MASKED_TOKEN__"`,
			Description: "Access tokens",
		},
		"private_key": {
			Pattern:     `(?i)(?:private[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`,
			Replacement: `"private_key": "__MASKED_PRIVATE_KEY__"`,
			Description: "Private keys",
		},
		"secret_key": {
			Pattern:     `(?i)(?:secret[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`,
			Replacement: `"secret_key": "__MASKED_SECRET_KEY__"`,
			Description: "Secret keys",
		},
		"certificate": {
			Pattern:     `(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`,
			Replacement: `__MASKED_CERTIFICATE__`,
			Description: "PEM certificates and keys",
		},
		"ssh_key": {
			Pattern:     `ssh-(?:rsa|dss|ed25519|ecdsa)\s+[A-Za-z0-9+/=]+`,
			Replacement: `__MASKED_SSH_KEY__`,
			Description: "SSH public keys",
		},
		"aws_access_key": {
			Pattern:     `\bAKIA[A-Z0-9]{16}\b`,
			Replacement: `__MASKED_AWS_KEY__`,
			Description: "AWS access key ids",
		},
		"aws_secret_key": {
			Pattern:     `(?i)(?:aws[_-]?secret[_-]?access[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9/+=]{40})["']?`,
			Replacement: `"aws_secret_access_key": "__MASKED_AWS_SECRET__"`,
			Description: "AWS secret keys",
		},
		"github_token": {
			Pattern:     `\bgh[pousr]_[A-Za-z0-9_]{36,255}\b`,
			Replacement: `__MASKED_GITHUB_TOKEN__`,
			Description: "GitHub tokens",
		},
		"slack_token": {
			Pattern:     `(?i)xox[baprs]-[A-Za-z0-9-]{10,72}`,
			Replacement: `__MASKED_SLACK_TOKEN__`,
			Description: "Slack tokens",
		},
		"email": {
			Pattern:     `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9]+(?:[.-][A-Za-z0-9]+)*\.[A-Za-z]{2,63}\b`,
			Replacement: `__MASKED_EMAIL__`,
			Description: "Email addresses",
		},
		"ip_address": {
			Pattern:     `\b(?:\d{1,3}\.){3}\d{1,3}\b`,
			Replacement: `__MASKED_IP__`,
			Description: "IPv4 addresses",
		},
	}
}

// patternGroups maps a configured group name to pattern names. email and
// ip_address are deliberately outside the default group: case text
// legitimately carries requester emails and host addresses, masking them
// is opt-in via "pii" or "all".
func patternGroups() map[string][]string {
	return map[string][]string{
		"basic":   {"api_key", "password"},
		"secrets": {"api_key", "password", "token", "private_key", "secret_key"},
		"security": {
			"api_key", "password", "token", "private_key", "secret_key",
			"certificate", "ssh_key", "aws_access_key", "aws_secret_key",
			"github_token", "slack_token",
		},
		"pii": {"email", "ip_address"},
		"all": {
			"api_key", "password", "token", "private_key", "secret_key",
			"certificate", "ssh_key", "aws_access_key", "aws_secret_key",
			"github_token", "slack_token", "email", "ip_address",
		},
	}
}

// compileGroup compiles the named group's patterns. Invalid patterns are
// logged and skipped; an unknown group compiles to an empty set.
func compileGroup(group string) []*CompiledPattern {
	names, ok := patternGroups()[group]
	if !ok {
		slog.Warn("Unknown masking pattern group, masking nothing", "group", group)
		return nil
	}

	builtin := builtinPatterns()
	compiled := make([]*CompiledPattern, 0, len(names))
	for _, name := range names {
		p, ok := builtin[name]
		if !ok {
			continue
		}
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			slog.Error("Failed to compile built-in masking pattern, skipping",
				"pattern", name, "error", err)
			continue
		}
		compiled = append(compiled, &CompiledPattern{
			Name:        name,
			Regex:       re,
			Replacement: p.Replacement,
			Description: p.Description,
		})
	}
	return compiled
}

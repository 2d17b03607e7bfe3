package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv substitutes {{.VAR}} references in raw YAML with the
// corresponding environment values before parsing. Template syntax is
// deliberate: the usual $VAR form collides with content this config
// legitimately carries, like masking regex anchors (^secret.*$),
// passwords with embedded dollars, and pasted shell fragments, while
// {{.VAR}} never appears in any of it.
//
// Unknown variables render as empty strings; the load-time validator
// reports the required fields they leave blank. Content that fails to
// parse or execute as a template comes back untouched, so the YAML
// parser either accepts it as literal text or produces its own,
// clearer error.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("casepilot").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, environMap()); err != nil {
		return data
	}
	return buf.Bytes()
}

// environMap snapshots the process environment as template data.
// Values may contain '=' so only the first one splits.
func environMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok && key != "" {
			env[key] = value
		}
	}
	return env
}

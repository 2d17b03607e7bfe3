package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// jsonbValue marshals v for storage in a jsonb column.
func jsonbValue(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling jsonb column: %w", err)
	}
	return b, nil
}

// jsonbScan unmarshals a jsonb column into dst. NULL leaves dst zero.
func jsonbScan(src any, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported jsonb source type %T", src)
	}
}

// JSONMap is a jsonb-backed free-form metadata column.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) { return jsonbValue(m) }

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src any) error { return jsonbScan(src, m) }

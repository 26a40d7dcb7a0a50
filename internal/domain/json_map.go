package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// JSONMap is an open key-value payload stored as a JSON text column.
type JSONMap map[string]interface{}

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*m = JSONMap{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("failed to scan JSONMap")
	}
	if len(raw) == 0 {
		*m = JSONMap{}
		return nil
	}
	return json.Unmarshal(raw, m)
}

// Clone returns a copy of m. Nested maps and slices are copied; any other
// value, such as a handle, is shared.
func (m JSONMap) Clone() JSONMap {
	if m == nil {
		return nil
	}
	out := make(JSONMap, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case JSONMap:
		return t.Clone()
	case map[string]interface{}:
		return map[string]interface{}(JSONMap(t).Clone())
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// String returns m[key] formatted as a string, or "".
func (m JSONMap) String(key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Bool returns m[key] as a bool. Strings "true"/"1"/"yes" count as true.
func (m JSONMap) Bool(key string) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1" || v == "yes"
	default:
		return false
	}
}

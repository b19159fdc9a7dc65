// Package models maps nested portal payloads and flat store rows onto typed
// records. Every model offers FromAPI (dotted-path extraction with optional
// transforms), FromRow (flat row, JSON-packed fields decoded), and ToRow
// (flat row, JSON-packed fields re-encoded).
package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"hhpilot/internal/textutil"
)

// Row is a flat column mapping as stored in, or read from, the database.
type Row = map[string]interface{}

// Payload is a decoded API document.
type Payload = map[string]interface{}

// Model is the contract the repository layer drives.
type Model interface {
	Table() string
	ToRow() Row
}

// Path resolves a dotted path inside a nested payload. The traversal aborts
// cleanly when any step is missing, nil, or not an object.
func Path(data Payload, path string) (interface{}, bool) {
	var current interface{} = data
	for _, step := range strings.Split(path, ".") {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = obj[step]
		if !ok || current == nil {
			return nil, false
		}
	}
	return current, true
}

// AsString coerces a raw value to a string.
func AsString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		// JSON integers arrive as float64.
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case []byte:
		return string(val)
	default:
		data, _ := json.Marshal(val)
		return string(data)
	}
}

// AsInt coerces a raw value to an int64.
func AsInt(v interface{}) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	case string:
		n, _ := strconv.ParseInt(val, 10, 64)
		return n
	case bool:
		if val {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// AsFloat coerces a raw value to a float64.
func AsFloat(v interface{}) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int64:
		return float64(val)
	case int:
		return float64(val)
	case string:
		f, _ := strconv.ParseFloat(val, 64)
		return f
	default:
		return 0
	}
}

// AsBool coerces a raw value to a bool.
func AsBool(v interface{}) bool {
	switch val := v.(type) {
	case bool:
		return val
	case float64:
		return val != 0
	case int64:
		return val != 0
	case string:
		return val == "true" || val == "1"
	default:
		return false
	}
}

// AsTime coerces a raw value to a time.Time. Strings are parsed with the two
// accepted portal layouts; numbers are epoch seconds.
func AsTime(v interface{}) time.Time {
	switch val := v.(type) {
	case time.Time:
		return val
	case string:
		t, err := textutil.ParseDatetime(val)
		if err != nil {
			return time.Time{}
		}
		return t
	case float64:
		return time.Unix(int64(val), 0)
	case int64:
		return time.Unix(val, 0)
	default:
		return time.Time{}
	}
}

// pathString reads a dotted path as a string, keeping the default on a miss.
func pathString(data Payload, path string) string {
	if v, ok := Path(data, path); ok {
		return AsString(v)
	}
	return ""
}

func pathInt(data Payload, path string) int64 {
	if v, ok := Path(data, path); ok {
		return AsInt(v)
	}
	return 0
}

func pathBool(data Payload, path string) bool {
	if v, ok := Path(data, path); ok {
		return AsBool(v)
	}
	return false
}

func pathTime(data Payload, path string) time.Time {
	if v, ok := Path(data, path); ok {
		return AsTime(v)
	}
	return time.Time{}
}

// packJSON encodes a JSON-packed field for storage.
func packJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}

// unpackStrings decodes a JSON-packed string list column.
func unpackStrings(v interface{}) []string {
	raw := AsString(v)
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

// rowTime reads a row column as time, tolerating NULL.
func rowTime(row Row, col string) time.Time {
	if v, ok := row[col]; ok && v != nil {
		return AsTime(v)
	}
	return time.Time{}
}

// timeOrNil renders a timestamp column, keeping NULL for the zero value so
// the upsert machinery can tell "absent" from "present".
func timeOrNil(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

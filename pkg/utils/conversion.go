package utils

import (
	"fmt"
	"strconv"
	"strings"
)

// ToBool safely converts various types to boolean.
// Handles bool, numeric types, []byte and string ("1", "true", "yes", "on").
func ToBool(val interface{}) bool {
	if val == nil {
		return false
	}

	switch v := val.(type) {
	case bool:
		return v
	case int:
		return v != 0
	case int64:
		return v != 0
	case int32:
		return v != 0
	case float64:
		return v != 0
	case float32:
		return v != 0
	case []byte:
		// Handle raw DB bytes often returned for TINYINT
		return parseBoolString(string(v))
	case string:
		return parseBoolString(v)
	default:
		str := fmt.Sprintf("%v", v)
		return parseBoolString(str)
	}
}

func parseBoolString(s string) bool {
	lower := strings.ToLower(strings.TrimSpace(s))
	if lower == "1" || lower == "true" || lower == "yes" || lower == "on" || lower == "t" {
		return true
	}
	if b, err := strconv.ParseBool(lower); err == nil {
		return b
	}
	return false
}

// ToFloat converts numeric types, []byte and numeric strings to float64.
// The second return reports whether the conversion succeeded.
func ToFloat(val interface{}) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(v)), 64)
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	case nil:
		return 0, false
	default:
		return 0, false
	}
}

// ToString renders a value the way it compares: numbers without a trailing
// ".000000", []byte as text, nil as empty string.
func ToString(val interface{}) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	default:
		return fmt.Sprintf("%v", v)
	}
}

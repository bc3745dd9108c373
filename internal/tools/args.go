package tools

import "strings"

// Args are decoded tool arguments that already passed schema validation.
// Accessors therefore only convert; they never report type errors.
type Args map[string]any

// String returns the trimmed string at key, or "".
func (a Args) String(key string) string {
	s, _ := a[key].(string)
	return strings.TrimSpace(s)
}

// Int returns the integer at key, or def when absent.
func (a Args) Int(key string, def int) int {
	switch v := a[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return def
	}
}

// Float returns the number at key, or def when absent.
func (a Args) Float(key string, def float64) float64 {
	switch v := a[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

// Bool returns the boolean at key, or def when absent.
func (a Args) Bool(key string, def bool) bool {
	if v, ok := a[key].(bool); ok {
		return v
	}
	return def
}

// Objects returns the array of objects at key.
func (a Args) Objects(key string) []Args {
	raw, _ := a[key].([]any)
	out := make([]Args, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, Args(m))
		}
	}
	return out
}

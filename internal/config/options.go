package config

import (
	"strconv"
	"strings"
)

// Options is a loosely-typed option bag decoded from pipeline JSON.
//
// Values arrive as whatever encoding/json produced (string, float64, bool,
// map[string]any), so every accessor coerces defensively and falls back to
// the provided default on any mismatch.
type Options map[string]any

// Any returns the raw value for key, or nil.
func (o Options) Any(key string) any {
	if o == nil {
		return nil
	}
	return o[key]
}

// String returns a string option, or def when missing or not a string.
func (o Options) String(key, def string) string {
	v, ok := o[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

// Bool returns a bool option. Accepts native bools and the strings
// "true"/"false" (config files written by hand tend to quote them).
func (o Options) Bool(key string, def bool) bool {
	v, ok := o[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return def
		}
		return b
	default:
		return def
	}
}

// Int returns an int option. JSON numbers decode as float64.
func (o Options) Int(key string, def int) int {
	v, ok := o[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return def
		}
		return n
	default:
		return def
	}
}

// Rune returns the first rune of a string option (e.g. a CSV delimiter).
func (o Options) Rune(key string, def rune) rune {
	s := o.String(key, "")
	if s == "" {
		return def
	}
	return []rune(s)[0]
}

// StringMap returns a map-valued option with string values.
// Non-string values are skipped.
func (o Options) StringMap(key string) map[string]string {
	out := map[string]string{}
	v, ok := o[key]
	if !ok {
		return out
	}
	m, ok := v.(map[string]any)
	if !ok {
		return out
	}
	for k, mv := range m {
		if s, ok := mv.(string); ok {
			out[k] = s
		}
	}
	return out
}

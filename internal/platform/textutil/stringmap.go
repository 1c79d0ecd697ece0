package textutil

import "strings"

// NormalizeStringMap returns a copy with whitespace-trimmed keys and values.
// Entries whose key trims to nothing are dropped; an empty result is nil so
// callers can omit the field from JSON payloads.
func NormalizeStringMap(values map[string]string) map[string]string {
	var result map[string]string
	for key, value := range values {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if result == nil {
			result = make(map[string]string, len(values))
		}
		result[key] = strings.TrimSpace(value)
	}
	return result
}

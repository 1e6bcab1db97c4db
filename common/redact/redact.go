// Package redact strips secrets from strings and config maps before they are
// logged or shown in a chat thread.
//
// The secrets glum holds are the completion API key and the messaging
// backend's access token. Either can surface in an HTTP error body or in the
// effective configuration logged at startup.
package redact

import (
	"strings"
)

const placeholder = "[REDACTED]"

// String replaces each sensitive value in s with [REDACTED]. Values shorter
// than 4 characters are ignored.
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Map returns a copy of m where non-empty string values under secret-looking
// keys are replaced.
func Map(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if str, ok := v.(string); ok && str != "" && isSensitiveKey(k) {
			out[k] = placeholder
			continue
		}
		out[k] = v
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, word := range []string{"password", "token", "secret", "apikey", "api_key", "credential", "cookie"} {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

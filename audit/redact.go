package audit

import "strings"

// Mask replaces the value of every redacted field.
const Mask = "***"

var sensitiveFragments = []string{"password", "token", "secret"}

func sensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range sensitiveFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// Redact returns a copy of extra with sensitive values masked. The input map
// is never modified; callers may hold references to it.
func Redact(extra map[string]any) map[string]any {
	if len(extra) == 0 {
		return nil
	}

	redacted := make(map[string]any, len(extra))
	for key, value := range extra {
		if sensitiveKey(key) {
			redacted[key] = Mask
		} else {
			redacted[key] = value
		}
	}
	return redacted
}

// RedactParams is Redact for request parameter maps.
func RedactParams(params map[string]string) map[string]string {
	if len(params) == 0 {
		return nil
	}

	redacted := make(map[string]string, len(params))
	for key, value := range params {
		if sensitiveKey(key) {
			redacted[key] = Mask
		} else {
			redacted[key] = value
		}
	}
	return redacted
}

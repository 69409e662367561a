package state

import (
	"strings"
)

// sensitiveKeyPatterns contains patterns that indicate a key holds sensitive data.
var sensitiveKeyPatterns = []string{
	"PASSWORD",
	"SECRET",
	"TOKEN",
	"KEY",
	"CREDENTIAL",
	"AUTH",
	"PRIVATE",
	"HEADERS",
	"PASSPHRASE",
}

const redactedValue = "[REDACTED]"

// SanitizeEnv returns a copy of the environment map with sensitive values
// redacted. The state file ends up on disk, and the exported OTLP headers
// variable carries the access token.
func SanitizeEnv(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}

	result := make(map[string]string, len(env))
	for k, v := range env {
		if isSensitiveKey(k) {
			result[k] = redactedValue
		} else {
			result[k] = v
		}
	}
	return result
}

func isSensitiveKey(key string) bool {
	upper := strings.ToUpper(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(upper, pattern) {
			return true
		}
	}
	return false
}

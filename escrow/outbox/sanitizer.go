package outbox

import (
	"regexp"
	"strings"
)

// maxErrorLength bounds the stored last_error column (CWE-209).
const maxErrorLength = 512

const (
	errorTruncatedSuffix = "... (truncated)"
	redactedValue        = "[REDACTED]"
)

var sensitiveDataPatterns = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{
		pattern:     regexp.MustCompile(`(?i)\b([a-z][a-z0-9+.-]*://[^:\s/]+):([^@\s]+)@`),
		replacement: `$1:` + redactedValue + `@`,
	},
	{
		pattern:     regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9\-._~+/]+=*\b`),
		replacement: "Bearer " + redactedValue,
	},
	{
		pattern:     regexp.MustCompile(`(?i)\b(password|secret|token)\s*[:=]\s*([^\s,;]+)`),
		replacement: `$1=` + redactedValue,
	},
}

// sanitizeErrorForStorage redacts credentials and bounds the message length.
func sanitizeErrorForStorage(err error) string {
	if err == nil {
		return ""
	}

	msg := strings.TrimSpace(err.Error())

	for _, p := range sensitiveDataPatterns {
		msg = p.pattern.ReplaceAllString(msg, p.replacement)
	}

	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength-len(errorTruncatedSuffix)] + errorTruncatedSuffix
	}

	return msg
}

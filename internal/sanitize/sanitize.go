// Package sanitize strips path separators, control characters, and
// secrets from identifiers and log strings before they touch the
// filesystem or a log line. Every function here is pure: same input,
// same output, no observable side effects.
package sanitize

import (
	"regexp"
	"strings"
)

const (
	maxSessionIDLen = 128
	maxErrorLen     = 120
	unknownSession  = "unknown-session"
)

var sessionIDDisallowed = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SessionID collapses ".." segments, strips leading dots, replaces path
// separators and any character outside [A-Za-z0-9._-] with "_", and caps
// the result at 128 characters. An empty result falls back to
// "unknown-session".
func SessionID(raw string) string {
	s := strings.ReplaceAll(raw, "..", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = sessionIDDisallowed.ReplaceAllString(s, "_")
	s = strings.TrimLeft(s, ".")

	if len(s) > maxSessionIDLen {
		s = s[:maxSessionIDLen]
	}
	if s == "" {
		return unknownSession
	}
	return s
}

var (
	urlPattern      = regexp.MustCompile(`https?://[^\s]+`)
	bearerPattern   = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._\-]+`)
	apiKeyPattern   = regexp.MustCompile(`\bsk-[A-Za-z0-9]{20,}\b`)
	tokenAssignment = regexp.MustCompile(`(?i)token\s*=\s*[^\s&]+`)
)

// ErrorString takes only the first line of an error message, replaces
// embedded URLs, bearer tokens, API-key-shaped substrings, and
// "token=..." assignments with "[REDACTED]", and caps the result at 120
// characters.
func ErrorString(raw string) string {
	firstLine := raw
	if idx := strings.IndexAny(raw, "\r\n"); idx >= 0 {
		firstLine = raw[:idx]
	}

	redacted := urlPattern.ReplaceAllString(firstLine, "[REDACTED]")
	redacted = bearerPattern.ReplaceAllString(redacted, "[REDACTED]")
	redacted = apiKeyPattern.ReplaceAllString(redacted, "[REDACTED]")
	redacted = tokenAssignment.ReplaceAllString(redacted, "[REDACTED]")

	if len(redacted) > maxErrorLen {
		redacted = redacted[:maxErrorLen]
	}
	return redacted
}

// Email preserves the first two characters and the entire domain of an
// email-shaped string (ab***@example.com); non-email input is truncated
// to 3 characters plus "***".
func Email(raw string) string {
	at := strings.LastIndex(raw, "@")
	if at <= 0 || at == len(raw)-1 {
		if len(raw) > 3 {
			return raw[:3] + "***"
		}
		return raw + "***"
	}

	local, domain := raw[:at], raw[at+1:]
	prefixLen := 2
	if len(local) < prefixLen {
		prefixLen = len(local)
	}
	return local[:prefixLen] + "***@" + domain
}

// Package redact keeps credentials out of logs and error messages.
// Any string that may carry a bearer token, API key, or connection
// secret should pass through Mask before it reaches a logger or an
// HTTP response body.
package redact

import (
	"regexp"
	"strings"
)

var (
	reBearer  = regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9._-]+)`)
	reAPIKey  = regexp.MustCompile(`(?i)(api[_-]?key"?\s*[:=]\s*"?)([A-Za-z0-9._-]+)`)
	reCred    = regexp.MustCompile(`(?i)(credential"?\s*[:=]\s*"?)([A-Za-z0-9._-]+)`)
	reSecret  = regexp.MustCompile(`(?i)(secret"?\s*[:=]\s*"?)([A-Za-z0-9._-]+)`)
	reDSNPass = regexp.MustCompile(`(?i)(://)([^:/@\s]+):([^@\s]+)(@)`)
)

// Mask replaces credential values in s with "***". The surrounding
// key or scheme text is preserved so log lines stay readable.
func Mask(s string) string {
	out := s
	out = reBearer.ReplaceAllString(out, "$1***")
	out = reAPIKey.ReplaceAllString(out, "$1***")
	out = reCred.ReplaceAllString(out, "$1***")
	out = reSecret.ReplaceAllString(out, "$1***")
	out = reDSNPass.ReplaceAllString(out, "$1*:*$4")
	return out
}

// MaskValue hides everything but a short prefix of a known-sensitive
// value, enough to tell two credentials apart without revealing either.
func MaskValue(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 6 {
		return "***"
	}
	return v[:3] + "***"
}

// ContainsCredential reports whether s looks like it carries a secret.
// Used as a guard in tests and before echoing request context back to
// callers.
func ContainsCredential(s string) bool {
	lower := strings.ToLower(s)
	for _, marker := range []string{"bearer ", "api_key", "apikey", "api-key", "credential", "secret"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

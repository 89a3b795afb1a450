package util

import (
	"regexp"
	"strings"
)

var (
	// Matches "Bearer <token>" (JWTs and opaque tokens). Keep it broad: tokens show up
	// in logs via downstream libraries and HTTP error messages.
	bearerTokenRe = regexp.MustCompile(`(?i)\bBearer\s+[^\s"']+`)

	// Common key=value formats that sometimes leak in error strings, including the
	// api_key query parameter of logged request URLs.
	apiKeyKVRe = regexp.MustCompile(`(?i)\b(api[_-]?key|serpapi[_-]?key|gemini[_-]?api[_-]?key|db[_-]?password|password)\b\s*[:=]\s*[^\s"'&]+`)

	// Google API keys have a fixed, recognizable prefix.
	googleKeyRe = regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{10,}\b`)
)

// RedactSecrets removes obvious secret-bearing substrings from error/log strings.
//
// This is intentionally conservative: it should be safe to call on any message,
// including user-provided inputs and upstream error strings.
func RedactSecrets(s string) string {
	if s == "" {
		return ""
	}
	out := s
	out = bearerTokenRe.ReplaceAllString(out, "Bearer <redacted>")
	out = apiKeyKVRe.ReplaceAllString(out, "$1=<redacted>")
	out = googleKeyRe.ReplaceAllString(out, "<redacted>")
	return strings.TrimSpace(out)
}

package http

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Input validation constants
const (
	MaxIDLength      = 128
	MaxContentLength = 10000
	MaxNameLength    = 256
	MaxBodyBytes     = 10 << 20
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

// ValidID checks that a path id is safe to pass to storage.
func ValidID(s string) bool {
	if s == "" || len(s) > MaxIDLength {
		return false
	}
	return idPattern.MatchString(s)
}

// SanitizeString removes null bytes and invalid UTF-8
func SanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return s
}

// TruncateString cuts s to at most maxLen bytes without splitting a rune.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen]
}

// CleanContent is applied to every message body accepted over HTTP.
func CleanContent(s string) string {
	return TruncateString(strings.TrimSpace(SanitizeString(s)), MaxContentLength)
}

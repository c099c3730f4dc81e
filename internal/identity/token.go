// Package identity derives the opaque user tokens under which transcripts and
// sessions are keyed. Channel-native identifiers never leave the adapter layer.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"unicode/utf8"
)

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?1?[-.\s]?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}`)
)

// Token returns the lowercase hex SHA-256 of a channel-native user id.
func Token(channelUserID string) string {
	sum := sha256.Sum256([]byte(channelUserID))
	return hex.EncodeToString(sum[:])
}

// Redact masks emails and phone numbers and truncates text for log previews.
func Redact(text string, max int) string {
	text = emailRe.ReplaceAllString(text, "[EMAIL]")
	text = phoneRe.ReplaceAllString(text, "[PHONE]")
	if max > 0 && utf8.RuneCountInString(text) > max {
		runes := []rune(text)
		return string(runes[:max]) + "..."
	}
	return text
}

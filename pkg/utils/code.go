package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// shareCodeBytes yields a 12 character base64url code
const shareCodeBytes = 9

// GenerateShareCode returns a short random URL-safe identifier
func GenerateShareCode() (string, error) {
	buf := make([]byte, shareCodeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// SanitizeCode trims whitespace and drops characters outside the base64url alphabet
func SanitizeCode(code string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(code) {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SanitizeTopic restricts a code to characters every broker accepts in a
// topic: lowercase, '/' removed, '_' replaced by '-'
func SanitizeTopic(code string) string {
	topic := strings.ToLower(SanitizeCode(code))
	topic = strings.ReplaceAll(topic, "/", "")
	return strings.ReplaceAll(topic, "_", "-")
}

// TopicForCode derives a broker topic from a share code so the raw code
// never appears in broker URLs
func TopicForCode(prefix, code string) string {
	sum := sha256.Sum256([]byte(SanitizeTopic(code)))
	return prefix + "-" + hex.EncodeToString(sum[:])[:32]
}

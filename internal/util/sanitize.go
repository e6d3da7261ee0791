package util

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// MaxLogValueLength bounds untrusted values written to the log.
const MaxLogValueLength = 256

// SanitizeForLog normalises an untrusted value (header, URI, return URL) so
// it cannot forge log lines: NFKC folding, control characters replaced, and
// truncation to MaxLogValueLength runes.
func SanitizeForLog(s string) string {
	s = norm.NFKC.String(s)
	var sb strings.Builder
	n := 0
	for _, r := range s {
		if n == MaxLogValueLength {
			sb.WriteString("...")
			break
		}
		if unicode.IsControl(r) {
			r = '_'
		}
		sb.WriteRune(r)
		n++
	}
	return sb.String()
}

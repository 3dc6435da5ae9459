// Package validation cleans identifiers that arrive in query strings and request bodies
// before they are forwarded upstream or used as store keys.
package validation

import (
	"strings"
	"unicode"
)

// MaxIdentifierLength bounds user, account and cursor identifiers.
const MaxIdentifierLength = 256

// StripUnprintable removes non-printable characters, including tab and newlines.
func StripUnprintable(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) {
			return r
		}
		return -1
	}, s)
}

// CleanSecret trims surrounding whitespace from a credential. The value is otherwise
// forwarded byte for byte, with no length cap.
func CleanSecret(s string) string {
	return strings.TrimSpace(s)
}

// CleanIdentifier trims s, drops control characters and caps its length.
// An identifier that is only whitespace or control characters becomes "".
func CleanIdentifier(s string) string {
	s = strings.TrimSpace(StripUnprintable(s))
	if len(s) > MaxIdentifierLength {
		s = s[:MaxIdentifierLength]
	}
	return s
}

package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCleanIdentifier(t *testing.T) {
	cases := map[string]string{
		"  user-1  ":    "user-1",
		"acc\x00ount\n": "account",
		"\t\r\n":        "",
		"ünïcode-ok":    "ünïcode-ok",
		"a\u200bb":      "ab",
	}
	for in, want := range cases {
		require.Equal(t, want, CleanIdentifier(in), "input %q", in)
	}
	require.Len(t, CleanIdentifier(strings.Repeat("x", 1000)), MaxIdentifierLength)
}

func TestCleanSecretKeepsLongValues(t *testing.T) {
	long := strings.Repeat("s", 1000)
	require.Equal(t, long, CleanSecret("  "+long+"\n"))
	require.Equal(t, "a\u200bb", CleanSecret("a\u200bb"))
}

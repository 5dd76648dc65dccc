// Package textnorm normalizes free-form model output into plain,
// single-line text safe to embed in prompts and store payloads.
package textnorm

import (
	"strconv"
	"strings"
	"unicode"
)

// Normalize decodes backslash escape sequences, strips characters other
// than word characters, whitespace and basic punctuation (. , ! ? -),
// and collapses whitespace runs into single spaces. It is total and
// idempotent: any input yields a result, and normalizing twice equals
// normalizing once.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	s = decodeEscapes(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if allowedRune(r) {
			b.WriteRune(r)
		}
	}
	// Fields both collapses interior whitespace and trims the ends.
	return strings.Join(strings.Fields(b.String()), " ")
}

func allowedRune(r rune) bool {
	switch {
	case unicode.IsSpace(r):
		return true
	case r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r):
		return true
	case r == '.' || r == ',' || r == '!' || r == '?' || r == '-':
		return true
	}
	return false
}

// decodeEscapes interprets backslash escape sequences (\n, \t, \uXXXX,
// \xXX, ...) left behind by double-encoded payloads. Unknown escapes
// pass through verbatim; a malformed \u/\x/\U sequence leaves the
// whole input unchanged.
func decodeEscapes(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			i++
			continue
		}
		switch s[i+1] {
		case 'n':
			b.WriteByte('\n')
			i += 2
		case 't':
			b.WriteByte('\t')
			i += 2
		case 'r':
			b.WriteByte('\r')
			i += 2
		case 'f':
			b.WriteByte('\f')
			i += 2
		case 'v':
			b.WriteByte('\v')
			i += 2
		case 'b':
			b.WriteByte('\b')
			i += 2
		case 'a':
			b.WriteByte('\a')
			i += 2
		case '\\':
			b.WriteByte('\\')
			i += 2
		case '\'':
			b.WriteByte('\'')
			i += 2
		case '"':
			b.WriteByte('"')
			i += 2
		case 'u':
			r, ok := hexRune(s[i+2:], 4)
			if !ok {
				return s
			}
			b.WriteRune(r)
			i += 6
		case 'U':
			r, ok := hexRune(s[i+2:], 8)
			if !ok {
				return s
			}
			b.WriteRune(r)
			i += 10
		case 'x':
			r, ok := hexRune(s[i+2:], 2)
			if !ok {
				return s
			}
			b.WriteRune(r)
			i += 4
		default:
			// Not an escape we understand; keep both bytes.
			b.WriteByte(s[i])
			b.WriteByte(s[i+1])
			i += 2
		}
	}
	return b.String()
}

func hexRune(s string, width int) (rune, bool) {
	if len(s) < width {
		return 0, false
	}
	v, err := strconv.ParseUint(s[:width], 16, 32)
	if err != nil || v > unicode.MaxRune {
		return 0, false
	}
	return rune(v), true
}

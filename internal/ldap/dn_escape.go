package ldap

import (
	"strings"
)

// EscapeDNValue escapes special characters in a DN attribute value per
// RFC 4514: the characters , + " \ < > ; anywhere, a leading #,
// leading and trailing spaces, and NUL bytes (as \00).
//
//	"Doe, John"  → "Doe\, John"
//	" John "     → "\ John\ "
//	"#123"       → "\#123"
func EscapeDNValue(value string) string {
	if value == "" {
		return value
	}

	var b strings.Builder
	b.Grow(len(value) + 8)

	for i, r := range value {
		switch r {
		case ',', '+', '"', '\\', '<', '>', ';':
			b.WriteRune('\\')
			b.WriteRune(r)
		case '#':
			if i == 0 {
				b.WriteRune('\\')
			}
			b.WriteRune(r)
		case ' ':
			// Space is a single byte, so the index comparison is exact.
			if i == 0 || i == len(value)-1 {
				b.WriteRune('\\')
			}
			b.WriteRune(r)
		case 0:
			b.WriteString("\\00")
		default:
			b.WriteRune(r)
		}
	}

	return b.String()
}

// UnescapeDNValue is the inverse of EscapeDNValue: it strips backslash
// escapes and decodes two-digit hex escapes such as \00.
func UnescapeDNValue(value string) string {
	if value == "" || !strings.Contains(value, "\\") {
		return value
	}

	var b strings.Builder
	b.Grow(len(value))

	escaped := false
	var hexBuf []rune

	flushHex := func() {
		if len(hexBuf) > 0 {
			b.WriteRune('\\')
			for _, h := range hexBuf {
				b.WriteRune(h)
			}
			hexBuf = hexBuf[:0]
		}
	}

	for i, r := range value {
		if escaped {
			if v, ok := hexDigit(r); ok {
				hexBuf = append(hexBuf, r)
				if len(hexBuf) == 2 {
					first, _ := hexDigit(hexBuf[0])
					b.WriteRune(rune(first*16 + v))
					hexBuf = hexBuf[:0]
					escaped = false
				}
				continue
			}
			// A non-hex character after a lone hex digit means the
			// sequence was not a hex escape after all.
			flushHex()
			b.WriteRune(r)
			escaped = false
			continue
		}

		if r == '\\' {
			if i == len(value)-1 {
				// Trailing bare backslash, keep it.
				b.WriteRune(r)
			} else {
				escaped = true
			}
			continue
		}

		b.WriteRune(r)
	}

	if escaped && len(hexBuf) == 0 {
		b.WriteRune('\\')
	}
	flushHex()

	return b.String()
}

func hexDigit(r rune) (int, bool) {
	switch {
	case r >= '0' && r <= '9':
		return int(r - '0'), true
	case r >= 'a' && r <= 'f':
		return int(r-'a') + 10, true
	case r >= 'A' && r <= 'F':
		return int(r-'A') + 10, true
	default:
		return 0, false
	}
}

// NeedsDNEscaping reports whether EscapeDNValue would change the value.
func NeedsDNEscaping(value string) bool {
	if value == "" {
		return false
	}

	if value[0] == ' ' || value[len(value)-1] == ' ' || value[0] == '#' {
		return true
	}

	return strings.ContainsAny(value, ",+\"\\<>;\x00")
}

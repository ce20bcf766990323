package ad

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// objectGUID is stored in mixed-endian order: the first three fields
// little-endian, the last eight bytes big-endian. RFC 4122 text form
// is big-endian throughout, so conversion swaps bytes 0-3, 4-5 and
// 6-7. The swap is its own inverse.

// swapGUIDBytes converts between directory byte order and RFC 4122
// order. The input must be exactly 16 bytes.
func swapGUIDBytes(b []byte) []byte {
	swapped := make([]byte, 16)
	swapped[0], swapped[1], swapped[2], swapped[3] = b[3], b[2], b[1], b[0]
	swapped[4], swapped[5] = b[5], b[4]
	swapped[6], swapped[7] = b[7], b[6]
	copy(swapped[8:], b[8:16])
	return swapped
}

// GUIDFromBytes decodes a raw objectGUID value into its canonical
// lower-case hyphenated text form.
func GUIDFromBytes(b []byte) (string, error) {
	if len(b) != 16 {
		return "", fmt.Errorf("objectGUID must be 16 bytes, got %d", len(b))
	}
	id, err := uuid.FromBytes(swapGUIDBytes(b))
	if err != nil {
		return "", fmt.Errorf("invalid objectGUID: %w", err)
	}
	return id.String(), nil
}

// GUIDToBytes encodes a GUID string into the directory's byte order.
// Hyphenated, braced, and bare 32-digit forms are all accepted.
func GUIDToBytes(s string) ([]byte, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid GUID %q: %w", s, err)
	}
	return swapGUIDBytes(id[:]), nil
}

// GUIDFilter builds an equality clause matching objectGUID against the
// given GUID string. Each byte is hex-escaped, as filter assertions on
// binary attributes require.
func GUIDFilter(s string) (string, error) {
	raw, err := GUIDToBytes(s)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("(objectGUID=")
	for _, octet := range raw {
		fmt.Fprintf(&b, `\%02x`, octet)
	}
	b.WriteByte(')')
	return b.String(), nil
}

// IsGUID reports whether s parses as a GUID in any accepted text form.
func IsGUID(s string) bool {
	_, err := uuid.Parse(strings.TrimSpace(s))
	return err == nil
}

// NormalizeGUID rewrites a GUID in any accepted form to canonical
// lower-case hyphenated text.
func NormalizeGUID(s string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("invalid GUID %q: %w", s, err)
	}
	return id.String(), nil
}

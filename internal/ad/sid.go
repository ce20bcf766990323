package ad

import (
	"fmt"
	"regexp"

	"github.com/bwmarrin/go-objectsid"
)

var sidTextPattern = regexp.MustCompile(`^S-1-\d+(-\d+)+$`)

// SIDFromBytes decodes a raw objectSid value into S-1-... text form.
// The layout is validated before decoding: one revision byte, a
// sub-authority count, a 48-bit authority, then count 32-bit
// sub-authorities.
func SIDFromBytes(b []byte) (string, error) {
	if len(b) < 8 {
		return "", fmt.Errorf("objectSid too short: %d bytes", len(b))
	}
	if b[0] != 1 {
		return "", fmt.Errorf("unsupported SID revision %d", b[0])
	}
	if want := 8 + int(b[1])*4; len(b) != want {
		return "", fmt.Errorf("objectSid length %d does not match sub-authority count %d", len(b), b[1])
	}
	return objectsid.Decode(b).String(), nil
}

// IsSID reports whether s is a SID in string form.
func IsSID(s string) bool {
	return sidTextPattern.MatchString(s)
}

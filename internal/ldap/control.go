package ldap

import (
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
)

// pagingControl is a paged-results control (RFC 2696) with a settable
// criticality flag. go-ldap's own ControlPaging always encodes the
// control as non-critical, which cannot express "fail the search
// instead of silently truncating" when the server will not honor the
// requested page size.
type pagingControl struct {
	size     uint32
	cookie   []byte
	critical bool
}

var _ ldap.Control = (*pagingControl)(nil)

func newPagingControl(size uint32, critical bool, cookie []byte) *pagingControl {
	return &pagingControl{size: size, critical: critical, cookie: cookie}
}

// GetControlType implements ldap.Control.
func (c *pagingControl) GetControlType() string {
	return ldap.ControlTypePaging
}

// Encode implements ldap.Control. Control ::= SEQUENCE { controlType,
// criticality BOOLEAN DEFAULT FALSE, controlValue OCTET STRING }, with
// the control value carrying the realSearchControlValue sequence of
// page size and cookie.
func (c *pagingControl) Encode() *ber.Packet {
	packet := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Control")
	packet.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, ldap.ControlTypePaging, "Control Type (Paging)"))
	if c.critical {
		packet.AppendChild(ber.NewBoolean(ber.ClassUniversal, ber.TypePrimitive, ber.TagBoolean, true, "Criticality"))
	}

	value := ber.Encode(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, nil, "Control Value (Paging)")
	seq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Search Control Value")
	seq.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(c.size), "Paging Size"))
	cookie := ber.Encode(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, nil, "Cookie")
	cookie.Value = c.cookie
	cookie.Data.Write(c.cookie)
	seq.AppendChild(cookie)
	value.AppendChild(seq)

	packet.AppendChild(value)
	return packet
}

// String implements ldap.Control.
func (c *pagingControl) String() string {
	return fmt.Sprintf("paged results control: size %d, critical %t, cookie %d bytes", c.size, c.critical, len(c.cookie))
}

// pagingCookie extracts the next-page cookie from a search response.
// The second return reports whether the server included a paging
// control at all.
func pagingCookie(result *ldap.SearchResult) ([]byte, bool) {
	if result == nil {
		return nil, false
	}
	control := ldap.FindControl(result.Controls, ldap.ControlTypePaging)
	paging, ok := control.(*ldap.ControlPaging)
	if !ok {
		return nil, false
	}
	return paging.Cookie, true
}

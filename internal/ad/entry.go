package ad

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// adTimeLayout is the generalized-time format Active Directory uses
// for whenCreated and whenChanged.
const adTimeLayout = "20060102150405.0Z"

// adEpochOffset is the number of 100-nanosecond intervals between the
// Windows epoch (1601-01-01) and the Unix epoch (1970-01-01). Interval
// attributes such as lastLogonTimestamp and pwdLastSet count from the
// Windows epoch.
const adEpochOffset = 116444736000000000

// Entry is the generic mapped directory entry. Every typed variant
// embeds one, so the complete raw attribute set stays reachable
// regardless of how an entry was categorized.
type Entry struct {
	dn    string
	attrs map[string][]string
	bytes map[string][][]byte
}

// entry aliases Entry for embedding in the typed variants: embedding
// *Entry directly would name the field Entry, shadowing the promoted
// Entry method the Object interface requires.
type entry = Entry

// NewEntry wraps a raw directory entry. Attribute names are indexed
// case-insensitively; values keep their server order.
func NewEntry(raw *ldap.Entry) *Entry {
	e := &Entry{
		dn:    raw.DN,
		attrs: make(map[string][]string, len(raw.Attributes)),
		bytes: make(map[string][][]byte, len(raw.Attributes)),
	}
	for _, attr := range raw.Attributes {
		name := strings.ToLower(attr.Name)
		e.attrs[name] = append([]string(nil), attr.Values...)
		e.bytes[name] = append([][]byte(nil), attr.ByteValues...)
	}
	return e
}

// DN returns the entry's distinguished name.
func (e *Entry) DN() string {
	return e.dn
}

// Entry returns the generic entry itself; typed variants inherit it,
// giving uniform access to the underlying attribute map.
func (e *Entry) Entry() *Entry {
	return e
}

// Category tags the generic variant.
func (e *Entry) Category() Category {
	return CategoryGeneric
}

func (e *Entry) sealed() {}

// Attribute returns the first value of the named attribute, matched
// case-insensitively, or "" when absent.
func (e *Entry) Attribute(name string) string {
	values := e.attrs[strings.ToLower(name)]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Attributes returns all values of the named attribute in server order.
func (e *Entry) Attributes(name string) []string {
	return append([]string(nil), e.attrs[strings.ToLower(name)]...)
}

// RawValue returns the first value of the named attribute as raw
// bytes, for binary attributes such as objectGUID and objectSid.
func (e *Entry) RawValue(name string) []byte {
	values := e.bytes[strings.ToLower(name)]
	if len(values) == 0 {
		return nil
	}
	return values[0]
}

// Has reports whether the entry carries at least one value for the
// named attribute.
func (e *Entry) Has(name string) bool {
	return len(e.attrs[strings.ToLower(name)]) > 0
}

// AttributeNames returns the lower-cased names of every attribute the
// entry carries, sorted.
func (e *Entry) AttributeNames() []string {
	names := make([]string, 0, len(e.attrs))
	for name := range e.attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Raw returns the complete attribute map keyed by lower-cased
// attribute name. The map is a copy; value slices are shared.
func (e *Entry) Raw() map[string][]string {
	raw := make(map[string][]string, len(e.attrs))
	for name, values := range e.attrs {
		raw[name] = values
	}
	return raw
}

// Name returns the entry's cn, falling back to the name attribute.
func (e *Entry) Name() string {
	if cn := e.Attribute("cn"); cn != "" {
		return cn
	}
	return e.Attribute("name")
}

// Description returns the entry's description attribute.
func (e *Entry) Description() string {
	return e.Attribute("description")
}

// ObjectClasses returns the entry's objectClass values.
func (e *Entry) ObjectClasses() []string {
	return e.Attributes("objectClass")
}

// GUID returns the canonical text form of the entry's objectGUID, or
// "" when the attribute is absent or malformed.
func (e *Entry) GUID() string {
	guid, err := GUIDFromBytes(e.RawValue("objectGUID"))
	if err != nil {
		return ""
	}
	return guid
}

// SID returns the string form of the entry's objectSid, or "". Binary
// values are decoded; pre-decoded string values, as some non-AD
// servers and test fixtures publish, pass through.
func (e *Entry) SID() string {
	if raw := e.RawValue("objectSid"); len(raw) > 0 {
		if sid, err := SIDFromBytes(raw); err == nil {
			return sid
		}
	}
	if s := e.Attribute("objectSid"); IsSID(s) {
		return s
	}
	return ""
}

// WhenCreated returns the parsed whenCreated timestamp, or the zero
// time when absent or unparseable.
func (e *Entry) WhenCreated() time.Time {
	return e.generalizedTime("whenCreated")
}

// WhenChanged returns the parsed whenChanged timestamp, or the zero
// time when absent or unparseable.
func (e *Entry) WhenChanged() time.Time {
	return e.generalizedTime("whenChanged")
}

func (e *Entry) generalizedTime(name string) time.Time {
	value := e.Attribute(name)
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(adTimeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

// intervalTime converts an Active Directory interval timestamp, in
// 100-nanosecond ticks since 1601-01-01 UTC, to a time.Time. Zero and
// sentinel values map to the zero time.
func intervalTime(value string) time.Time {
	ticks, err := strconv.ParseInt(value, 10, 64)
	if err != nil || ticks <= adEpochOffset {
		return time.Time{}
	}
	return time.Unix(0, (ticks-adEpochOffset)*100).UTC()
}

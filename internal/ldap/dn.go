package ldap

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// NormalizeDN normalizes a Distinguished Name to Active Directory's
// canonical shape: uppercase attribute type descriptors, single-comma
// separators, values re-escaped per RFC 4514.
//
//	"cn=john, ou=users,dc=example,dc=com" → "CN=john,OU=users,DC=example,DC=com"
func NormalizeDN(dn string) (string, error) {
	dn = strings.TrimSpace(dn)
	if dn == "" {
		return "", nil
	}

	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return "", fmt.Errorf("invalid DN syntax: %w", err)
	}

	return joinDN(parsed), nil
}

// CanonicalDN returns a case-folded form of a DN suitable for map keys,
// visited sets, and membership comparisons. AD treats DNs
// case-insensitively, so two spellings of the same entry must collide.
func CanonicalDN(dn string) string {
	normalized, err := NormalizeDN(dn)
	if err != nil {
		// Unparseable input still needs a stable key.
		return strings.ToLower(strings.TrimSpace(dn))
	}
	return strings.ToLower(normalized)
}

// EqualDN reports whether two DNs refer to the same entry, ignoring
// case and insignificant whitespace.
func EqualDN(a, b string) bool {
	return CanonicalDN(a) == CanonicalDN(b)
}

// joinDN rebuilds a parsed DN with uppercase attribute types and
// re-escaped values. ParseDN unescapes values, so escaping must be
// reapplied on reconstruction.
func joinDN(parsed *ldap.DN) string {
	rdns := make([]string, 0, len(parsed.RDNs))

	for _, rdn := range parsed.RDNs {
		attrs := make([]string, 0, len(rdn.Attributes))
		for _, attr := range rdn.Attributes {
			attrs = append(attrs, strings.ToUpper(attr.Type)+"="+EscapeDNValue(attr.Value))
		}
		rdns = append(rdns, strings.Join(attrs, "+"))
	}

	return strings.Join(rdns, ",")
}

// ValidateDNSyntax validates that a string parses as a Distinguished Name.
func ValidateDNSyntax(dn string) error {
	if dn == "" {
		return fmt.Errorf("DN cannot be empty")
	}

	if _, err := ldap.ParseDN(dn); err != nil {
		return fmt.Errorf("invalid DN syntax: %w", err)
	}

	return nil
}

// ExtractRDNValue returns the value of the first RDN component with
// the given attribute type.
//
//	ExtractRDNValue("CN=John Doe,OU=Users,DC=example,DC=com", "cn") → "John Doe"
func ExtractRDNValue(dn, attrType string) (string, error) {
	if dn == "" {
		return "", fmt.Errorf("DN cannot be empty")
	}

	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return "", fmt.Errorf("invalid DN syntax: %w", err)
	}

	want := strings.ToUpper(attrType)
	for _, rdn := range parsed.RDNs {
		for _, attr := range rdn.Attributes {
			if strings.ToUpper(attr.Type) == want {
				return attr.Value, nil
			}
		}
	}

	return "", fmt.Errorf("attribute type %q not found in DN %q", attrType, dn)
}

// FirstRDN returns the leading RDN of a DN as an unescaped
// type/value pair.
//
//	FirstRDN("CN=Group,CN=Schema,CN=Configuration,DC=x") → "CN", "Group"
func FirstRDN(dn string) (attrType, value string, err error) {
	if dn == "" {
		return "", "", fmt.Errorf("DN cannot be empty")
	}

	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return "", "", fmt.Errorf("invalid DN syntax: %w", err)
	}
	if len(parsed.RDNs) == 0 || len(parsed.RDNs[0].Attributes) == 0 {
		return "", "", fmt.Errorf("DN has no RDN components: %q", dn)
	}

	attr := parsed.RDNs[0].Attributes[0]
	return attr.Type, attr.Value, nil
}

// DNParent returns the parent DN, dropping the leading RDN.
//
//	DNParent("CN=John,OU=Users,DC=example,DC=com") → "OU=Users,DC=example,DC=com"
func DNParent(dn string) (string, error) {
	if dn == "" {
		return "", fmt.Errorf("DN cannot be empty")
	}

	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return "", fmt.Errorf("invalid DN syntax: %w", err)
	}

	if len(parsed.RDNs) <= 1 {
		return "", fmt.Errorf("DN has no parent: %s", dn)
	}

	return joinDN(&ldap.DN{RDNs: parsed.RDNs[1:]}), nil
}

// IsDNChild reports whether childDN sits anywhere beneath parentDN.
func IsDNChild(childDN, parentDN string) (bool, error) {
	if childDN == "" || parentDN == "" {
		return false, fmt.Errorf("DNs cannot be empty")
	}

	child, err := ldap.ParseDN(childDN)
	if err != nil {
		return false, fmt.Errorf("invalid child DN syntax: %w", err)
	}
	parent, err := ldap.ParseDN(parentDN)
	if err != nil {
		return false, fmt.Errorf("invalid parent DN syntax: %w", err)
	}

	if len(child.RDNs) <= len(parent.RDNs) {
		return false, nil
	}

	tail := &ldap.DN{RDNs: child.RDNs[len(child.RDNs)-len(parent.RDNs):]}
	return strings.EqualFold(joinDN(tail), joinDN(parent)), nil
}

package ad

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	ldapclient "github.com/isometry/adquery/internal/ldap"
)

// IdentifierType classifies the lookup key formats the managers accept.
type IdentifierType int

const (
	IdentifierUnknown IdentifierType = iota
	IdentifierDN
	IdentifierGUID
	IdentifierSID
	IdentifierUPN
	IdentifierSAM
)

// String returns the string representation of the identifier type.
func (t IdentifierType) String() string {
	switch t {
	case IdentifierDN:
		return "dn"
	case IdentifierGUID:
		return "guid"
	case IdentifierSID:
		return "sid"
	case IdentifierUPN:
		return "upn"
	case IdentifierSAM:
		return "sam"
	default:
		return "unknown"
	}
}

var (
	dnPattern  = regexp.MustCompile(`^(?i)(CN|OU|DC|O|C|STREET|L|ST|UID)=.+`)
	upnPattern = regexp.MustCompile(`^[^@\s\\]+@[^@\s\\]+\.[^@\s\\]+$`)
	samPattern = regexp.MustCompile(`^([^\s\\@]+\\)?[^\s\\@]+$`)
)

// DetectIdentifier classifies an identifier by shape, most specific
// format first: DN, GUID, SID, UPN, then plain or DOMAIN\qualified
// sAMAccountName.
func DetectIdentifier(identifier string) IdentifierType {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return IdentifierUnknown
	}

	switch {
	case dnPattern.MatchString(identifier):
		return IdentifierDN
	case IsGUID(identifier):
		return IdentifierGUID
	case IsSID(identifier):
		return IdentifierSID
	case upnPattern.MatchString(identifier):
		return IdentifierUPN
	case samPattern.MatchString(identifier):
		return IdentifierSAM
	default:
		return IdentifierUnknown
	}
}

// stripDomainPrefix cuts a DOMAIN\ qualifier off a sAMAccountName.
func stripDomainPrefix(sam string) string {
	if i := strings.LastIndex(sam, `\`); i >= 0 {
		return sam[i+1:]
	}
	return sam
}

// ResolveDN resolves an identifier in any supported form to the
// distinguished name of the entry it names. A DN identifier is
// verified with a base-object read rather than trusted; other forms
// are searched for under the directory base. The returned DN is
// normalized per RFC 4514.
func (d *Directory) ResolveDN(ctx context.Context, identifier string) (string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", fmt.Errorf("identifier cannot be empty")
	}

	search := d.Search().Select("distinguishedName")

	switch kind := DetectIdentifier(identifier); kind {
	case IdentifierDN:
		search.In(identifier).Read().AddWildcard()
	case IdentifierGUID:
		filter, err := GUIDFilter(identifier)
		if err != nil {
			return "", err
		}
		search.RawFilter(filter)
	case IdentifierSID:
		search.Where("objectSid", Equals, identifier)
	case IdentifierUPN:
		search.Where("userPrincipalName", Equals, identifier)
	case IdentifierSAM:
		search.Where("sAMAccountName", Equals, stripDomainPrefix(identifier))
	default:
		return "", fmt.Errorf("unrecognized identifier format: %q", identifier)
	}

	obj, err := search.FindOrFail(ctx)
	if err != nil {
		return "", err
	}

	dn := obj.Entry().Attribute("distinguishedName")
	if dn == "" {
		dn = obj.DN()
	}
	return ldapclient.NormalizeDN(dn)
}

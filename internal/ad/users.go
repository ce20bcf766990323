package ad

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"

	ldapclient "github.com/isometry/adquery/internal/ldap"
)

// userAccountControl bit flags.
const (
	UACAccountDisabled         int32 = 0x00000002 // account is disabled
	UACHomeDirRequired         int32 = 0x00000008 // home directory required
	UACPasswordNotRequired     int32 = 0x00000020 // no password required
	UACPasswordCantChange      int32 = 0x00000040 // user cannot change password
	UACEncryptedTextPwdAllowed int32 = 0x00000080 // encrypted text password allowed
	UACNormalAccount           int32 = 0x00000200 // normal user account
	UACInterdomainTrustAccount int32 = 0x00000800 // interdomain trust account
	UACWorkstationTrustAccount int32 = 0x00001000 // workstation trust account
	UACServerTrustAccount      int32 = 0x00002000 // server trust account
	UACPasswordNeverExpires    int32 = 0x00010000 // password never expires
	UACSmartCardRequired       int32 = 0x00040000 // smart card required for logon
	UACTrustedForDelegation    int32 = 0x00080000 // account trusted for delegation
	UACNotDelegated            int32 = 0x00100000 // account not delegated
	UACDontRequirePreauth      int32 = 0x00400000 // Kerberos preauth not required
	UACPasswordExpired         int32 = 0x00800000 // password expired
)

// CreateUserRequest carries the attributes for a new user. Accounts
// are created disabled; supply a password, or set Enabled together
// with a password, to produce a usable account in one call.
type CreateUserRequest struct {
	Name              string // required, becomes cn
	SAMAccountName    string // required
	UserPrincipalName string // optional
	Container         string // parent DN; empty targets CN=Users under the base
	GivenName         string
	Surname           string
	DisplayName       string
	Description       string
	Mail              string
	Password          string // optional; writing it requires an encrypted connection
	Enabled           bool   // enable after creation; needs a password
}

// UserManager looks up and mutates user accounts. Lookups accept any
// identifier form: DN, GUID, SID, UPN, or sAMAccountName.
type UserManager struct {
	dir *Directory
	log ldapclient.Logger
}

// userAttributes is the default projection for user lookups.
var userAttributes = []string{
	"objectGUID", "objectSid", "objectCategory", "cn", "name",
	"sAMAccountName", "userPrincipalName", "displayName", "givenName",
	"sn", "mail", "description", "memberOf", "userAccountControl",
	"lockoutTime", "lastLogonTimestamp", "pwdLastSet",
	"whenCreated", "whenChanged", "distinguishedName",
}

// Search starts a query pre-scoped to user objects. The computer
// exclusion matters: machine accounts share objectClass=user.
func (m *UserManager) Search() *Search {
	return m.dir.Search().
		Select(userAttributes...).
		Where("objectCategory", Equals, "person").
		Where("objectClass", Equals, "user")
}

// Find resolves an identifier to a user.
func (m *UserManager) Find(ctx context.Context, identifier string) (*User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, fmt.Errorf("user identifier cannot be empty")
	}

	search := m.Search()
	switch DetectIdentifier(identifier) {
	case IdentifierDN:
		search.In(identifier).Read()
	case IdentifierGUID:
		filter, err := GUIDFilter(identifier)
		if err != nil {
			return nil, err
		}
		search.RawFilter(filter)
	case IdentifierSID:
		search.Where("objectSid", Equals, identifier)
	case IdentifierUPN:
		search.Where("userPrincipalName", Equals, identifier)
	default:
		search.Where("anr", Equals, stripDomainPrefix(identifier))
	}

	obj, err := search.FindOrFail(ctx)
	if err != nil {
		return nil, err
	}
	user, ok := obj.(*User)
	if !ok {
		return nil, fmt.Errorf("%s is not a user", obj.DN())
	}
	return user, nil
}

// List returns the users under a container, whole subtree, sorted by cn.
func (m *UserManager) List(ctx context.Context, container string) ([]*User, error) {
	search := m.Search().SortBy("cn", Ascending)
	if container != "" {
		search.In(container)
	}

	objects, err := search.Get(ctx)
	if err != nil {
		return nil, err
	}

	users := make([]*User, 0, len(objects))
	for _, obj := range objects {
		if user, ok := obj.(*User); ok {
			users = append(users, user)
		}
	}
	return users, nil
}

// Create adds a new user account and returns it as stored. The account
// is written disabled first; the password and the enable bit follow as
// separate operations, matching what the directory will accept.
func (m *UserManager) Create(ctx context.Context, req *CreateUserRequest) (*User, error) {
	if err := validateCreateUser(req); err != nil {
		return nil, err
	}

	container := req.Container
	if container == "" {
		base, err := m.dir.BaseDN(ctx)
		if err != nil {
			return nil, err
		}
		container = "CN=Users," + base
	}

	dn := fmt.Sprintf("CN=%s,%s", ldapclient.EscapeDNValue(req.Name), container)

	attributes := map[string][]string{
		"objectClass":        {"top", "person", "organizationalPerson", "user"},
		"cn":                 {req.Name},
		"sAMAccountName":     {req.SAMAccountName},
		"userAccountControl": {strconv.FormatInt(int64(UACNormalAccount|UACAccountDisabled), 10)},
	}
	setIfPresent := func(attr, value string) {
		if value != "" {
			attributes[attr] = []string{value}
		}
	}
	setIfPresent("userPrincipalName", req.UserPrincipalName)
	setIfPresent("givenName", req.GivenName)
	setIfPresent("sn", req.Surname)
	setIfPresent("displayName", req.DisplayName)
	setIfPresent("description", req.Description)
	setIfPresent("mail", req.Mail)

	m.log.Info("creating user", map[string]any{"dn": dn})

	if err := m.dir.client.Add(ctx, &ldapclient.AddRequest{DN: dn, Attributes: attributes}); err != nil {
		return nil, err
	}

	if req.Password != "" {
		if err := m.setPasswordByDN(ctx, dn, req.Password); err != nil {
			return nil, fmt.Errorf("user created but password not set: %w", err)
		}
	}
	if req.Enabled {
		if err := m.setDisabledByDN(ctx, dn, UACNormalAccount|UACAccountDisabled, false); err != nil {
			return nil, fmt.Errorf("user created but not enabled: %w", err)
		}
	}

	return m.Find(ctx, dn)
}

func validateCreateUser(req *CreateUserRequest) error {
	if req == nil {
		return fmt.Errorf("create user request cannot be nil")
	}
	if req.Name == "" {
		return fmt.Errorf("user name is required")
	}
	if req.SAMAccountName == "" {
		return fmt.Errorf("SAM account name is required")
	}
	if strings.ContainsAny(req.SAMAccountName, " \t\n\r@\"#$%&'()*+,/:;<=>?[\\]^`{|}~") {
		return fmt.Errorf("SAM account name contains invalid characters: %s", req.SAMAccountName)
	}
	if req.Enabled && req.Password == "" {
		return fmt.Errorf("enabling an account requires a password")
	}
	if req.UserPrincipalName != "" && !strings.Contains(req.UserPrincipalName, "@") {
		return fmt.Errorf("invalid userPrincipalName: %s", req.UserPrincipalName)
	}
	return nil
}

// Delete removes a user account. Deleting an account that is already
// gone succeeds.
func (m *UserManager) Delete(ctx context.Context, identifier string) error {
	user, err := m.Find(ctx, identifier)
	if err != nil {
		if ldapclient.IsNotFoundError(err) {
			return nil
		}
		return err
	}

	m.log.Info("deleting user", map[string]any{"dn": user.DN()})
	return m.dir.client.Delete(ctx, user.DN())
}

// Modify applies plain attribute changes to the user: non-empty values
// replace, empty values delete the attribute.
func (m *UserManager) Modify(ctx context.Context, identifier string, changes map[string]string) error {
	if len(changes) == 0 {
		return nil
	}

	user, err := m.Find(ctx, identifier)
	if err != nil {
		return err
	}

	req := &ldapclient.ModifyRequest{
		DN:                user.DN(),
		ReplaceAttributes: make(map[string][]string),
		DeleteAttributes:  make(map[string][]string),
	}
	for attr, value := range changes {
		if value == "" {
			req.DeleteAttributes[attr] = nil
		} else {
			req.ReplaceAttributes[attr] = []string{value}
		}
	}

	return m.dir.client.Modify(ctx, req)
}

// Groups returns the DNs of groups the user belongs to. With recursive
// set, nested memberships expand through a canonical-DN visited set,
// so membership cycles terminate.
func (m *UserManager) Groups(ctx context.Context, identifier string, recursive bool) ([]string, error) {
	user, err := m.Find(ctx, identifier)
	if err != nil {
		return nil, err
	}

	direct := user.MemberOf()
	if !recursive {
		return direct, nil
	}
	return expandMembership(ctx, m.dir, direct)
}

// InGroup reports whether the user belongs to the group, nested
// membership included.
func (m *UserManager) InGroup(ctx context.Context, identifier, groupIdentifier string) (bool, error) {
	group, err := m.dir.Groups().Find(ctx, groupIdentifier)
	if err != nil {
		return false, err
	}

	groups, err := m.Groups(ctx, identifier, true)
	if err != nil {
		return false, err
	}

	for _, dn := range groups {
		if ldapclient.EqualDN(dn, group.DN()) {
			return true, nil
		}
	}
	return false, nil
}

// Enable clears the account's disable flag.
func (m *UserManager) Enable(ctx context.Context, identifier string) error {
	return m.setDisabled(ctx, identifier, false)
}

// Disable sets the account's disable flag.
func (m *UserManager) Disable(ctx context.Context, identifier string) error {
	return m.setDisabled(ctx, identifier, true)
}

func (m *UserManager) setDisabled(ctx context.Context, identifier string, disabled bool) error {
	user, err := m.Find(ctx, identifier)
	if err != nil {
		return err
	}

	uac := user.AccountControl()
	if uac == 0 {
		uac = UACNormalAccount
	}
	return m.setDisabledByDN(ctx, user.DN(), uac, disabled)
}

func (m *UserManager) setDisabledByDN(ctx context.Context, dn string, uac int32, disabled bool) error {
	next := uac &^ UACAccountDisabled
	if disabled {
		next = uac | UACAccountDisabled
	}
	if next == uac {
		return nil
	}

	m.log.Info("updating account control", map[string]any{
		"dn":       dn,
		"disabled": disabled,
	})

	return m.dir.client.Modify(ctx, &ldapclient.ModifyRequest{
		DN: dn,
		ReplaceAttributes: map[string][]string{
			"userAccountControl": {strconv.FormatInt(int64(next), 10)},
		},
	})
}

// SetPassword replaces the account password by writing unicodePwd.
// Active Directory accepts the write only over an encrypted connection
// (LDAPS or StartTLS) and enforces password policy server-side.
func (m *UserManager) SetPassword(ctx context.Context, identifier, password string) error {
	user, err := m.Find(ctx, identifier)
	if err != nil {
		return err
	}
	return m.setPasswordByDN(ctx, user.DN(), password)
}

// ResetPassword replaces the password and stamps pwdLastSet to zero,
// forcing a change at next logon.
func (m *UserManager) ResetPassword(ctx context.Context, identifier, password string) error {
	user, err := m.Find(ctx, identifier)
	if err != nil {
		return err
	}
	if err := m.setPasswordByDN(ctx, user.DN(), password); err != nil {
		return err
	}

	return m.dir.client.Modify(ctx, &ldapclient.ModifyRequest{
		DN: user.DN(),
		ReplaceAttributes: map[string][]string{
			"pwdLastSet": {"0"},
		},
	})
}

func (m *UserManager) setPasswordByDN(ctx context.Context, dn, password string) error {
	encoded, err := encodeUnicodePwd(password)
	if err != nil {
		return err
	}

	m.log.Info("setting password", map[string]any{"dn": dn})

	return m.dir.client.Modify(ctx, &ldapclient.ModifyRequest{
		DN: dn,
		ReplaceAttributes: map[string][]string{
			"unicodePwd": {encoded},
		},
	})
}

// encodeUnicodePwd encodes a password for the unicodePwd attribute:
// the UTF-16LE bytes of the password wrapped in double quotes.
func encodeUnicodePwd(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	encoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	encoded, err := encoder.String(`"` + password + `"`)
	if err != nil {
		return "", fmt.Errorf("failed to encode password: %w", err)
	}
	return encoded, nil
}

// Authenticate verifies credentials on a dedicated connection, leaving
// the pool's bind state untouched. The identifier may be any supported
// form; the bind uses the entry's userPrincipalName when it has one,
// its DN otherwise.
func (m *UserManager) Authenticate(ctx context.Context, identifier, password string) error {
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}

	user, err := m.Find(ctx, identifier)
	if err != nil {
		return err
	}

	bindID := user.UserPrincipalName()
	if bindID == "" {
		bindID = user.DN()
	}
	return m.dir.client.Authenticate(ctx, bindID, password)
}

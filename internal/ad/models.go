package ad

import (
	"strconv"
	"time"
)

// Object is the closed set of mapped directory entry variants. Every
// variant embeds *Entry, so the full raw attribute map survives
// categorization no matter which variant an entry lands in.
type Object interface {
	// Entry returns the underlying generic entry; never nil.
	Entry() *Entry
	// Category returns the variant tag the entry was mapped to.
	Category() Category
	// DN returns the entry's distinguished name.
	DN() string

	sealed()
}

// Category tags the variant an entry was mapped to.
type Category int

const (
	CategoryGeneric Category = iota
	CategoryComputer
	CategoryUser
	CategoryGroup
	CategoryContainer
	CategoryPrinter
	CategoryExchangeServer
)

// String returns the string representation of the category.
func (c Category) String() string {
	switch c {
	case CategoryComputer:
		return "computer"
	case CategoryUser:
		return "user"
	case CategoryGroup:
		return "group"
	case CategoryContainer:
		return "container"
	case CategoryPrinter:
		return "printer"
	case CategoryExchangeServer:
		return "exchange-server"
	default:
		return "generic"
	}
}

// Computer is a machine account.
type Computer struct {
	*entry
}

// Category tags the computer variant.
func (c *Computer) Category() Category { return CategoryComputer }

// DNSHostName returns the computer's registered DNS name.
func (c *Computer) DNSHostName() string { return c.Attribute("dNSHostName") }

// OperatingSystem returns the reported operating system name.
func (c *Computer) OperatingSystem() string { return c.Attribute("operatingSystem") }

// OperatingSystemVersion returns the reported operating system version.
func (c *Computer) OperatingSystemVersion() string { return c.Attribute("operatingSystemVersion") }

// SAMAccountName returns the machine account name, trailing dollar
// sign included.
func (c *Computer) SAMAccountName() string { return c.Attribute("sAMAccountName") }

// User is a person account.
type User struct {
	*entry
}

// Category tags the user variant.
func (u *User) Category() Category { return CategoryUser }

// SAMAccountName returns the pre-Windows-2000 logon name.
func (u *User) SAMAccountName() string { return u.Attribute("sAMAccountName") }

// UserPrincipalName returns the user@domain logon name.
func (u *User) UserPrincipalName() string { return u.Attribute("userPrincipalName") }

// DisplayName returns the display name.
func (u *User) DisplayName() string { return u.Attribute("displayName") }

// GivenName returns the first name.
func (u *User) GivenName() string { return u.Attribute("givenName") }

// Surname returns the last name.
func (u *User) Surname() string { return u.Attribute("sn") }

// Mail returns the primary email address.
func (u *User) Mail() string { return u.Attribute("mail") }

// MemberOf returns the DNs of groups the user is a direct member of.
// The primary group is not included; the directory does not publish it
// through memberOf.
func (u *User) MemberOf() []string {
	return u.Attributes("memberOf")
}

// AccountControl returns the raw userAccountControl flag word, or 0
// when absent or unparseable.
func (u *User) AccountControl() int32 {
	value, err := strconv.ParseInt(u.Attribute("userAccountControl"), 10, 32)
	if err != nil {
		return 0
	}
	return int32(value)
}

// Enabled reports whether the account's disable flag is clear.
func (u *User) Enabled() bool {
	return u.AccountControl()&UACAccountDisabled == 0
}

// PasswordNeverExpires reports the corresponding account control flag.
func (u *User) PasswordNeverExpires() bool {
	return u.AccountControl()&UACPasswordNeverExpires != 0
}

// SmartCardRequired reports the corresponding account control flag.
func (u *User) SmartCardRequired() bool {
	return u.AccountControl()&UACSmartCardRequired != 0
}

// LockedOut reports whether the account carries a live lockout stamp.
func (u *User) LockedOut() bool {
	value, err := strconv.ParseInt(u.Attribute("lockoutTime"), 10, 64)
	return err == nil && value > 0
}

// LastLogon returns the last interactive logon time as replicated in
// lastLogonTimestamp, or the zero time when the account never logged on.
func (u *User) LastLogon() time.Time {
	return intervalTime(u.Attribute("lastLogonTimestamp"))
}

// PasswordLastSet returns when the password was last changed, or the
// zero time when a change is pending.
func (u *User) PasswordLastSet() time.Time {
	return intervalTime(u.Attribute("pwdLastSet"))
}

// Group is a security or distribution group.
type Group struct {
	*entry
}

// Category tags the group variant.
func (g *Group) Category() Category { return CategoryGroup }

// SAMAccountName returns the group's account name.
func (g *Group) SAMAccountName() string { return g.Attribute("sAMAccountName") }

// Mail returns the group's email address, if published.
func (g *Group) Mail() string { return g.Attribute("mail") }

// Members returns the DNs of the group's direct members.
func (g *Group) Members() []string {
	return g.Attributes("member")
}

// MemberOf returns the DNs of groups this group is a direct member of.
func (g *Group) MemberOf() []string {
	return g.Attributes("memberOf")
}

// GroupType returns the raw groupType flag word, or 0 when absent.
func (g *Group) GroupType() int32 {
	value, err := strconv.ParseInt(g.Attribute("groupType"), 10, 32)
	if err != nil {
		return 0
	}
	return int32(value)
}

// Scope returns the group's scope decoded from groupType.
func (g *Group) Scope() GroupScope {
	scope, _ := ParseGroupType(g.GroupType())
	return scope
}

// GroupCategory returns security or distribution, decoded from groupType.
func (g *Group) GroupCategory() GroupCategory {
	_, category := ParseGroupType(g.GroupType())
	return category
}

// Container is a plain directory container such as CN=Users.
type Container struct {
	*entry
}

// Category tags the container variant.
func (c *Container) Category() Category { return CategoryContainer }

// Printer is a published print queue.
type Printer struct {
	*entry
}

// Category tags the printer variant.
func (p *Printer) Category() Category { return CategoryPrinter }

// PrinterName returns the queue's printer name.
func (p *Printer) PrinterName() string { return p.Attribute("printerName") }

// ServerName returns the print server hosting the queue.
func (p *Printer) ServerName() string { return p.Attribute("serverName") }

// DriverName returns the installed driver name.
func (p *Printer) DriverName() string { return p.Attribute("driverName") }

// PortName returns the port the queue prints to.
func (p *Printer) PortName() string { return p.Attribute("portName") }

// ExchangeServer is a published Exchange server object.
type ExchangeServer struct {
	*entry
}

// Category tags the Exchange server variant.
func (x *ExchangeServer) Category() Category { return CategoryExchangeServer }

// SerialNumber returns the server's reported version string.
func (x *ExchangeServer) SerialNumber() string { return x.Attribute("serialNumber") }

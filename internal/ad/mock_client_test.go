package ad

import (
	"context"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/mock"

	ldapclient "github.com/isometry/adquery/internal/ldap"
)

// testBaseDN is the directory base used across the package tests.
const testBaseDN = "DC=example,DC=com"

// MockClient implements the connection collaborator interface for
// testing the query core and managers without a directory server.
type MockClient struct {
	mock.Mock
}

var _ ldapclient.Client = (*MockClient)(nil)

func (m *MockClient) Connect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockClient) Bind(ctx context.Context, username, password string) error {
	args := m.Called(ctx, username, password)
	return args.Error(0)
}

func (m *MockClient) BindWithConfig(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockClient) Authenticate(ctx context.Context, username, password string) error {
	args := m.Called(ctx, username, password)
	return args.Error(0)
}

func (m *MockClient) Read(ctx context.Context, dn, filter string, attributes []string) (*ldapclient.SearchResult, error) {
	args := m.Called(ctx, dn, filter, attributes)
	result, _ := args.Get(0).(*ldapclient.SearchResult)
	return result, args.Error(1)
}

func (m *MockClient) List(ctx context.Context, dn, filter string, attributes []string) (*ldapclient.SearchResult, error) {
	args := m.Called(ctx, dn, filter, attributes)
	result, _ := args.Get(0).(*ldapclient.SearchResult)
	return result, args.Error(1)
}

func (m *MockClient) Search(ctx context.Context, req *ldapclient.SearchRequest) (*ldapclient.SearchResult, error) {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(*ldapclient.SearchResult)
	return result, args.Error(1)
}

func (m *MockClient) SearchPage(ctx context.Context, req *ldapclient.SearchRequest, page ldapclient.PageRequest) (*ldapclient.SearchResult, []byte, error) {
	args := m.Called(ctx, req, page)
	result, _ := args.Get(0).(*ldapclient.SearchResult)
	cookie, _ := args.Get(1).([]byte)
	return result, cookie, args.Error(2)
}

func (m *MockClient) SearchWithPaging(ctx context.Context, req *ldapclient.SearchRequest, pageSize uint32) (*ldapclient.SearchResult, error) {
	args := m.Called(ctx, req, pageSize)
	result, _ := args.Get(0).(*ldapclient.SearchResult)
	return result, args.Error(1)
}

func (m *MockClient) Add(ctx context.Context, req *ldapclient.AddRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockClient) Modify(ctx context.Context, req *ldapclient.ModifyRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockClient) ModifyDN(ctx context.Context, req *ldapclient.ModifyDNRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockClient) Delete(ctx context.Context, dn string) error {
	args := m.Called(ctx, dn)
	return args.Error(0)
}

func (m *MockClient) GetBaseDN(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockClient) RootDSE(ctx context.Context) (map[string]string, error) {
	args := m.Called(ctx)
	result, _ := args.Get(0).(map[string]string)
	return result, args.Error(1)
}

func (m *MockClient) WhoAmI(ctx context.Context) (*ldapclient.WhoAmIResult, error) {
	args := m.Called(ctx)
	result, _ := args.Get(0).(*ldapclient.WhoAmIResult)
	return result, args.Error(1)
}

func (m *MockClient) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockClient) Stats() ldapclient.PoolStats {
	args := m.Called()
	stats, _ := args.Get(0).(ldapclient.PoolStats)
	return stats
}

// testDirectory binds a fresh mock to a Directory with a pinned base
// DN, so no test hits the root DSE probe unless it means to.
func testDirectory() (*Directory, *MockClient) {
	client := &MockClient{}
	return New(client, WithBaseDN(testBaseDN)), client
}

// searchResult wraps entries in the collaborator's result shape.
func searchResult(entries ...*ldap.Entry) *ldapclient.SearchResult {
	return &ldapclient.SearchResult{Entries: entries, Total: len(entries)}
}

// testGUIDBytes is the directory byte order of the GUID
// 12345678-1234-1234-1234-567890123456.
var testGUIDBytes = []byte{
	0x78, 0x56, 0x34, 0x12,
	0x34, 0x12,
	0x34, 0x12,
	0x12, 0x34,
	0x56, 0x78, 0x90, 0x12, 0x34, 0x56,
}

// testSIDBytes is the binary form of
// S-1-5-21-123456789-123456789-123456789-1001.
var testSIDBytes = []byte{
	0x01, 0x05,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x05,
	0x15, 0x00, 0x00, 0x00,
	0x15, 0xcd, 0x5b, 0x07,
	0x15, 0xcd, 0x5b, 0x07,
	0x15, 0xcd, 0x5b, 0x07,
	0xe9, 0x03, 0x00, 0x00,
}

const (
	testGUID = "12345678-1234-1234-1234-567890123456"
	testSID  = "S-1-5-21-123456789-123456789-123456789-1001"
)

func attr(name string, values ...string) *ldap.EntryAttribute {
	byteValues := make([][]byte, len(values))
	for i, v := range values {
		byteValues[i] = []byte(v)
	}
	return &ldap.EntryAttribute{Name: name, Values: values, ByteValues: byteValues}
}

func binaryAttr(name string, value []byte) *ldap.EntryAttribute {
	return &ldap.EntryAttribute{Name: name, ByteValues: [][]byte{value}}
}

// testUserEntry builds a realistic person entry.
func testUserEntry() *ldap.Entry {
	dn := "CN=John Doe,OU=People," + testBaseDN
	return &ldap.Entry{
		DN: dn,
		Attributes: []*ldap.EntryAttribute{
			binaryAttr("objectGUID", testGUIDBytes),
			binaryAttr("objectSid", testSIDBytes),
			attr("objectClass", "top", "person", "organizationalPerson", "user"),
			attr("objectCategory", "CN=Person,CN=Schema,CN=Configuration,"+testBaseDN),
			attr("distinguishedName", dn),
			attr("cn", "John Doe"),
			attr("name", "John Doe"),
			attr("sAMAccountName", "jdoe"),
			attr("userPrincipalName", "jdoe@example.com"),
			attr("displayName", "John Doe"),
			attr("givenName", "John"),
			attr("sn", "Doe"),
			attr("mail", "jdoe@example.com"),
			attr("description", "Senior Engineer"),
			attr("userAccountControl", "512"),
			attr("memberOf",
				"CN=Engineers,OU=Groups,"+testBaseDN,
				"CN=VPN Users,OU=Groups,"+testBaseDN,
			),
			attr("whenCreated", "20230101120000.0Z"),
			attr("whenChanged", "20230201120000.0Z"),
			attr("lastLogonTimestamp", "133200000000000000"),
			attr("pwdLastSet", "133150000000000000"),
		},
	}
}

// testGroupEntry builds a global security group with the given members.
func testGroupEntry(cn string, members ...string) *ldap.Entry {
	dn := "CN=" + cn + ",OU=Groups," + testBaseDN
	attrs := []*ldap.EntryAttribute{
		binaryAttr("objectGUID", testGUIDBytes),
		binaryAttr("objectSid", testSIDBytes),
		attr("objectClass", "top", "group"),
		attr("objectCategory", "CN=Group,CN=Schema,CN=Configuration,"+testBaseDN),
		attr("distinguishedName", dn),
		attr("cn", cn),
		attr("name", cn),
		attr("sAMAccountName", cn),
		attr("groupType", "-2147483646"),
	}
	if len(members) > 0 {
		attrs = append(attrs, attr("member", members...))
	}
	return &ldap.Entry{DN: dn, Attributes: attrs}
}

// testOUEntry builds an organizational unit entry.
func testOUEntry(name string) *ldap.Entry {
	dn := "OU=" + name + "," + testBaseDN
	return &ldap.Entry{
		DN: dn,
		Attributes: []*ldap.EntryAttribute{
			binaryAttr("objectGUID", testGUIDBytes),
			attr("objectClass", "top", "organizationalUnit"),
			attr("objectCategory", "CN=Organizational-Unit,CN=Schema,CN=Configuration,"+testBaseDN),
			attr("distinguishedName", dn),
			attr("ou", name),
			attr("name", name),
			attr("whenCreated", "20230101120000.0Z"),
		},
	}
}

// testComputerEntry builds a machine account entry.
func testComputerEntry(name string) *ldap.Entry {
	dn := "CN=" + name + ",CN=Computers," + testBaseDN
	return &ldap.Entry{
		DN: dn,
		Attributes: []*ldap.EntryAttribute{
			attr("objectClass", "top", "person", "organizationalPerson", "user", "computer"),
			attr("objectCategory", "CN=Computer,CN=Schema,CN=Configuration,"+testBaseDN),
			attr("cn", name),
			attr("sAMAccountName", name+"$"),
			attr("dNSHostName", name+".example.com"),
			attr("operatingSystem", "Windows Server 2022"),
		},
	}
}

// withAttribute returns a copy of the entry with one attribute replaced
// or appended.
func withAttribute(entry *ldap.Entry, name string, values ...string) *ldap.Entry {
	clone := &ldap.Entry{DN: entry.DN}
	replaced := false
	for _, a := range entry.Attributes {
		if a.Name == name {
			clone.Attributes = append(clone.Attributes, attr(name, values...))
			replaced = true
			continue
		}
		clone.Attributes = append(clone.Attributes, a)
	}
	if !replaced {
		clone.Attributes = append(clone.Attributes, attr(name, values...))
	}
	return clone
}

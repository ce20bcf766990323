package ldap

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-ldap/ldap/v3"
)

// ConnectionConfig holds configuration for LDAP connections.
// Zero values are filled in from the `default` tags by DefaultConfig
// and NewClient.
type ConnectionConfig struct {
	// Connection settings
	Domain   string        // Domain for SRV discovery
	LDAPURLs []string      // Direct LDAP URLs (override SRV discovery)
	BaseDN   string        // Base DN for searches; probed from the root DSE when empty
	Timeout  time.Duration `default:"30s"` // Dial and operation timeout

	// Authentication settings
	Username       string // Bind identity (DN, UPN, or DOMAIN\sam format)
	Password       string // Password for simple bind
	KerberosRealm  string // Kerberos realm for GSSAPI authentication
	KerberosKeytab string // Path to a Kerberos keytab file
	KerberosCCache string // Path to a Kerberos credential cache
	KerberosConfig string // Path to krb5.conf
	KerberosSPN    string // Explicit service principal, overrides ldap/<host>

	// TLS settings
	TLSConfig         *tls.Config // Custom TLS configuration
	UseTLS            bool        `default:"true"` // Require TLS (LDAPS or StartTLS)
	SkipTLS           bool        // Plaintext LDAP; only sensible for lab setups
	TLSCACertFile     string      // Path to a CA certificate file
	TLSCACert         string      // CA certificate content (PEM)
	TLSClientCertFile string      // Path to a client certificate file
	TLSClientKeyFile  string      // Path to a client private key file

	// Pool settings
	MaxConnections int           `default:"10"`
	MaxIdleTime    time.Duration `default:"5m"`
	HealthCheck    time.Duration `default:"30s"`

	// Retry settings
	MaxRetries     int           `default:"3"`
	InitialBackoff time.Duration `default:"500ms"`
	MaxBackoff     time.Duration `default:"30s"`
	BackoffFactor  float64       `default:"2.0"`
}

// DefaultConfig returns a configuration populated with secure defaults.
func DefaultConfig() *ConnectionConfig {
	cfg := &ConnectionConfig{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields from the struct's default tags.
func (c *ConnectionConfig) ApplyDefaults() {
	// defaults.Set only errors on non-pointer input.
	_ = defaults.Set(c)
	if c.TLSConfig == nil {
		c.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
}

// AuthMethod defines authentication method types.
type AuthMethod int

const (
	AuthMethodSimpleBind AuthMethod = iota // Username/password bind
	AuthMethodKerberos                     // GSSAPI/Kerberos bind
	AuthMethodExternal                     // TLS client-certificate bind
)

// String returns the string representation of the authentication method.
func (a AuthMethod) String() string {
	switch a {
	case AuthMethodSimpleBind:
		return "simple"
	case AuthMethodKerberos:
		return "kerberos"
	case AuthMethodExternal:
		return "external"
	default:
		return "unknown"
	}
}

// GetAuthMethod determines the authentication method from the configuration.
// Kerberos wins over simple bind, which wins over external.
func (c *ConnectionConfig) GetAuthMethod() AuthMethod {
	if c.KerberosRealm != "" && (c.KerberosKeytab != "" || c.Username != "") {
		return AuthMethodKerberos
	}
	if c.Username != "" && c.Password != "" {
		return AuthMethodSimpleBind
	}
	if c.TLSClientCertFile != "" && c.TLSClientKeyFile != "" {
		return AuthMethodExternal
	}
	return AuthMethodSimpleBind
}

// HasAuthentication reports whether any authentication method is configured.
func (c *ConnectionConfig) HasAuthentication() bool {
	hasPassword := c.Username != "" && c.Password != ""
	hasKerberos := c.KerberosRealm != "" && (c.KerberosKeytab != "" || c.Username != "")
	hasExternal := c.TLSClientCertFile != "" && c.TLSClientKeyFile != ""

	return hasPassword || hasKerberos || hasExternal
}

// SearchScope defines LDAP search scope.
type SearchScope int

const (
	ScopeBaseObject  SearchScope = iota // The entry itself
	ScopeSingleLevel                    // Immediate children only
	ScopeWholeSubtree                   // The entry and everything below it
)

// String returns the string representation of the search scope.
func (s SearchScope) String() string {
	switch s {
	case ScopeBaseObject:
		return "base"
	case ScopeSingleLevel:
		return "one"
	case ScopeWholeSubtree:
		return "sub"
	default:
		return "unknown"
	}
}

// DerefAliases defines alias dereferencing behavior.
type DerefAliases int

const (
	NeverDerefAliases DerefAliases = iota
	DerefInSearching
	DerefFindingBaseObj
	DerefAlways
)

// SearchRequest encapsulates LDAP search parameters.
type SearchRequest struct {
	BaseDN       string
	Scope        SearchScope
	Filter       string
	Attributes   []string
	SizeLimit    int
	TimeLimit    time.Duration
	DerefAliases DerefAliases
}

// SearchResult contains search results and metadata.
type SearchResult struct {
	Entries []*ldap.Entry
	Total   int
	HasMore bool
}

// PageRequest describes one iteration of a paged search. The cookie is
// the opaque token returned by the previous page; a nil cookie starts
// the sequence.
type PageRequest struct {
	Size     uint32
	Critical bool // Treat an unhonored paging control as a hard failure
	Cookie   []byte
}

// AddRequest encapsulates LDAP add parameters.
type AddRequest struct {
	DN         string
	Attributes map[string][]string
}

// ModifyRequest encapsulates LDAP modify parameters.
type ModifyRequest struct {
	DN                string
	AddAttributes     map[string][]string
	ReplaceAttributes map[string][]string
	DeleteAttributes  map[string][]string
}

// ModifyDNRequest encapsulates LDAP rename/move parameters.
type ModifyDNRequest struct {
	DN           string
	NewRDN       string
	NewSuperior  string // Empty keeps the current parent
	DeleteOldRDN bool
}

// WhoAmIResult contains the parsed response of the Who Am I? extended
// operation.
type WhoAmIResult struct {
	AuthzID           string
	Format            string // "dn", "upn", "sam", "sid", "empty", or "unknown"
	DN                string
	UserPrincipalName string
	SAMAccountName    string
	SID               string
}

// Client provides high-level LDAP operations over a pooled connection.
type Client interface {
	// Connection management
	Connect(ctx context.Context) error
	Close() error

	// Authentication
	Bind(ctx context.Context, username, password string) error
	BindWithConfig(ctx context.Context) error
	// Authenticate verifies credentials on a dedicated short-lived
	// connection without disturbing the pool's bind state.
	Authenticate(ctx context.Context, username, password string) error

	// Read issues a base-object search against a single DN.
	Read(ctx context.Context, dn, filter string, attributes []string) (*SearchResult, error)
	// List issues a single-level search returning immediate children.
	List(ctx context.Context, dn, filter string, attributes []string) (*SearchResult, error)
	// Search issues a search with the scope given in the request.
	Search(ctx context.Context, req *SearchRequest) (*SearchResult, error)
	// SearchPage issues one page of a paged search and returns the
	// cookie for the next page; an empty cookie means the sequence is
	// exhausted.
	SearchPage(ctx context.Context, req *SearchRequest, page PageRequest) (*SearchResult, []byte, error)
	// SearchWithPaging drains all pages of a paged search.
	SearchWithPaging(ctx context.Context, req *SearchRequest, pageSize uint32) (*SearchResult, error)

	// Mutations
	Add(ctx context.Context, req *AddRequest) error
	Modify(ctx context.Context, req *ModifyRequest) error
	ModifyDN(ctx context.Context, req *ModifyDNRequest) error
	Delete(ctx context.Context, dn string) error

	// Directory metadata
	GetBaseDN(ctx context.Context) (string, error)
	RootDSE(ctx context.Context) (map[string]string, error)
	WhoAmI(ctx context.Context) (*WhoAmIResult, error)

	// Health and statistics
	Ping(ctx context.Context) error
	Stats() PoolStats
}

// ServerInfo contains information about a discovered LDAP server.
type ServerInfo struct {
	Host     string
	Port     int
	UseTLS   bool
	Priority int
	Weight   int
	Source   string // "srv", "config", "fallback"
}

// PooledConnection represents a connection checked out of the pool.
type PooledConnection struct {
	conn          *ldap.Conn
	lastUsed      time.Time
	healthy       bool
	authenticated bool
	authTime      time.Time
	serverInfo    *ServerInfo
	returnToPool  func(*PooledConnection)
}

// ConnectionPool manages a pool of LDAP connections.
type ConnectionPool interface {
	// Get retrieves a connection from the pool.
	Get(ctx context.Context) (*PooledConnection, error)

	// Close closes all connections and shuts down the pool.
	Close() error

	// Stats returns pool statistics.
	Stats() PoolStats

	// HealthCheck probes all idle connections.
	HealthCheck(ctx context.Context) error

	// Servers returns the discovered or configured server candidates
	// in priority order.
	Servers() []*ServerInfo
}

// PoolStats provides statistics about the connection pool.
type PoolStats struct {
	Total     int           // Total connections
	Active    int64         // Active (in-use) connections
	Idle      int           // Idle connections
	Unhealthy int           // Unhealthy connections
	Created   int64         // Total connections created
	Errors    int64         // Total connection errors
	Uptime    time.Duration // Pool uptime
}

// RetryableError indicates an error that can be retried.
type RetryableError interface {
	error
	IsRetryable() bool
}

// ConnectionError represents connection-level failures.
type ConnectionError struct {
	message   string
	retryable bool
	cause     error
}

func (e *ConnectionError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *ConnectionError) IsRetryable() bool {
	return e.retryable
}

func (e *ConnectionError) Unwrap() error {
	return e.cause
}

// NewConnectionError creates a new connection error.
func NewConnectionError(message string, retryable bool, cause error) *ConnectionError {
	return &ConnectionError{
		message:   message,
		retryable: retryable,
		cause:     cause,
	}
}

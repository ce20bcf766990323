package ldap

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

const (
	// defaultPageSize is used by SearchWithPaging when the caller does
	// not specify one. Active Directory's default MaxPageSize policy
	// is 1000, so anything larger is silently clamped anyway.
	defaultPageSize uint32 = 1000

	// Safety rails for SearchWithPaging so a bad filter against a
	// large directory cannot run unbounded.
	maxPagesPerSearch = 1000
	maxSearchDuration = 30 * time.Minute
)

// rootDSEAttributes are the root DSE attributes exposed by RootDSE.
var rootDSEAttributes = []string{
	"defaultNamingContext",
	"rootDomainNamingContext",
	"schemaNamingContext",
	"configurationNamingContext",
	"supportedLDAPVersion",
	"supportedSASLMechanisms",
	"dnsHostName",
	"domainFunctionality",
	"forestFunctionality",
	"domainControllerFunctionality",
}

// client implements the Client interface.
type client struct {
	pool   ConnectionPool
	config *ConnectionConfig
	log    Logger
}

var _ Client = (*client)(nil)

// NewClient creates a new LDAP client with connection pooling.
func NewClient(config *ConnectionConfig) (Client, error) {
	return NewClientWithLogger(config, nil)
}

// NewClientWithLogger creates a new LDAP client with connection
// pooling and the given logger. A nil logger discards all output.
func NewClientWithLogger(config *ConnectionConfig, log Logger) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	} else {
		config.ApplyDefaults()
	}
	if log == nil {
		log = NopLogger()
	}
	log = log.Named("ldap")

	log.Debug("creating client", map[string]any{
		"domain":          config.Domain,
		"ldap_urls_count": len(config.LDAPURLs),
		"auth_method":     config.GetAuthMethod().String(),
		"use_tls":         config.UseTLS,
		"max_connections": config.MaxConnections,
	})

	start := time.Now()
	pool, err := NewConnectionPool(config, log)
	if err != nil {
		log.Error("failed to create connection pool", map[string]any{
			"error":       err.Error(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	log.Debug("client ready", map[string]any{
		"duration_ms": time.Since(start).Milliseconds(),
		"auth_method": config.GetAuthMethod().String(),
	})

	return &client{
		pool:   pool,
		config: config,
		log:    log,
	}, nil
}

// Connect initializes the client (tests initial connection).
func (c *client) Connect(ctx context.Context) error {
	return LogOperation(c.log, "connection_test", map[string]any{
		"domain": c.config.Domain,
	}, func() error {
		conn, err := c.pool.Get(ctx)
		if err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}
		defer conn.Close()

		return c.ping(conn)
	})
}

// Close closes the client and all its connections.
func (c *client) Close() error {
	return c.pool.Close()
}

// Bind authenticates on a pooled connection with explicit credentials.
func (c *client) Bind(ctx context.Context, username, password string) error {
	conn, err := c.pool.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	return c.withRetry(ctx, func() error {
		return conn.Conn().Bind(username, password)
	})
}

// BindWithConfig performs authentication using the client's configuration.
func (c *client) BindWithConfig(ctx context.Context) error {
	if !c.config.HasAuthentication() {
		return fmt.Errorf("no authentication configuration available")
	}

	authMethod := c.config.GetAuthMethod()
	return LogOperation(c.log, "authentication", map[string]any{
		"auth_method": authMethod.String(),
		"username":    c.config.Username,
	}, func() error {
		conn, err := c.pool.Get(ctx)
		if err != nil {
			return fmt.Errorf("failed to get connection: %w", err)
		}
		defer conn.Close()

		return c.withRetry(ctx, func() error {
			return c.authenticate(conn.Conn())
		})
	})
}

// Authenticate verifies a credential pair on a dedicated short-lived
// connection so the pool's bind state is never disturbed. An empty
// password is rejected outright: LDAP treats it as an anonymous bind,
// which would report success without checking anything.
func (c *client) Authenticate(ctx context.Context, username, password string) error {
	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}

	servers := c.pool.Servers()
	if len(servers) == 0 {
		return NewConnectionError("no LDAP servers available", false, nil)
	}

	fields := map[string]any{"username": username}
	c.log.Debug("authenticating on dedicated connection", fields)

	var dialErr error
	for _, server := range servers {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn, err := dialServer(c.config, server)
		if err != nil {
			dialErr = err
			continue
		}

		err = conn.Bind(username, password)
		conn.Close()
		if err != nil {
			LogLDAPError(c.log, "authenticate", err, fields)
			return WrapError("authenticate", err)
		}

		c.log.Debug("authentication successful", fields)
		return nil
	}

	return NewConnectionError("failed to reach any LDAP server", true, dialErr)
}

// authenticate performs authentication based on the configured method.
func (c *client) authenticate(conn *ldap.Conn) error {
	authMethod := c.config.GetAuthMethod()

	start := time.Now()
	var err error

	switch authMethod {
	case AuthMethodSimpleBind:
		err = c.authenticateSimple(conn)
	case AuthMethodKerberos:
		err = c.authenticateKerberos(conn)
	case AuthMethodExternal:
		err = c.authenticateExternal(conn)
	default:
		err = fmt.Errorf("unsupported authentication method: %s", authMethod.String())
	}

	if err != nil {
		c.log.Error("authentication failed", map[string]any{
			"auth_method": authMethod.String(),
			"error":       err.Error(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return err
	}

	c.log.Debug("authentication successful", map[string]any{
		"auth_method": authMethod.String(),
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return nil
}

// authenticateSimple performs simple bind authentication.
func (c *client) authenticateSimple(conn *ldap.Conn) error {
	if c.config.Username == "" {
		return fmt.Errorf("username is required for simple bind authentication")
	}

	// An empty password here is an intentional anonymous bind with a
	// bind identity, unlike Authenticate which must reject it.
	return conn.Bind(c.config.Username, c.config.Password)
}

// authenticateKerberos performs GSSAPI/Kerberos authentication.
func (c *client) authenticateKerberos(conn *ldap.Conn) error {
	// The pool knows which servers it dials; use the first candidate
	// to derive the service principal.
	var serverInfo *ServerInfo
	if servers := c.pool.Servers(); len(servers) > 0 {
		serverInfo = servers[0]
	} else if len(c.config.LDAPURLs) > 0 {
		parsed, err := ParseLDAPURL(c.config.LDAPURLs[0])
		if err != nil {
			return fmt.Errorf("failed to parse LDAP URL for Kerberos: %w", err)
		}
		serverInfo = parsed
	} else if c.config.Domain != "" {
		serverInfo = &ServerInfo{
			Host:   c.config.Domain,
			Port:   636,
			UseTLS: true,
			Source: "fallback",
		}
	} else {
		return fmt.Errorf("insufficient connection information for Kerberos authentication")
	}

	return performKerberosAuth(conn, c.config, serverInfo, c.log)
}

// authenticateExternal completes a TLS client-certificate
// authentication. The credential check happened at the TLS layer; the
// empty bind only associates it with the LDAP session.
func (c *client) authenticateExternal(conn *ldap.Conn) error {
	return conn.Bind("", "")
}

// performSearch runs searchFunc with standard logging around it.
func (c *client) performSearch(operation string, fields map[string]any, searchFunc func() (*SearchResult, error)) (*SearchResult, error) {
	start := time.Now()

	if fields == nil {
		fields = make(map[string]any)
	}
	fields["operation"] = operation

	c.log.Debug("starting search", fields)

	result, err := searchFunc()

	fields["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		fields["error"] = err.Error()
		c.log.Error("search failed", fields)
		return nil, err
	}

	fields["entries_found"] = len(result.Entries)
	c.log.Debug("search completed", fields)

	return result, nil
}

// Read issues a base-object search against a single DN. A missing
// entry surfaces as a not-found LDAP error rather than an empty
// result, matching server behavior for base searches.
func (c *client) Read(ctx context.Context, dn, filter string, attributes []string) (*SearchResult, error) {
	if dn == "" {
		return nil, fmt.Errorf("DN cannot be empty")
	}
	if filter == "" {
		filter = "(objectClass=*)"
	}

	return c.Search(ctx, &SearchRequest{
		BaseDN:     dn,
		Scope:      ScopeBaseObject,
		Filter:     filter,
		Attributes: attributes,
	})
}

// List issues a single-level search returning the immediate children
// of the given DN.
func (c *client) List(ctx context.Context, dn, filter string, attributes []string) (*SearchResult, error) {
	if dn == "" {
		return nil, fmt.Errorf("DN cannot be empty")
	}
	if filter == "" {
		filter = "(objectClass=*)"
	}

	return c.Search(ctx, &SearchRequest{
		BaseDN:     dn,
		Scope:      ScopeSingleLevel,
		Filter:     filter,
		Attributes: attributes,
	})
}

// Search performs an LDAP search.
func (c *client) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if req == nil {
		return nil, fmt.Errorf("search request cannot be nil")
	}

	searchFields := map[string]any{
		"base_dn":    req.BaseDN,
		"scope":      req.Scope.String(),
		"filter":     req.Filter,
		"size_limit": req.SizeLimit,
	}

	return c.performSearch("search", searchFields, func() (*SearchResult, error) {
		conn, err := c.pool.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get connection: %w", err)
		}
		defer conn.Close()

		ldapReq := ldap.NewSearchRequest(
			req.BaseDN,
			int(req.Scope),
			int(req.DerefAliases),
			req.SizeLimit,
			int(req.TimeLimit.Seconds()),
			false, // TypesOnly
			req.Filter,
			req.Attributes,
			nil, // Controls
		)

		var result *ldap.SearchResult
		err = c.withRetry(ctx, func() error {
			var searchErr error
			result, searchErr = conn.Conn().Search(ldapReq)
			return searchErr
		})

		if err != nil {
			LogLDAPError(c.log, "search", err, searchFields)
			return nil, WrapError("search", err)
		}

		// If the server returned exactly the size limit there may be
		// more entries behind it.
		hasMore := req.SizeLimit > 0 && len(result.Entries) >= req.SizeLimit

		return &SearchResult{
			Entries: result.Entries,
			Total:   len(result.Entries),
			HasMore: hasMore,
		}, nil
	})
}

// SearchPage issues one page of a paged search (RFC 2696). The
// returned cookie selects the next page; an empty cookie means the
// sequence is exhausted. Each page checks a connection out of the
// pool for just that round trip.
func (c *client) SearchPage(ctx context.Context, req *SearchRequest, page PageRequest) (*SearchResult, []byte, error) {
	if req == nil {
		return nil, nil, fmt.Errorf("search request cannot be nil")
	}
	if page.Size == 0 {
		return nil, nil, fmt.Errorf("page size cannot be zero")
	}

	conn, err := c.pool.Get(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	pageFields := map[string]any{
		"base_dn":   req.BaseDN,
		"filter":    req.Filter,
		"page_size": page.Size,
		"critical":  page.Critical,
	}
	c.log.Trace("requesting search page", pageFields)

	control := newPagingControl(page.Size, page.Critical, page.Cookie)
	ldapReq := ldap.NewSearchRequest(
		req.BaseDN,
		int(req.Scope),
		int(req.DerefAliases),
		0, // The page size governs the result count
		int(req.TimeLimit.Seconds()),
		false,
		req.Filter,
		req.Attributes,
		[]ldap.Control{control},
	)

	var result *ldap.SearchResult
	err = c.withRetry(ctx, func() error {
		var searchErr error
		result, searchErr = conn.Conn().Search(ldapReq)
		return searchErr
	})
	if err != nil {
		LogLDAPError(c.log, "search_page", err, pageFields)
		return nil, nil, WrapError("search_page", err)
	}

	cookie, honored := pagingCookie(result)
	if !honored && page.Critical {
		return nil, nil, WrapError("search_page", fmt.Errorf("server did not honor the paged results control"))
	}

	pageFields["entries_in_page"] = len(result.Entries)
	pageFields["cookie_length"] = len(cookie)
	c.log.Trace("search page completed", pageFields)

	return &SearchResult{
		Entries: result.Entries,
		Total:   len(result.Entries),
		HasMore: len(cookie) > 0,
	}, cookie, nil
}

// SearchWithPaging drains all pages of a paged search. A zero
// pageSize falls back to the Active Directory default of 1000.
func (c *client) SearchWithPaging(ctx context.Context, req *SearchRequest, pageSize uint32) (*SearchResult, error) {
	if req == nil {
		return nil, fmt.Errorf("search request cannot be nil")
	}
	if pageSize == 0 {
		pageSize = defaultPageSize
	}

	start := time.Now()
	fields := map[string]any{
		"base_dn":   req.BaseDN,
		"filter":    req.Filter,
		"scope":     req.Scope.String(),
		"page_size": pageSize,
	}
	c.log.Debug("starting paged search", fields)

	var allEntries []*ldap.Entry
	page := PageRequest{Size: pageSize}
	pages := 0

	for {
		select {
		case <-ctx.Done():
			c.log.Warn("paged search cancelled", map[string]any{
				"pages_completed": pages,
				"entries_found":   len(allEntries),
				"context_error":   ctx.Err().Error(),
			})
			return &SearchResult{
				Entries: allEntries,
				Total:   len(allEntries),
				HasMore: true,
			}, ctx.Err()
		default:
		}

		if pages >= maxPagesPerSearch || time.Since(start) > maxSearchDuration {
			c.log.Error("paged search exceeded safety limits, terminating", map[string]any{
				"pages_completed": pages,
				"entries_found":   len(allEntries),
			})
			return &SearchResult{
				Entries: allEntries,
				Total:   len(allEntries),
				HasMore: true,
			}, nil
		}

		result, cookie, err := c.SearchPage(ctx, req, page)
		if err != nil {
			return nil, fmt.Errorf("paged search failed on page %d: %w", pages+1, err)
		}

		pages++
		allEntries = append(allEntries, result.Entries...)

		if len(cookie) == 0 {
			break
		}
		page.Cookie = cookie
	}

	c.log.Debug("paged search completed", map[string]any{
		"base_dn":       req.BaseDN,
		"filter":        req.Filter,
		"total_entries": len(allEntries),
		"pages":         pages,
		"duration_ms":   time.Since(start).Milliseconds(),
	})

	return &SearchResult{
		Entries: allEntries,
		Total:   len(allEntries),
		HasMore: false,
	}, nil
}

// Add creates a new LDAP entry.
func (c *client) Add(ctx context.Context, req *AddRequest) error {
	if req == nil {
		return fmt.Errorf("add request cannot be nil")
	}

	conn, err := c.pool.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	ldapReq := ldap.NewAddRequest(req.DN, nil)
	for attr, values := range req.Attributes {
		ldapReq.Attribute(attr, values)
	}

	err = c.withRetry(ctx, func() error {
		return conn.Conn().Add(ldapReq)
	})
	if err != nil {
		LogLDAPError(c.log, "add", err, map[string]any{"dn": req.DN})
		return WrapError("add", err)
	}
	return nil
}

// Modify modifies an existing LDAP entry.
func (c *client) Modify(ctx context.Context, req *ModifyRequest) error {
	if req == nil {
		return fmt.Errorf("modify request cannot be nil")
	}

	conn, err := c.pool.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	ldapReq := ldap.NewModifyRequest(req.DN, nil)

	for attr, values := range req.AddAttributes {
		ldapReq.Add(attr, values)
	}

	for attr, values := range req.ReplaceAttributes {
		ldapReq.Replace(attr, values)
	}

	// Nil values remove the attribute entirely; explicit values remove
	// just those values.
	for attr, values := range req.DeleteAttributes {
		ldapReq.Delete(attr, values)
	}

	err = c.withRetry(ctx, func() error {
		return conn.Conn().Modify(ldapReq)
	})
	if err != nil {
		LogLDAPError(c.log, "modify", err, map[string]any{"dn": req.DN})
		return WrapError("modify", err)
	}
	return nil
}

// ModifyDN moves or renames an LDAP entry.
func (c *client) ModifyDN(ctx context.Context, req *ModifyDNRequest) error {
	if req == nil {
		return fmt.Errorf("modify DN request cannot be nil")
	}
	if req.DN == "" {
		return fmt.Errorf("DN cannot be empty")
	}
	if req.NewRDN == "" {
		return fmt.Errorf("new RDN cannot be empty")
	}

	conn, err := c.pool.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	ldapReq := ldap.NewModifyDNRequest(req.DN, req.NewRDN, req.DeleteOldRDN, req.NewSuperior)

	err = c.withRetry(ctx, func() error {
		return conn.Conn().ModifyDN(ldapReq)
	})
	if err != nil {
		LogLDAPError(c.log, "modify_dn", err, map[string]any{
			"dn":      req.DN,
			"new_rdn": req.NewRDN,
		})
		return WrapError("modify_dn", err)
	}
	return nil
}

// Delete removes an LDAP entry.
func (c *client) Delete(ctx context.Context, dn string) error {
	if dn == "" {
		return fmt.Errorf("DN cannot be empty")
	}

	conn, err := c.pool.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	ldapReq := ldap.NewDelRequest(dn, nil)

	err = c.withRetry(ctx, func() error {
		return conn.Conn().Del(ldapReq)
	})
	if err != nil {
		LogLDAPError(c.log, "delete", err, map[string]any{"dn": dn})
		return WrapError("delete", err)
	}
	return nil
}

// GetBaseDN returns the configured base DN, probing the root DSE's
// defaultNamingContext when none is configured.
func (c *client) GetBaseDN(ctx context.Context) (string, error) {
	if c.config.BaseDN != "" {
		return c.config.BaseDN, nil
	}

	result, err := c.Search(ctx, &SearchRequest{
		BaseDN:     "",
		Scope:      ScopeBaseObject,
		Filter:     "(objectClass=*)",
		Attributes: []string{"defaultNamingContext"},
		SizeLimit:  1,
		TimeLimit:  5 * time.Second,
	})
	if err != nil {
		return "", fmt.Errorf("failed to read root DSE: %w", err)
	}

	if len(result.Entries) == 0 {
		return "", ErrNoBaseDN
	}

	baseDN := result.Entries[0].GetAttributeValue("defaultNamingContext")
	if baseDN == "" {
		return "", ErrNoBaseDN
	}

	return baseDN, nil
}

// RootDSE reads the server's root DSE and returns the well-known
// directory metadata attributes. Multi-valued attributes are joined
// with ", ".
func (c *client) RootDSE(ctx context.Context) (map[string]string, error) {
	result, err := c.Search(ctx, &SearchRequest{
		BaseDN:     "",
		Scope:      ScopeBaseObject,
		Filter:     "(objectClass=*)",
		Attributes: rootDSEAttributes,
		SizeLimit:  1,
		TimeLimit:  10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read root DSE: %w", err)
	}

	if len(result.Entries) == 0 {
		return nil, fmt.Errorf("no root DSE found")
	}

	info := make(map[string]string)
	entry := result.Entries[0]

	for _, attr := range rootDSEAttributes {
		values := entry.GetAttributeValues(attr)
		if len(values) > 0 {
			info[attr] = strings.Join(values, ", ")
		}
	}

	return info, nil
}

// WhoAmI performs the LDAP Who Am I? extended operation (RFC 4532).
func (c *client) WhoAmI(ctx context.Context) (*WhoAmIResult, error) {
	conn, err := c.pool.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	var result *ldap.WhoAmIResult
	err = c.withRetry(ctx, func() error {
		var whoamiErr error
		result, whoamiErr = conn.Conn().WhoAmI(nil)
		return whoamiErr
	})

	if err != nil {
		return nil, WrapError("whoami", err)
	}
	if result == nil {
		return nil, fmt.Errorf("whoami operation returned nil result")
	}

	whoAmIResult := &WhoAmIResult{
		AuthzID: result.AuthzID,
	}
	parseAuthzID(whoAmIResult)

	return whoAmIResult, nil
}

// parseAuthzID classifies the authorization ID returned by Who Am I?
// and fills the matching result field. Active Directory responds with
// a "u:" prefix followed by DOMAIN\sam; other servers return DNs or
// UPNs.
func parseAuthzID(result *WhoAmIResult) {
	authzID := result.AuthzID

	if authzID == "" {
		result.Format = "empty"
		return
	}

	cleanAuthzID := strings.TrimPrefix(authzID, "u:")
	cleanAuthzID = strings.TrimPrefix(cleanAuthzID, "dn:")

	switch {
	case isDNFormat(cleanAuthzID):
		result.Format = "dn"
		result.DN = cleanAuthzID

	case strings.Contains(cleanAuthzID, "@") && !strings.Contains(cleanAuthzID, "\\"):
		result.Format = "upn"
		result.UserPrincipalName = cleanAuthzID

	case strings.Contains(cleanAuthzID, "\\") && !strings.HasPrefix(cleanAuthzID, "S-"):
		result.Format = "sam"
		result.SAMAccountName = cleanAuthzID

	case isSIDFormat(cleanAuthzID):
		result.Format = "sid"
		result.SID = cleanAuthzID

	default:
		result.Format = "unknown"
	}
}

var (
	authzDNPattern  = regexp.MustCompile(`^[A-Za-z]+=.*`)
	authzSIDPattern = regexp.MustCompile(`^S-\d+-\d+-\d+(-\d+)*$`)
)

// isDNFormat checks if the string looks like a Distinguished Name.
func isDNFormat(s string) bool {
	upper := strings.ToUpper(s)
	return authzDNPattern.MatchString(s) &&
		(strings.Contains(upper, "CN=") || strings.Contains(upper, "OU=") || strings.Contains(upper, "DC="))
}

// isSIDFormat checks if the string looks like a Security Identifier.
func isSIDFormat(s string) bool {
	return authzSIDPattern.MatchString(s)
}

// Ping tests connectivity to the LDAP server.
func (c *client) Ping(ctx context.Context) error {
	conn, err := c.pool.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	return c.ping(conn)
}

// ping reads the root DSE as a cheap connectivity probe.
func (c *client) ping(conn *PooledConnection) error {
	searchReq := ldap.NewSearchRequest(
		"", // Root DSE
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		1, 5, false,
		"(objectClass=*)",
		[]string{"defaultNamingContext"},
		nil,
	)

	_, err := conn.Conn().Search(searchReq)
	return err
}

// Stats returns pool statistics.
func (c *client) Stats() PoolStats {
	return c.pool.Stats()
}

// withRetry executes an operation with exponential backoff on
// transient failures.
func (c *client) withRetry(ctx context.Context, operation func() error) error {
	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.log.Debug("retrying operation", map[string]any{
				"attempt":    attempt,
				"max_retry":  c.config.MaxRetries,
				"backoff_ms": backoff.Milliseconds(),
				"last_error": lastErr.Error(),
			})
		}

		err := operation()
		if err == nil {
			if attempt > 0 {
				c.log.Info("operation succeeded after retries", map[string]any{
					"total_attempts": attempt + 1,
				})
			}
			return nil
		}

		lastErr = err

		if !c.isRetryableError(err) {
			return err
		}

		if attempt == c.config.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			c.log.Warn("operation cancelled during retry", map[string]any{
				"context_error": ctx.Err().Error(),
				"attempt":       attempt + 1,
			})
			return ctx.Err()
		case <-time.After(backoff):
			backoff = min(time.Duration(float64(backoff)*c.config.BackoffFactor), c.config.MaxBackoff)
		}
	}

	c.log.Error("operation failed after all retries exhausted", map[string]any{
		"total_attempts": c.config.MaxRetries + 1,
		"final_error":    lastErr.Error(),
	})

	return NewConnectionError("operation failed after retries", false, lastErr)
}

// isRetryableError determines if an error should be retried. Raw
// go-ldap errors carry a result code rather than implementing
// RetryableError, so the transient codes are checked here before the
// package-level classifier.
func (c *client) isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	if ldap.IsErrorWithCode(err, ldap.LDAPResultBusy) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultUnavailable) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultServerDown) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultOperationsError) {
		return true
	}

	// A pooled connection can come back with its bind torn down after
	// a server-side idle disconnect; the retry path re-binds on
	// checkout.
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "successful bind must be completed") ||
		strings.Contains(errStr, "bind must be completed") {
		return true
	}

	return isGenericErrorRetryable(err)
}

/*
Package ldap provides the connection layer for Active Directory: a
pooled LDAP client with server discovery, authentication, retries, and
the protocol plumbing the higher-level query API builds on.

# Architecture Overview

The package is organized into a few core components:

  - Client: high-level LDAP operations over a connection pool
  - ConnectionPool: pooling, health checks, and failover
  - SRVDiscovery: DNS SRV based domain controller discovery
  - DN helpers: RFC 4514 parsing, normalization, and escaping

# Connection Management

The Client interface provides connection pooling with automatic
failover:

  - SRV-based domain controller discovery, or explicit LDAP URLs
  - Connection pooling with periodic health checks
  - Automatic retry with exponential backoff
  - Simple bind, Kerberos (GSSAPI), and TLS client-certificate
    authentication

# Search Operations

Read, List, and Search cover the three LDAP scopes. SearchPage issues
a single page of an RFC 2696 paged search and hands the continuation
cookie back to the caller; SearchWithPaging drains all pages. The
paging control supports the criticality flag, which go-ldap's built-in
control does not expose.

# Error Handling

Errors are wrapped in LDAPError with a category (connection,
authentication, not_found, conflict, validation, server) and a
retryable classification. Helpers like IsNotFoundError and
IsAuthenticationError let callers branch on category without matching
message text.

# Thread Safety

The Client and ConnectionPool are safe for concurrent use. Each
operation checks a connection out of the pool for the duration of one
round trip.

# Example Usage

	config := &ldap.ConnectionConfig{
		Domain:   "example.com",
		Username: "svc-query@example.com",
		Password: "password",
	}
	client, err := ldap.NewClient(config)
	if err != nil {
		return err
	}
	defer client.Close()

	result, err := client.Search(ctx, &ldap.SearchRequest{
		BaseDN: "DC=example,DC=com",
		Scope:  ldap.ScopeWholeSubtree,
		Filter: "(objectCategory=group)",
	})
*/
package ldap

package ldap

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/go-multierror"
)

// MaxConnectionPoolLimit is the maximum allowed connections in a pool.
// It stays well below typical Active Directory per-client connection
// limits while still allowing plenty of concurrency.
const MaxConnectionPoolLimit = 100

// maxAuthAge is how long a connection's bind is trusted before the
// pool re-authenticates it on checkout.
const maxAuthAge = 5 * time.Minute

// connectionPool implements ConnectionPool.
type connectionPool struct {
	config      *ConnectionConfig
	log         Logger
	servers     []*ServerInfo
	connections chan *PooledConnection
	mu          sync.RWMutex
	closed      bool
	discovery   *SRVDiscovery

	// Statistics
	activeConns  int64
	totalCreated int64
	totalErrors  int64
	startTime    time.Time

	// Health checking
	healthTicker *time.Ticker
	healthStop   chan struct{}
	healthWg     sync.WaitGroup
}

// NewConnectionPool creates a connection pool and discovers the server
// candidates it will dial. Discovery failure is fatal here: a pool
// with no servers cannot recover later.
func NewConnectionPool(config *ConnectionConfig, log Logger) (ConnectionPool, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = NopLogger()
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	certPool, err := buildCertPool(config.TLSCACertFile, config.TLSCACert)
	if err != nil {
		return nil, fmt.Errorf("failed to build CA certificate pool: %w", err)
	}
	if config.TLSConfig != nil {
		config.TLSConfig.RootCAs = certPool
	}

	// EXTERNAL binds need the client certificate presented during the
	// TLS handshake.
	if config.TLSClientCertFile != "" && config.TLSClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(config.TLSClientCertFile, config.TLSClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		if config.TLSConfig != nil {
			config.TLSConfig.Certificates = []tls.Certificate{cert}
		}
	}

	pool := &connectionPool{
		config:      config,
		log:         log.Named("pool"),
		connections: make(chan *PooledConnection, config.MaxConnections),
		discovery:   NewSRVDiscovery(log),
		startTime:   time.Now(),
		healthStop:  make(chan struct{}),
	}

	if err := pool.discoverServers(); err != nil {
		return nil, fmt.Errorf("server discovery failed: %w", err)
	}

	if config.HealthCheck > 0 {
		pool.startHealthChecker()
	}

	pool.log.Debug("connection pool created", map[string]any{
		"servers":         len(pool.servers),
		"max_connections": config.MaxConnections,
	})
	return pool, nil
}

// discoverServers resolves the candidate server list; configured URLs
// win over SRV discovery.
func (p *connectionPool) discoverServers() error {
	var servers []*ServerInfo

	switch {
	case len(p.config.LDAPURLs) > 0:
		for _, url := range p.config.LDAPURLs {
			server, err := ParseLDAPURL(url)
			if err != nil {
				return fmt.Errorf("invalid LDAP URL %s: %w", url, err)
			}
			servers = append(servers, server)
		}
		p.log.Debug("using configured LDAP URLs", map[string]any{
			"server_count": len(servers),
		})

	case p.config.Domain != "":
		ctx, cancel := context.WithTimeout(context.Background(), p.config.Timeout)
		defer cancel()

		discovered, err := p.discovery.DiscoverServers(ctx, p.config.Domain)
		if err != nil {
			return fmt.Errorf("SRV discovery failed: %w", err)
		}
		servers = discovered
		p.log.Debug("SRV discovery found servers", map[string]any{
			"domain":       p.config.Domain,
			"server_count": len(servers),
		})

	default:
		return errors.New("either domain or LDAP URLs must be specified")
	}

	if len(servers) == 0 {
		return errors.New("no servers discovered")
	}

	p.mu.Lock()
	p.servers = servers
	p.mu.Unlock()
	return nil
}

// Servers returns the discovered server candidates in priority order.
func (p *connectionPool) Servers() []*ServerInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*ServerInfo(nil), p.servers...)
}

// Get retrieves a connection from the pool, re-authenticating or
// replacing it as needed. When the pool has no idle connection a new
// one is dialed.
func (p *connectionPool) Get(ctx context.Context) (*PooledConnection, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, errors.New("connection pool is closed")
	}
	p.mu.RUnlock()

	select {
	case conn := <-p.connections:
		if p.isConnectionHealthy(conn) {
			if p.config.HasAuthentication() && p.needsReAuthentication(conn) {
				if err := p.authenticateConnection(conn); err != nil {
					p.log.Warn("re-authentication failed, replacing connection", map[string]any{
						"error": err.Error(),
					})
					p.closeConnection(conn)
					break
				}
			}
			conn.lastUsed = time.Now()
			atomic.AddInt64(&p.activeConns, 1)
			return conn, nil
		}
		p.closeConnection(conn)
	default:
		// Pool empty; dial below.
	}

	return p.createConnection(ctx)
}

// createConnection dials a new connection, walking the server list on
// each attempt with exponential backoff between rounds. Per-server
// dial errors accumulate so the terminal error names every failure.
func (p *connectionPool) createConnection(ctx context.Context) (*PooledConnection, error) {
	var dialErrs *multierror.Error
	backoff := p.config.InitialBackoff

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		for _, server := range p.servers {
			conn, err := p.createSingleConnection(ctx, server)
			if err != nil {
				dialErrs = multierror.Append(dialErrs, err)
				atomic.AddInt64(&p.totalErrors, 1)
				continue
			}

			atomic.AddInt64(&p.totalCreated, 1)
			atomic.AddInt64(&p.activeConns, 1)
			return conn, nil
		}

		if attempt < p.config.MaxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff = min(time.Duration(float64(backoff)*p.config.BackoffFactor), p.config.MaxBackoff)
			}
		}
	}

	return nil, NewConnectionError("failed to create connection after retries", true, dialErrs.ErrorOrNil())
}

// createSingleConnection dials one server and authenticates the
// resulting connection when credentials are configured.
func (p *connectionPool) createSingleConnection(_ context.Context, server *ServerInfo) (*PooledConnection, error) {
	conn, err := dialServer(p.config, server)
	if err != nil {
		return nil, err
	}

	pooledConn := &PooledConnection{
		conn:         conn,
		lastUsed:     time.Now(),
		healthy:      true,
		serverInfo:   server,
		returnToPool: p.returnConnection,
	}

	if p.config.HasAuthentication() {
		if err := p.authenticateConnection(pooledConn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to authenticate connection to %s: %w", ServerInfoToURL(server), err)
		}
	}

	return pooledConn, nil
}

// dialServer opens a single LDAP connection to the given server,
// upgrading plaintext connections with StartTLS unless TLS is
// disabled. Shared by the pool and by the client's dedicated
// authentication connections.
func dialServer(config *ConnectionConfig, server *ServerInfo) (*ldap.Conn, error) {
	url := ServerInfoToURL(server)
	tlsConfig := tlsConfigForServer(config, server)

	var conn *ldap.Conn
	var err error

	if server.UseTLS {
		conn, err = ldap.DialURL(url, ldap.DialWithTLSConfig(tlsConfig))
	} else {
		conn, err = ldap.DialURL(url)
		if err == nil && config.UseTLS && !config.SkipTLS {
			err = conn.StartTLS(tlsConfig)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	conn.SetTimeout(config.Timeout)
	return conn, nil
}

// tlsConfigForServer clones the configured TLS settings and pins the
// expected certificate name to the host being dialed. StartTLS does
// not infer ServerName from the connection, so it must be set here.
func tlsConfigForServer(config *ConnectionConfig, server *ServerInfo) *tls.Config {
	if config.TLSConfig == nil {
		return nil
	}

	tlsConfig := config.TLSConfig.Clone()
	if !tlsConfig.InsecureSkipVerify {
		tlsConfig.ServerName = server.Host
	}
	return tlsConfig
}

// buildCertPool assembles the CA pool used to verify server
// certificates. A configured CA file or inline PEM content is added on
// top of the system roots; with neither, the system roots alone are
// used.
func buildCertPool(caFile, caContent string) (*x509.CertPool, error) {
	certPool, err := x509.SystemCertPool()
	if err != nil {
		certPool = x509.NewCertPool()
	}

	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate file %s: %w", caFile, err)
		}
		if !certPool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("failed to parse CA certificate file %s: invalid PEM format", caFile)
		}
	}

	if caContent != "" {
		if !certPool.AppendCertsFromPEM([]byte(caContent)) {
			return nil, errors.New("failed to parse CA certificate content: invalid PEM format")
		}
	}

	return certPool, nil
}

// authenticateConnection binds a pooled connection using the
// configured method.
func (p *connectionPool) authenticateConnection(pooledConn *PooledConnection) error {
	if pooledConn == nil || pooledConn.conn == nil {
		return fmt.Errorf("connection is nil")
	}

	var err error
	switch method := p.config.GetAuthMethod(); method {
	case AuthMethodSimpleBind:
		if p.config.Username == "" {
			return fmt.Errorf("username is required for simple bind authentication")
		}
		err = pooledConn.conn.Bind(p.config.Username, p.config.Password)
	case AuthMethodKerberos:
		err = performKerberosAuth(pooledConn.conn, p.config, pooledConn.serverInfo, p.log)
	case AuthMethodExternal:
		err = pooledConn.conn.Bind("", "")
	default:
		return fmt.Errorf("unsupported authentication method: %s", method)
	}

	if err != nil {
		pooledConn.authenticated = false
		pooledConn.authTime = time.Time{}
		return err
	}

	pooledConn.authenticated = true
	pooledConn.authTime = time.Now()
	return nil
}

// needsReAuthentication reports whether a connection's bind has aged out.
func (p *connectionPool) needsReAuthentication(conn *PooledConnection) bool {
	if conn == nil || !conn.authenticated {
		return true
	}
	return time.Since(conn.authTime) > maxAuthAge
}

// returnConnection puts a connection back into the pool, or closes it
// when the pool is full, closed, or the connection has aged out.
func (p *connectionPool) returnConnection(conn *PooledConnection) {
	if conn == nil {
		return
	}

	atomic.AddInt64(&p.activeConns, -1)

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.closeConnection(conn)
		return
	}

	if p.isConnectionHealthy(conn) && time.Since(conn.lastUsed) < p.config.MaxIdleTime {
		select {
		case p.connections <- conn:
		default:
			p.closeConnection(conn)
		}
	} else {
		p.closeConnection(conn)
	}
}

// isConnectionHealthy checks liveness without touching the wire.
func (p *connectionPool) isConnectionHealthy(conn *PooledConnection) bool {
	if conn == nil || conn.conn == nil || !conn.healthy {
		return false
	}
	if time.Since(conn.lastUsed) > p.config.MaxIdleTime {
		return false
	}
	if p.config.HasAuthentication() && !conn.authenticated {
		return false
	}
	return true
}

// closeConnection closes a pooled connection.
func (p *connectionPool) closeConnection(conn *PooledConnection) {
	if conn != nil && conn.conn != nil {
		conn.conn.Close()
		conn.healthy = false
		conn.authenticated = false
		conn.authTime = time.Time{}
	}
}

// Close closes all connections and shuts down the pool.
func (p *connectionPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.healthTicker != nil {
		close(p.healthStop)
		p.healthWg.Wait()
		p.healthTicker.Stop()
	}

	close(p.connections)
	for conn := range p.connections {
		p.closeConnection(conn)
	}

	return nil
}

// Stats returns pool statistics.
func (p *connectionPool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return PoolStats{
		Total:   len(p.connections),
		Active:  atomic.LoadInt64(&p.activeConns),
		Idle:    len(p.connections),
		Created: atomic.LoadInt64(&p.totalCreated),
		Errors:  atomic.LoadInt64(&p.totalErrors),
		Uptime:  time.Since(p.startTime),
	}
}

// HealthCheck reports whether the pool is operational.
func (p *connectionPool) HealthCheck(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return errors.New("pool is closed")
	}
	return nil
}

// startHealthChecker starts the periodic health checker.
func (p *connectionPool) startHealthChecker() {
	p.healthTicker = time.NewTicker(p.config.HealthCheck)

	p.healthWg.Go(func() {
		for {
			select {
			case <-p.healthTicker.C:
				p.performHealthCheck()
			case <-p.healthStop:
				return
			}
		}
	})
}

// performHealthCheck samples a few idle connections, tests them
// against the root DSE, and returns the survivors to the pool.
func (p *connectionPool) performHealthCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.Timeout)
	defer cancel()

	var toCheck []*PooledConnection

sample:
	for range 3 {
		select {
		case conn := <-p.connections:
			toCheck = append(toCheck, conn)
		default:
			break sample
		}
	}

	for _, conn := range toCheck {
		if p.testConnection(ctx, conn) {
			// Balance the Active decrement in returnConnection; these
			// connections were never checked out by a caller.
			atomic.AddInt64(&p.activeConns, 1)
			p.returnConnection(conn)
		} else {
			p.closeConnection(conn)
		}
	}
}

// testConnection verifies a connection end to end with a root DSE read.
func (p *connectionPool) testConnection(_ context.Context, conn *PooledConnection) bool {
	if conn == nil || conn.conn == nil {
		return false
	}

	if p.config.HasAuthentication() && p.needsReAuthentication(conn) {
		if err := p.authenticateConnection(conn); err != nil {
			return false
		}
	}

	searchReq := ldap.NewSearchRequest(
		"",
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		1, 0, false,
		"(objectClass=*)",
		[]string{"defaultNamingContext"},
		nil,
	)

	if _, err := conn.conn.Search(searchReq); err != nil {
		conn.authenticated = false
		conn.authTime = time.Time{}
		return false
	}
	return true
}

// validateConfig validates the connection configuration.
func validateConfig(config *ConnectionConfig) error {
	if config.MaxConnections <= 0 {
		return errors.New("MaxConnections must be positive")
	}
	if config.MaxConnections > MaxConnectionPoolLimit {
		return fmt.Errorf("MaxConnections too high (max %d)", MaxConnectionPoolLimit)
	}
	if config.MaxIdleTime <= 0 {
		return errors.New("MaxIdleTime must be positive")
	}
	if config.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if config.MaxRetries < 0 {
		return errors.New("MaxRetries cannot be negative")
	}
	if config.BackoffFactor <= 1.0 {
		return errors.New("BackoffFactor must be greater than 1.0")
	}
	return nil
}

// Close returns the connection to its pool.
func (pc *PooledConnection) Close() {
	if pc.returnToPool != nil {
		pc.returnToPool(pc)
	}
}

// Conn exposes the underlying LDAP connection.
func (pc *PooledConnection) Conn() *ldap.Conn {
	return pc.conn
}

// ServerInfo returns the server this connection is bound to.
func (pc *PooledConnection) ServerInfo() *ServerInfo {
	return pc.serverInfo
}

// IsHealthy reports the connection's last known health state.
func (pc *PooledConnection) IsHealthy() bool {
	return pc.healthy
}

// LastUsed returns when the connection was last checked out.
func (pc *PooledConnection) LastUsed() time.Time {
	return pc.lastUsed
}

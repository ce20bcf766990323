package ldap

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
)

// performKerberosAuth performs a GSSAPI bind on an established LDAP
// connection. Shared by the client and pool implementations.
func performKerberosAuth(conn *ldap.Conn, cfg *ConnectionConfig, serverInfo *ServerInfo, log Logger) error {
	if err := prepareKerberosConfig(cfg); err != nil {
		return fmt.Errorf("kerberos configuration error: %w", err)
	}

	gssapiClient, err := createGSSAPIClient(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create GSSAPI client: %w", err)
	}
	defer func() {
		_ = gssapiClient.DeleteSecContext()
	}()

	spn, err := buildServicePrincipal(cfg, serverInfo)
	if err != nil {
		return fmt.Errorf("failed to build service principal: %w", err)
	}

	log.Debug("performing GSSAPI bind", map[string]any{
		"spn":   spn,
		"realm": cfg.KerberosRealm,
	})

	if err := conn.GSSAPIBind(gssapiClient, spn, ""); err != nil {
		return fmt.Errorf("GSSAPI bind failed: %w", err)
	}

	return nil
}

// createGSSAPIClient resolves Kerberos credentials for the GSSAPI bind.
// Priority order: credential cache, then keytab, then password.
// PA-FX-FAST is disabled throughout; Active Directory KDCs reject it in
// common deployments.
func createGSSAPIClient(cfg *ConnectionConfig, log Logger) (ldap.GSSAPIClient, error) {
	krb5confPath := cfg.KerberosConfig
	if krb5confPath == "" {
		krb5confPath = defaultKrb5ConfPath
	}

	if !fileExists(krb5confPath) {
		// A nonexistent explicitly-configured path is a user error. A
		// missing system default just means the host was never set up
		// for Kerberos, so fall back to DNS-based KDC discovery.
		if krb5confPath != defaultKrb5ConfPath {
			return nil, fmt.Errorf("kerberos configuration file not found at %s; "+
				"create it or point kerberos_config at a valid krb5.conf, for example:\n%s",
				krb5confPath, exampleKrb5Conf(cfg))
		}

		generated, err := writeRuntimeKrb5Conf(cfg)
		if err != nil {
			return nil, err
		}
		log.Debug("no krb5.conf present, generated one with DNS-based KDC discovery", map[string]any{
			"path":  generated,
			"realm": cfg.KerberosRealm,
		})
		krb5confPath = generated
	}

	if cfg.KerberosCCache != "" && fileExists(cfg.KerberosCCache) {
		return gssapi.NewClientFromCCache(cfg.KerberosCCache, krb5confPath, krb5client.DisablePAFXFAST(true))
	}

	if defaultCCache := defaultCCachePath(); fileExists(defaultCCache) {
		log.Debug("using default credential cache", map[string]any{"path": defaultCCache})
		return gssapi.NewClientFromCCache(defaultCCache, krb5confPath, krb5client.DisablePAFXFAST(true))
	}

	if cfg.KerberosKeytab != "" && fileExists(cfg.KerberosKeytab) {
		return gssapi.NewClientWithKeytab(cfg.Username, cfg.KerberosRealm, cfg.KerberosKeytab, krb5confPath, krb5client.DisablePAFXFAST(true))
	}

	if cfg.Username != "" {
		if defaultKeytab := defaultKeytabPath(); fileExists(defaultKeytab) {
			log.Debug("using default keytab", map[string]any{"path": defaultKeytab})
			return gssapi.NewClientWithKeytab(cfg.Username, cfg.KerberosRealm, defaultKeytab, krb5confPath, krb5client.DisablePAFXFAST(true))
		}
	}

	if cfg.Username != "" && cfg.Password != "" {
		return gssapi.NewClientWithPassword(cfg.Username, cfg.KerberosRealm, cfg.Password, krb5confPath, krb5client.DisablePAFXFAST(true))
	}

	return nil, fmt.Errorf("no suitable credentials found for Kerberos authentication")
}

// buildServicePrincipal constructs the LDAP service principal name for
// the target server. cfg.KerberosSPN overrides automatic construction.
func buildServicePrincipal(cfg *ConnectionConfig, serverInfo *ServerInfo) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("configuration is required for service principal")
	}

	if cfg.KerberosSPN != "" {
		return cfg.KerberosSPN, nil
	}

	if serverInfo == nil {
		return "", fmt.Errorf("server info is required for service principal")
	}

	hostname := serverInfo.Host
	if hostname == "" {
		return "", fmt.Errorf("hostname is required for service principal")
	}

	// SPNs never carry a port.
	if colonPos := strings.Index(hostname, ":"); colonPos != -1 {
		hostname = hostname[:colonPos]
	}

	return fmt.Sprintf("ldap/%s", hostname), nil
}

// prepareKerberosConfig validates the Kerberos configuration and fills
// derivable fields: the realm comes from the username's @REALM suffix
// or, failing that, from the upper-cased AD domain.
func prepareKerberosConfig(cfg *ConnectionConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration cannot be nil")
	}

	if cfg.KerberosConfig == "" {
		cfg.KerberosConfig = defaultKrb5ConfPath
	}

	if cfg.KerberosRealm == "" && strings.Contains(cfg.Username, "@") {
		parts := strings.Split(cfg.Username, "@")
		if len(parts) == 2 {
			cfg.KerberosRealm = strings.ToUpper(parts[1])
			cfg.Username = parts[0]
		}
	}

	if cfg.KerberosRealm == "" && cfg.Domain != "" {
		cfg.KerberosRealm = realmFromDomain(cfg.Domain)
	}

	if cfg.KerberosRealm == "" {
		return fmt.Errorf("kerberos realm is required (set kerberos_realm, include the realm in the username, or set domain)")
	}

	if cfg.Username == "" {
		return fmt.Errorf("username (principal) is required for Kerberos authentication")
	}

	hasExplicitCCache := cfg.KerberosCCache != "" && fileExists(cfg.KerberosCCache)
	hasDefaultCCache := fileExists(defaultCCachePath())
	hasExplicitKeytab := cfg.KerberosKeytab != "" && fileExists(cfg.KerberosKeytab)
	hasDefaultKeytab := fileExists(defaultKeytabPath())
	hasPassword := cfg.Password != ""

	if !hasExplicitCCache && !hasDefaultCCache && !hasExplicitKeytab && !hasDefaultKeytab && !hasPassword {
		return fmt.Errorf("no suitable Kerberos credentials found: provide kerberos_ccache, kerberos_keytab, password, or ensure a default credential cache or keytab exists")
	}

	return nil
}

// realmFromDomain derives a Kerberos realm from an AD DNS domain.
// AD realms are conventionally the upper-cased domain name.
func realmFromDomain(domain string) string {
	if domain == "" {
		return ""
	}
	return strings.ToUpper(domain)
}

// defaultCCachePath returns the default credential cache location,
// honoring KRB5CCNAME.
func defaultCCachePath() string {
	if ccache := os.Getenv("KRB5CCNAME"); ccache != "" {
		return strings.TrimPrefix(ccache, "FILE:")
	}
	return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
}

// defaultKeytabPath returns the default keytab location, honoring
// KRB5_KTNAME.
func defaultKeytabPath() string {
	if keytab := os.Getenv("KRB5_KTNAME"); keytab != "" {
		return strings.TrimPrefix(keytab, "FILE:")
	}
	return "/etc/krb5.keytab"
}

// fileExists checks that a file exists and is readable.
func fileExists(path string) bool {
	if path == "" {
		return false
	}
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	file.Close()
	return true
}

// exampleKrb5Conf renders a minimal krb5.conf for error messages.
func exampleKrb5Conf(cfg *ConnectionConfig) string {
	realm := "YOUR.REALM.COM"
	if cfg != nil && cfg.KerberosRealm != "" {
		realm = strings.ToUpper(cfg.KerberosRealm)
	} else if cfg != nil && cfg.Domain != "" {
		realm = realmFromDomain(cfg.Domain)
	}
	domain := strings.ToLower(realm)

	return fmt.Sprintf(`[libdefaults]
    default_realm = %s
    dns_lookup_kdc = true
    dns_lookup_realm = false
    rdns = false

[realms]
    %s = {
        kdc = dc.%s:88
    }

[domain_realm]
    .%s = %s
    %s = %s`,
		realm,
		realm, domain,
		domain, realm,
		domain, realm)
}

package ldap

import (
	"fmt"
	"os"
	"strings"
)

const defaultKrb5ConfPath = "/etc/krb5.conf"

// runtimeKrb5Conf renders a krb5.conf that delegates KDC discovery to
// DNS SRV records (_kerberos._tcp.<realm>), for hosts that have no
// system Kerberos configuration. dns_lookup_realm stays off: the
// domain_realm section below already maps the AD domain.
func runtimeKrb5Conf(cfg *ConnectionConfig) (string, error) {
	if cfg == nil || cfg.KerberosRealm == "" {
		return "", fmt.Errorf("kerberos realm is required for KDC auto-discovery")
	}

	realm := strings.ToUpper(cfg.KerberosRealm)
	domain := strings.ToLower(cfg.KerberosRealm)
	if cfg.Domain != "" {
		domain = strings.ToLower(cfg.Domain)
	}

	return fmt.Sprintf(`[libdefaults]
    default_realm = %s
    dns_lookup_kdc = true
    dns_lookup_realm = false
    rdns = false
    forwardable = true
    ticket_lifetime = 24h
    renew_lifetime = 7d

[realms]
    %s = {
        # KDCs resolved via DNS SRV records
    }

[domain_realm]
    .%s = %s
    %s = %s
`,
		realm,
		realm,
		domain, realm,
		domain, realm), nil
}

// writeRuntimeKrb5Conf materializes the generated configuration on
// disk; the gokrb5 credential loaders only accept file paths.
func writeRuntimeKrb5Conf(cfg *ConnectionConfig) (string, error) {
	content, err := runtimeKrb5Conf(cfg)
	if err != nil {
		return "", err
	}

	file, err := os.CreateTemp("", "adquery-krb5-*.conf")
	if err != nil {
		return "", fmt.Errorf("failed to create runtime krb5.conf: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(content); err != nil {
		os.Remove(file.Name())
		return "", fmt.Errorf("failed to write runtime krb5.conf: %w", err)
	}

	return file.Name(), nil
}

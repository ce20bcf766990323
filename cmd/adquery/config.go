package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	ldapclient "github.com/isometry/adquery/internal/ldap"
)

// envPrefix namespaces every environment variable the CLI reads.
const envPrefix = "ADQUERY_"

// Config is the CLI configuration. It is assembled in layers: built-in
// defaults, then an optional YAML file, then ADQUERY_* environment
// variables, then command line flags. Later layers win.
type Config struct {
	Domain  string        `yaml:"domain"`
	Servers []string      `yaml:"servers"`
	BaseDN  string        `yaml:"base_dn"`
	Timeout time.Duration `yaml:"timeout" default:"30s"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`

	Kerberos KerberosConfig `yaml:"kerberos"`
	TLS      TLSConfig      `yaml:"tls"`

	LogLevel string `yaml:"log_level" default:"warn"`
}

// KerberosConfig carries the GSSAPI bind settings.
type KerberosConfig struct {
	Realm  string `yaml:"realm"`
	Keytab string `yaml:"keytab"`
	CCache string `yaml:"ccache"`
	Config string `yaml:"config"`
	SPN    string `yaml:"spn"`
}

// TLSConfig carries the transport security settings. Enabled defaults
// to true; disabling it speaks plaintext LDAP, which is only sensible
// for lab setups.
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled" default:"true"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	CACertFile         string `yaml:"ca_cert_file"`
	CACert             string `yaml:"ca_cert"`
	ClientCertFile     string `yaml:"client_cert_file"`
	ClientKeyFile      string `yaml:"client_key_file"`
}

// loadConfig assembles the configuration from defaults, the named YAML
// file, and the environment. An empty path skips the file layer; a
// named file that cannot be read is an error.
func loadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays ADQUERY_* environment variables onto the
// configuration. Unset and empty variables leave the current value;
// malformed boolean and duration values are ignored.
func (c *Config) applyEnv() {
	envString(&c.Domain, "DOMAIN")
	if v := os.Getenv(envPrefix + "SERVER"); v != "" {
		c.Servers = splitList(v)
	}
	envString(&c.BaseDN, "BASE_DN")
	envDuration(&c.Timeout, "TIMEOUT")

	envString(&c.Username, "USERNAME")
	envString(&c.Password, "PASSWORD")

	envString(&c.Kerberos.Realm, "KRB5_REALM")
	envString(&c.Kerberos.Keytab, "KRB5_KEYTAB")
	envString(&c.Kerberos.CCache, "KRB5_CCACHE")
	envString(&c.Kerberos.Config, "KRB5_CONFIG")
	envString(&c.Kerberos.SPN, "KRB5_SPN")

	envBool(&c.TLS.Enabled, "TLS")
	envBool(&c.TLS.InsecureSkipVerify, "TLS_INSECURE")
	envString(&c.TLS.CACertFile, "TLS_CA_CERT_FILE")
	envString(&c.TLS.ClientCertFile, "TLS_CLIENT_CERT_FILE")
	envString(&c.TLS.ClientKeyFile, "TLS_CLIENT_KEY_FILE")

	envString(&c.LogLevel, "LOG_LEVEL")
}

func envString(target *string, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		*target = v
	}
}

func envBool(target *bool, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*target = parsed
		}
	}
}

func envDuration(target *time.Duration, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			*target = parsed
		}
	}
}

// splitList splits a comma separated value, trimming whitespace and
// dropping empty elements.
func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// connectionConfig maps the CLI configuration onto the LDAP client
// configuration. Pool and retry knobs stay on the client defaults.
func (c *Config) connectionConfig() *ldapclient.ConnectionConfig {
	cc := &ldapclient.ConnectionConfig{
		Domain:   c.Domain,
		LDAPURLs: append([]string(nil), c.Servers...),
		BaseDN:   c.BaseDN,
		Timeout:  c.Timeout,

		Username:       c.Username,
		Password:       c.Password,
		KerberosRealm:  c.Kerberos.Realm,
		KerberosKeytab: c.Kerberos.Keytab,
		KerberosCCache: c.Kerberos.CCache,
		KerberosConfig: c.Kerberos.Config,
		KerberosSPN:    c.Kerberos.SPN,

		UseTLS:            c.TLS.Enabled,
		SkipTLS:           !c.TLS.Enabled,
		TLSCACertFile:     c.TLS.CACertFile,
		TLSCACert:         c.TLS.CACert,
		TLSClientCertFile: c.TLS.ClientCertFile,
		TLSClientKeyFile:  c.TLS.ClientKeyFile,
	}
	if c.TLS.InsecureSkipVerify {
		cc.TLSConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: true,
		}
	}
	return cc
}

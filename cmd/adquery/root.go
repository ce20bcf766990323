package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/isometry/adquery/internal/ad"
	ldapclient "github.com/isometry/adquery/internal/ldap"
)

// runtime carries the resolved configuration and the lazily connected
// directory shared by every subcommand of one invocation.
type runtime struct {
	cfg    *Config
	log    hclog.Logger
	out    io.Writer
	format string

	client ldapclient.Client
	dir    *ad.Directory
}

func newRootCommand() *cobra.Command {
	rt := &runtime{}

	var (
		configPath string
		domain     string
		servers    []string
		baseDN     string
		username   string
		password   string
		timeout    time.Duration
		plaintext  bool
		insecure   bool
		logLevel   string
		format     string
	)

	cmd := &cobra.Command{
		Use:   "adquery",
		Short: "Query and manage Active Directory over LDAP",
		Long: `adquery searches and manages users, groups, and organizational units
in Active Directory. Servers are taken from --server, discovered via
DNS SRV records for --domain, or read from a YAML config file.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = os.Getenv(envPrefix + "CONFIG")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			// Flags beat the file and environment layers.
			flags := cmd.Flags()
			if flags.Changed("domain") {
				cfg.Domain = domain
			}
			if flags.Changed("server") {
				cfg.Servers = servers
			}
			if flags.Changed("base-dn") {
				cfg.BaseDN = baseDN
			}
			if flags.Changed("username") {
				cfg.Username = username
			}
			if flags.Changed("password") {
				cfg.Password = password
			}
			if flags.Changed("timeout") {
				cfg.Timeout = timeout
			}
			if plaintext {
				cfg.TLS.Enabled = false
			}
			if insecure {
				cfg.TLS.InsecureSkipVerify = true
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}

			if format != "text" && format != "json" {
				return fmt.Errorf("unknown output format %q: expected text or json", format)
			}

			rt.cfg = cfg
			rt.format = format
			rt.out = cmd.OutOrStdout()
			rt.log = newLogger(cfg.LogLevel)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return rt.close()
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "path to a YAML config file (env ADQUERY_CONFIG)")
	pf.StringVar(&domain, "domain", "", "AD domain for DNS SRV server discovery (env ADQUERY_DOMAIN)")
	pf.StringSliceVar(&servers, "server", nil, "LDAP URL to connect to, repeatable (env ADQUERY_SERVER)")
	pf.StringVar(&baseDN, "base-dn", "", "search base DN, probed from the root DSE when empty (env ADQUERY_BASE_DN)")
	pf.StringVarP(&username, "username", "u", "", "bind identity: DN, UPN, or DOMAIN\\sam (env ADQUERY_USERNAME)")
	pf.StringVarP(&password, "password", "p", "", "bind password (env ADQUERY_PASSWORD)")
	pf.DurationVar(&timeout, "timeout", 30*time.Second, "dial and operation timeout (env ADQUERY_TIMEOUT)")
	pf.BoolVar(&plaintext, "plaintext", false, "plaintext LDAP without TLS, lab use only")
	pf.BoolVar(&insecure, "tls-insecure", false, "skip TLS certificate verification")
	pf.StringVar(&logLevel, "log-level", "", "log verbosity: trace, debug, info, warn, error, off (env ADQUERY_LOG_LEVEL)")
	pf.StringVarP(&format, "output", "o", "text", "output format: text or json")

	cmd.AddCommand(
		newSearchCommand(rt),
		newUserCommand(rt),
		newGroupCommand(rt),
		newOUCommand(rt),
		newWhoAmICommand(rt),
		newVersionCommand(rt),
	)

	return cmd
}

// newLogger builds the CLI logger. Unrecognized levels fall back to
// warn rather than failing the invocation.
func newLogger(level string) hclog.Logger {
	lvl := hclog.LevelFromString(level)
	if lvl == hclog.NoLevel {
		lvl = hclog.Warn
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   "adquery",
		Level:  lvl,
		Output: os.Stderr,
	})
}

// directory connects the pooled LDAP client on first use and wraps it
// in a Directory. The connection is verified before any command runs
// its operation so connectivity errors surface immediately.
func (rt *runtime) directory(ctx context.Context) (*ad.Directory, error) {
	if rt.dir != nil {
		return rt.dir, nil
	}

	client, err := ldapclient.NewClientWithLogger(rt.cfg.connectionConfig(), ldapclient.NewLogger(rt.log))
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	rt.client = client

	opts := []ad.Option{ad.WithLogger(ldapclient.NewLogger(rt.log))}
	if rt.cfg.BaseDN != "" {
		opts = append(opts, ad.WithBaseDN(rt.cfg.BaseDN))
	}
	rt.dir = ad.New(client, opts...)
	return rt.dir, nil
}

// close releases the pooled client if a command connected one.
func (rt *runtime) close() error {
	if rt.client == nil {
		return nil
	}
	err := rt.client.Close()
	rt.client = nil
	rt.dir = nil
	return err
}

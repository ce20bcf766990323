package ldap

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// offlineConfig returns a configuration pointing at an unreachable
// server, with short timeouts and backoff so connection failures
// surface quickly.
func offlineConfig() *ConnectionConfig {
	cfg := DefaultConfig()
	cfg.LDAPURLs = []string{"ldaps://dc1.example.com:636"}
	cfg.Timeout = 2 * time.Second
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	return cfg
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		config  *ConnectionConfig
		wantErr bool
	}{
		{
			name:    "default config with URLs",
			config:  offlineConfig(),
			wantErr: false,
		},
		{
			name: "valid config with explicit settings",
			config: &ConnectionConfig{
				LDAPURLs:       []string{"ldaps://dc1.example.com:636"},
				MaxConnections: 5,
				MaxIdleTime:    2 * time.Minute,
				Timeout:        15 * time.Second,
				MaxRetries:     2,
				InitialBackoff: 100 * time.Millisecond,
				MaxBackoff:     time.Second,
				BackoffFactor:  1.5,
				UseTLS:         true,
			},
			wantErr: false,
		},
		{
			name:    "nil config has no servers to discover",
			config:  nil,
			wantErr: true,
		},
		{
			name: "no domain or URLs",
			config: func() *ConnectionConfig {
				cfg := DefaultConfig()
				cfg.Domain = ""
				cfg.LDAPURLs = nil
				return cfg
			}(),
			wantErr: true,
		},
		{
			name: "invalid URL scheme",
			config: func() *ConnectionConfig {
				cfg := DefaultConfig()
				cfg.LDAPURLs = []string{"https://dc1.example.com"}
				return cfg
			}(),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.config)

			if tt.wantErr && err == nil {
				t.Errorf("NewClient() expected error but got none")
				return
			}

			if !tt.wantErr && err != nil {
				t.Errorf("NewClient() unexpected error: %v", err)
				return
			}

			if client != nil {
				client.Close()
			}
		})
	}
}

func TestNewClientWithLogger(t *testing.T) {
	cfg := &ConnectionConfig{LDAPURLs: []string{"ldaps://dc1.example.com:636"}}

	client, err := NewClientWithLogger(cfg, NopLogger())
	if err != nil {
		t.Fatalf("NewClientWithLogger() unexpected error: %v", err)
	}
	defer client.Close()

	// Zero-value fields must be filled in from the defaults.
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want default 30s", cfg.Timeout)
	}
	if cfg.MaxConnections != 10 {
		t.Errorf("MaxConnections = %d, want default 10", cfg.MaxConnections)
	}
	if !cfg.UseTLS {
		t.Error("UseTLS should default to true")
	}
}

func TestClient_Close(t *testing.T) {
	client, err := NewClient(offlineConfig())
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}

	// Double close must not panic or error.
	if err := client.Close(); err != nil {
		t.Errorf("Second Close() failed: %v", err)
	}
}

func TestClient_Stats(t *testing.T) {
	client, err := NewClient(offlineConfig())
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	stats := client.Stats()

	if stats.Uptime <= 0 {
		t.Errorf("Expected positive uptime, got %v", stats.Uptime)
	}

	if stats.Active != 0 {
		t.Errorf("Expected 0 active connections, got %d", stats.Active)
	}
}

func TestClient_GetBaseDN_Configured(t *testing.T) {
	cfg := offlineConfig()
	cfg.BaseDN = "DC=example,DC=com"

	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	// A configured base DN is returned without touching the wire.
	baseDN, err := client.GetBaseDN(t.Context())
	if err != nil {
		t.Fatalf("GetBaseDN() unexpected error: %v", err)
	}
	if baseDN != "DC=example,DC=com" {
		t.Errorf("GetBaseDN() = %q, want configured value", baseDN)
	}
}

func TestClient_Authenticate_Validation(t *testing.T) {
	client, err := NewClient(offlineConfig())
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	if err := client.Authenticate(t.Context(), "", "secret"); err == nil {
		t.Error("Authenticate() with empty username expected error")
	}

	// Empty passwords must be rejected: LDAP would treat the bind as
	// anonymous and report success.
	if err := client.Authenticate(t.Context(), "user@example.com", ""); err == nil {
		t.Error("Authenticate() with empty password expected error")
	}
}

func TestClient_RequestValidation(t *testing.T) {
	client, err := NewClient(offlineConfig())
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	ctx := t.Context()

	tests := []struct {
		name string
		call func() error
	}{
		{"nil search request", func() error {
			_, err := client.Search(ctx, nil)
			return err
		}},
		{"nil paged search request", func() error {
			_, _, err := client.SearchPage(ctx, nil, PageRequest{Size: 100})
			return err
		}},
		{"zero page size", func() error {
			_, _, err := client.SearchPage(ctx, &SearchRequest{Filter: "(objectClass=*)"}, PageRequest{})
			return err
		}},
		{"nil paging drain request", func() error {
			_, err := client.SearchWithPaging(ctx, nil, 100)
			return err
		}},
		{"empty read DN", func() error {
			_, err := client.Read(ctx, "", "", nil)
			return err
		}},
		{"empty list DN", func() error {
			_, err := client.List(ctx, "", "", nil)
			return err
		}},
		{"nil add request", func() error {
			return client.Add(ctx, nil)
		}},
		{"nil modify request", func() error {
			return client.Modify(ctx, nil)
		}},
		{"nil modify DN request", func() error {
			return client.ModifyDN(ctx, nil)
		}},
		{"modify DN without DN", func() error {
			return client.ModifyDN(ctx, &ModifyDNRequest{NewRDN: "CN=new"})
		}},
		{"modify DN without new RDN", func() error {
			return client.ModifyDN(ctx, &ModifyDNRequest{DN: "CN=old,DC=example,DC=com"})
		}},
		{"empty delete DN", func() error {
			return client.Delete(ctx, "")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); err == nil {
				t.Error("expected validation error but got none")
			}
		})
	}
}

func TestClient_Search_ConnectionFailure(t *testing.T) {
	client, err := NewClient(offlineConfig())
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = client.Search(ctx, &SearchRequest{
		BaseDN: "DC=example,DC=com",
		Scope:  ScopeWholeSubtree,
		Filter: "(objectClass=user)",
	})

	if err == nil {
		t.Fatal("Search() against unreachable server expected error")
	}

	if !strings.Contains(strings.ToLower(err.Error()), "connection") {
		t.Errorf("Expected connection-related error, got: %v", err)
	}
}

func TestClient_IsRetryableError(t *testing.T) {
	clientInterface, err := NewClient(offlineConfig())
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer clientInterface.Close()

	c := clientInterface.(*client)

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
		{
			name: "retryable connection error",
			err:  NewConnectionError("connection failed", true, nil),
			want: true,
		},
		{
			name: "non-retryable connection error",
			err:  NewConnectionError("config error", false, nil),
			want: false,
		},
		{
			name: "busy LDAP error",
			err:  ldap.NewError(ldap.LDAPResultBusy, errors.New("server busy")),
			want: true,
		},
		{
			name: "unavailable LDAP error",
			err:  ldap.NewError(ldap.LDAPResultUnavailable, errors.New("shutting down")),
			want: true,
		},
		{
			name: "invalid credentials LDAP error",
			err:  ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("bad password")),
			want: false,
		},
		{
			name: "stale bind on pooled connection",
			err:  errors.New("a successful bind must be completed on the connection"),
			want: true,
		},
		{
			name: "connection timeout error",
			err:  errors.New("connection timeout"),
			want: true,
		},
		{
			name: "broken pipe error",
			err:  errors.New("broken pipe"),
			want: true,
		},
		{
			name: "validation error",
			err:  errors.New("invalid syntax"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.isRetryableError(tt.err)
			if got != tt.want {
				t.Errorf("isRetryableError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClient_WithRetry(t *testing.T) {
	cfg := offlineConfig()
	cfg.MaxRetries = 2
	cfg.InitialBackoff = time.Millisecond

	clientInterface, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer clientInterface.Close()

	c := clientInterface.(*client)

	t.Run("succeeds after transient failures", func(t *testing.T) {
		attempts := 0
		err := c.withRetry(t.Context(), func() error {
			attempts++
			if attempts < 3 {
				return NewConnectionError("temporary failure", true, nil)
			}
			return nil
		})

		if err != nil {
			t.Errorf("withRetry() should have succeeded after retries, got: %v", err)
		}
		if attempts != 3 {
			t.Errorf("Expected 3 attempts, got %d", attempts)
		}
	})

	t.Run("stops on non-retryable error", func(t *testing.T) {
		attempts := 0
		err := c.withRetry(t.Context(), func() error {
			attempts++
			return NewConnectionError("permanent failure", false, nil)
		})

		if err == nil {
			t.Error("withRetry() should have failed with non-retryable error")
		}
		if attempts != 1 {
			t.Errorf("Expected 1 attempt for non-retryable error, got %d", attempts)
		}
	})

	t.Run("exhausts retries", func(t *testing.T) {
		attempts := 0
		err := c.withRetry(t.Context(), func() error {
			attempts++
			return NewConnectionError("still down", true, nil)
		})

		if err == nil {
			t.Error("withRetry() should have failed after exhausting retries")
		}
		if attempts != cfg.MaxRetries+1 {
			t.Errorf("Expected %d attempts, got %d", cfg.MaxRetries+1, attempts)
		}
	})

	t.Run("honors context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := c.withRetry(ctx, func() error {
			return NewConnectionError("still down", true, nil)
		})

		if !errors.Is(err, context.Canceled) {
			t.Errorf("withRetry() = %v, want context.Canceled", err)
		}
	})
}

func TestParseAuthzID(t *testing.T) {
	tests := []struct {
		name    string
		authzID string
		format  string
		check   func(*WhoAmIResult) bool
	}{
		{
			name:    "empty",
			authzID: "",
			format:  "empty",
			check:   func(*WhoAmIResult) bool { return true },
		},
		{
			name:    "active directory sam format",
			authzID: `u:EXAMPLE\jdoe`,
			format:  "sam",
			check:   func(r *WhoAmIResult) bool { return r.SAMAccountName == `EXAMPLE\jdoe` },
		},
		{
			name:    "dn format",
			authzID: "dn:CN=John Doe,OU=People,DC=example,DC=com",
			format:  "dn",
			check:   func(r *WhoAmIResult) bool { return r.DN == "CN=John Doe,OU=People,DC=example,DC=com" },
		},
		{
			name:    "upn format",
			authzID: "u:jdoe@example.com",
			format:  "upn",
			check:   func(r *WhoAmIResult) bool { return r.UserPrincipalName == "jdoe@example.com" },
		},
		{
			name:    "sid format",
			authzID: "u:S-1-5-21-3165297888-301567370-576410423-1103",
			format:  "sid",
			check:   func(r *WhoAmIResult) bool { return r.SID == "S-1-5-21-3165297888-301567370-576410423-1103" },
		},
		{
			name:    "unrecognized",
			authzID: "u:justaname",
			format:  "unknown",
			check:   func(*WhoAmIResult) bool { return true },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := &WhoAmIResult{AuthzID: tt.authzID}
			parseAuthzID(result)

			if result.Format != tt.format {
				t.Errorf("Format = %q, want %q", result.Format, tt.format)
			}
			if !tt.check(result) {
				t.Errorf("parsed fields not populated: %+v", result)
			}
		})
	}
}

func TestSearchScope_Constants(t *testing.T) {
	if int(ScopeBaseObject) != ldap.ScopeBaseObject {
		t.Errorf("ScopeBaseObject = %d, want %d", int(ScopeBaseObject), ldap.ScopeBaseObject)
	}

	if int(ScopeSingleLevel) != ldap.ScopeSingleLevel {
		t.Errorf("ScopeSingleLevel = %d, want %d", int(ScopeSingleLevel), ldap.ScopeSingleLevel)
	}

	if int(ScopeWholeSubtree) != ldap.ScopeWholeSubtree {
		t.Errorf("ScopeWholeSubtree = %d, want %d", int(ScopeWholeSubtree), ldap.ScopeWholeSubtree)
	}
}

func TestDerefAliases_Constants(t *testing.T) {
	if int(NeverDerefAliases) != ldap.NeverDerefAliases {
		t.Errorf("NeverDerefAliases = %d, want %d", int(NeverDerefAliases), ldap.NeverDerefAliases)
	}

	if int(DerefInSearching) != ldap.DerefInSearching {
		t.Errorf("DerefInSearching = %d, want %d", int(DerefInSearching), ldap.DerefInSearching)
	}

	if int(DerefFindingBaseObj) != ldap.DerefFindingBaseObj {
		t.Errorf("DerefFindingBaseObj = %d, want %d", int(DerefFindingBaseObj), ldap.DerefFindingBaseObj)
	}

	if int(DerefAlways) != ldap.DerefAlways {
		t.Errorf("DerefAlways = %d, want %d", int(DerefAlways), ldap.DerefAlways)
	}
}

func BenchmarkClient_IsRetryableError(b *testing.B) {
	clientInterface, err := NewClient(offlineConfig())
	if err != nil {
		b.Fatalf("Failed to create client: %v", err)
	}
	defer clientInterface.Close()

	c := clientInterface.(*client)
	testErr := errors.New("connection timeout")

	for b.Loop() {
		_ = c.isRetryableError(testErr)
	}
}

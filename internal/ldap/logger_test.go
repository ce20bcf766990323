package ldap

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/go-hclog"
)

// bufferLogger returns a Logger writing plain-text hclog output into
// the returned buffer, for asserting on emitted lines.
func bufferLogger() (Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := hclog.New(&hclog.LoggerOptions{
		Name:   "test",
		Level:  hclog.Trace,
		Output: &buf,
	})
	return NewLogger(l), &buf
}

func TestNewLogger_NilYieldsNoop(t *testing.T) {
	log := NewLogger(nil)
	if log == nil {
		t.Fatal("NewLogger(nil) returned nil")
	}

	// Must not panic.
	log.Trace("trace", nil)
	log.Debug("debug", map[string]any{"k": "v"})
	log.Info("info", nil)
	log.Warn("warn", nil)
	log.Error("error", nil)
}

func TestNopLogger(t *testing.T) {
	log := NopLogger()
	if log == nil {
		t.Fatal("NopLogger returned nil")
	}
	log.Info("discarded", map[string]any{"k": "v"})
}

func TestLogger_EmitsFields(t *testing.T) {
	log, buf := bufferLogger()

	log.Info("search completed", map[string]any{
		"entries": 3,
		"base_dn": "DC=example,DC=com",
	})

	out := buf.String()
	for _, want := range []string{"search completed", "entries=3", "DC=example,DC=com"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}

func TestLogger_Named(t *testing.T) {
	log, buf := bufferLogger()

	log.Named("pool").Info("connection created", nil)

	if out := buf.String(); !strings.Contains(out, "test.pool") {
		t.Errorf("named logger output missing subsystem: %s", out)
	}
}

func TestFlatten(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]any
		want   []any
	}{
		{"nil map", nil, nil},
		{"empty map", map[string]any{}, nil},
		{"single field", map[string]any{"dn": "CN=x"}, []any{"dn", "CN=x"}},
		{
			name:   "keys sorted for stable output",
			fields: map[string]any{"zeta": 1, "alpha": 2, "mid": 3},
			want:   []any{"alpha", 2, "mid", 3, "zeta", 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := flatten(tt.fields)
			if len(got) != len(tt.want) {
				t.Fatalf("flatten() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("flatten()[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestLogOperation(t *testing.T) {
	t.Run("success returns nil and logs completion", func(t *testing.T) {
		log, buf := bufferLogger()

		err := LogOperation(log, "search", map[string]any{"base_dn": "DC=example,DC=com"}, func() error {
			return nil
		})
		if err != nil {
			t.Fatalf("LogOperation() unexpected error: %v", err)
		}

		out := buf.String()
		for _, want := range []string{"starting operation", "operation completed", "operation=search", "duration_ms"} {
			if !strings.Contains(out, want) {
				t.Errorf("log output missing %q: %s", want, out)
			}
		}
	})

	t.Run("failure passes the error through and logs it", func(t *testing.T) {
		log, buf := bufferLogger()
		wantErr := errors.New("busy")

		err := LogOperation(log, "modify", nil, func() error {
			return wantErr
		})
		if !errors.Is(err, wantErr) {
			t.Fatalf("LogOperation() error = %v, want %v", err, wantErr)
		}

		out := buf.String()
		for _, want := range []string{"operation failed", "operation=modify", "error=busy"} {
			if !strings.Contains(out, want) {
				t.Errorf("log output missing %q: %s", want, out)
			}
		}
	})
}

func TestLogLDAPError(t *testing.T) {
	t.Run("protocol error includes result code", func(t *testing.T) {
		log, buf := bufferLogger()
		ldapErr := &ldap.Error{
			ResultCode: ldap.LDAPResultNoSuchObject,
			MatchedDN:  "DC=example,DC=com",
			Err:        errors.New("no such object"),
		}

		LogLDAPError(log, "read", fmt.Errorf("read failed: %w", ldapErr), nil)

		out := buf.String()
		for _, want := range []string{"LDAP operation failed", "ldap_result_code=32", "ldap_matched_dn=", "ldap_diagnostic_message="} {
			if !strings.Contains(out, want) {
				t.Errorf("log output missing %q: %s", want, out)
			}
		}
	})

	t.Run("plain error logs without protocol fields", func(t *testing.T) {
		log, buf := bufferLogger()

		LogLDAPError(log, "read", errors.New("dial tcp: refused"), map[string]any{"server": "dc1"})

		out := buf.String()
		if !strings.Contains(out, "LDAP operation failed") {
			t.Errorf("log output missing failure message: %s", out)
		}
		if strings.Contains(out, "ldap_result_code") {
			t.Errorf("plain error must not carry a result code: %s", out)
		}
	})
}

func TestSanitizeFields(t *testing.T) {
	fields := map[string]any{
		"username":    "jdoe",
		"password":    "hunter2",
		"token":       "abc123",
		"secret":      "s3cret",
		"credentials": "admin:pw",
		"filter":      "(sAMAccountName=jdoe)",
		"bind":        "password=hunter2",
		"retries":     3,
	}

	sanitized := SanitizeFields(fields)

	for _, key := range []string{"password", "token", "secret", "credentials"} {
		if sanitized[key] != "[REDACTED]" {
			t.Errorf("SanitizeFields left %s = %v", key, sanitized[key])
		}
	}

	// Value-level detection catches credentials embedded in strings.
	if sanitized["bind"] != "[REDACTED]" {
		t.Errorf("SanitizeFields left embedded credential: %v", sanitized["bind"])
	}

	if sanitized["username"] != "jdoe" {
		t.Errorf("SanitizeFields altered username: %v", sanitized["username"])
	}
	if sanitized["filter"] != "(sAMAccountName=jdoe)" {
		t.Errorf("SanitizeFields altered filter: %v", sanitized["filter"])
	}
	if sanitized["retries"] != 3 {
		t.Errorf("SanitizeFields altered non-string value: %v", sanitized["retries"])
	}

	// The input map is left untouched.
	if fields["password"] != "hunter2" {
		t.Error("SanitizeFields mutated its input")
	}
}

func TestContainsSensitivePattern(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"password=hunter2", true},
		{"PASSWORD=HUNTER2", true},
		{"ldap://dc1?token=abc", true},
		{"secret=x", true},
		{"(sAMAccountName=jdoe)", false},
		{"plain text", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := containsSensitivePattern(tt.input); got != tt.want {
				t.Errorf("containsSensitivePattern(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

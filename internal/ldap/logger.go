package ldap

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/go-hclog"
)

// Logger is the structured logging interface used throughout the
// package. Field maps are flattened to key/value pairs on emission.
type Logger interface {
	Trace(msg string, fields map[string]any)
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
	// Named returns a child logger scoped to a subsystem.
	Named(subsystem string) Logger
}

// hcLogger backs Logger with a hashicorp/go-hclog logger.
type hcLogger struct {
	l hclog.Logger
}

// NewLogger wraps an hclog.Logger. A nil argument yields a no-op
// logger, which is the default for library use.
func NewLogger(l hclog.Logger) Logger {
	if l == nil {
		l = hclog.NewNullLogger()
	}
	return &hcLogger{l: l}
}

// NopLogger returns a logger that discards everything.
func NopLogger() Logger {
	return &hcLogger{l: hclog.NewNullLogger()}
}

func (h *hcLogger) Trace(msg string, fields map[string]any) { h.l.Trace(msg, flatten(fields)...) }
func (h *hcLogger) Debug(msg string, fields map[string]any) { h.l.Debug(msg, flatten(fields)...) }
func (h *hcLogger) Info(msg string, fields map[string]any)  { h.l.Info(msg, flatten(fields)...) }
func (h *hcLogger) Warn(msg string, fields map[string]any)  { h.l.Warn(msg, flatten(fields)...) }
func (h *hcLogger) Error(msg string, fields map[string]any) { h.l.Error(msg, flatten(fields)...) }

func (h *hcLogger) Named(subsystem string) Logger {
	return &hcLogger{l: h.l.Named(subsystem)}
}

// flatten converts a field map into hclog's alternating key/value
// arguments, sorted for stable output.
func flatten(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, len(fields)*2)
	for _, k := range keys {
		args = append(args, k, fields[k])
	}
	return args
}

// LogOperation runs fn, logging start, outcome, and duration.
func LogOperation(log Logger, operation string, fields map[string]any, fn func() error) error {
	start := time.Now()

	if fields == nil {
		fields = make(map[string]any)
	}
	fields["operation"] = operation

	log.Debug("starting operation", fields)

	err := fn()
	fields["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		fields["error"] = err.Error()
		log.Error("operation failed", fields)
	} else {
		log.Debug("operation completed", fields)
	}

	return err
}

// LogLDAPError logs protocol-level failure details when available.
func LogLDAPError(log Logger, operation string, err error, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any)
	}

	fields["operation"] = operation
	fields["error"] = err.Error()

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		fields["ldap_result_code"] = resultErr.ResultCode
		if resultErr.MatchedDN != "" {
			fields["ldap_matched_dn"] = resultErr.MatchedDN
		}
		if resultErr.Err != nil {
			fields["ldap_diagnostic_message"] = resultErr.Err.Error()
		}
	}

	log.Error("LDAP operation failed", SanitizeFields(fields))
}

// SanitizeFields redacts credential material from log fields before
// they are emitted.
func SanitizeFields(fields map[string]any) map[string]any {
	sanitized := make(map[string]any, len(fields))

	sensitiveKeys := map[string]bool{
		"password":    true,
		"passwd":      true,
		"secret":      true,
		"token":       true,
		"key":         true,
		"private_key": true,
		"credential":  true,
		"credentials": true,
	}

	for k, v := range fields {
		if sensitiveKeys[k] {
			sanitized[k] = "[REDACTED]"
			continue
		}
		if str, ok := v.(string); ok && containsSensitivePattern(str) {
			sanitized[k] = "[REDACTED]"
			continue
		}
		sanitized[k] = v
	}

	return sanitized
}

// containsSensitivePattern checks for credential-looking substrings.
func containsSensitivePattern(s string) bool {
	patterns := []string{
		"password=",
		"passwd=",
		"secret=",
		"token=",
		"key=",
	}

	lower := strings.ToLower(s)
	for _, pattern := range patterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}

	return false
}

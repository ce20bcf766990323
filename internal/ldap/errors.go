package ldap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Sentinel errors surfaced by the client and the layers above it.
// Wrap with fmt.Errorf("...: %w", ...) so errors.Is keeps working.
var (
	// ErrNotFound indicates a lookup that required an entry matched none.
	ErrNotFound = errors.New("entry not found")

	// ErrNoBaseDN indicates the root DSE probe yielded no
	// defaultNamingContext and no base DN was configured.
	ErrNoBaseDN = errors.New("no base DN configured or discoverable")
)

// ErrorCategory classifies LDAP failures for retry and policy decisions.
type ErrorCategory string

const (
	ErrorCategoryConnection     ErrorCategory = "connection"
	ErrorCategoryAuthentication ErrorCategory = "authentication"
	ErrorCategoryPermission     ErrorCategory = "permission"
	ErrorCategoryNotFound       ErrorCategory = "not_found"
	ErrorCategoryConflict       ErrorCategory = "conflict"
	ErrorCategoryValidation     ErrorCategory = "validation"
	ErrorCategoryServer         ErrorCategory = "server"
	ErrorCategoryUnknown        ErrorCategory = "unknown"
)

// LDAPError provides structured error information for LDAP operations.
type LDAPError struct {
	Operation string        // The operation that failed
	Category  ErrorCategory // Error category
	LDAPCode  uint16        // LDAP result code, 0 when not an LDAP-level failure
	Message   string        // Human-readable message
	ServerMsg string        // Server-provided diagnostic message
	DN        string        // DN involved in the operation, if applicable
	Retryable bool          // Whether the error is worth retrying
	Cause     error         // Underlying error
}

func (e *LDAPError) Error() string {
	var parts []string

	if e.LDAPCode > 0 {
		parts = append(parts, fmt.Sprintf("LDAP %s failed (code %d)", e.Operation, e.LDAPCode))
	} else {
		parts = append(parts, fmt.Sprintf("LDAP %s failed", e.Operation))
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.ServerMsg != "" && e.ServerMsg != e.Message {
		parts = append(parts, fmt.Sprintf("server: %s", e.ServerMsg))
	}
	if e.DN != "" {
		parts = append(parts, fmt.Sprintf("DN: %s", e.DN))
	}

	return strings.Join(parts, " - ")
}

func (e *LDAPError) IsRetryable() bool {
	return e.Retryable
}

func (e *LDAPError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match category sentinels against wrapped LDAP errors.
func (e *LDAPError) Is(target error) bool {
	return target == ErrNotFound && e.Category == ErrorCategoryNotFound
}

// WithDN attaches the DN involved in the failed operation.
func (e *LDAPError) WithDN(dn string) *LDAPError {
	e.DN = dn
	return e
}

// NewLDAPError wraps err with operation context and LDAP result-code
// classification.
func NewLDAPError(operation string, err error) *LDAPError {
	if err == nil {
		return nil
	}

	le := &LDAPError{
		Operation: operation,
		Cause:     err,
	}

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		le.LDAPCode = resultErr.ResultCode
		le.Category = categorizeCode(resultErr.ResultCode)
		le.Retryable = isCodeRetryable(resultErr.ResultCode)
		le.Message = ldap.LDAPResultCodeMap[resultErr.ResultCode]
		if resultErr.Err != nil {
			le.ServerMsg = resultErr.Err.Error()
		}
	} else {
		le.Category = categorizeGenericError(err)
		le.Retryable = isGenericErrorRetryable(err)
		le.Message = err.Error()
	}

	return le
}

// categorizeCode maps an LDAP result code onto an ErrorCategory.
func categorizeCode(code uint16) ErrorCategory {
	switch code {
	case ldap.LDAPResultInvalidCredentials,
		ldap.LDAPResultInappropriateAuthentication,
		ldap.LDAPResultStrongAuthRequired:
		return ErrorCategoryAuthentication

	case ldap.LDAPResultInsufficientAccessRights,
		ldap.LDAPResultUnwillingToPerform:
		return ErrorCategoryPermission

	case ldap.LDAPResultNoSuchObject,
		ldap.LDAPResultNoSuchAttribute,
		ldap.LDAPResultUndefinedAttributeType:
		return ErrorCategoryNotFound

	case ldap.LDAPResultEntryAlreadyExists,
		ldap.LDAPResultAttributeOrValueExists,
		ldap.LDAPResultObjectClassViolation,
		ldap.LDAPResultNotAllowedOnNonLeaf:
		return ErrorCategoryConflict

	case ldap.LDAPResultInvalidAttributeSyntax,
		ldap.LDAPResultConstraintViolation,
		ldap.LDAPResultInvalidDNSyntax,
		ldap.LDAPResultNamingViolation:
		return ErrorCategoryValidation

	case ldap.LDAPResultServerDown,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultBusy,
		ldap.LDAPResultTimeLimitExceeded,
		ldap.LDAPResultAdminLimitExceeded:
		return ErrorCategoryServer

	case ldap.LDAPResultConnectError,
		ldap.LDAPResultProtocolError:
		return ErrorCategoryConnection

	default:
		return ErrorCategoryUnknown
	}
}

// categorizeGenericError classifies non-LDAP errors by message content.
func categorizeGenericError(err error) ErrorCategory {
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "connection"),
		strings.Contains(msg, "network"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "connection reset"):
		return ErrorCategoryConnection

	case strings.Contains(msg, "authentication"),
		strings.Contains(msg, "credentials"),
		strings.Contains(msg, "password"):
		return ErrorCategoryAuthentication

	case strings.Contains(msg, "permission"),
		strings.Contains(msg, "access"),
		strings.Contains(msg, "denied"):
		return ErrorCategoryPermission

	default:
		return ErrorCategoryUnknown
	}
}

// isCodeRetryable reports whether an LDAP result code indicates a
// transient condition.
func isCodeRetryable(code uint16) bool {
	switch code {
	case ldap.LDAPResultBusy,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultServerDown,
		ldap.LDAPResultTimeLimitExceeded,
		ldap.LDAPResultConnectError:
		return true
	default:
		return false
	}
}

// isGenericErrorRetryable reports whether a non-LDAP error looks transient.
func isGenericErrorRetryable(err error) bool {
	msg := strings.ToLower(err.Error())

	retryablePatterns := []string{
		"connection",
		"timeout",
		"network",
		"broken pipe",
		"connection reset",
		"temporary failure",
		"server temporarily unavailable",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}

	return false
}

// WrapError wraps an error with operation context, leaving already
// wrapped errors intact.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}

	var le *LDAPError
	if errors.As(err, &le) {
		if le.Operation == "" {
			le.Operation = operation
		}
		return le
	}

	return NewLDAPError(operation, err)
}

// IsRetryableError checks if an error is worth retrying.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	return isGenericErrorRetryable(err)
}

// GetErrorCategory returns the category of an error.
func GetErrorCategory(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryUnknown
	}

	var le *LDAPError
	if errors.As(err, &le) {
		return le.Category
	}

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		return categorizeCode(resultErr.ResultCode)
	}

	return categorizeGenericError(err)
}

// IsNotFoundError checks if an error indicates a "not found" condition.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound) || GetErrorCategory(err) == ErrorCategoryNotFound
}

// IsConflictError checks if an error indicates a conflict (already exists).
func IsConflictError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryConflict
}

// IsAuthenticationError checks if an error indicates an authentication problem.
func IsAuthenticationError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryAuthentication
}

// IsPermissionError checks if an error indicates a permission problem.
func IsPermissionError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryPermission
}

// IsValidationError checks if an error indicates invalid input for a
// mutating operation.
func IsValidationError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryValidation
}

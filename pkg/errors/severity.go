// Package errors provides severity-aware error types.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Severity indicates error impact level.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// MarshalText renders the severity by name so JSON payloads stay readable.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TopoError is a structured error with context.
type TopoError struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	Severity    Severity `json:"severity"`
	ResourceID  string   `json:"resource_id,omitempty"`
	Recoverable bool     `json:"recoverable"`
}

func (e *TopoError) Error() string {
	if e.ResourceID != "" {
		return fmt.Sprintf("[%s] %s: %s (resource: %s)", e.Severity, e.Code, e.Message, e.ResourceID)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Severity, e.Code, e.Message)
}

// Error codes
const (
	ErrCodeParseFailed        = "PARSE_FAILED"
	ErrCodeMissingResources   = "MISSING_RESOURCES"
	ErrCodeResourceConflict   = "RESOURCE_CONFLICT"
	ErrCodeSubstitutionFailed = "SUBSTITUTION_FAILED"
	ErrCodeFetchFailed        = "FETCH_FAILED"
	ErrCodeInvalidResource    = "INVALID_RESOURCE"
)

// HasCode reports whether err wraps a *TopoError carrying code.
func HasCode(err error, code string) bool {
	var te *TopoError
	if errors.As(err, &te) {
		return te.Code == code
	}
	return false
}

// NewParseError wraps a decoding failure of template text.
func NewParseError(source string, err error) *TopoError {
	return &TopoError{
		Code:        ErrCodeParseFailed,
		Message:     fmt.Sprintf("failed to parse template: %v", err),
		Severity:    SeverityFatal,
		ResourceID:  source,
		Recoverable: false,
	}
}

// NewMissingResourcesError is returned when a document has no resources collection.
func NewMissingResourcesError() *TopoError {
	return &TopoError{
		Code:        ErrCodeMissingResources,
		Message:     "template has no resources section",
		Severity:    SeverityFatal,
		Recoverable: false,
	}
}

// NewResourceConflictError reports resource names declared by more than one merged document.
func NewResourceConflictError(names []string) *TopoError {
	return &TopoError{
		Code:        ErrCodeResourceConflict,
		Message:     fmt.Sprintf("resource names declared more than once: %s", strings.Join(names, ", ")),
		Severity:    SeverityError,
		Recoverable: false,
	}
}

// NewSubstitutionError reports a str_replace parameter whose name is not a usable pattern.
func NewSubstitutionError(param, resourceID string, err error) *TopoError {
	return &TopoError{
		Code:        ErrCodeSubstitutionFailed,
		Message:     fmt.Sprintf("failed to replace param %q: %v", param, err),
		Severity:    SeverityWarning,
		ResourceID:  resourceID,
		Recoverable: true,
	}
}

// NewFetchError reports a get_file failure; the uri itself is used as the value.
func NewFetchError(uri, resourceID string, err error) *TopoError {
	return &TopoError{
		Code:        ErrCodeFetchFailed,
		Message:     fmt.Sprintf("failed to fetch %s: %v", uri, err),
		Severity:    SeverityWarning,
		ResourceID:  resourceID,
		Recoverable: true,
	}
}

// NewInvalidResourceError reports a resource entry that cannot be interpreted.
func NewInvalidResourceError(resourceID, reason string) *TopoError {
	return &TopoError{
		Code:        ErrCodeInvalidResource,
		Message:     reason,
		Severity:    SeverityWarning,
		ResourceID:  resourceID,
		Recoverable: true,
	}
}

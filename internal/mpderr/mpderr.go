// Package mpderr defines the structured error model used by the manifest
// resolver. Every failure produced while resolving an MPD carries a
// severity, a category, and a stable code so that callers can decide
// whether to retry, surface, or ignore it without string matching.
package mpderr

import (
	"errors"
	"fmt"
)

// Severity indicates whether an error aborts resolution or can be recovered
// from (typically by dropping the offending element).
type Severity int

const (
	// Recoverable errors drop the offending element and let resolution continue.
	Recoverable Severity = 1
	// Critical errors abort resolution of the enclosing scope.
	Critical Severity = 2
)

// String implements fmt.Stringer.
func (s Severity) String() string {
	switch s {
	case Recoverable:
		return "RECOVERABLE"
	case Critical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// Category classifies the subsystem an error originated from.
type Category int

const (
	// Manifest errors originate from the MPD document itself.
	Manifest Category = 4
	// Network errors originate from a collaborator fetch.
	Network Category = 1
)

// String implements fmt.Stringer.
func (c Category) String() string {
	switch c {
	case Manifest:
		return "MANIFEST"
	case Network:
		return "NETWORK"
	default:
		return fmt.Sprintf("Category(%d)", int(c))
	}
}

// Code identifies a specific failure mode.
type Code string

// Manifest error codes.
const (
	CodeInvalidXML               Code = "DASH_INVALID_XML"
	CodeEmptyPeriod              Code = "DASH_EMPTY_PERIOD"
	CodeEmptyAdaptationSet       Code = "DASH_EMPTY_ADAPTATION_SET"
	CodeNoCommonKeySystem        Code = "DASH_NO_COMMON_KEY_SYSTEM"
	CodePsshBadEncoding          Code = "DASH_PSSH_BAD_ENCODING"
	CodeConflictingKeyIDs        Code = "DASH_CONFLICTING_KEY_IDS"
	CodeMultipleKeyIDs           Code = "DASH_MULTIPLE_KEY_IDS_NOT_SUPPORTED"
	CodeDuplicateRepresentation  Code = "DASH_DUPLICATE_REPRESENTATION_ID"
	CodeUnsupportedXlinkActuate  Code = "DASH_UNSUPPORTED_XLINK_ACTUATE"
	CodeUnsupportedContainer     Code = "DASH_UNSUPPORTED_CONTAINER"
	CodeWebmSegmentsNotSupported Code = "DASH_WEBM_SEGMENTS_NOT_SUPPORTED"
)

// Error is a structured resolver error.
type Error struct {
	Severity Severity
	Category Category
	Code     Code
	Message  string
	// URI optionally names the element or resource the error refers to.
	URI string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.URI != "" {
		return fmt.Sprintf("%s %s %s: %s (%s)", e.Severity, e.Category, e.Code, e.Message, e.URI)
	}
	return fmt.Sprintf("%s %s %s: %s", e.Severity, e.Category, e.Code, e.Message)
}

// WithURI returns a copy of e annotated with the given URI.
func (e *Error) WithURI(uri string) *Error {
	dup := *e
	dup.URI = uri
	return &dup
}

// CriticalManifest returns a critical manifest error with the given code.
func CriticalManifest(code Code, format string, args ...any) *Error {
	return &Error{
		Severity: Critical,
		Category: Manifest,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
	}
}

// RecoverableManifest returns a recoverable manifest error with the given code.
func RecoverableManifest(code Code, format string, args ...any) *Error {
	return &Error{
		Severity: Recoverable,
		Category: Manifest,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
	}
}

// IsCode reports whether err is (or wraps) an Error carrying the given code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsCritical reports whether err is (or wraps) a Critical Error.
func IsCritical(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Severity == Critical
	}
	return false
}

// Package errors provides structured error handling for beamflow.
// Errors carry a code, key/value context and the call site that created them.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Code identifies an error class for programmatic handling.
type Code string

const (
	// Input errors (1xx)
	CodeFileNotFound        Code = "E101"
	CodeUnsupportedLocation Code = "E102"
	CodeInvalidFormat       Code = "E103"
	CodeMissingColumn       Code = "E104"
	CodeInvalidNumber       Code = "E105"
	CodeEncodingError       Code = "E106"

	// Analysis errors (2xx)
	CodeMalformedPairing        Code = "E201"
	CodeMissingScheduleLookup   Code = "E202"
	CodeStructuralInconsistency Code = "E203"
	CodeOverlappingBoarding     Code = "E204"
	CodeValidationFailed        Code = "E205"

	// Storage errors (3xx)
	CodeReadFailed  Code = "E301"
	CodeWriteFailed Code = "E302"
	CodeCacheMiss   Code = "E303"
	CodeUnavailable Code = "E304"

	// System errors (4xx)
	CodeContextCanceled Code = "E401"
	CodeTimeout         Code = "E402"

	// Query engine errors (5xx)
	CodeQueryInit Code = "E501"
	CodeQuery     Code = "E502"

	CodeUnknown Code = "E999"
)

// Error is the base error type for beamflow.
type Error struct {
	Code    Code
	Message string
	Cause   error
	Context map[string]interface{}
	Frame   Frame
}

// Frame is the call site that created an error.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface. Context keys are printed sorted.
func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Code, e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s=%v", k, e.Context[k])
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// With adds a context value and returns the error for chaining.
func (e *Error) With(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates an error with the given code.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Frame: caller(2)}
}

// Wrap wraps err. It returns nil when err is nil.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err, Frame: caller(2)}
}

// Wrapf wraps err with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: err, Frame: caller(2)}
}

func caller(skip int) Frame {
	pcs := make([]uintptr, 1)
	if runtime.Callers(skip+1, pcs) == 0 {
		return Frame{}
	}
	f, _ := runtime.CallersFrames(pcs).Next()
	return Frame{Function: f.Function, File: f.File, Line: f.Line}
}

// --- Convenience constructors ---

// FileNotFound reports a missing input artifact.
func FileNotFound(location string) *Error {
	return New(CodeFileNotFound, "file not found").With("location", location)
}

// MissingColumn reports a required column absent from a header.
func MissingColumn(column string, available []string) *Error {
	return New(CodeMissingColumn, "required column not found").
		With("column", column).
		With("available", strings.Join(available, ","))
}

// InvalidNumber reports a numeric cell that could not be parsed.
func InvalidNumber(column, value string, row int64) *Error {
	return New(CodeInvalidNumber, "invalid number").
		With("column", column).
		With("value", value).
		With("row", row)
}

// Canceled reports an interrupted operation.
func Canceled(operation string, cause error) *Error {
	return Wrap(cause, CodeContextCanceled, "operation canceled").With("operation", operation)
}

// --- Error checking utilities ---

// IsCode reports whether err carries code.
func IsCode(err error, code Code) bool {
	return GetCode(err) == code
}

// GetCode extracts the code from err, or CodeUnknown.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsRetryable reports whether retrying the operation may succeed.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeTimeout, CodeReadFailed:
		return true
	default:
		return false
	}
}

// MultiError collects multiple errors.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	switch len(m.Errors) {
	case 0:
		return "no errors"
	case 1:
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d errors occurred:\n", len(m.Errors))
	for i, err := range m.Errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Add appends a non-nil error.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors reports whether any errors were collected.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// Combined returns nil, the single error, or the MultiError.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}

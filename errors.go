package swiftstream

import (
	"errors"
	"fmt"
)

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Build-time errors.
const (
	// ErrCodeConfiguration indicates an invalid option or option combination.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION_ERROR"
	// ErrCodeSourceOpen indicates a path or compressed stream could not be opened.
	ErrCodeSourceOpen ErrorCode = "SOURCE_OPEN"
	// ErrCodeSourceInvalidHandle indicates a caller supplied descriptor is not valid.
	ErrCodeSourceInvalidHandle ErrorCode = "SOURCE_INVALID_HANDLE"
	// ErrCodeSourceUnsupported indicates the source cannot provide a required capability.
	ErrCodeSourceUnsupported ErrorCode = "SOURCE_UNSUPPORTED"
	// ErrCodeHeader indicates the first row could not be read or interned.
	ErrCodeHeader ErrorCode = "HEADER_ERROR"
)

// Streaming errors. These are delivered as the last item of a sequence.
const (
	// ErrCodeSourceRead indicates the byte source failed mid-stream.
	ErrCodeSourceRead ErrorCode = "SOURCE_READ"
	// ErrCodeEncoding indicates a field is not valid UTF-8 and lossy decoding is off.
	ErrCodeEncoding ErrorCode = "ENCODING_ERROR"
	// ErrCodeRecordSyntax indicates a malformed row.
	ErrCodeRecordSyntax ErrorCode = "RECORD_SYNTAX_ERROR"
	// ErrCodeInternal indicates a failure inside the engine itself.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Category sentinels for use with errors.Is.
var (
	ErrConfiguration = errors.New("swiftstream: configuration error")
	ErrSource        = errors.New("swiftstream: source error")
	ErrHeader        = errors.New("swiftstream: header error")
	ErrEncoding      = errors.New("swiftstream: encoding error")
	ErrRecordSyntax  = errors.New("swiftstream: record syntax error")
	ErrInternal      = errors.New("swiftstream: internal error")
)

// category maps a code onto its sentinel.
func (c ErrorCode) category() error {
	switch c {
	case ErrCodeConfiguration:
		return ErrConfiguration
	case ErrCodeSourceOpen, ErrCodeSourceInvalidHandle, ErrCodeSourceUnsupported, ErrCodeSourceRead:
		return ErrSource
	case ErrCodeHeader:
		return ErrHeader
	case ErrCodeEncoding:
		return ErrEncoding
	case ErrCodeRecordSyntax:
		return ErrRecordSyntax
	default:
		return ErrInternal
	}
}

// Error is the single error type returned by builders and engines.
type Error struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Line is the input line the error refers to, or zero when unknown.
	Line int `json:"line,omitempty"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Line > 0 {
		msg = fmt.Sprintf("%s (line %d)", msg, e.Line)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause of the error.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is the category sentinel for e.Code.
func (e *Error) Is(target error) bool {
	return target == e.Code.category()
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithLine sets the input line and returns the receiver.
func (e *Error) WithLine(line int) *Error {
	e.Line = line
	return e
}

func newError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// --- Constructors ---

// ConfigurationError creates an error for an invalid option.
func ConfigurationError(field, reason string) *Error {
	e := newError(ErrCodeConfiguration, fmt.Sprintf("invalid %s: %s", field, reason), nil)
	return e.WithDetail("field", field)
}

// SourceOpenError creates an error for a source that could not be opened.
func SourceOpenError(name string, cause error) *Error {
	return newError(ErrCodeSourceOpen, fmt.Sprintf("failed to open %s", name), cause).WithDetail("source", name)
}

// InvalidHandleError creates an error for an unusable caller-owned descriptor.
func InvalidHandleError(fd uintptr, cause error) *Error {
	return newError(ErrCodeSourceInvalidHandle, fmt.Sprintf("invalid descriptor %d", fd), cause).WithDetail("fd", fd)
}

// UnsupportedSourceError creates an error for a source lacking a required capability.
func UnsupportedSourceError(name, reason string) *Error {
	return newError(ErrCodeSourceUnsupported, fmt.Sprintf("%s: %s", name, reason), nil).WithDetail("source", name)
}

// HeaderError creates an error for a failure while establishing headers.
func HeaderError(cause error) *Error {
	return newError(ErrCodeHeader, "failed to read headers", cause)
}

// EncodingError creates an error for a field that is not valid UTF-8.
func EncodingError(line, column int) *Error {
	e := newError(ErrCodeEncoding, fmt.Sprintf("invalid utf-8 in field %d", column), nil)
	return e.WithLine(line).WithDetail("field", column)
}

// InternalError creates an error for an engine failure.
func InternalError(cause error) *Error {
	return newError(ErrCodeInternal, "engine failure", cause)
}

// streamError classifies an error raised while pulling rows from the tokenizer.
func streamError(err error, line int) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	var perr *ParseError
	if errors.As(err, &perr) {
		return newError(ErrCodeRecordSyntax, "malformed row", err).WithLine(perr.Line)
	}
	return newError(ErrCodeSourceRead, "failed to read source", err).WithLine(line)
}

package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Ingestion error codes
const (
	ErrChunkTooSmall ErrorCode = "CHUNK_TOO_SMALL"
	ErrEmptyDocument ErrorCode = "EMPTY_DOCUMENT"
)

// Query-time error codes
const (
	ErrInvalidRequest       ErrorCode = "INVALID_REQUEST"
	ErrEmbeddingUnavailable ErrorCode = "EMBEDDING_UNAVAILABLE"
	ErrRerankUnavailable    ErrorCode = "RERANK_UNAVAILABLE"
	ErrRerankTimeout        ErrorCode = "RERANK_TIMEOUT"
)

// Build-time error codes
const (
	ErrIndexCorrupt   ErrorCode = "INDEX_CORRUPT"
	ErrSnapshotIO     ErrorCode = "SNAPSHOT_IO"
	ErrDimensionMatch ErrorCode = "DIMENSION_MISMATCH"
)

// Upstream/provider error codes
const (
	ErrUnauthorized   ErrorCode = "UNAUTHORIZED"
	ErrForbidden      ErrorCode = "FORBIDDEN"
	ErrRateLimited    ErrorCode = "RATE_LIMITED"
	ErrUpstreamError  ErrorCode = "UPSTREAM_ERROR"
	ErrUpstreamFormat ErrorCode = "UPSTREAM_FORMAT"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the module.
type ErrorCode string

// Configuration error codes. These are fatal and raised synchronously.
const (
	ErrInvalidRequest       ErrorCode = "INVALID_REQUEST"
	ErrProviderNotFound     ErrorCode = "PROVIDER_NOT_FOUND"
	ErrProviderMismatch     ErrorCode = "PROVIDER_MISMATCH"
	ErrConversationNotFound ErrorCode = "CONVERSATION_NOT_FOUND"
	ErrTaskNotFound         ErrorCode = "TASK_NOT_FOUND"
)

// Channel and runtime error codes.
const (
	ErrChannelUnavailable ErrorCode = "CHANNEL_UNAVAILABLE"
	ErrUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	ErrTimeout            ErrorCode = "TIMEOUT"
	ErrCallbackFailed     ErrorCode = "CALLBACK_FAILED"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrClosed             ErrorCode = "CLOSED"
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

// Is reports whether target is an *Error carrying the same code, so callers can
// write errors.Is(err, types.NewError(types.ErrProviderNotFound, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
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

// IsErrorCode reports whether err carries the given code anywhere in its chain.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// Sentinels for errors.Is comparisons.
var (
	ErrProviderNotFoundSentinel     = NewError(ErrProviderNotFound, "provider not found")
	ErrProviderMismatchSentinel     = NewError(ErrProviderMismatch, "provider mismatch")
	ErrConversationNotFoundSentinel = NewError(ErrConversationNotFound, "conversation not found")
)

// NewProviderNotFoundError reports an unknown or missing provider id.
func NewProviderNotFoundError(providerID string) *Error {
	return NewError(ErrProviderNotFound, fmt.Sprintf("provider '%s' not found", providerID)).
		WithProvider(providerID)
}

// NewProviderMismatchError reports an attempt to move a conversation to another provider.
func NewProviderMismatchError(conversationID, bound, requested string) *Error {
	return NewError(ErrProviderMismatch,
		fmt.Sprintf("conversation '%s' is bound to provider '%s', not '%s'", conversationID, bound, requested)).
		WithProvider(requested)
}

// NewConversationNotFoundError reports an unknown conversation.
func NewConversationNotFoundError(conversationID string) *Error {
	return NewError(ErrConversationNotFound, fmt.Sprintf("conversation '%s' not found", conversationID))
}

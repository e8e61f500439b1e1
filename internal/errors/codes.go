// Package errors defines the structured error taxonomy shared by the
// counter, hash counter and scanner services.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"

	"github.com/redis/go-redis/v9"
)

// ErrorCode represents internal error codes for counter operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Caller errors
	ErrCodeConfiguration         ErrorCode = 1000
	ErrCodeInvalidIdentity       ErrorCode = 1001
	ErrCodeUnsupportedInTopology ErrorCode = 1002
	ErrCodeInvalidValue          ErrorCode = 1003

	// Store errors
	ErrCodeStoreUnavailable ErrorCode = 2000
	ErrCodeCommandFailed    ErrorCode = 2001
	ErrCodeCorruptedValue   ErrorCode = 2002
	ErrCodeDispatchRejected ErrorCode = 2003
)

var codeNames = map[ErrorCode]string{
	ErrCodeOK:                    "ok",
	ErrCodeConfiguration:         "configuration",
	ErrCodeInvalidIdentity:       "invalid_identity",
	ErrCodeUnsupportedInTopology: "unsupported_in_topology",
	ErrCodeInvalidValue:          "invalid_value",
	ErrCodeStoreUnavailable:      "store_unavailable",
	ErrCodeCommandFailed:         "command_failed",
	ErrCodeCorruptedValue:        "corrupted_value",
	ErrCodeDispatchRejected:      "dispatch_rejected",
}

// String returns the metric-friendly name of the code
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code_%d", int(c))
}

// CounterError represents a structured error with code and context
type CounterError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *CounterError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *CounterError) Unwrap() error {
	return e.Cause
}

// Is matches any CounterError carrying the same code, so sentinel
// comparisons like errors.Is(err, ErrInvalidIdentity) work.
func (e *CounterError) Is(target error) bool {
	t, ok := target.(*CounterError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Retryable reports whether the caller may reasonably try again
func (e *CounterError) Retryable() bool {
	return e.Code == ErrCodeStoreUnavailable || e.Code == ErrCodeDispatchRejected
}

// Sentinels for errors.Is comparisons
var (
	ErrConfiguration         = &CounterError{Code: ErrCodeConfiguration, Message: "configuration error"}
	ErrInvalidIdentity       = &CounterError{Code: ErrCodeInvalidIdentity, Message: "invalid identity"}
	ErrUnsupportedInTopology = &CounterError{Code: ErrCodeUnsupportedInTopology, Message: "unsupported in topology"}
	ErrInvalidValue          = &CounterError{Code: ErrCodeInvalidValue, Message: "invalid value"}
	ErrStoreUnavailable      = &CounterError{Code: ErrCodeStoreUnavailable, Message: "store unavailable"}
	ErrCommandFailed         = &CounterError{Code: ErrCodeCommandFailed, Message: "command failed"}
	ErrCorruptedValue        = &CounterError{Code: ErrCodeCorruptedValue, Message: "corrupted value"}
	ErrDispatchRejected      = &CounterError{Code: ErrCodeDispatchRejected, Message: "dispatch rejected"}
)

// NewCounterError creates a new CounterError
func NewCounterError(code ErrorCode, message string, cause error) *CounterError {
	return &CounterError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *CounterError) WithDetail(key string, value interface{}) *CounterError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func Configuration(field, reason string) *CounterError {
	return NewCounterError(ErrCodeConfiguration, fmt.Sprintf("invalid configuration %s: %s", field, reason), nil).
		WithDetail("field", field)
}

func InvalidIdentity(what, reason string) *CounterError {
	return NewCounterError(ErrCodeInvalidIdentity, fmt.Sprintf("invalid identity %s: %s", what, reason), nil).
		WithDetail("value", what).
		WithDetail("reason", reason)
}

// InvalidValue reports a payload that cannot be written to key
func InvalidValue(key string, cause error) *CounterError {
	return NewCounterError(ErrCodeInvalidValue, fmt.Sprintf("value for %s cannot be stored", key), cause).
		WithDetail("key", key)
}

func UnsupportedInTopology(operation, mode string) *CounterError {
	return NewCounterError(ErrCodeUnsupportedInTopology,
		fmt.Sprintf("%s is not supported in %s topology", operation, mode), nil).
		WithDetail("operation", operation).
		WithDetail("mode", mode)
}

func StoreUnavailable(message string, cause error) *CounterError {
	return NewCounterError(ErrCodeStoreUnavailable, message, cause)
}

func CommandFailed(message string, cause error) *CounterError {
	return NewCounterError(ErrCodeCommandFailed, message, cause)
}

func CorruptedValue(key, raw string, cause error) *CounterError {
	return NewCounterError(ErrCodeCorruptedValue, fmt.Sprintf("value at %s is not a counter", key), cause).
		WithDetail("key", key).
		WithDetail("raw", raw)
}

func DispatchRejected(operation string, cause error) *CounterError {
	return NewCounterError(ErrCodeDispatchRejected, fmt.Sprintf("fire-and-forget %s rejected", operation), cause).
		WithDetail("operation", operation)
}

// Classify wraps a raw client error into the taxonomy. Errors that are
// already CounterErrors pass through unchanged; redis.Nil is not an error
// at this layer and callers must handle it before calling Classify.
func Classify(operation, key string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CounterError
	if stderrors.As(err, &ce) {
		return err
	}

	var redisErr redis.Error
	if stderrors.As(err, &redisErr) && !isNetwork(err) {
		return CommandFailed(fmt.Sprintf("%s %s", operation, key), err).
			WithDetail("operation", operation).
			WithDetail("key", key)
	}
	return StoreUnavailable(fmt.Sprintf("%s %s", operation, key), err).
		WithDetail("operation", operation).
		WithDetail("key", key)
}

func isNetwork(err error) bool {
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return true
	}
	return stderrors.Is(err, io.EOF) ||
		stderrors.Is(err, context.DeadlineExceeded) ||
		stderrors.Is(err, redis.ErrClosed)
}

// IsCounterError checks if an error is a CounterError
func IsCounterError(err error) bool {
	var ce *CounterError
	return stderrors.As(err, &ce)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var ce *CounterError
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	return ErrCodeStoreUnavailable
}

// IsCode reports whether err carries the given code
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

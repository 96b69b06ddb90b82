package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrorType represents different categories of errors
type ErrorType int

const (
	// ErrorTypeUnknown represents an unknown error
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeNetwork represents network-related errors
	ErrorTypeNetwork
	// ErrorTypeAuthentication represents authentication-related errors
	ErrorTypeAuthentication
	// ErrorTypeValidation represents request validation errors
	ErrorTypeValidation
	// ErrorTypeNotFound represents missing worlds or instances
	ErrorTypeNotFound
	// ErrorTypeConflict represents lifecycle state conflicts
	ErrorTypeConflict
	// ErrorTypeLocked represents mutations rejected because the world is live
	ErrorTypeLocked
	// ErrorTypeAPI represents other API errors
	ErrorTypeAPI
)

// LockWorldState mirrors the lock verdict the platform attaches to a locked
// rejection.
type LockWorldState struct {
	Editable    bool   `json:"editable"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
	InstanceURL string `json:"instanceUrl,omitempty"`
	InstanceID  string `json:"instanceId,omitempty"`
}

// Error represents a structured error with type information. Locked errors
// additionally carry the world's lock verdict.
type Error struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Cause      error
	Lock       *LockWorldState
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsType checks if the error is of a specific type
func (e *Error) IsType(errorType ErrorType) bool {
	return e.Type == errorType
}

// NewError creates a new Error with the specified type and message
func NewError(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
	}
}

// NewErrorWithCause creates a new Error with the specified type, message, and underlying cause
func NewErrorWithCause(errorType ErrorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewNetworkError creates a network-related error
func NewNetworkError(message string, cause error) *Error {
	return NewErrorWithCause(ErrorTypeNetwork, message, cause)
}

// IsNetworkError checks if an error is network-related
func IsNetworkError(err error) bool {
	if cErr, ok := err.(*Error); ok {
		return cErr.IsType(ErrorTypeNetwork)
	}
	return false
}

// IsAuthenticationError checks if an error is authentication-related
func IsAuthenticationError(err error) bool {
	if cErr, ok := err.(*Error); ok {
		return cErr.IsType(ErrorTypeAuthentication)
	}
	return false
}

// IsNotFoundError checks if an error reports a missing world or instance
func IsNotFoundError(err error) bool {
	if cErr, ok := err.(*Error); ok {
		return cErr.IsType(ErrorTypeNotFound)
	}
	return false
}

// IsConflictError checks if an error reports a lifecycle state conflict
func IsConflictError(err error) bool {
	if cErr, ok := err.(*Error); ok {
		return cErr.IsType(ErrorTypeConflict)
	}
	return false
}

// IsLockedError checks if an error reports a world locked by a live instance
func IsLockedError(err error) bool {
	if cErr, ok := err.(*Error); ok {
		return cErr.IsType(ErrorTypeLocked)
	}
	return false
}

// IsValidationError checks if an error is validation-related
func IsValidationError(err error) bool {
	if cErr, ok := err.(*Error); ok {
		return cErr.IsType(ErrorTypeValidation)
	}
	return false
}

// LockInfo returns the lock verdict attached to a locked error, or nil when
// the error is not a locked rejection.
func LockInfo(err error) *LockWorldState {
	if cErr, ok := err.(*Error); ok && cErr.Type == ErrorTypeLocked {
		return cErr.Lock
	}
	return nil
}

// responseError converts a non-200 response into an appropriate Error type,
// consuming the body for detail. Locked responses carry a JSON lock verdict;
// everything else carries a plain-text message.
func responseError(resp *http.Response, message string) *Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode == http.StatusLocked {
		lockErr := &Error{
			Type:       ErrorTypeLocked,
			Message:    fmt.Sprintf("%s: world is locked", message),
			StatusCode: resp.StatusCode,
		}
		var lock LockWorldState
		if err := json.Unmarshal(body, &lock); err == nil {
			lockErr.Lock = &lock
			if lock.Reason != "" {
				lockErr.Message = fmt.Sprintf("%s: %s", message, lock.Reason)
			}
		}
		return lockErr
	}

	detail := strings.TrimSpace(string(body))
	if detail == "" {
		detail = resp.Status
	}
	full := fmt.Sprintf("%s: %s", message, detail)

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &Error{Type: ErrorTypeAuthentication, Message: full, StatusCode: resp.StatusCode}
	case http.StatusBadRequest:
		return &Error{Type: ErrorTypeValidation, Message: full, StatusCode: resp.StatusCode}
	case http.StatusNotFound:
		return &Error{Type: ErrorTypeNotFound, Message: full, StatusCode: resp.StatusCode}
	case http.StatusConflict:
		return &Error{Type: ErrorTypeConflict, Message: full, StatusCode: resp.StatusCode}
	default:
		return &Error{Type: ErrorTypeAPI, Message: full, StatusCode: resp.StatusCode}
	}
}

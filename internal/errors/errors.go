// Package errors provides error codes shared by the queue, the store and the agent API.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique error code surfaced to API clients.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	ErrConfig     ErrorCode = "CONFIG_ERROR"

	// Persistence errors. Never fatal for the queue.
	ErrStorage ErrorCode = "STORAGE_ERROR"

	// Replay errors
	ErrTransport ErrorCode = "TRANSPORT_ERROR"
	ErrRejected  ErrorCode = "REJECTED"
	ErrOffline   ErrorCode = "OFFLINE"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Coder is implemented by errors of other packages that map to a code.
type Coder interface {
	ErrorCode() ErrorCode
}

// ErrorCode lets an AppError satisfy Coder.
func (e *AppError) ErrorCode() ErrorCode {
	return e.Code
}

// Is checks if an error, or any error it wraps, carries the given code.
func Is(err error, code ErrorCode) bool {
	var c Coder
	if stderrors.As(err, &c) {
		return c.ErrorCode() == code
	}
	return false
}

// CodeOf returns the code of the first coded error in the chain, or ErrInternal.
func CodeOf(err error) ErrorCode {
	var c Coder
	if stderrors.As(err, &c) {
		return c.ErrorCode()
	}
	return ErrInternal
}

// MessageOf returns the message of the first AppError in the chain, or err's text.
func MessageOf(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

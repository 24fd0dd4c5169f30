package errors

import (
	"fmt"

	"github.com/valyala/fasthttp"
)

// StatusError is an error that carries the HTTP status it should be answered with
type StatusError interface {
	error
	StatusCode() int
}

type baseError struct {
	message string
}

func (e *baseError) Error() string {
	return e.message
}

// ValidationError represents a malformed request (HTTP 400)
type ValidationError struct {
	baseError
}

func (e *ValidationError) StatusCode() int { return fasthttp.StatusBadRequest }

func NewValidationError(message string) *ValidationError {
	return &ValidationError{baseError{message: message}}
}

func NewValidationErrorf(format string, args ...any) *ValidationError {
	return NewValidationError(fmt.Sprintf(format, args...))
}

// NotFoundError represents a missing channel, user or account (HTTP 404)
type NotFoundError struct {
	baseError
}

func (e *NotFoundError) StatusCode() int { return fasthttp.StatusNotFound }

func NewNotFoundError(message string) *NotFoundError {
	return &NotFoundError{baseError{message: message}}
}

func NewNotFoundErrorf(format string, args ...any) *NotFoundError {
	return NewNotFoundError(fmt.Sprintf(format, args...))
}

// ConflictError represents an operation that clashes with the current state (HTTP 409)
type ConflictError struct {
	baseError
}

func (e *ConflictError) StatusCode() int { return fasthttp.StatusConflict }

func NewConflictError(message string) *ConflictError {
	return &ConflictError{baseError{message: message}}
}

func NewConflictErrorf(format string, args ...any) *ConflictError {
	return NewConflictError(fmt.Sprintf(format, args...))
}

// ServiceUnavailableError represents missing capacity such as no usable account (HTTP 503)
type ServiceUnavailableError struct {
	baseError
}

func (e *ServiceUnavailableError) StatusCode() int { return fasthttp.StatusServiceUnavailable }

func NewServiceUnavailableError(message string) *ServiceUnavailableError {
	return &ServiceUnavailableError{baseError{message: message}}
}

// InternalError represents an unexpected failure (HTTP 500)
type InternalError struct {
	baseError
}

func (e *InternalError) StatusCode() int { return fasthttp.StatusInternalServerError }

func NewInternalError(message string) *InternalError {
	return &InternalError{baseError{message: message}}
}

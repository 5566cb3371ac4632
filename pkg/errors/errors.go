// Package errors provides a structured error taxonomy for the event-processing
// core, mirroring the transient/validation/fatal distinctions the pipeline's
// error handling design relies on.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies a class of failure.
type ErrorCode string

const (
	// Transient errors are safe to retry with backoff (broker, DB, LLM, chat).
	ErrCodeTransientIO ErrorCode = "TRANSIENT_1001"

	// ClassificationUnavailable means the LLM-backed capability failed; a
	// deterministic fallback verdict was used instead and processing
	// continues normally.
	ErrCodeClassificationUnavailable ErrorCode = "CLASSIFY_2001"

	// Validation errors mark malformed or poison-pill input that must be
	// acknowledged (not retried) so it doesn't block the stream.
	ErrCodeValidation ErrorCode = "VALIDATION_3001"

	// RateLimited marks a dropped-not-failed notification attempt.
	ErrCodeRateLimited ErrorCode = "RATE_4001"

	// UnknownAction marks a rule action_type the executor doesn't recognize.
	ErrCodeUnknownAction ErrorCode = "ACTION_5001"

	// Fatal errors mean the process must refuse to start.
	ErrCodeFatalConfig ErrorCode = "FATAL_9001"

	ErrCodeNotFound ErrorCode = "RES_4004"
	ErrCodeInternal ErrorCode = "SVC_5000"
)

// PipelineError is a structured error carrying a code, an optional HTTP
// status for surfaces that render one, and the wrapped cause.
type PipelineError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// WithDetails attaches a structured detail field and returns the error for chaining.
func (e *PipelineError) WithDetails(key string, value interface{}) *PipelineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func New(code ErrorCode, message string, httpStatus int) *PipelineError {
	return &PipelineError{Code: code, Message: message, HTTPStatus: httpStatus}
}

func Wrap(code ErrorCode, message string, httpStatus int, err error) *PipelineError {
	return &PipelineError{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

// Transient wraps a retryable I/O failure (broker/DB/LLM/chat).
func Transient(operation string, err error) *PipelineError {
	return Wrap(ErrCodeTransientIO, "transient I/O failure", http.StatusServiceUnavailable, err).
		WithDetails("operation", operation)
}

// Validation marks a malformed payload that must be acked, not retried.
func Validation(reason string) *PipelineError {
	return New(ErrCodeValidation, reason, http.StatusBadRequest)
}

// RateLimited marks a silently-dropped notification.
func RateLimited(recipient string) *PipelineError {
	return New(ErrCodeRateLimited, "recipient is over its notification window", http.StatusTooManyRequests).
		WithDetails("recipient", recipient)
}

// UnknownAction marks an unrecognized rule action type.
func UnknownAction(actionType string) *PipelineError {
	return New(ErrCodeUnknownAction, "unknown action", http.StatusUnprocessableEntity).
		WithDetails("action_type", actionType)
}

// FatalConfig marks a startup-blocking configuration error.
func FatalConfig(message string, err error) *PipelineError {
	return Wrap(ErrCodeFatalConfig, message, 0, err)
}

func NotFound(resource, id string) *PipelineError {
	return New(ErrCodeNotFound, "resource not found", http.StatusNotFound).
		WithDetails("resource", resource).WithDetails("id", id)
}

func Internal(message string, err error) *PipelineError {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

// IsTransient reports whether err (or a cause in its chain) is a transient
// I/O failure eligible for the bounded-retry path.
func IsTransient(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code == ErrCodeTransientIO
	}
	return false
}

// Code extracts the ErrorCode from err, or "" if err isn't a PipelineError.
func Code(err error) ErrorCode {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

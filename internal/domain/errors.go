package domain

import (
	"errors"
	"fmt"
)

// Code classifies an engine error. The dispatcher and the HTTP layer branch on
// codes, never on error text, so retryability stays a typed decision.
type Code string

const (
	CodeValidation        Code = "validation"
	CodeInvalidState      Code = "invalid_state"
	CodeInvalidTransition Code = "invalid_transition"
	CodeConflict          Code = "conflict"
	CodeAgentBusy         Code = "agent_busy"
	CodeQueueFull         Code = "queue_full"
	CodeDuplicateCallback Code = "duplicate_callback"
	CodeGateway           Code = "gateway"
	CodeNotFound          Code = "not_found"
	CodeInternal          Code = "internal"
)

// Error is the only error type crossing package boundaries in the engine.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func E(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the code from err, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// Retryable reports whether the external task layer may retry the triggering
// operation. Only provider failures qualify; everything else is either the
// caller's fault or a domain rule.
func Retryable(err error) bool {
	return CodeOf(err) == CodeGateway
}

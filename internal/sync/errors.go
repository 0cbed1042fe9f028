package sync

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionUnavailable indicates the primary store cannot be reached.
	ErrConnectionUnavailable = errors.New("primary connection unavailable")

	// ErrInvalidOperation indicates a malformed operation, unknown entity
	// collection or malformed payload. Raised before any write.
	ErrInvalidOperation = errors.New("invalid sync operation")

	// ErrConstraintViolation indicates the store rejected a write. The whole
	// call was rolled back.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrDispatchFailed indicates a listener failed after the transaction
	// committed.
	ErrDispatchFailed = errors.New("event dispatch failed")
)

// OperationError describes why one operation (or one of its payloads) was
// rejected. Payload is -1 when the whole operation is at fault.
type OperationError struct {
	Index   int    `json:"index"`
	Key     string `json:"key"`
	Entity  string `json:"entity,omitempty"`
	Payload int    `json:"payload"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e OperationError) Error() string {
	if e.Payload < 0 {
		if e.Entity != "" {
			return fmt.Sprintf("%s %s: %s", e.Key, e.Entity, e.Message)
		}
		return fmt.Sprintf("%s: %s", e.Key, e.Message)
	}
	if e.Field != "" {
		return fmt.Sprintf("%s[%d] %s.%s: %s", e.Key, e.Payload, e.Entity, e.Field, e.Message)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s[%d] %s: %s", e.Key, e.Payload, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Key, e.Message)
}

// OperationErrors collects every rejected operation of a call.
type OperationErrors struct {
	Errors []OperationError `json:"errors"`
}

// Error implements the error interface.
func (e OperationErrors) Error() string {
	if len(e.Errors) == 0 {
		return ErrInvalidOperation.Error()
	}
	if len(e.Errors) == 1 {
		return ErrInvalidOperation.Error() + ": " + e.Errors[0].Error()
	}
	return fmt.Sprintf("%s: %s (and %d more)", ErrInvalidOperation, e.Errors[0].Error(), len(e.Errors)-1)
}

// Unwrap returns ErrInvalidOperation for errors.Is() compatibility.
func (e OperationErrors) Unwrap() error {
	return ErrInvalidOperation
}

// ConstraintError carries the row that tripped a store constraint.
type ConstraintError struct {
	Entity string
	Key    string
	Cause  error
}

// Error implements the error interface.
func (e *ConstraintError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", ErrConstraintViolation, e.Entity, e.Key, e.Cause)
}

// Unwrap supports errors.Is for both the sentinel and the driver cause.
func (e *ConstraintError) Unwrap() []error {
	return []error{ErrConstraintViolation, e.Cause}
}

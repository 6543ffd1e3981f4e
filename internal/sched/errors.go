package sched

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates a malformed or cross-referentially wrong payload.
	ErrValidation = errors.New("sched: validation failed")
	// ErrForbidden indicates the device does not own the referenced book.
	ErrForbidden = errors.New("sched: device not authorized for book")
	// ErrNotFound indicates the entity is absent or soft-deleted.
	ErrNotFound = errors.New("sched: not found")
	// ErrBatchTooLarge indicates the batch exceeds the item-count ceiling.
	ErrBatchTooLarge = errors.New("sched: batch exceeds item ceiling")
)

// ConflictError reports an optimistic-lock miss. It always carries the
// server's authoritative version and payload so the client can resolve
// without a second round-trip.
type ConflictError struct {
	EntityType    string
	EntityID      string
	ServerVersion int64
	ServerData    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("sched: version conflict on %s %s, server version %d",
		e.EntityType, e.EntityID, e.ServerVersion)
}

// AsConflict unwraps a ConflictError from an error chain.
func AsConflict(err error) (*ConflictError, bool) {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return conflict, true
	}
	return nil, false
}

// ServiceError carries a dotted operation.reason code for log correlation.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation.reason identifier.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

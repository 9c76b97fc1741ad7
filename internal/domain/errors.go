package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies failures that cross a component boundary.
type ErrorKind string

const (
	KindConflict        ErrorKind = "conflict"
	KindSchemaConflict  ErrorKind = "schema_conflict"
	KindNotFound        ErrorKind = "not_found"
	KindInvalidArgument ErrorKind = "invalid_argument"
	KindInvalidState    ErrorKind = "invalid_state"
	KindUnavailable     ErrorKind = "unavailable"
	KindInternal        ErrorKind = "internal"
)

// Error is a structured failure carrying a kind and a human-readable message.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewConflictError reports a request that collides with current state,
// such as a second trigger while a datasource already has an active job.
func NewConflictError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// NewSchemaConflictError reports an attempt to redefine an immutable collection schema.
func NewSchemaConflictError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindSchemaConflict, Message: fmt.Sprintf(format, args...)}
}

// NewNotFoundError reports a missing entity.
func NewNotFoundError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewInvalidArgumentError reports a malformed request.
func NewInvalidArgumentError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// NewInvalidStateError reports an operation that is not allowed in the entity's current state.
func NewInvalidStateError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err. Errors without an explicit kind are
// reported as unavailable when systemic and internal otherwise.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrCollectionNotFound) {
		return KindNotFound
	}
	if IsSystemic(err) {
		return KindUnavailable
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

var (
	// ErrTransient marks I/O failures worth retrying (timeouts, 5xx, throttling).
	ErrTransient = errors.New("transient failure")
	// ErrSourceUnavailable marks an unreachable relational source.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrVectorStoreUnavailable marks an unreachable vector store.
	ErrVectorStoreUnavailable = errors.New("vector store unavailable")
	// ErrAuth marks rejected credentials against any external service.
	ErrAuth = errors.New("authentication failed")
	// ErrDimensionMismatch marks an embedding whose length differs from the collection's vector size.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrEmbeddingFailed marks a per-payload embedding failure.
	ErrEmbeddingFailed = errors.New("embedding failed")
	// ErrClassifierFailed marks an AI classifier failure.
	ErrClassifierFailed = errors.New("classifier failed")
	// ErrCollectionNotFound is returned by vector store gateways for unknown collections.
	ErrCollectionNotFound = errors.New("collection not found")
)

// IsSystemic reports whether err must abort a sync job rather than be
// recorded against a single row.
func IsSystemic(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrSourceUnavailable) ||
		errors.Is(err, ErrVectorStoreUnavailable) ||
		errors.Is(err, ErrAuth) ||
		errors.Is(err, ErrDimensionMismatch) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	return err != nil && errors.Is(err, ErrTransient) && !errors.Is(err, ErrAuth)
}

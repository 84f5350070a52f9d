// Package apperrors defines the error taxonomy shared by every service in
// the core. Services never panic or throw across a boundary; they return a
// *Error carrying a stable Type the transport layer maps to a status code.
package apperrors

import (
	"errors"
	"fmt"
)

// Type is one of the fixed error categories the core recognizes.
type Type string

const (
	Validation     Type = "validation"
	NotFound       Type = "not_found"
	Conflict       Type = "conflict"
	Unauthorized   Type = "unauthorized"
	Forbidden      Type = "forbidden"
	Repository     Type = "repository"
	EmbeddingError Type = "embedding_service"
	ExternalError  Type = "external_service"
	Configuration  Type = "configuration"
)

// Error is the structured error every service returns instead of throwing.
type Error struct {
	ErrType Type
	Message string
	Context map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.ErrType, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.ErrType, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(t Type, msg string, wrapped error, ctx map[string]any) *Error {
	return &Error{ErrType: t, Message: msg, Context: ctx, Err: wrapped}
}

// Validation-level constructors. These map to HTTP 400 at the boundary.
func NewValidation(msg string, ctx map[string]any) *Error { return newErr(Validation, msg, nil, ctx) }

// NewNotFound describes a missing resource. Maps to HTTP 404.
func NewNotFound(kind, id string) *Error {
	return newErr(NotFound, fmt.Sprintf("%s not found: %s", kind, id), nil, map[string]any{"kind": kind, "id": id})
}

// NewConflict describes an idempotency or uniqueness violation. Maps to HTTP 409.
func NewConflict(msg string, ctx map[string]any) *Error { return newErr(Conflict, msg, nil, ctx) }

// NewRepository wraps a store/index failure. Maps to HTTP 500.
func NewRepository(op string, err error) *Error {
	return newErr(Repository, "repository operation failed", err, map[string]any{"operation": op})
}

// NewEmbedding wraps a model load/inference failure. Maps to HTTP 500.
func NewEmbedding(op string, err error) *Error {
	return newErr(EmbeddingError, "embedding service failed", err, map[string]any{"operation": op})
}

// NewExternal wraps a webhook/remote-retrieval failure. Never fails the
// originating operation; callers log it and move on.
func NewExternal(op string, err error) *Error {
	return newErr(ExternalError, "external service failed", err, map[string]any{"operation": op})
}

// NewConfiguration describes an invalid config value at load time.
func NewConfiguration(msg string, ctx map[string]any) *Error {
	return newErr(Configuration, msg, nil, ctx)
}

// As attempts to recover a *Error from a generic error chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeDatabase represents storage I/O failures (retryable)
	ErrorTypeDatabase ErrorType = "database"
	// ErrorTypeGraphBackend represents native-graph backend failures (retryable)
	ErrorTypeGraphBackend ErrorType = "graph_backend"
	// ErrorTypeEntityNotFound represents references to ids that do not exist
	ErrorTypeEntityNotFound ErrorType = "entity_not_found"
	// ErrorTypeResolutionFailed represents resolver/fusion invariant violations
	ErrorTypeResolutionFailed ErrorType = "resolution_failed"
	// ErrorTypeInvalidEntityType represents unrecognized entity type input
	ErrorTypeInvalidEntityType ErrorType = "invalid_entity_type"
	// ErrorTypeSerialization represents malformed properties/metadata payloads
	ErrorTypeSerialization ErrorType = "serialization"
	// ErrorTypeInternal represents unexpected/unclassified errors
	ErrorTypeInternal ErrorType = "internal"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Database Errors

// ErrDatabase is returned when a storage operation fails
type ErrDatabase struct {
	*BaseError
	Operation string
}

func NewDatabase(operation string, err error) *ErrDatabase {
	return &ErrDatabase{
		BaseError: NewBaseError(ErrorTypeDatabase, fmt.Sprintf("storage operation failed: %s", operation), err),
		Operation: operation,
	}
}

// Graph Backend Errors

// ErrGraphBackend is returned when the native graph backend fails
type ErrGraphBackend struct {
	*BaseError
	Query string
}

func NewGraphBackend(query string, err error) *ErrGraphBackend {
	return &ErrGraphBackend{
		BaseError: NewBaseError(ErrorTypeGraphBackend, "graph backend query failed", err),
		Query:     query,
	}
}

// Not-Found Errors

// ErrEntityNotFound is returned when a referenced entity id does not exist
type ErrEntityNotFound struct {
	*BaseError
	EntityID string
}

func NewEntityNotFound(entityID string) *ErrEntityNotFound {
	return &ErrEntityNotFound{
		BaseError: NewBaseError(ErrorTypeEntityNotFound, fmt.Sprintf("entity not found: %s", entityID), nil),
		EntityID:  entityID,
	}
}

// Resolution Errors

// ErrResolutionFailed is returned when a resolver or fusion invariant is violated
type ErrResolutionFailed struct {
	*BaseError
	EntityID string
	Reason   string
}

func NewResolutionFailed(entityID, reason string, err error) *ErrResolutionFailed {
	return &ErrResolutionFailed{
		BaseError: NewBaseError(ErrorTypeResolutionFailed, fmt.Sprintf("resolution failed for %s: %s", entityID, reason), err),
		EntityID:  entityID,
		Reason:    reason,
	}
}

// Input Errors

// ErrInvalidEntityType is returned for unrecognized entity type values
type ErrInvalidEntityType struct {
	*BaseError
	Value string
}

func NewInvalidEntityType(value string) *ErrInvalidEntityType {
	return &ErrInvalidEntityType{
		BaseError: NewBaseError(ErrorTypeInvalidEntityType, fmt.Sprintf("invalid entity type: %s", value), nil),
		Value:     value,
	}
}

// ErrSerialization is returned for malformed properties/metadata payloads
type ErrSerialization struct {
	*BaseError
	Field string
}

func NewSerialization(field string, err error) *ErrSerialization {
	return &ErrSerialization{
		BaseError: NewBaseError(ErrorTypeSerialization, fmt.Sprintf("malformed payload: %s", field), err),
		Field:     field,
	}
}

// ErrInternal is returned for unexpected failures
func NewInternal(message string, err error) *BaseError {
	return NewBaseError(ErrorTypeInternal, message, err)
}

// Helper functions

// ErrType reports the error category. Promoted into every typed error that
// embeds BaseError.
func (e *BaseError) ErrType() ErrorType {
	return e.Type
}

// TypeOf returns the error type of err, walking the wrap chain, or
// ErrorTypeInternal when err does not carry one.
func TypeOf(err error) ErrorType {
	for err != nil {
		if typed, ok := err.(interface{ ErrType() ErrorType }); ok {
			return typed.ErrType()
		}
		err = stderrors.Unwrap(err)
	}
	return ErrorTypeInternal
}

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	return TypeOf(err) == errType
}

// IsRetryable checks if an error is retryable. Storage and graph backend
// failures are; caller errors and invariant violations are not.
func IsRetryable(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeDatabase, ErrorTypeGraphBackend:
		return true
	default:
		return false
	}
}

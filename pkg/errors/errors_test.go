package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypeOf(t *testing.T) {
	assert.Equal(t, ErrorTypeDatabase, TypeOf(NewDatabase("upsert", errors.New("boom"))))
	assert.Equal(t, ErrorTypeGraphBackend, TypeOf(NewGraphBackend("MATCH", errors.New("boom"))))
	assert.Equal(t, ErrorTypeEntityNotFound, TypeOf(NewEntityNotFound("abc")))
	assert.Equal(t, ErrorTypeInvalidEntityType, TypeOf(NewInvalidEntityType("spaceship")))
	assert.Equal(t, ErrorTypeSerialization, TypeOf(NewSerialization("properties", errors.New("bad json"))))
	assert.Equal(t, ErrorTypeInternal, TypeOf(errors.New("plain")))
}

func TestTypeOfUnwrapsNestedErrors(t *testing.T) {
	wrapped := fmt.Errorf("while fusing: %w", NewEntityNotFound("abc"))
	assert.Equal(t, ErrorTypeEntityNotFound, TypeOf(wrapped))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewDatabase("upsert", errors.New("reset"))))
	assert.True(t, IsRetryable(NewGraphBackend("MATCH", errors.New("timeout"))))
	assert.False(t, IsRetryable(NewEntityNotFound("abc")))
	assert.False(t, IsRetryable(NewInvalidEntityType("spaceship")))
	assert.False(t, IsRetryable(NewResolutionFailed("abc", "no features", nil)))
}

func TestErrorMessageIncludesKindAndCause(t *testing.T) {
	err := NewDatabase("upsert entity", errors.New("connection reset"))
	assert.Contains(t, err.Error(), "database")
	assert.Contains(t, err.Error(), "connection reset")
	assert.ErrorContains(t, errors.Unwrap(err.BaseError), "connection reset")
}

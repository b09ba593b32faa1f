package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCustomErrors(t *testing.T) {
	err := NewDuplicateIdentityError("student 1 is detached").
		WithDetails(map[string]interface{}{"id": 1})

	assert.ErrorIs(t, err, ErrDuplicateIdentity)
	assert.Equal(t, "student 1 is detached", err.Error())
	assert.Equal(t, "DUPLICATE_IDENTITY", err.Code)
	assert.Equal(t, 1, err.Details["id"])

	wrapped := fmt.Errorf("persist: %w", NewNotFoundError("gone"))
	var custom *CustomError
	assert.True(t, errors.As(wrapped, &custom))
	assert.Equal(t, "NOT_FOUND", custom.Code)
	assert.ErrorIs(t, wrapped, ErrNotFound)
	assert.NotErrorIs(t, wrapped, ErrValidationFailed)

	assert.Equal(t, ErrCascadeConsistency.Error(), (&CustomError{Err: ErrCascadeConsistency}).Error())
	assert.Equal(t, "unknown error", (&CustomError{}).Error())
	validation := NewValidationError("bad")
	assert.ErrorIs(t, validation, ErrValidationFailed)
	assert.Equal(t, "VALIDATION_FAILED", validation.Code)
	assert.Equal(t, "bad", validation.Error())
	assert.ErrorIs(t, NewCascadeConsistencyError("bad"), ErrCascadeConsistency)
}

package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByCode(t *testing.T) {
	err := Clone(ErrInvalidState, "request is Approved")
	wrapped := fmt.Errorf("transition: %w", err)

	assert.True(t, errors.Is(wrapped, ErrInvalidState))
	assert.False(t, errors.Is(wrapped, ErrConflict))
}

func TestWithDetailsDoesNotMutateSentinel(t *testing.T) {
	err := WithDetails(ErrConflict, map[string]interface{}{"requestId": "r1"})

	assert.Equal(t, "r1", err.Details["requestId"])
	assert.Nil(t, ErrConflict.Details)
}

func TestFromErrorDefaultsToInternal(t *testing.T) {
	err := FromError(errors.New("boom"))
	assert.Equal(t, ErrInternal.Code, err.Code)
	assert.Equal(t, 500, err.Status)
	assert.Nil(t, FromError(nil))
}

package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap(t *testing.T) {
	err := Wrap(ErrValidation, "worker is required")
	assert.EqualError(t, err, "worker is required: validation error")
	assert.True(t, Is(err, ErrValidation))
	assert.False(t, Is(err, ErrConflict))
	assert.NoError(t, Wrap(nil, "ignored"))
}

package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	t.Run("nil error stays nil", func(t *testing.T) {
		assert.NoError(t, Wrap(nil, CodeInternal, "ignored"))
	})

	t.Run("keeps cause reachable", func(t *testing.T) {
		cause := errors.New("connection reset")
		err := Wrap(cause, CodeTransport, "publish notification")
		require.Error(t, err)
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, "publish notification: connection reset", err.Error())
	})
}

func TestHasCode(t *testing.T) {
	inner := New(CodeNotFound, "credit check not found")
	outer := Wrap(inner, CodeInternal, "load credit check")

	assert.True(t, HasCode(outer, CodeInternal))
	assert.True(t, HasCode(outer, CodeNotFound))
	assert.False(t, HasCode(outer, CodeConflict))
	assert.True(t, HasCode(fmt.Errorf("handler: %w", inner), CodeNotFound))
	assert.False(t, HasCode(errors.New("plain"), CodeNotFound))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeValidation, CodeOf(New(CodeValidation, "client_id is required")))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
	assert.Equal(t, CodeConflict, CodeOf(fmt.Errorf("wrapped: %w", New(CodeConflict, "terminal"))))
}

package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorString(t *testing.T) {
	t.Parallel()

	err := NewNotFound("tool echo", nil)
	assert.Equal(t, "not_found: tool echo", err.Error())

	wrapped := NewCallFailed("adapter failed", errors.New("exit status 1"))
	assert.Equal(t, "call_failed: adapter failed: exit status 1", wrapped.Error())
}

func TestUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := NewInternal("oops", cause)
	assert.ErrorIs(t, err, cause)
}

func TestPredicatesSeeThroughWrapping(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("saving artifact: %w", NewInvalidName("contains ..", nil))
	assert.True(t, IsInvalidName(err))
	assert.False(t, IsNotFound(err))
	assert.Equal(t, KindInvalidName, KindOf(err))
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", KindOf(nil))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Equal(t, KindTimeout, KindOf(NewTimeout("execution timed out after 5s", nil)))
}

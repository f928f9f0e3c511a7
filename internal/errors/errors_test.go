package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorString(t *testing.T) {
	err := Validation("reviewer_participants[1]", "participant must be provider#alias")
	assert.Contains(t, err.Error(), "validation_error")
	assert.Contains(t, err.Error(), "field=reviewer_participants[1]")
}

func TestWrapUnwrap(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Wrap(CodeWorkflowError, cause, "persist state")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, CodeWorkflowError, CodeOf(err))

	// Code survives further fmt wrapping.
	wrapped := fmt.Errorf("start task: %w", err)
	assert.Equal(t, CodeWorkflowError, CodeOf(wrapped))
}

func TestIsMatchesByCode(t *testing.T) {
	a := New(CodeConcurrencyLimit, "slot unavailable")
	b := New(CodeConcurrencyLimit, "different message")
	assert.ErrorIs(t, a, b)

	c := New(CodeCanceled, "")
	assert.NotErrorIs(t, a, c)
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, 404, New(CodeTaskNotFound, "").HTTPStatus())
	assert.Equal(t, 400, Validation("title", "required").HTTPStatus())
	assert.Equal(t, 409, New(CodeConcurrencyLimit, "").HTTPStatus())
	assert.Equal(t, 504, New(CodeCommandTimeout, "").HTTPStatus())
	assert.Equal(t, 500, New(CodeLoopNoProgress, "").HTTPStatus())
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(stderrors.New("plain")))
	assert.Nil(t, AsError(stderrors.New("plain")))
}

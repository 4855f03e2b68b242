package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_DerivedCopiesMatchSentinel(t *testing.T) {
	err := ErrNotFound.WithDetail("id", "abc")
	wrapped := fmt.Errorf("lookup: %w", err)

	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsConflict(wrapped))
	assert.Empty(t, ErrNotFound.Details, "sentinel must not be mutated")
	assert.Equal(t, http.StatusNotFound, ToHTTPStatus(wrapped))
}

func TestError_MessageDetailOverridesMessage(t *testing.T) {
	err := ErrValidation.WithDetail("message", "name is required")
	assert.Equal(t, "VALIDATION_ERROR: name is required", err.Error())

	withCause := Wrap(stderrors.New("bad"), ErrInternal)
	assert.Equal(t, "INTERNAL_ERROR: internal server error (caused by: bad)", withCause.Error())
	assert.Nil(t, Wrap(nil, ErrInternal))
}

func TestToErrorResponse(t *testing.T) {
	resp := ToErrorResponse(ErrConflict.WithDetail("message", "duplicate"))
	assert.Equal(t, "CONFLICT", resp.ErrorCode)
	assert.Equal(t, "resource conflict", resp.Error)
	assert.Equal(t, "duplicate", resp.Details["message"])

	plain := ToErrorResponse(stderrors.New("boom"))
	assert.Equal(t, "INTERNAL_ERROR", plain.ErrorCode)
	assert.Nil(t, plain.Details)
	assert.Equal(t, http.StatusInternalServerError, ToHTTPStatus(stderrors.New("boom")))
}

func TestRecoverPanic(t *testing.T) {
	assert.NoError(t, RecoverPanic(nil))

	err := RecoverPanic("boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic: boom")

	var appErr *Error
	require.True(t, stderrors.As(err, &appErr))
	assert.Equal(t, true, appErr.Details["panic"])
	assert.NotEmpty(t, appErr.Details["stack_trace"])

	cause := stderrors.New("nil map")
	assert.ErrorIs(t, RecoverPanic(cause), cause)
}

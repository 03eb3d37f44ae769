package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrUpstreamError, "upstream failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithProvider("api")

	assert.Equal(t, ErrUpstreamError, GetErrorCode(err))
	assert.True(t, IsRetryable(err))
	assert.True(t, errors.Is(err, root))
	assert.Contains(t, err.Error(), "upstream failed")
	assert.Contains(t, err.Error(), "root")
}

func TestError_IsMatchesByCode(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("request: %w", NewProviderNotFoundError("email"))

	assert.True(t, errors.Is(err, ErrProviderNotFoundSentinel))
	assert.False(t, errors.Is(err, ErrProviderMismatchSentinel))
	assert.True(t, IsErrorCode(err, ErrProviderNotFound))
	assert.Contains(t, err.Error(), "provider 'email' not found")
}

func TestError_Constructors(t *testing.T) {
	t.Parallel()

	mismatch := NewProviderMismatchError("c1", "api", "email")
	assert.Equal(t, ErrProviderMismatch, mismatch.Code)
	assert.Equal(t, "email", mismatch.Provider)
	assert.Contains(t, mismatch.Message, "bound to provider 'api'")

	missing := NewConversationNotFoundError("c9")
	assert.True(t, errors.Is(missing, ErrConversationNotFoundSentinel))
	assert.False(t, IsRetryable(missing))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
}

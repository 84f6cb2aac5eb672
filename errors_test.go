package inferrecovery_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	ir "github.com/ineyio/inferrecovery"
)

func TestErrorHelpers(t *testing.T) {
	assert.True(t, ir.IsFatal(ir.ErrAuthFailed))
	assert.True(t, ir.IsFatal(ir.ErrInvalidRequest))
	assert.True(t, ir.IsFatal(ir.ErrQuotaExceeded))
	assert.False(t, ir.IsFatal(ir.ErrRateLimited))
	assert.False(t, ir.IsFatal(errors.New("Network error")))

	assert.True(t, ir.IsRetryable(ir.ErrRateLimited))
	assert.True(t, ir.IsRetryable(fmt.Errorf("dial: %w", errors.New("connection refused"))))
	assert.False(t, ir.IsRetryable(ir.ErrAuthFailed))
	assert.False(t, ir.IsRetryable(ir.ErrQuotaExceeded))
}

func TestProviderError(t *testing.T) {
	t.Run("with status", func(t *testing.T) {
		err := &ir.ProviderError{Name: "RateLimitError", StatusCode: 429, Message: "slow down", Err: ir.ErrRateLimited}
		assert.Equal(t, "RateLimitError (429): slow down", err.Error())
		assert.ErrorIs(t, err, ir.ErrRateLimited)
		assert.Equal(t, "RateLimitError", err.ErrorName())
	})

	t.Run("message from wrapped error", func(t *testing.T) {
		err := &ir.ProviderError{Name: "TimeoutError", Err: context.DeadlineExceeded}
		assert.Equal(t, "TimeoutError: context deadline exceeded", err.Error())
	})

	t.Run("bare message", func(t *testing.T) {
		err := &ir.ProviderError{Message: "boom"}
		assert.Equal(t, "boom", err.Error())
	})
}

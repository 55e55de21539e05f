package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetry_SucceedsAfterTransientError(t *testing.T) {
	// Given: a function that fails twice then succeeds
	attempts := 0
	fn := func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	}

	// When: retrying
	err := Retry(context.Background(), fastRetry(3), fn)

	// Then: succeeds after 3 attempts
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_FailsAfterMaxRetries(t *testing.T) {
	// Given: a function that always fails
	attempts := 0
	cause := errors.New("persistent error")

	// When: retrying with limited retries
	err := Retry(context.Background(), fastRetry(2), func() error {
		attempts++
		return cause
	})

	// Then: fails with wrapped error after initial + 2 retries
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 3, attempts)
}

func TestRetry_StopsOnNonRetryableError(t *testing.T) {
	// Given: a predicate that only retries retryable AmanErrors
	cfg := fastRetry(5)
	cfg.RetryIf = IsRetryable
	attempts := 0

	// When: the function returns a validation error
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return New(ErrCodeInvalidFacet, "unknown facet", nil)
	})

	// Then: exactly one attempt is made and the error is returned unwrapped
	assert.Equal(t, 1, attempts)
	assert.Equal(t, ErrCodeInvalidFacet, GetCode(err))
	assert.NotContains(t, err.Error(), "retries")
}

func TestRetry_RespectsContextCancellation(t *testing.T) {
	// Given: a cancelled context
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attempts := 0

	// When: retrying
	err := Retry(ctx, fastRetry(3), func() error {
		attempts++
		return errors.New("never")
	})

	// Then: no attempt is made
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, attempts)
}

func TestRetryWithResult_ReturnsValue(t *testing.T) {
	// Given: a function that succeeds on the second call
	calls := 0

	// When: retrying
	v, err := RetryWithResult(context.Background(), fastRetry(2), func() (string, error) {
		calls++
		if calls == 1 {
			return "", New(ErrCodeObjectStore, "upload failed", nil)
		}
		return "ok", nil
	})

	// Then: the value of the successful attempt is returned
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestDefaultRetryConfig_HasSensibleDefaults(t *testing.T) {
	cfg := DefaultRetryConfig()

	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Greater(t, cfg.MaxDelay, cfg.InitialDelay)
	assert.Nil(t, cfg.RetryIf)
}

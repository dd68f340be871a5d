package apperr_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"storefront/backend/internal/apperr"
)

func TestIsTransient(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.False(t, apperr.IsTransient(nil))
	})

	t.Run("deadline exceeded", func(t *testing.T) {
		assert.True(t, apperr.IsTransient(context.DeadlineExceeded))
	})

	t.Run("pq deadlock", func(t *testing.T) {
		err := &pq.Error{Code: "40P01"}
		assert.True(t, apperr.IsTransient(err))
	})

	t.Run("pq constraint violation is not transient", func(t *testing.T) {
		err := &pq.Error{Code: "23505"}
		assert.False(t, apperr.IsTransient(err))
	})

	t.Run("wrapped pq error", func(t *testing.T) {
		err := fmt.Errorf("enqueue: %w", &pq.Error{Code: "53300"})
		assert.True(t, apperr.IsTransient(err))
	})

	t.Run("connection reset string", func(t *testing.T) {
		assert.True(t, apperr.IsTransient(errors.New("read tcp: connection reset by peer")))
	})

	t.Run("plain error", func(t *testing.T) {
		assert.False(t, apperr.IsTransient(errors.New("invalid payload")))
	})
}

func TestIsRetryable(t *testing.T) {
	t.Run("timeout error is retryable", func(t *testing.T) {
		err := apperr.Timeout("QUEUE_JOB_TIMEOUT", "handler exceeded deadline")
		assert.True(t, apperr.IsRetryable(err))
	})

	t.Run("circuit open is retryable", func(t *testing.T) {
		assert.True(t, apperr.IsRetryable(apperr.CircuitOpen("telegram")))
	})

	t.Run("wrapped app error keeps its flag", func(t *testing.T) {
		inner := apperr.New("BAD_REQUEST", 400, "nope")
		err := fmt.Errorf("dispatch: %w", inner)
		assert.False(t, apperr.IsRetryable(err))
	})

	t.Run("falls back to transient classifier", func(t *testing.T) {
		assert.True(t, apperr.IsRetryable(&pq.Error{Code: "40001"}))
	})
}

func TestErrorFormatting(t *testing.T) {
	base := errors.New("dial tcp: connection refused")
	err := apperr.Wrap("DB_UNAVAILABLE", "ping failed", base)

	assert.True(t, err.Retryable)
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "DB_UNAVAILABLE")
	assert.Contains(t, err.Error(), "ping failed")
}

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/transcript-refinery/internal/models"
)

func fastConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		IsRetryable:  func(error) bool { return true },
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return errors.New("always failing")
	})
	assert.ErrorIs(t, err, ErrMaxAttemptsExceeded)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "always failing")
}

func TestDoStopsOnPermanentError(t *testing.T) {
	cfg := fastConfig()
	cfg.IsRetryable = IsTransient

	calls := 0
	permanent := errors.New("invalid argument")
	err := Do(context.Background(), cfg, func() error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, fastConfig(), func() error {
		return errors.New("should not matter")
	})
	assert.ErrorIs(t, err, ErrContextCancelled)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", models.ErrRateLimited, true},
		{"wrapped rate limit", models.NewUpstreamError("youtube", models.ErrRateLimited), true},
		{"missing transcript is permanent", models.ErrTranscriptUnavailable, false},
		{"timeout message", errors.New("i/o timeout"), true},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"domain error", models.ErrInvalidState, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

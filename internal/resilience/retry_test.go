package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

// --- Do ---

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	t.Parallel()

	var calls int
	err := Do(context.Background(), DefaultRetryConfig(), func(_ context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_SuccessAfterRetry(t *testing.T) {
	t.Parallel()

	var calls int
	err := Do(context.Background(), fastRetry(), func(_ context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("temporary"), 503)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsRetries(t *testing.T) {
	t.Parallel()

	var calls int
	err := Do(context.Background(), fastRetry(), func(_ context.Context) error {
		calls++
		return NewTransientError(errors.New("always fails"), 500)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_NonTransientError_NoRetry(t *testing.T) {
	t.Parallel()

	var calls int
	err := Do(context.Background(), fastRetry(), func(_ context.Context) error {
		calls++
		return errors.New("document not found")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled_StopsRetry(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastRetry()
	cfg.InitialBackoff = time.Second
	cfg.MaxBackoff = time.Second

	var calls int
	start := time.Now()
	err := Do(ctx, cfg, func(_ context.Context) error {
		calls++
		cancel()
		return NewTransientError(errors.New("temporary"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDo_CustomShouldRetryAndOnRetry(t *testing.T) {
	t.Parallel()

	var retries []int
	cfg := fastRetry()
	cfg.ShouldRetry = func(err error) bool { return err.Error() == "again" }
	cfg.OnRetry = func(attempt int, _ error) { retries = append(retries, attempt) }

	err := Do(context.Background(), cfg, func(_ context.Context) error { return errors.New("again") })
	require.Error(t, err)
	assert.Equal(t, []int{1, 2}, retries)
}

// --- DoVal ---

func TestDoVal(t *testing.T) {
	t.Parallel()

	var calls int
	got, err := DoVal(context.Background(), fastRetry(), func(_ context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", NewTransientError(errors.New("busy"), 429)
		}
		return "payload", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "payload", got)

	got, err = DoVal(context.Background(), fastRetry(), func(_ context.Context) (string, error) {
		return "partial", errors.New("bad request")
	})
	require.Error(t, err)
	assert.Empty(t, got)
}

// --- Backoff ---

func TestDo_HonorsRetryAfterUpToMaxBackoff(t *testing.T) {
	t.Parallel()

	cfg := RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: 50 * time.Millisecond, Multiplier: 2}
	var calls int
	start := time.Now()
	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		if calls == 1 {
			return NewTransientError(&StatusError{StatusCode: 429, RetryAfter: time.Hour}, 429)
		}
		return nil
	})
	require.NoError(t, err)
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 5*time.Second)
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	cfg := RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, backoff(0, cfg))
	assert.Equal(t, 200*time.Millisecond, backoff(1, cfg))
	assert.Equal(t, 400*time.Millisecond, backoff(2, cfg))
	assert.Equal(t, time.Second, backoff(10, cfg), "capped at max")

	cfg.JitterFraction = 0.5
	for range 50 {
		d := backoff(0, cfg)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestWithAttempts(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 5, DefaultRetryConfig().WithAttempts(5).MaxAttempts)
	assert.Equal(t, 3, DefaultRetryConfig().WithAttempts(0).MaxAttempts)
}

func TestRetryLogger(t *testing.T) {
	t.Parallel()
	RetryLogger("fetch_interpretation", "doc-1")(1, errors.New("test error"))
}

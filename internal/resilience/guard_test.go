package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("connection reset")

func newTestGuard(cfg Config) *Guard {
	logger, _ := test.NewNullLogger()
	cfg.RetryBackoff = time.Millisecond
	return NewGuard(cfg, logger)
}

func TestCallRetriesUntilSuccess(t *testing.T) {
	g := newTestGuard(Config{Name: "db", MaxRetries: 3})
	calls := 0
	got, err := Call(context.Background(), g, "FindOrders", func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errFlaky
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestCallGivesUpAfterMaxRetries(t *testing.T) {
	g := newTestGuard(Config{Name: "db", MaxRetries: 2, FailureThreshold: 100})
	calls := 0
	err := g.Do(context.Background(), "UpsertRecord", func(context.Context) error {
		calls++
		return errFlaky
	})
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, calls)
}

func TestCallSkipsRetryForPermanentErrors(t *testing.T) {
	permanent := errors.New("unique violation")
	g := newTestGuard(Config{
		Name:       "db",
		MaxRetries: 5,
		Retryable:  func(err error) bool { return !errors.Is(err, permanent) },
	})
	calls := 0
	err := g.Do(context.Background(), "CreateOrder", func(context.Context) error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	g := newTestGuard(Config{Name: "db", MaxRetries: 0, FailureThreshold: 2, OpenTimeout: time.Minute})
	fail := func(context.Context) error { return errFlaky }

	assert.ErrorIs(t, g.Do(context.Background(), "op", fail), errFlaky)
	assert.ErrorIs(t, g.Do(context.Background(), "op", fail), errFlaky)
	assert.Equal(t, gobreaker.StateOpen, g.State())

	called := false
	err := g.Do(context.Background(), "op", func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestAttemptTimeout(t *testing.T) {
	g := newTestGuard(Config{Name: "db", CallTimeout: 10 * time.Millisecond, MaxRetries: 1})
	calls := 0
	err := g.Do(context.Background(), "slow", func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, calls, "a per-attempt timeout is retried while the caller waits")
}

func TestCallStopsWhenCallerCancels(t *testing.T) {
	g := newTestGuard(Config{Name: "db", MaxRetries: 10})
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := g.Do(ctx, "op", func(context.Context) error {
		calls++
		cancel()
		return errFlaky
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

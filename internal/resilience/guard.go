package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned without calling through while the circuit is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Default configuration values
const (
	DefaultCallTimeout      = 10 * time.Second
	DefaultMaxRetries       = 3
	DefaultRetryBackoff     = 200 * time.Millisecond
	DefaultMaxBackoff       = 5 * time.Second
	DefaultFailureThreshold = 5
	DefaultOpenTimeout      = 30 * time.Second
)

// Config tunes a Guard
type Config struct {
	Name             string
	CallTimeout      time.Duration // per attempt
	MaxRetries       int           // attempts after the first
	RetryBackoff     time.Duration // first delay, doubled per attempt
	MaxBackoff       time.Duration
	FailureThreshold uint32        // consecutive failures that open the circuit
	OpenTimeout      time.Duration // how long the circuit stays open
	// Retryable classifies errors; nil retries everything but cancellation and open circuits
	Retryable func(error) bool
}

func (c Config) withDefaults() Config {
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = DefaultOpenTimeout
	}
	return c
}

// Guard runs calls to an external dependency with a per-attempt timeout,
// bounded retry with exponential backoff and a circuit breaker
type Guard struct {
	cfg    Config
	cb     *gobreaker.CircuitBreaker
	logger logrus.FieldLogger
}

// NewGuard creates a new Guard
func NewGuard(cfg Config, logger logrus.FieldLogger) *Guard {
	cfg = cfg.withDefaults()
	g := &Guard{cfg: cfg, logger: logger}
	g.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// A caller giving up is not a dependency failure
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"module":  "resilience",
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	})
	return g
}

// State returns the current breaker state
func (g *Guard) State() gobreaker.State {
	return g.cb.State()
}

// Name returns the guarded dependency name
func (g *Guard) Name() string {
	return g.cfg.Name
}

// Do runs fn through the guard
func (g *Guard) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, g, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Call runs fn through the guard and returns its result
func Call[T any](ctx context.Context, g *Guard, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	delay := g.cfg.RetryBackoff
	var lastErr error

	for n := 0; n <= g.cfg.MaxRetries; n++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := attempt(ctx, g, fn)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !g.retryable(ctx, err) || n == g.cfg.MaxRetries {
			break
		}

		g.logger.WithFields(logrus.Fields{
			"module":  "resilience",
			"breaker": g.cfg.Name,
			"op":      op,
			"attempt": n + 1,
			"delay":   delay.String(),
		}).WithError(err).Debug("retrying call")

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > g.cfg.MaxBackoff {
			delay = g.cfg.MaxBackoff
		}
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	return zero, fmt.Errorf("%s %s: %w", g.cfg.Name, op, lastErr)
}

func attempt[T any](ctx context.Context, g *Guard, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	defer cancel()

	out, err := g.cb.Execute(func() (interface{}, error) {
		return fn(callCtx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return zero, ErrCircuitOpen
	}
	if err != nil {
		return zero, err
	}
	result, _ := out.(T)
	return result, nil
}

func (g *Guard) retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}
	if g.cfg.Retryable != nil {
		return g.cfg.Retryable(err)
	}
	return true
}

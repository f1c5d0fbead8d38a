package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/timmy/tunematch/internal/logger"
	"github.com/timmy/tunematch/internal/metrics"
)

// ThrottleConfig bounds how an external backend is called.
type ThrottleConfig struct {
	Name            string
	MaxConcurrent   int
	MinInterval     time.Duration
	Timeout         time.Duration
	RetryCount      int
	RetryBackoff    time.Duration
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// DefaultThrottleConfig allows 5 calls in flight, started at least 50ms apart.
func DefaultThrottleConfig(name string) ThrottleConfig {
	return ThrottleConfig{
		Name:            name,
		MaxConcurrent:   5,
		MinInterval:     50 * time.Millisecond,
		Timeout:         30 * time.Second,
		RetryCount:      3,
		RetryBackoff:    500 * time.Millisecond,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

// Throttle schedules calls to one backend: a semaphore caps calls in flight,
// a rate limiter spaces their starts, a circuit breaker stops hammering a dead
// backend, and transient failures are retried with exponential backoff.
type Throttle struct {
	cfg     ThrottleConfig
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[struct{}]
	metrics *metrics.Recorder
}

func NewThrottle(cfg ThrottleConfig, rec *metrics.Recorder) *Throttle {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	t := &Throttle{
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		limiter: rate.NewLimiter(limit, 1),
		metrics: rec,
	}
	t.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    cfg.Name,
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Invalid input is the caller's problem, not the backend's.
		IsSuccessful: func(err error) bool {
			return err == nil || !isRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Embedding backend circuit breaker changed state: name=%s, from=%s, to=%s", name, from, to)
		},
	})
	return t
}

// Do runs fn under the throttle, retrying retryable failures.
func (t *Throttle) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = t.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) || attempt >= t.cfg.RetryCount || ctx.Err() != nil {
			return err
		}

		backoff := t.cfg.RetryBackoff << attempt
		logger.CtxWarn(ctx, "Embedding backend call failed, retrying: name=%s, attempt=%d, backoff=%s, error=%v",
			t.cfg.Name, attempt+1, backoff, err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-timer.C:
		}
	}
}

func (t *Throttle) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer t.sem.Release(1)

	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}

	callCtx := ctx
	if t.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	_, err := t.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, fn(callCtx)
	})

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	t.metrics.BackendCall(t.cfg.Name, outcome, time.Since(start))
	return err
}

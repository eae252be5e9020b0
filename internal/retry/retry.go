// Package retry 提供所有存储调用共用的有界指数退避重试。
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"studyroomix/internal/repository"
)

// ErrExhausted is matched by errors.Is on the error returned once the retry budget is spent.
var ErrExhausted = errors.New("retry budget exhausted")

// Policy bounds how often and how fast a transient failure is retried.
type Policy struct {
	MaxAttempts     int           // total attempts including the first one
	InitialInterval time.Duration // wait before the second attempt
	MaxInterval     time.Duration // cap for a single wait
	// Retryable decides whether an error is transient. Nil means IsTransient.
	Retryable func(error) bool
}

// DefaultPolicy 默认策略：最多 3 次尝试，100ms 起步，单次等待不超过 2s。
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// IsTransient reports whether err is a transient store failure.
func IsTransient(err error) bool {
	return errors.Is(err, repository.ErrUnavailable)
}

// ExhaustedError carries the last transient error after every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrExhausted) true.
func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// Do runs op until it succeeds, fails with a non-transient error, the context is done,
// or the attempt budget is spent. Non-transient errors are returned unchanged.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	eb.MaxElapsedTime = 0 // bounded by attempts, not wall time
	eb.Reset()
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1)), ctx)

	attempts := 0
	var lastTransient error
	err := backoff.RetryNotify(func() error {
		attempts++
		opErr := op(ctx)
		if opErr == nil {
			return nil
		}
		if !retryable(opErr) {
			return backoff.Permanent(opErr)
		}
		lastTransient = opErr
		return opErr
	}, b, func(err error, wait time.Duration) {
		logrus.WithFields(logrus.Fields{
			"attempt": attempts,
			"wait_ms": wait.Milliseconds(),
		}).WithError(err).Warn("Transient store failure, retrying")
	})
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && lastTransient != nil && errors.Is(err, ctxErr) {
		return &ExhaustedError{Attempts: attempts, Err: lastTransient}
	}
	if lastTransient != nil && err == lastTransient {
		return &ExhaustedError{Attempts: attempts, Err: err}
	}
	return err
}

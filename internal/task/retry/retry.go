// Package retry runs an operation with bounded attempts and exponential
// backoff with jitter.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"
)

// Policy controls Do. Zero fields take the defaults below.
type Policy struct {
	// MaxAttempts counts the first call. Default 3.
	MaxAttempts int
	// Base delay before the second attempt. Default 1s.
	Base time.Duration
	// MaxDelay caps every wait, hints included. Default 15s.
	MaxDelay time.Duration
	// Jitter is a +/- fraction applied to each delay. Default 0.2.
	Jitter float64
	// Retryable decides whether err is worth another attempt. When nil every
	// error not wrapped with NoRetry is retried.
	Retryable func(err error) bool
	// OnRetry is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.Base <= 0 {
		p.Base = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 15 * time.Second
	}
	if p.Jitter <= 0 {
		p.Jitter = 0.2
	}
	return p
}

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func jitterFactor(j float64) float64 {
	rngMu.Lock()
	r := rng.Float64()
	rngMu.Unlock()
	return 1 + (r*2-1)*j
}

// Do calls fn until it succeeds, returns a non-retryable error, attempts run
// out or ctx is done. It returns the attempts made and the last error with
// any NoRetry wrapper removed.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) (int, error) {
	p = p.withDefaults()

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			if err == nil {
				err = cerr
			}
			return attempt - 1, err
		}
		err = fn(ctx)
		if err == nil {
			return attempt, nil
		}
		var nr noRetryError
		if errors.As(err, &nr) {
			return attempt, nr.err
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return attempt, err
		}
		if attempt == p.MaxAttempts {
			return attempt, err
		}

		delay := Delay(p, attempt, err)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, err)
		}
		if delay <= 0 {
			continue
		}
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return attempt, ctx.Err()
		case <-tmr.C:
		}
	}
	return p.MaxAttempts, err
}

// Delay computes the wait after the given attempt, honoring RetryAfterError hints.
func Delay(p Policy, attempt int, err error) time.Duration {
	p = p.withDefaults()

	var ra RetryAfterError
	if err != nil && errors.As(err, &ra) && ra.RetryAfter() > 0 {
		d := ra.RetryAfter()
		if d > p.MaxDelay {
			d = p.MaxDelay
		}
		d = time.Duration(float64(d) * jitterFactor(p.Jitter))
		return clamp(d, p.MaxDelay)
	}

	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	d = time.Duration(float64(d) * jitterFactor(p.Jitter))
	return clamp(d, p.MaxDelay)
}

func clamp(d, maxD time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > maxD {
		return maxD
	}
	return d
}

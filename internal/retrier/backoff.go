package retrier

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy computes the delay before retry attempt n. Delays grow as
// base * 2^n up to the cap, with multiplicative jitter so re-armed jobs
// coming out of a shared outage do not all fall due in the same scan.
type Policy struct {
	Base       time.Duration
	Cap        time.Duration
	Jitter     float64 // randomization factor in [0, 1)
	MaxRetries int
}

// DefaultPolicy mirrors the shipped configuration defaults
func DefaultPolicy() Policy {
	return Policy{
		Base:       30 * time.Second,
		Cap:        30 * time.Minute,
		Jitter:     0.2,
		MaxRetries: 5,
	}
}

// Delay returns the backoff delay before attempt (0-based: the delay
// applied after the attempt-th failure)
func (p Policy) Delay(attempt int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.Base
	bo.Multiplier = 2
	bo.MaxInterval = p.Cap
	bo.RandomizationFactor = p.Jitter
	bo.MaxElapsedTime = 0 // never give up; the retry ceiling is ours to enforce

	// ExponentialBackOff is stateful: advance it to the wanted attempt
	var delay time.Duration
	for i := 0; i <= attempt; i++ {
		delay = bo.NextBackOff()
	}
	return delay
}

// NextAttemptAt returns when the (attempt+1)-th try should become due
func (p Policy) NextAttemptAt(now time.Time, attempt int) time.Time {
	return now.Add(p.Delay(attempt))
}

package runstream

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultInitialRetryInterval = time.Second
	defaultMaxRetryInterval     = 30 * time.Second
	defaultMultiplier           = 2.0
)

// BackoffPolicy describes the wait between consecutive reconnect attempts: it starts at Initial, grows by
// Multiplier with every consecutive failure and never exceeds Max. RandomizationFactor adds jitter and is
// zero by default, in which case waits are exact.
type BackoffPolicy struct {
	Initial             time.Duration
	Multiplier          float64
	Max                 time.Duration
	RandomizationFactor float64
}

// DefaultBackoffPolicy waits 1s, 2s, 4s, ... up to 30s.
var DefaultBackoffPolicy = BackoffPolicy{
	Initial:    defaultInitialRetryInterval,
	Multiplier: defaultMultiplier,
	Max:        defaultMaxRetryInterval,
}

// Next returns the jitter free wait before the reconnect that follows attempt consecutive failures,
// i.e. min(Initial * Multiplier^attempt, Max).
func (p BackoffPolicy) Next(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	wait := float64(p.Initial) * math.Pow(p.Multiplier, float64(attempt))
	if wait >= float64(p.Max) || math.IsInf(wait, 0) {
		return p.Max
	}
	return time.Duration(wait)
}

// NewBackOff returns a running backoff for this policy. Each call to NextBackOff yields the next wait and
// advances the running value, Reset sets it back to Initial. The returned backoff never stops.
func (p BackoffPolicy) NewBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.Max
	b.RandomizationFactor = p.RandomizationFactor
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

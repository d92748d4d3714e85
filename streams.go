package runstream

import (
	"time"
)

const defaultBufferSize = 16

// StreamOptions contains optional parameters that are used to create an EventStream or an OutputStream.
type StreamOptions struct {
	// The initial (minimal) retry interval used for the exponential backoff (default: 1s). The wait is
	// reset to this value whenever a connection was opened successfully.
	InitialRetryInterval time.Duration
	// MaxRetryInterval the maximum retry interval. Once the exponential backoff reaches this value
	// the retry intervals remain constant (default: 30s). There is no limit on the number of retries.
	MaxRetryInterval time.Duration
	// Multiplier is applied to the retry interval after each consecutive failure (default: 2).
	Multiplier float64
	// RandomizationFactor adds jitter to retry intervals, 0.25 means +/-25% (default: 0, no jitter).
	RandomizationFactor float64
	// BufferSize is the capacity of the outcome channel (default: 16).
	BufferSize int
}

func (o *StreamOptions) withDefaults() *StreamOptions {
	var copyOptions StreamOptions
	if o != nil {
		copyOptions = *o
	}
	if copyOptions.InitialRetryInterval <= 0 {
		copyOptions.InitialRetryInterval = defaultInitialRetryInterval
	}
	if copyOptions.MaxRetryInterval <= 0 {
		copyOptions.MaxRetryInterval = defaultMaxRetryInterval
	}
	if copyOptions.MaxRetryInterval < copyOptions.InitialRetryInterval {
		copyOptions.MaxRetryInterval = copyOptions.InitialRetryInterval
	}
	if copyOptions.Multiplier < 1 {
		copyOptions.Multiplier = defaultMultiplier
	}
	if copyOptions.RandomizationFactor < 0 || copyOptions.RandomizationFactor >= 1 {
		copyOptions.RandomizationFactor = 0
	}
	if copyOptions.BufferSize <= 0 {
		copyOptions.BufferSize = defaultBufferSize
	}
	return &copyOptions
}

func (o *StreamOptions) backoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Initial:             o.InitialRetryInterval,
		Multiplier:          o.Multiplier,
		Max:                 o.MaxRetryInterval,
		RandomizationFactor: o.RandomizationFactor}
}

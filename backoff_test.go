package runstream

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffPolicy_Next(t *testing.T) {
	tests := []struct {
		Attempt  int
		Expected time.Duration
	}{
		{Attempt: -1, Expected: time.Second},
		{Attempt: 0, Expected: time.Second},
		{Attempt: 1, Expected: 2 * time.Second},
		{Attempt: 2, Expected: 4 * time.Second},
		{Attempt: 3, Expected: 8 * time.Second},
		{Attempt: 4, Expected: 16 * time.Second},
		{Attempt: 5, Expected: 30 * time.Second},
		{Attempt: 6, Expected: 30 * time.Second},
		{Attempt: 1000, Expected: 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt %d", tt.Attempt), func(t *testing.T) {
			assert.Equal(t, tt.Expected, DefaultBackoffPolicy.Next(tt.Attempt))
		})
	}
}

func TestBackoffPolicy_NewBackOff(t *testing.T) {
	t.Run("consecutive failures grow up to the cap", func(t *testing.T) {
		bo := DefaultBackoffPolicy.NewBackOff()

		for n := 1; n <= 10; n++ {
			expected := time.Duration(1000*(1<<uint(n-1))) * time.Millisecond
			if expected > 30*time.Second {
				expected = 30 * time.Second
			}
			assert.Equal(t, expected, bo.NextBackOff(), "wait after %d failures", n)
		}
	})

	t.Run("matches Next", func(t *testing.T) {
		policy := BackoffPolicy{Initial: 3 * time.Millisecond, Multiplier: 3, Max: time.Second}
		bo := policy.NewBackOff()

		for attempt := 0; attempt < 10; attempt++ {
			assert.Equal(t, policy.Next(attempt), bo.NextBackOff())
		}
	})

	t.Run("reset after success", func(t *testing.T) {
		bo := DefaultBackoffPolicy.NewBackOff()
		bo.NextBackOff()
		bo.NextBackOff()
		bo.NextBackOff()

		bo.Reset()

		assert.Equal(t, time.Second, bo.NextBackOff())
		assert.Equal(t, 2*time.Second, bo.NextBackOff())
	})

	t.Run("jitter keeps the cap", func(t *testing.T) {
		policy := DefaultBackoffPolicy
		policy.RandomizationFactor = 0.5
		bo := policy.NewBackOff()

		for n := 0; n < 20; n++ {
			wait := bo.NextBackOff()
			assert.True(t, wait > 0)
			assert.True(t, wait <= 45*time.Second, "wait %s exceeds randomized cap", wait)
		}
	})
}

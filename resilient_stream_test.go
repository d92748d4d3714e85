package runstream

import (
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamOptions_withDefaults(t *testing.T) {
	tests := []struct {
		Options  *StreamOptions
		Expected *StreamOptions
	}{
		{
			Options: nil,
			Expected: &StreamOptions{
				InitialRetryInterval: defaultInitialRetryInterval,
				MaxRetryInterval:     defaultMaxRetryInterval,
				Multiplier:           defaultMultiplier,
				BufferSize:           defaultBufferSize,
			},
		},
		{
			Options: &StreamOptions{InitialRetryInterval: time.Millisecond, BufferSize: 1},
			Expected: &StreamOptions{
				InitialRetryInterval: time.Millisecond,
				MaxRetryInterval:     defaultMaxRetryInterval,
				Multiplier:           defaultMultiplier,
				BufferSize:           1,
			},
		},
		{
			Options: &StreamOptions{InitialRetryInterval: time.Minute, Multiplier: 0.5, RandomizationFactor: 2},
			Expected: &StreamOptions{
				InitialRetryInterval: time.Minute,
				MaxRetryInterval:     time.Minute,
				Multiplier:           defaultMultiplier,
				BufferSize:           defaultBufferSize,
			},
		},
		{
			Options: &StreamOptions{Multiplier: 3, RandomizationFactor: 0.25},
			Expected: &StreamOptions{
				InitialRetryInterval: defaultInitialRetryInterval,
				MaxRetryInterval:     defaultMaxRetryInterval,
				Multiplier:           3,
				RandomizationFactor:  0.25,
				BufferSize:           defaultBufferSize,
			},
		},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.Expected, tt.Options.withDefaults())
	}
}

func TestResilientStream_backoff(t *testing.T) {
	options := &StreamOptions{InitialRetryInterval: time.Millisecond, MaxRetryInterval: 8 * time.Millisecond}

	t.Run("growth and cap", func(t *testing.T) {
		client, mock := helperMockClient()
		mock.RegisterNoResponder(httpmock.NewErrorResponder(assert.AnError))
		stream := NewEventStream(client, "run-1", options)

		stream.Connect()
		outcomes := helperCollect(t, stream, func(outcomes []Outcome) bool {
			return helperCount(outcomes, Reconnecting) == 6
		})
		stream.Disconnect()

		assert.Zero(t, helperCount(outcomes, Opened))
		expected := []time.Duration{1, 2, 4, 8, 8, 8}
		for i, o := range helperFilter(outcomes, Reconnecting) {
			assert.Equal(t, i+1, o.Attempt)
			assert.Equal(t, expected[i]*time.Millisecond, o.Wait)
			assert.Regexp(t, assert.AnError.Error(), o.Err.Error())
		}
	})

	t.Run("reset after success", func(t *testing.T) {
		client, mock := helperMockClient()
		helperRecorder(mock,
			httpmock.NewErrorResponder(assert.AnError),
			httpmock.NewErrorResponder(assert.AnError),
			helperSSEResponder(""),
			httpmock.NewErrorResponder(assert.AnError))
		stream := NewOutputStream(client, "run-1", options)

		stream.Connect()
		outcomes := helperCollect(t, stream, func(outcomes []Outcome) bool {
			return helperCount(outcomes, Reconnecting) == 4
		})
		stream.Disconnect()

		assert.Equal(t, []string{
			Reconnecting.String(), Reconnecting.String(), Opened.String(), Reconnecting.String(), Reconnecting.String(),
		}, helperKinds(outcomes))

		reconnects := helperFilter(outcomes, Reconnecting)
		assert.Equal(t, time.Millisecond, reconnects[0].Wait)
		assert.Equal(t, 2*time.Millisecond, reconnects[1].Wait)
		assert.Equal(t, 1, reconnects[2].Attempt)
		assert.Equal(t, time.Millisecond, reconnects[2].Wait)
		assert.Equal(t, 2, reconnects[3].Attempt)
		assert.Equal(t, 2*time.Millisecond, reconnects[3].Wait)
	})
}

func TestResilientStream_state(t *testing.T) {
	t.Run("idle until connected", func(t *testing.T) {
		client, _ := helperMockClient()
		stream := NewEventStream(client, "run-1", testStreamOptions)

		assert.Equal(t, StateIdle, stream.State())
		assert.False(t, stream.Connected())
	})

	t.Run("open and closed", func(t *testing.T) {
		server, _ := helperHoldingServer(t, "")
		stream := NewEventStream(New(server.URL, nil), "run-1", testStreamOptions)

		stream.Connect()
		helperCollect(t, stream, func(outcomes []Outcome) bool {
			return helperCount(outcomes, Opened) == 1
		})
		assert.Equal(t, StateOpen, stream.State())
		assert.True(t, stream.Connected())

		stream.Disconnect()
		assert.Equal(t, StateClosed, stream.State())
		assert.False(t, stream.Connected())
	})

	t.Run("reconnecting", func(t *testing.T) {
		client, mock := helperMockClient()
		mock.RegisterNoResponder(httpmock.NewErrorResponder(assert.AnError))
		stream := NewEventStream(client, "run-1", &StreamOptions{InitialRetryInterval: time.Hour})

		stream.Connect()
		require.Eventually(t, func() bool {
			return stream.State() == StateReconnecting
		}, time.Second, time.Millisecond)
		assert.False(t, stream.Connected())
		assert.Equal(t, 1, mock.GetTotalCallCount())

		stream.Disconnect()
		helperDrainUntilClosed(t, stream)
		assert.Equal(t, StateClosed, stream.State())
	})
}

func TestResilientStream_Disconnect(t *testing.T) {
	t.Run("before connect", func(t *testing.T) {
		client, mock := helperMockClient()
		stream := NewOutputStream(client, "run-1", testStreamOptions)

		assert.NotPanics(t, func() {
			stream.Disconnect()
			stream.Disconnect()
		})
		assert.Equal(t, StateIdle, stream.State())
		assert.Empty(t, stream.Outcomes())
		assert.Equal(t, 0, mock.GetTotalCallCount())
	})

	t.Run("twice", func(t *testing.T) {
		server, counter := helperHoldingServer(t, "")
		stream := NewOutputStream(New(server.URL, nil), "run-1", testStreamOptions)

		stream.Connect()
		helperCollect(t, stream, func(outcomes []Outcome) bool {
			return helperCount(outcomes, Opened) == 1
		})

		stream.Disconnect()
		stream.Disconnect()

		outcomes := helperDrainUntilClosed(t, stream)
		assert.Equal(t, 1, helperCount(outcomes, Closed))

		time.Sleep(20 * time.Millisecond)
		assert.Empty(t, stream.Outcomes())
		assert.Equal(t, 1, counter.get())
		assert.Equal(t, StateClosed, stream.State())
	})

	t.Run("slow consumer gets closed", func(t *testing.T) {
		client, mock := helperMockClient()
		mock.RegisterNoResponder(httpmock.NewErrorResponder(assert.AnError))
		stream := NewEventStream(client, "run-1", &StreamOptions{InitialRetryInterval: time.Millisecond, BufferSize: 1})

		stream.Connect()
		require.Eventually(t, func() bool {
			return len(stream.Outcomes()) == 1
		}, time.Second, time.Millisecond)
		stream.Disconnect()

		// the buffer is full until the consumer catches up
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, Reconnecting, (<-stream.Outcomes()).Kind)

		outcomes := helperDrainUntilClosed(t, stream)
		assert.Equal(t, []string{Closed.String()}, helperKinds(outcomes))
	})

	t.Run("cancels pending reconnect", func(t *testing.T) {
		client, mock := helperMockClient()
		mock.RegisterNoResponder(httpmock.NewErrorResponder(assert.AnError))
		stream := NewEventStream(client, "run-1", &StreamOptions{InitialRetryInterval: 30 * time.Millisecond})

		stream.Connect()
		require.Eventually(t, func() bool {
			return stream.State() == StateReconnecting
		}, time.Second, time.Millisecond)
		stream.Disconnect()

		outcomes := helperDrainUntilClosed(t, stream)
		assert.Zero(t, helperCount(outcomes, Reconnecting))

		time.Sleep(60 * time.Millisecond)
		assert.Equal(t, 1, mock.GetTotalCallCount())
		assert.Empty(t, stream.Outcomes())
	})
}

func TestResilientStream_Connect(t *testing.T) {
	t.Run("idempotent", func(t *testing.T) {
		server, counter := helperHoldingServer(t, "")
		stream := NewEventStream(New(server.URL, nil), "run-1", testStreamOptions)

		stream.Connect()
		stream.Connect()
		helperCollect(t, stream, func(outcomes []Outcome) bool {
			return helperCount(outcomes, Opened) == 1
		})
		stream.Connect()

		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, 1, counter.get())
		assert.Empty(t, stream.Outcomes())

		stream.Disconnect()
	})

	t.Run("reusable after disconnect", func(t *testing.T) {
		server, counter := helperHoldingServer(t, helperFrames(helperEventJSON("e1", 100)))
		stream := NewEventStream(New(server.URL, nil), "run-1", testStreamOptions)

		stream.Connect()
		first := helperCollect(t, stream, func(outcomes []Outcome) bool {
			return helperCount(outcomes, EventReceived) == 1
		})
		stream.Disconnect()
		helperDrainUntilClosed(t, stream)

		stream.Connect()
		helperCollect(t, stream, func(outcomes []Outcome) bool {
			return helperCount(outcomes, Opened) == 1
		})
		// the daemon sends e1 again, it was delivered before
		time.Sleep(20 * time.Millisecond)
		assert.Empty(t, stream.Outcomes())
		stream.Disconnect()
		helperDrainUntilClosed(t, stream)

		assert.Equal(t, []string{"e1"}, helperEventIDs(first))
		assert.Equal(t, 2, counter.get())
		assert.Equal(t, int64(100), stream.LastEventTimestamp())
	})
}

// Copyright (c) 2017, A. Stoewer <adrian.stoewer@rz.ifi.lmu.de>
// All rights reserved.

package runstream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// closedTimeout limits how long a disconnected session waits for room to deliver its Closed outcome.
const closedTimeout = time.Second

// streamCodec gives meaning to the messages of a resilientStream.
type streamCodec interface {
	// resourceURL returns the URL to connect to, including the current resume cursor.
	resourceURL() string
	// decode turns a message into an outcome. It returns false for messages that must not be delivered.
	decode(msg Signal) (Outcome, bool)
}

// resilientStream implements the connect/reconnect state machine shared by EventStream and OutputStream.
// Between Connect and Disconnect a single goroutine (the session) owns the StreamConnection and the
// reconnect timer and is the only one that decodes messages and emits outcomes.
type resilientStream struct {
	conn     *StreamConnection
	codec    streamCodec
	policy   BackoffPolicy
	outcomes chan Outcome
	logger   zerolog.Logger
	state    int32

	mu      sync.Mutex
	session *session
	last    *session
}

// session is the handle of one Connect/Disconnect cycle.
type session struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func newResilientStream(client *Client, codec streamCodec, options *StreamOptions, logger zerolog.Logger) *resilientStream {
	options = options.withDefaults()

	conn := NewStreamConnection(client)
	conn.logger = logger

	return &resilientStream{
		conn:     conn,
		codec:    codec,
		policy:   options.backoffPolicy(),
		outcomes: make(chan Outcome, options.BufferSize),
		logger:   logger,
		state:    int32(StateIdle)}
}

// Outcomes returns the channel all outcomes of the stream are delivered on. The channel lives as long as
// the stream and is never closed: a Closed outcome marks the end of a Connect/Disconnect cycle. Consumers
// must keep reading, a blocked consumer stalls the delivery of subsequent messages.
func (s *resilientStream) Outcomes() <-chan Outcome {
	return s.outcomes
}

// State returns the current connection state.
func (s *resilientStream) State() ConnectionState {
	return ConnectionState(atomic.LoadInt32(&s.state))
}

// Connected reports whether the stream currently has an open connection.
func (s *resilientStream) Connected() bool {
	return s.State() == StateOpen
}

// Connect starts the stream in the background and returns immediately. Calling Connect on a stream
// that is already connecting, open or reconnecting does nothing. A disconnected stream can be connected
// again and resumes from its cursor.
func (s *resilientStream) Connect() {
	s.connect(nil)
}

// connect starts a session. seed is invoked under the lock only if a new session is actually started.
func (s *resilientStream) connect(seed func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil {
		return
	}
	if seed != nil {
		seed()
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{cancel: cancel, done: make(chan struct{})}
	prev := s.last
	s.session = sess
	s.last = sess
	atomic.StoreInt32(&s.state, int32(StateConnecting))

	go s.run(ctx, sess, prev)
}

// Disconnect stops the stream, cancels a pending reconnect and closes the transport. It returns
// immediately, is safe to call in any state and any number of times.
func (s *resilientStream) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return
	}
	s.session.cancel()
	s.session = nil
	atomic.StoreInt32(&s.state, int32(StateClosed))
}

// transition changes the state on behalf of sess, unless sess was disconnected in the meantime.
func (s *resilientStream) transition(sess *session, state ConnectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == sess {
		atomic.StoreInt32(&s.state, int32(state))
	}
}

// run is the session loop. It never terminates unless the session is disconnected: transport errors
// only lead to a new connection after a backoff.
func (s *resilientStream) run(ctx context.Context, sess *session, prev *session) {
	defer close(sess.done)
	defer s.emitFinal(Outcome{Kind: Closed})
	defer s.conn.Disconnect()

	if prev != nil {
		<-prev.done
	}
	if ctx.Err() != nil {
		return
	}

	var (
		bo      = s.policy.NewBackOff()
		attempt int
		wait    time.Duration
		lastErr error
		timer   *time.Timer
		timerC  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	signals := s.conn.Connect(s.codec.resourceURL())
	for {
		select {
		case <-ctx.Done():
			return

		case sig, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}

			switch sig.Kind {
			case SignalOpen:
				bo.Reset()
				attempt = 0
				s.transition(sess, StateOpen)
				s.emit(ctx, Outcome{Kind: Opened})

			case SignalMessage:
				if outcome, ok := s.codec.decode(sig); ok {
					s.emit(ctx, outcome)
				}

			case SignalError:
				signals = nil
				lastErr = sig.Err
				s.transition(sess, StateReconnecting)

				// a pending timer already covers this failure
				if timerC != nil {
					continue
				}
				attempt++
				wait = bo.NextBackOff()
				timer = time.NewTimer(wait)
				timerC = timer.C
				s.logger.Info().Err(lastErr).Int("attempt", attempt).Dur("wait", wait).Msg("scheduled reconnect")
			}

		case <-timerC:
			timerC = nil
			s.emit(ctx, Outcome{Kind: Reconnecting, Err: lastErr, Attempt: attempt, Wait: wait})
			s.transition(sess, StateConnecting)
			signals = s.conn.Connect(s.codec.resourceURL())
		}
	}
}

// emit delivers an outcome to the consumer unless the session is disconnected first.
func (s *resilientStream) emit(ctx context.Context, outcome Outcome) {
	select {
	case <-ctx.Done():
	case s.outcomes <- outcome:
	}
}

// emitFinal delivers the last outcome of a session. A consumer that does not make room in the buffer
// within closedTimeout misses it.
func (s *resilientStream) emitFinal(outcome Outcome) {
	timer := time.NewTimer(closedTimeout)
	defer timer.Stop()

	select {
	case s.outcomes <- outcome:
	case <-timer.C:
		s.logger.Warn().Str("outcome", outcome.Kind.String()).Msg("outcome buffer full, dropped")
	}
}

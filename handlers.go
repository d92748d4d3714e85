package runstream

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/stoewer/go-runstream/event"
)

// An OutcomeSource is anything that emits outcomes, i.e. EventStream and OutputStream.
type OutcomeSource interface {
	Outcomes() <-chan Outcome
}

// Handlers is a callback based alternative to reading the outcome channel directly. OnEvent or OnOutput
// is required depending on the stream, all other callbacks are optional. Callbacks are invoked one after
// another from the goroutine that runs Consume and must not block.
type Handlers struct {
	OnEvent  func(*event.Event) error
	OnOutput func(*event.OutputChunk) error
	// OnError receives parse errors as well as errors and panics of OnEvent and OnOutput.
	OnError func(error)
	// OnReconnect is called once per reconnect attempt, before the attempt is made.
	OnReconnect func(attempt int, wait time.Duration, cause error)
	// OnOpen is called whenever a connection was opened.
	OnOpen func()
	// StopAtEnd makes Consume return ErrStreamEnded instead of following the reconnect once the daemon
	// ended the stream, which it does for finished runs.
	StopAtEnd bool
}

// Consume passes the outcomes of source to the handlers. It returns nil after a Closed outcome or the
// error of ctx once it is done. A failing handler never stops the stream, its error is passed to OnError.
//
// Closed ends a single Connect/Disconnect cycle. When a stream is connected again right after Disconnect,
// the Closed outcome of the previous cycle may still be buffered and ends Consume early. Consume (or
// read) until Closed before connecting again.
func Consume(ctx context.Context, source OutcomeSource, handlers Handlers) error {
	if handlers.OnEvent == nil && handlers.OnOutput == nil {
		return errors.New("unable to consume stream: neither OnEvent nor OnOutput is set")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case outcome := <-source.Outcomes():
			if outcome.Kind == Closed {
				return nil
			}
			if handlers.StopAtEnd && outcome.Kind == Reconnecting && errors.Is(outcome.Err, ErrStreamEnded) {
				return ErrStreamEnded
			}
			handlers.dispatch(outcome)
		}
	}
}

func (h *Handlers) dispatch(outcome Outcome) {
	switch outcome.Kind {
	case Opened:
		if h.OnOpen != nil {
			h.guard("open handler", func() error { h.OnOpen(); return nil })
		}
	case EventReceived:
		if h.OnEvent != nil {
			h.guard("event handler", func() error { return h.OnEvent(outcome.Event) })
		}
	case OutputReceived:
		if h.OnOutput != nil {
			h.guard("output handler", func() error { return h.OnOutput(outcome.Output) })
		}
	case ParseFailed:
		h.reportError(outcome.Err)
	case Reconnecting:
		if h.OnReconnect != nil {
			h.guard("reconnect handler", func() error {
				h.OnReconnect(outcome.Attempt, outcome.Wait, outcome.Err)
				return nil
			})
		}
	}
}

// guard runs fn and turns a returned error or a panic into a call of OnError.
func (h *Handlers) guard(name string, fn func() error) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.Errorf("%s panicked: %v", name, r)
			}
		}()
		return fn()
	}()

	if err != nil {
		h.reportError(errors.Wrapf(err, "%s failed", name))
	}
}

func (h *Handlers) reportError(err error) {
	if h.OnError == nil {
		log.Warn().Err(err).Msg("unhandled stream error")
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("error handler panicked")
		}
	}()
	h.OnError(err)
}

package runstream

import (
	"time"

	"github.com/stoewer/go-runstream/event"
)

// OutcomeKind tags the variant of an Outcome.
type OutcomeKind int

const (
	// Opened is emitted whenever the daemon accepted a (re)connection.
	Opened OutcomeKind = iota + 1
	// EventReceived carries a new, not yet delivered Event.
	EventReceived
	// OutputReceived carries an OutputChunk.
	OutputReceived
	// ParseFailed carries a *ParseError for a message that was skipped.
	ParseFailed
	// Reconnecting is emitted right before a reconnect attempt is made.
	Reconnecting
	// Closed is emitted once after Disconnect released the transport.
	Closed
)

func (k OutcomeKind) String() string {
	switch k {
	case Opened:
		return "opened"
	case EventReceived:
		return "event"
	case OutputReceived:
		return "output"
	case ParseFailed:
		return "parse_error"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// An Outcome is a single value emitted by a stream. Only the fields belonging to Kind are set.
type Outcome struct {
	Kind OutcomeKind

	Event  *event.Event
	Output *event.OutputChunk

	// Err is the *ParseError of ParseFailed, or the transport error that caused a Reconnecting.
	Err error

	// Attempt counts the consecutive failed connections that preceded a Reconnecting, Wait is the
	// backoff that was waited before it.
	Attempt int
	Wait    time.Duration
}

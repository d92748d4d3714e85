package runstream

import (
	"sync"

	"github.com/stoewer/go-runstream/event"
)

// An EventStream consumes the structured events of one run. Every event is delivered at most once per
// EventStream: on reconnect the stream resumes from the latest event timestamp it has seen and drops
// events the daemon sends again in the overlap window.
//
// The set of delivered event IDs grows for the lifetime of the EventStream. A run's event count is bounded,
// but a stream that is kept around for a pathologically long run holds all of its IDs in memory.
type EventStream struct {
	*resilientStream
	client *Client
	runID  string

	mu                 sync.Mutex
	seen               map[string]struct{}
	lastEventTimestamp int64
}

// NewEventStream creates an idle stream for the events of the run with the given ID. The options may be nil.
func NewEventStream(client *Client, runID string, options *StreamOptions) *EventStream {
	s := &EventStream{
		client: client,
		runID:  runID,
		seen:   make(map[string]struct{})}

	logger := client.logger.With().Str("run_id", runID).Str("stream", "events").Logger()
	s.resilientStream = newResilientStream(client, s, options, logger)

	return s
}

// ConnectAfter connects like Connect, but asks the daemon to only replay events from the given timestamp
// (milliseconds since epoch) on. A timestamp older than the latest event already seen has no effect.
func (s *EventStream) ConnectAfter(timestamp int64) {
	s.connect(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if timestamp > s.lastEventTimestamp {
			s.lastEventTimestamp = timestamp
		}
	})
}

// LastEventTimestamp returns the largest timestamp of all delivered events, or 0 if there was none yet.
func (s *EventStream) LastEventTimestamp() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEventTimestamp
}

func (s *EventStream) resourceURL() string {
	return s.client.eventsURL(s.runID, s.LastEventTimestamp())
}

func (s *EventStream) decode(msg Signal) (Outcome, bool) {
	e, err := event.ParseEvent([]byte(msg.Data))
	if err != nil {
		return Outcome{Kind: ParseFailed, Err: &ParseError{Data: msg.Data, Cause: err}}, true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[e.ID]; ok {
		s.logger.Trace().Str("event_id", e.ID).Msg("dropped duplicate event")
		return Outcome{}, false
	}
	s.seen[e.ID] = struct{}{}
	if e.Timestamp > s.lastEventTimestamp {
		s.lastEventTimestamp = e.Timestamp
	}

	return Outcome{Kind: EventReceived, Event: e}, true
}

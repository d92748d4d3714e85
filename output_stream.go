package runstream

import (
	"sync"

	"github.com/stoewer/go-runstream/event"
)

// outputMessageName is the SSE event name the daemon uses for output chunks.
const outputMessageName = "output"

// An OutputStream consumes the raw output of the steps of one run. Chunks are delivered in the order they
// arrive. On reconnect the stream resumes from the end of the furthest chunk it has seen; the daemon may
// send a byte range again, such overlap is passed on as is.
type OutputStream struct {
	*resilientStream
	client *Client
	runID  string

	mu         sync.Mutex
	lastOffset int64
}

// NewOutputStream creates an idle stream for the output of the run with the given ID. The options may be nil.
func NewOutputStream(client *Client, runID string, options *StreamOptions) *OutputStream {
	s := &OutputStream{
		client: client,
		runID:  runID}

	logger := client.logger.With().Str("run_id", runID).Str("stream", "output").Logger()
	s.resilientStream = newResilientStream(client, s, options, logger)

	return s
}

// ConnectAt connects like Connect, but asks the daemon to start at the given byte offset. An offset
// below the current cursor has no effect.
func (s *OutputStream) ConnectAt(offset int64) {
	s.connect(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if offset > s.lastOffset {
			s.lastOffset = offset
		}
	})
}

// LastOffset returns the largest end offset (offset + length of content) of all chunks seen so far.
func (s *OutputStream) LastOffset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOffset
}

func (s *OutputStream) resourceURL() string {
	return s.client.outputURL(s.runID, s.LastOffset())
}

func (s *OutputStream) decode(msg Signal) (Outcome, bool) {
	if msg.Name != "" && msg.Name != outputMessageName {
		s.logger.Trace().Str("name", msg.Name).Msg("ignored message")
		return Outcome{}, false
	}

	chunk, err := event.ParseOutputChunk([]byte(msg.Data))
	if err != nil {
		return Outcome{Kind: ParseFailed, Err: &ParseError{Data: msg.Data, Cause: err}}, true
	}

	s.mu.Lock()
	if end := chunk.End(); end > s.lastOffset {
		s.lastOffset = end
	}
	s.mu.Unlock()

	return Outcome{Kind: OutputReceived, Output: chunk}, true
}

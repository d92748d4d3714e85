package runstream

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrUnexpectedContentType is returned when a stream resource responds with anything but text/event-stream.
var ErrUnexpectedContentType = errors.New("unexpected content type")

// ErrStreamEnded is the cause of a reconnect after the daemon closed the response body. The daemon ends
// the streams of finished runs this way.
var ErrStreamEnded = errors.New("stream ended")

// A StatusError is returned when the daemon answers a stream request with a non successful status code.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected response code %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected response code %d: %s", e.StatusCode, e.Message)
}

// A ParseError reports a stream message that could not be decoded. The stream stays open after a
// ParseError, only the offending message is skipped.
type ParseError struct {
	Data  string
	Cause error
}

func (e *ParseError) Error() string {
	return "failed to parse message: " + e.Cause.Error()
}

// Unwrap returns the underlying decoding error.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// Copyright (c) 2017, A. Stoewer <adrian.stoewer@rz.ifi.lmu.de>
// All rights reserved.

package runstream

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/launchdarkly/eventsource"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// SignalKind tags the signals raised by a StreamConnection.
type SignalKind int

const (
	// SignalOpen is raised once the daemon accepted the request with a text/event-stream response.
	SignalOpen SignalKind = iota + 1
	// SignalMessage carries the fields of one server-sent message.
	SignalMessage
	// SignalError is raised once per transport, after the failed transport was closed and discarded.
	SignalError
)

// A Signal is raised by a StreamConnection. Name, ID and Data are only set for SignalMessage, Err only
// for SignalError.
type Signal struct {
	Kind SignalKind
	Name string
	ID   string
	Data string
	Err  error
}

// A StreamConnection manages at most one transport (one long-lived GET request) to one resource URL and
// translates what happens on it into signals. It knows nothing about the content of messages.
//
// Every transport error is treated the same: connection failures, non 2xx responses, a wrong content type
// and the end of the response body all result in a single SignalError.
type StreamConnection struct {
	client *Client
	logger zerolog.Logger

	sync.Mutex
	active *transport
	last   *transport
}

// transport is the exclusively owned handle of one request.
type transport struct {
	url       string
	requestID string
	cancel    context.CancelFunc
	done      chan struct{}
	signals   chan Signal
}

// NewStreamConnection creates an idle StreamConnection using the http client and token provider of client.
func NewStreamConnection(client *Client) *StreamConnection {
	return &StreamConnection{client: client, logger: client.logger}
}

// Connect starts a transport to url and returns the channel its signals are delivered on. The channel is
// closed after the transport is gone. If a transport is already active, Connect does nothing and returns
// the channel of the active transport. Connect never blocks.
func (c *StreamConnection) Connect(url string) <-chan Signal {
	c.Lock()
	defer c.Unlock()

	if c.active != nil {
		return c.active.signals
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &transport{
		url:       url,
		requestID: uuid.NewString(),
		cancel:    cancel,
		done:      make(chan struct{}),
		signals:   make(chan Signal)}

	prev := c.last
	c.active = t
	c.last = t

	go c.run(ctx, t, prev)

	return t.signals
}

// Disconnect closes the active transport. It is safe to call Disconnect multiple times or on a connection
// that was never connected.
func (c *StreamConnection) Disconnect() {
	c.Lock()
	defer c.Unlock()

	if c.active == nil {
		return
	}
	c.active.cancel()
	c.active = nil
}

// Active reports whether a transport is currently held.
func (c *StreamConnection) Active() bool {
	c.Lock()
	defer c.Unlock()
	return c.active != nil
}

// discard releases t if it still is the active transport.
func (c *StreamConnection) discard(t *transport) {
	c.Lock()
	defer c.Unlock()
	if c.active == t {
		c.active = nil
	}
}

// run drives a single transport from the request to the end of the response body. A new transport waits
// for its predecessor to be torn down completely, so there is never more than one open request.
func (c *StreamConnection) run(ctx context.Context, t *transport, prev *transport) {
	defer close(t.done)
	defer close(t.signals)
	defer t.cancel()

	logger := c.logger.With().Str("url", t.url).Str("request_id", t.requestID).Logger()

	if prev != nil {
		select {
		case <-ctx.Done():
			return
		case <-prev.done:
			// nothing
		}
	}

	body, err := c.open(ctx, t)
	if err != nil {
		c.fail(ctx, t, logger, err)
		return
	}
	logger.Debug().Msg("stream opened")

	if !t.send(ctx, Signal{Kind: SignalOpen}) {
		body.Close()
		return
	}

	decoder := eventsource.NewDecoder(body)
	for {
		ev, err := decoder.Decode()
		if err != nil {
			body.Close()
			if err == io.EOF {
				err = ErrStreamEnded
			}
			c.fail(ctx, t, logger, errors.Wrap(err, "failed to read next message"))
			return
		}

		if ev.Data() == "" {
			continue
		}

		msg := Signal{Kind: SignalMessage, Name: ev.Event(), ID: ev.Id(), Data: ev.Data()}
		if !t.send(ctx, msg) {
			release(body, decoder)
			return
		}
	}
}

// release closes the body of a decoder that has not failed yet. The decoder reads lines in a background
// goroutine, which only terminates once its read error was consumed.
func release(body io.Closer, decoder *eventsource.Decoder) {
	body.Close()
	for {
		if _, err := decoder.Decode(); err != nil {
			return
		}
	}
}

// fail discards the transport and raises its error signal, unless the transport was disconnected on purpose.
func (c *StreamConnection) fail(ctx context.Context, t *transport, logger zerolog.Logger, err error) {
	c.discard(t)
	if ctx.Err() != nil {
		logger.Debug().Msg("stream disconnected")
		return
	}
	logger.Warn().Err(err).Msg("stream failed")
	t.send(ctx, Signal{Kind: SignalError, Err: err})
}

// send delivers a signal unless the transport gets disconnected first.
func (t *transport) send(ctx context.Context, s Signal) bool {
	select {
	case <-ctx.Done():
		return false
	case t.signals <- s:
		return true
	}
}

// open performs the request and checks the response of the daemon.
func (c *StreamConnection) open(ctx context.Context, t *transport) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "unable to prepare request")
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("X-Request-Id", t.requestID)

	err = c.client.tokenProvider.authorize(req)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open stream")
	}

	response, err := c.client.httpStream.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open stream")
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		defer response.Body.Close()
		return nil, errors.Wrap(decodeResponseToError(response), "unable to open stream")
	}

	contentType := response.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "text/event-stream") {
		response.Body.Close()
		return nil, errors.Wrapf(ErrUnexpectedContentType, "unable to open stream: %q", contentType)
	}

	return response.Body, nil
}

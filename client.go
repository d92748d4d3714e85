// Copyright (c) 2017, A. Stoewer <adrian.stoewer@rz.ifi.lmu.de>
// All rights reserved.

package runstream

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultTimeOut   = 30 * time.Second
	defaultDaemonURL = "http://127.0.0.1:7700"
)

// A TokenProvider returns the bearer token that is sent along with every stream request.
type TokenProvider func() (string, error)

// authorize sets the Authorization header of the request. A nil provider leaves the request untouched.
func (fn TokenProvider) authorize(req *http.Request) error {
	if fn == nil {
		return nil
	}

	token, err := fn()
	if err != nil {
		return errors.Wrap(err, "unable to obtain token")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return nil
}

// StaticToken returns a TokenProvider which always returns the same token.
func StaticToken(token string) TokenProvider {
	return func() (string, error) { return token, nil }
}

// A Client represents a basic configuration to access a run daemon. The client is used to create
// EventStreams and OutputStreams for individual runs.
type Client struct {
	daemonURL     string
	tokenProvider TokenProvider
	timeout       time.Duration
	httpStream    *http.Client
	logger        zerolog.Logger
}

// ClientOptions contains all non mandatory parameters used to instantiate the client.
type ClientOptions struct {
	// TokenProvider is consulted before every connection attempt. Use StaticToken for a fixed token.
	TokenProvider TokenProvider
	// ConnectionTimeout limits dialing, the TLS handshake and the time to wait for response headers
	// of a single connection attempt. It never limits the lifetime of an open stream (default: 30s).
	ConnectionTimeout time.Duration
	// Middleware wraps the transport of the streaming http client, e.g. NewTracingMiddleware.
	Middleware Middleware
	// Logger receives structured logs about connection attempts (default: the global zerolog logger).
	Logger *zerolog.Logger
}

// New creates a new client. New receives the base URL of the run daemon the client should connect to.
// The options may be nil.
func New(url string, options *ClientOptions) *Client {
	client := &Client{
		daemonURL: strings.TrimSuffix(url, "/"),
		timeout:   defaultTimeOut,
		logger:    log.Logger}

	var middleware Middleware
	if options != nil {
		client.tokenProvider = options.TokenProvider
		if options.ConnectionTimeout != 0 {
			client.timeout = options.ConnectionTimeout
		}
		if options.Logger != nil {
			client.logger = *options.Logger
		}
		middleware = options.Middleware
	}
	if client.daemonURL == "" {
		client.daemonURL = defaultDaemonURL
	}

	client.httpStream = newHTTPStream(client.timeout, middleware)

	return client
}

// eventsURL builds the event resource URL of a run. The after parameter is only included when positive.
func (c *Client) eventsURL(runID string, after int64) string {
	return c.resourceURL(runID, "events", "after", after)
}

// outputURL builds the output resource URL of a run. The offset parameter is only included when positive.
func (c *Client) outputURL(runID string, offset int64) string {
	return c.resourceURL(runID, "output", "offset", offset)
}

func (c *Client) resourceURL(runID, resource, param string, cursor int64) string {
	u := fmt.Sprintf("%s/runs/%s/%s", c.daemonURL, url.PathEscape(runID), resource)
	if cursor > 0 {
		u += "?" + param + "=" + strconv.FormatInt(cursor, 10)
	}
	return u
}

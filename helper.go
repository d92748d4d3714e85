// Copyright (c) 2017, A. Stoewer <adrian.stoewer@rz.ifi.lmu.de>
// All rights reserved.

package runstream

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"
)

// A Middleware wraps the transport used by the streaming http client.
type Middleware func(*http.Transport) http.RoundTripper

// newHTTPStream creates a client without an overall timeout, since streams are supposed to stay open.
// The timeout only applies to establishing the connection and receiving the response headers.
func newHTTPStream(timeout time.Duration, middleware Middleware) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
	}

	var roundTripper http.RoundTripper = transport
	if middleware != nil {
		roundTripper = middleware(transport)
	}

	return &http.Client{Transport: roundTripper}
}

// errorJSON is the body the daemon sends along with non successful responses.
type errorJSON struct {
	Error string `json:"error"`
}

// decodeResponseToError turns a non successful response into a *StatusError.
func decodeResponseToError(response *http.Response) error {
	statusErr := &StatusError{StatusCode: response.StatusCode}

	buffer, err := io.ReadAll(io.LimitReader(response.Body, 64*1024))
	if err != nil || len(buffer) == 0 {
		return statusErr
	}

	errJSON := errorJSON{}
	if err := json.Unmarshal(buffer, &errJSON); err == nil && errJSON.Error != "" {
		statusErr.Message = errJSON.Error
	} else {
		statusErr.Message = string(buffer)
	}

	return statusErr
}

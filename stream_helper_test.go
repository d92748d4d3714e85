package runstream

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var testStreamOptions = &StreamOptions{
	InitialRetryInterval: time.Millisecond,
	MaxRetryInterval:     5 * time.Millisecond,
}

// helperMockClient returns a client whose stream requests are answered by the returned mock transport.
func helperMockClient() (*Client, *httpmock.MockTransport) {
	logger := zerolog.Nop()
	client := New(defaultDaemonURL, &ClientOptions{Logger: &logger})
	mock := httpmock.NewMockTransport()
	client.httpStream = &http.Client{Transport: mock}
	return client, mock
}

// helperSSEResponse creates a successful text/event-stream response with the given body.
func helperSSEResponse(body string) *http.Response {
	response := httpmock.NewStringResponse(http.StatusOK, body)
	if response.Header == nil {
		response.Header = http.Header{}
	}
	response.Header.Set("Content-Type", "text/event-stream")
	return response
}

// helperFrames encodes each data string as a server-sent message.
func helperFrames(data ...string) string {
	var b strings.Builder
	for _, d := range data {
		fmt.Fprintf(&b, "data: %s\n\n", d)
	}
	return b.String()
}

func helperEventJSON(id string, timestamp int64) string {
	return fmt.Sprintf(`{"id":%q,"run_id":"run-1","event_type":"TEST","timestamp":%d,"payload":{}}`, id, timestamp)
}

func helperChunkJSON(offset int64, content string) string {
	return fmt.Sprintf(`{"step_id":"step-1","offset":%d,"content":%q}`, offset, content)
}

// requestRecorder answers stream requests one after another from a list of responders and remembers
// the requested URLs. Once the list is exhausted the last responder is used for all further requests.
type requestRecorder struct {
	sync.Mutex
	responders []httpmock.Responder
	urls       []string
}

func (r *requestRecorder) respond(req *http.Request) (*http.Response, error) {
	r.Lock()
	n := len(r.urls)
	r.urls = append(r.urls, req.URL.String())
	responder := r.responders[len(r.responders)-1]
	if n < len(r.responders) {
		responder = r.responders[n]
	}
	r.Unlock()

	return responder(req)
}

func (r *requestRecorder) requests() []string {
	r.Lock()
	defer r.Unlock()
	return append([]string(nil), r.urls...)
}

func helperRecorder(mock *httpmock.MockTransport, responders ...httpmock.Responder) *requestRecorder {
	recorder := &requestRecorder{responders: responders}
	mock.RegisterNoResponder(recorder.respond)
	return recorder
}

func helperSSEResponder(body string) httpmock.Responder {
	return func(*http.Request) (*http.Response, error) {
		return helperSSEResponse(body), nil
	}
}

// helperCollect reads outcomes until done returns true for the collected outcomes.
func helperCollect(t *testing.T, source OutcomeSource, done func([]Outcome) bool) []Outcome {
	var outcomes []Outcome
	timeout := time.After(3 * time.Second)

	for !done(outcomes) {
		select {
		case outcome := <-source.Outcomes():
			outcomes = append(outcomes, outcome)
		case <-timeout:
			require.FailNow(t, "timed out waiting for outcomes", "collected: %v", helperKinds(outcomes))
		}
	}

	return outcomes
}

// helperDrainUntilClosed reads outcomes until the Closed outcome of a session arrived.
func helperDrainUntilClosed(t *testing.T, source OutcomeSource) []Outcome {
	return helperCollect(t, source, func(outcomes []Outcome) bool {
		return len(outcomes) > 0 && outcomes[len(outcomes)-1].Kind == Closed
	})
}

func helperCount(outcomes []Outcome, kind OutcomeKind) int {
	n := 0
	for _, o := range outcomes {
		if o.Kind == kind {
			n++
		}
	}
	return n
}

func helperFilter(outcomes []Outcome, kind OutcomeKind) []Outcome {
	var filtered []Outcome
	for _, o := range outcomes {
		if o.Kind == kind {
			filtered = append(filtered, o)
		}
	}
	return filtered
}

func helperKinds(outcomes []Outcome) []string {
	kinds := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		kinds = append(kinds, o.Kind.String())
	}
	return kinds
}

// helperHoldingServer starts a server that sends the given body on every stream request and then keeps
// the response open until the client goes away.
func helperHoldingServer(t *testing.T, body string) (*httptest.Server, *requestCounter) {
	counter := &requestCounter{}
	stop := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		counter.inc(r)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-stop:
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(stop) })
	return server, counter
}

type requestCounter struct {
	sync.Mutex
	n    int
	last http.Header
}

func (c *requestCounter) inc(r *http.Request) {
	c.Lock()
	defer c.Unlock()
	c.n++
	c.last = r.Header.Clone()
}

func (c *requestCounter) header() http.Header {
	c.Lock()
	defer c.Unlock()
	return c.last
}

func (c *requestCounter) get() int {
	c.Lock()
	defer c.Unlock()
	return c.n
}

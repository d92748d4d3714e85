package runstream

import (
	"net/http"
	"net/http/httptrace"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TracingOptions configures the TracingMiddleware. Without a ComponentName no spans are created.
type TracingOptions struct {
	Tracer        trace.Tracer
	ComponentName string
	Verbose       bool
}

// TracingMiddleware creates a client span for every connection attempt. The span ends as soon as the
// response headers arrived, it does not cover the lifetime of the stream.
type TracingMiddleware struct {
	tr            *http.Transport
	tracer        trace.Tracer
	componentName string
	verbose       bool
}

func (t *TracingMiddleware) CloseIdleConnections() {
	t.tr.CloseIdleConnections()
}

// RoundTrip opens the stream within a client span. The span fails if the daemon does not answer with
// a successful text/event-stream response.
func (t *TracingMiddleware) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.componentName == "" {
		return t.tr.RoundTrip(req)
	}

	req, span := t.injectSpan(req)
	defer span.End()
	if t.verbose {
		req = injectStreamSpanEvents(req, span)
	}

	rsp, err := t.tr.RoundTrip(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unable to open stream")
		return rsp, err
	}

	contentType := rsp.Header.Get("Content-Type")
	span.SetAttributes(
		semconv.HTTPResponseStatusCode(rsp.StatusCode),
		attribute.String("http.response.header.content-type", contentType))
	switch {
	case rsp.StatusCode < 200 || rsp.StatusCode > 299:
		span.SetStatus(codes.Error, http.StatusText(rsp.StatusCode))
	case !strings.HasPrefix(contentType, "text/event-stream"):
		span.SetStatus(codes.Error, ErrUnexpectedContentType.Error())
	}
	return rsp, err
}

func (t *TracingMiddleware) injectSpan(req *http.Request) (*http.Request, trace.Span) {
	ctx := req.Context()
	operationName := getOperationName(req.URL.Path, req.Method)

	attrs := []attribute.KeyValue{
		attribute.String("otel.component.name", t.componentName),
		attribute.String("url.full", req.URL.String()),
		attribute.String("http.request.method", req.Method),
	}
	if requestID := req.Header.Get("X-Request-Id"); requestID != "" {
		attrs = append(attrs, attribute.String("http.request.header.x-request-id", requestID))
	}

	ctx, span := t.tracer.Start(ctx, operationName,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient))

	req = req.WithContext(ctx)

	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	return req, span
}

// injectStreamSpanEvents records the steps of opening a stream as span events.
func injectStreamSpanEvents(req *http.Request, span trace.Span) *http.Request {
	clientTrace := &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			span.AddEvent("connection", trace.WithAttributes(attribute.Bool("reused", info.Reused)))
		},
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err != nil {
				span.RecordError(info.Err)
				return
			}
			span.AddEvent("request sent")
		},
		GotFirstResponseByte: func() {
			span.AddEvent("stream response")
		},
	}
	return req.WithContext(httptrace.WithClientTrace(req.Context(), clientTrace))
}

// NewTracingMiddleware returns a Middleware for ClientOptions. A missing Tracer is taken from the global
// tracer provider.
func NewTracingMiddleware(options *TracingOptions) Middleware {
	tracer := options.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/stoewer/go-runstream")
	}
	return func(transport *http.Transport) http.RoundTripper {
		return &TracingMiddleware{
			tr:            transport,
			tracer:        tracer,
			componentName: options.ComponentName,
			verbose:       options.Verbose}
	}
}

func getOperationName(reqPath, reqMethod string) string {
	operationName := strings.ToLower(reqMethod)
	switch {
	case strings.HasSuffix(reqPath, "/events"):
		operationName = operationName + "_run_events"
	case strings.HasSuffix(reqPath, "/output"):
		operationName = operationName + "_run_output"
	case strings.Contains(reqPath, "/runs"):
		operationName = operationName + "_run"
	}

	return operationName
}

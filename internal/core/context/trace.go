package context

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// Request describes the inbound call: correlation ids plus the client that
// made it. Login analytics and refresh-token bookkeeping read the client
// fields; logs read the ids.
type Request struct {
	TraceID   string
	RequestID string
	ClientIP  string
	UserAgent string
}

type requestKey struct{}

// WithRequest binds r to ctx.
func WithRequest(ctx context.Context, r *Request) context.Context {
	return context.WithValue(ctx, requestKey{}, r)
}

// RequestFrom returns the bound request or nil.
func RequestFrom(ctx context.Context) *Request {
	r, _ := ctx.Value(requestKey{}).(*Request)
	return r
}

// TraceID prefers the id of the active OpenTelemetry span and falls back to
// the id assigned at the edge.
func TraceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	if r := RequestFrom(ctx); r != nil {
		return r.TraceID
	}
	return ""
}

// RequestID returns the request id or "".
func RequestID(ctx context.Context) string {
	if r := RequestFrom(ctx); r != nil {
		return r.RequestID
	}
	return ""
}

// Client returns the caller's address and user agent, empty outside a request.
func Client(ctx context.Context) (ip, userAgent string) {
	if r := RequestFrom(ctx); r != nil {
		return r.ClientIP, r.UserAgent
	}
	return "", ""
}

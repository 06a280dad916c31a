package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	appctx "hybridauth/internal/core/context"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderTraceID   = "X-Trace-ID"
)

var httpTracer = otel.Tracer("hybridauth/http")

// Trace opens the request span and binds the correlation ids and client
// address to the request context. The trace id is the span's when a tracer
// provider is installed, else the X-Trace-ID header or a fresh uuid.
func Trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := httpTracer.Start(c.Request.Context(), "http.request",
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.target", c.Request.URL.Path),
			),
		)
		defer span.End()

		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		traceID := c.GetHeader(HeaderTraceID)
		if sc := span.SpanContext(); sc.HasTraceID() {
			traceID = sc.TraceID().String()
		} else if traceID == "" {
			traceID = uuid.New().String()
		}

		ctx = appctx.WithRequest(ctx, &appctx.Request{
			TraceID:   traceID,
			RequestID: requestID,
			ClientIP:  c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		c.Request = c.Request.WithContext(ctx)

		c.Set("trace_id", traceID)
		c.Set("request_id", requestID)
		c.Header(HeaderRequestID, requestID)
		c.Header(HeaderTraceID, traceID)

		c.Next()

		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
		if route := c.FullPath(); route != "" {
			span.SetName(c.Request.Method + " " + route)
		}
	}
}

package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/turtacn/taskgate/internal/infrastructure/monitoring"
	"github.com/turtacn/taskgate/pkg/constants"
	"github.com/turtacn/taskgate/pkg/logger"
)

// RequestID propagates X-Request-ID, generating one when the client sent none.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(constants.HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(string(constants.ContextKeyRequestID), id)
		c.Header(constants.HeaderRequestID, id)
		ctx := context.WithValue(c.Request.Context(), constants.ContextKeyRequestID, id)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// Observability starts a server span per request and records the request in
// the HTTP metrics. The route template is used as the path label.
func Observability(tracer trace.Tracer, metrics *monitoring.Metrics) gin.HandlerFunc {
	propagator := propagation.TraceContext{}
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "not_found"
		}
		method := c.Request.Method

		ctx := propagator.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, method+" "+path, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		if metrics != nil {
			metrics.ActiveRequestsInc(path, method)
			defer metrics.ActiveRequestsDec(path, method)
		}

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", path),
			attribute.Int("http.status_code", status),
			attribute.String("http.client_ip", c.ClientIP()),
		)
		if status >= 500 {
			span.SetStatus(codes.Error, "server error")
		}
		if metrics != nil {
			metrics.ObserveRequestDuration(path, method, status, time.Since(start).Seconds())
			if status >= 400 {
				metrics.IncRequestErrors(path, method, status)
			}
		}
	}
}

// AccessLog writes one line per request once the handler has finished.
func AccessLog(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []logger.Field{
			logger.String("method", c.Request.Method),
			logger.String("path", c.Request.URL.Path),
			logger.Int("status", c.Writer.Status()),
			logger.Int64("latency_ms", time.Since(start).Milliseconds()),
			logger.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, logger.String("errors", c.Errors.String()))
		}
		if c.Writer.Status() >= 500 {
			log.Warn(c.Request.Context(), "request failed", fields...)
			return
		}
		log.Debug(c.Request.Context(), "request processed", fields...)
	}
}

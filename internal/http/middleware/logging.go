// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides structured request logging, a panic-safe recovery
// handler, and a request ID injector:
//
//   - RequestID() ensures every request carries a stable correlation ID
//     (propagated via X-Request-ID and stored in the Gin context).
//   - Logger() emits structured access logs with request/response metadata
//     and attaches a request-scoped zerolog.Logger under the "logger" key.
//   - Recovery() converts panics into JSON 500 responses while preserving
//     the correlation ID and emitting a stack trace to logs.
//   - LoggerFrom() retrieves the request-scoped logger for handlers.
//
// Compose them in that order so panics and errors carry the correlation ID.
package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// requestIDKey is the Gin context key under which the request ID is stored.
	requestIDKey = "requestID"
	// requestIDHeader is the HTTP header used to propagate the correlation ID.
	requestIDHeader = "X-Request-ID"
)

// RequestID attaches (or propagates) a correlation identifier per request.
// An incoming X-Request-ID is reused; otherwise a new UUIDv4 is generated.
// The ID is echoed on the response and stored in the Gin context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// Logger writes a structured access log for each request and stores a
// request-scoped zerolog.Logger in the Gin context. The log level follows
// the outcome: error for 5xx, warn for 4xx, info otherwise.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		rid := c.GetString(requestIDKey)

		lg := log.With().
			Str("request_id", rid).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("remote", c.ClientIP()).
			Logger()
		c.Set("logger", lg)

		c.Next()

		status := c.Writer.Status()
		evt := lg.Info()
		switch {
		case status >= http.StatusInternalServerError || len(c.Errors) > 0:
			evt = lg.Error()
		case status >= http.StatusBadRequest:
			evt = lg.Warn()
		}
		evt.
			Int("status", status).
			Dur("latency", time.Since(start)).
			Int("bytes", c.Writer.Size()).
			Msg("http request")
	}
}

// LoggerFrom retrieves the request-scoped logger set by Logger(). Falls
// back to the global logger when absent.
func LoggerFrom(c *gin.Context) zerolog.Logger {
	if v, ok := c.Get("logger"); ok {
		if lg, ok := v.(zerolog.Logger); ok {
			return lg
		}
	}
	return log.Logger
}

// Recovery converts panics into JSON 500 responses, keeping the
// correlation ID and logging the stack trace.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				lg := LoggerFrom(c)
				lg.Error().
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"request_id": c.GetString(requestIDKey),
					"code":       "internal_error",
					"message":    "internal server error",
				})
			}
		}()
		c.Next()
	}
}

package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const ctxTraceID = "skylink_trace_id"

// maxBodyBytes caps request bodies at 64 KiB. Telemetry events are small;
// anything larger is noise or abuse.
const maxBodyBytes = 64 << 10

// TraceID returns a middleware that propagates the X-Trace-Id header,
// generating one when the client did not send it. The id is echoed on the
// response and injected into the Gin context for audit events.
func TraceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader("X-Trace-Id")
		if traceID == "" {
			traceID = uuid.NewString()
		}
		c.Set(ctxTraceID, traceID)
		c.Header("X-Trace-Id", traceID)
		c.Next()
	}
}

// TraceIDFromCtx returns the request's trace id, empty if TraceID did not run.
func TraceIDFromCtx(c *gin.Context) string {
	v, _ := c.Get(ctxTraceID)
	s, _ := v.(string)
	return s
}

// SecurityHeaders sets the response headers every gateway response carries.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Cache-Control", "no-store")
		c.Header("Cross-Origin-Opener-Policy", "same-origin")
		c.Header("Permissions-Policy", "geolocation=(), microphone=()")
		c.Next()
	}
}

// BodyLimit rejects request bodies larger than maxBodyBytes. Declared
// oversize is rejected up front; chunked bodies are cut off by the reader.
func BodyLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBodyBytes {
			respondError(c, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body exceeds the 64 KiB limit")
			c.Abort()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
		c.Next()
	}
}

// RequestLogger logs each request with zap, including the trace id so log
// lines correlate with audit events.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("trace_id", TraceIDFromCtx(c)),
		)
	}
}

// bearerToken extracts the token from the Authorization header. Empty when
// the header is missing or not a Bearer scheme.
func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}
